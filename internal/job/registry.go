package job

import (
	"fmt"
	"sort"
	"sync"

	"github.com/arbiterq/arbiterq/internal/task"
)

// registration pairs a Job with the group name it was registered under.
type registration struct {
	group string
	job   Job
}

var (
	mu            sync.Mutex
	registrations []registration
)

// Register adds j to the process-wide registration list under group.
// Conventionally called from a package init() alongside the Job's
// definition — this is the explicit replacement for reflective module
// discovery: the "task_paths" config selects which registration groups
// a given process's registry is built from.
func Register(group string, j Job) {
	mu.Lock()
	defer mu.Unlock()
	registrations = append(registrations, registration{group: group, job: j})
}

// Registry is an immutable, name-indexed view over a set of registered
// jobs, built once at startup from the requested registration groups.
type Registry struct {
	jobs     map[string]Job
	periodic []PeriodicJob
}

// NewRegistry filters process-wide registrations down to the requested
// groups ("*" selects all groups) and builds the name index. Duplicate
// names across the selected groups are a configuration error.
func NewRegistry(groups []string) (*Registry, error) {
	mu.Lock()
	snapshot := make([]registration, len(registrations))
	copy(snapshot, registrations)
	mu.Unlock()

	wantAll := false
	want := make(map[string]bool, len(groups))
	for _, g := range groups {
		if g == "*" {
			wantAll = true
		}
		want[g] = true
	}

	r := &Registry{jobs: make(map[string]Job)}
	for _, reg := range snapshot {
		if !wantAll && !want[reg.group] {
			continue
		}
		name := reg.job.Name()
		if _, exists := r.jobs[name]; exists {
			return nil, fmt.Errorf("%w: duplicate job name %q", task.ErrConfigError, name)
		}
		r.jobs[name] = reg.job
		if pj, ok := reg.job.(PeriodicJob); ok {
			r.periodic = append(r.periodic, pj)
		}
	}

	sort.Slice(r.periodic, func(i, j int) bool {
		return r.periodic[i].Name() < r.periodic[j].Name()
	})

	return r, nil
}

// Lookup returns the Job registered under name, or ErrUnknownJob.
func (r *Registry) Lookup(name string) (Job, error) {
	j, ok := r.jobs[name]
	if !ok {
		return nil, task.ErrUnknownJob
	}
	return j, nil
}

// Periodic returns all registered periodic jobs, stably ordered by name.
func (r *Registry) Periodic() []PeriodicJob {
	return r.periodic
}

// Len returns the number of registered jobs.
func (r *Registry) Len() int {
	return len(r.jobs)
}

// resetForTest clears process-wide registrations. Test-only.
func resetForTest() {
	mu.Lock()
	defer mu.Unlock()
	registrations = nil
}
