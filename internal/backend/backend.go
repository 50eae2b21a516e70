// Package backend defines the pluggable task backend contract
// and a scheme-keyed registry of concrete implementations.
package backend

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/arbiterq/arbiterq/internal/config"
	"github.com/arbiterq/arbiterq/internal/job"
	"github.com/arbiterq/arbiterq/internal/task"
)

// SubmitOptions carries the options recognized by Submit.
type SubmitOptions struct {
	ETA      *time.Time
	Expiry   *time.Time
	Priority task.Priority
}

// Backend is the pluggable task queue contract. Implementations must be
// safe for concurrent Claim and Publish from many workers.
type Backend interface {
	// Submit validates job_name against the registry, allocates an id,
	// and enqueues the task PENDING->QUEUED; a task whose ETA lies in the
	// future is held PENDING instead. Returns UnknownJob if the job isn't
	// registered.
	Submit(ctx context.Context, jobName string, args []any, kwargs map[string]any, opts SubmitOptions) (string, error)

	// GetTask returns a snapshot of the task, or ErrTaskNotFound.
	GetTask(ctx context.Context, id string) (*task.Task, error)

	// Claim blocks up to timeout for an available task, transitioning it
	// to STARTED under workerID. Returns ErrEmpty on timeout with no task.
	Claim(ctx context.Context, workerID string, timeout time.Duration) (*task.Task, error)

	// Publish records a terminal (or REVOKED) transition for a claimed
	// task. Returns ErrInvalidTransition if the task cannot legally move
	// to status from its current state.
	Publish(ctx context.Context, taskID string, status task.State, result any, taskErr *task.TaskError) error

	// Tick is invoked by the monitor's scheduling hook once schedule_periodic
	// is enabled and now >= NextRunAt(). It submits one task per due
	// periodic job and returns the count enqueued.
	Tick(ctx context.Context, now time.Time) (int, error)

	// NextRunAt reports the next periodic-job fire time the monitor should
	// wait for before calling Tick again.
	NextRunAt() time.Time

	// Close is called when a worker stops. LocalBackend fails every task
	// still claimed by workerID as FAILURE/ActorDied; RedisBackend does
	// nothing here and leaves stranded claims to ClaimOrphaned.
	Close(ctx context.Context, workerID string) error
}

// Factory constructs a Backend from a parsed backend URL and the process
// config. cfg.TaskBackend is always the URL that produced u.
type Factory func(u *url.URL, cfg *config.Config, registry *job.Registry) (Backend, error)

// Registry maps a backend URL scheme to its constructing Factory.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty scheme registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register associates scheme with factory. Re-registering a scheme
// overwrites the previous factory — used by tests to install fakes.
func (r *Registry) Register(scheme string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[scheme] = factory
}

// Open parses rawURL and dispatches to the registered factory for its
// scheme, returning ErrConfigError if the scheme is unknown.
func (r *Registry) Open(rawURL string, cfg *config.Config, registry *job.Registry) (Backend, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid backend url %q: %v", task.ErrConfigError, rawURL, err)
	}

	r.mu.RLock()
	factory, ok := r.factories[u.Scheme]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no backend registered for scheme %q", task.ErrConfigError, u.Scheme)
	}

	return factory(u, cfg, registry)
}

// Default returns a Registry pre-populated with the backends the binary
// ships with: local:// and redis://.
func Default() *Registry {
	r := NewRegistry()
	r.Register("local", NewLocalBackend)
	r.Register("redis", NewRedisBackendFromURL)
	return r
}
