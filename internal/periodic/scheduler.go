package periodic

import (
	"container/heap"
	"sync"
	"time"

	"github.com/arbiterq/arbiterq/internal/job"
)

// entry is one scheduled fire in the heap, keyed by (nextRunAt, jobName)
// for lexicographic tie-break, matching Backend.Tick's fire order.
type entry struct {
	nextRunAt time.Time
	jobName   string
	schedule  job.Schedule
	index     int
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].nextRunAt.Equal(h[j].nextRunAt) {
		return h[i].jobName < h[j].jobName
	}
	return h[i].nextRunAt.Before(h[j].nextRunAt)
}
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// TickScheduler holds the sorted (next_run_at, job_name) structure described
// by scheduled target rather than fire time, consulted by Backend.Tick/Backend.NextRunAt.
type TickScheduler struct {
	mu sync.Mutex
	h  entryHeap
}

// NewTickScheduler seeds one entry per periodic job, computing each job's
// first fire from its schedule relative to now.
func NewTickScheduler(jobs []job.PeriodicJob, now time.Time) *TickScheduler {
	s := &TickScheduler{}
	for _, j := range jobs {
		heap.Push(&s.h, &entry{
			nextRunAt: now.Add(j.Schedule().NextAfter(now)),
			jobName:   j.Name(),
			schedule:  j.Schedule(),
		})
	}
	return s
}

// Due pops every entry whose nextRunAt <= now — at most once per job, even
// if several periods have elapsed (drift policy: a missed window collapses
// to one fire, never a catch-up burst). Each popped entry's next run is
// computed from its own scheduled target, not from now, to avoid
// compounding drift. Returns job names in fire order (lexicographic
// tie-break on equal timestamps, inherited from heap ordering).
func (s *TickScheduler) Due(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var fired []string
	for s.h.Len() > 0 && !s.h[0].nextRunAt.After(now) {
		e := heap.Pop(&s.h).(*entry)
		fired = append(fired, e.jobName)
		for !e.nextRunAt.After(now) {
			e.nextRunAt = e.nextRunAt.Add(e.schedule.NextAfter(e.nextRunAt))
		}
		heap.Push(&s.h, e)
	}
	return fired
}

// NextRunAt returns the global minimum next-run timestamp across all
// periodic jobs, or the zero Time if none are scheduled.
func (s *TickScheduler) NextRunAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.h.Len() == 0 {
		return time.Time{}
	}
	return s.h[0].nextRunAt
}

// Len returns the number of tracked periodic job entries.
func (s *TickScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.h.Len()
}
