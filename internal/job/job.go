// Package job defines the unit of work code executed by task backends and
// the registry that indexes it by name.
package job

import (
	"context"
	"time"
)

// Job is a named unit of work. Name must be a stable, unique key — by
// convention a dotted identifier such as "email.send" or "report.compile".
type Job interface {
	Name() string
	Run(ctx context.Context, args []any, kwargs map[string]any) (any, error)
	// Timeout returns the maximum execution duration for this job, or 0 to
	// fall back to the worker's fixed default (30s); config.Config.Timeout
	// is not consulted.
	Timeout() time.Duration
}

// PeriodicJob is a Job that also carries a recurrence schedule. The
// scheduler submits one task per fire and advances NextAfter from the
// scheduled target, not from wall-clock of actual fire.
type PeriodicJob interface {
	Job
	Schedule() Schedule
}

// Schedule computes the delay until the next fire given the current time.
type Schedule interface {
	NextAfter(now time.Time) time.Duration
}

// Func adapts a plain function into a Job.
type Func struct {
	JobName    string
	Fn         func(ctx context.Context, args []any, kwargs map[string]any) (any, error)
	JobTimeout time.Duration
}

func (f *Func) Name() string          { return f.JobName }
func (f *Func) Timeout() time.Duration { return f.JobTimeout }
func (f *Func) Run(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
	return f.Fn(ctx, args, kwargs)
}
