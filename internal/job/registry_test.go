package job

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbiterq/arbiterq/internal/task"
)

type fakeJob struct {
	name string
}

func (f *fakeJob) Name() string { return f.name }
func (f *fakeJob) Timeout() time.Duration { return 0 }
func (f *fakeJob) Run(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
	return nil, nil
}

type fakePeriodicJob struct {
	fakeJob
	schedule Schedule
}

func (f *fakePeriodicJob) Schedule() Schedule { return f.schedule }

type fakeSchedule struct{ d time.Duration }

func (f fakeSchedule) NextAfter(now time.Time) time.Duration { return f.d }

func TestRegistry_LookupAndFilterByGroup(t *testing.T) {
	resetForTest()
	Register("groupA", &fakeJob{name: "job.a"})
	Register("groupB", &fakeJob{name: "job.b"})

	r, err := NewRegistry([]string{"groupA"})
	require.NoError(t, err)

	j, err := r.Lookup("job.a")
	require.NoError(t, err)
	assert.Equal(t, "job.a", j.Name())

	_, err = r.Lookup("job.b")
	assert.ErrorIs(t, err, task.ErrUnknownJob)
}

func TestRegistry_WildcardSelectsAllGroups(t *testing.T) {
	resetForTest()
	Register("groupA", &fakeJob{name: "job.a"})
	Register("groupB", &fakeJob{name: "job.b"})

	r, err := NewRegistry([]string{"*"})
	require.NoError(t, err)
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_DuplicateNameIsConfigError(t *testing.T) {
	resetForTest()
	Register("groupA", &fakeJob{name: "dup"})
	Register("groupB", &fakeJob{name: "dup"})

	_, err := NewRegistry([]string{"*"})
	assert.Error(t, err)
}

func TestRegistry_PeriodicStableOrderByName(t *testing.T) {
	resetForTest()
	Register("g", &fakePeriodicJob{fakeJob: fakeJob{name: "zeta"}, schedule: fakeSchedule{time.Second}})
	Register("g", &fakePeriodicJob{fakeJob: fakeJob{name: "alpha"}, schedule: fakeSchedule{time.Second}})
	Register("g", &fakeJob{name: "not-periodic"})

	r, err := NewRegistry([]string{"*"})
	require.NoError(t, err)

	periodic := r.Periodic()
	require.Len(t, periodic, 2)
	assert.Equal(t, "alpha", periodic[0].Name())
	assert.Equal(t, "zeta", periodic[1].Name())
}
