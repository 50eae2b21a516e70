package actor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingBehavior struct {
	started  int32
	worked   int32
	stopped  int32
	workOnce bool
}

func (b *countingBehavior) OnStart(ctx context.Context) error {
	atomic.AddInt32(&b.started, 1)
	return nil
}

func (b *countingBehavior) OnWork(ctx context.Context) bool {
	atomic.AddInt32(&b.worked, 1)
	if b.workOnce {
		return false
	}
	time.Sleep(time.Millisecond)
	return true
}

func (b *countingBehavior) OnStop(ctx context.Context) {
	atomic.AddInt32(&b.stopped, 1)
}

func TestActor_LifecycleReachesRunningThenStops(t *testing.T) {
	behavior := &countingBehavior{}
	a := New(behavior, 1, 10*time.Millisecond, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	go a.Run(ctx)

	require.Eventually(t, func() bool { return atomic.LoadInt32(&behavior.worked) > 0 }, time.Second, time.Millisecond)
	assert.Equal(t, StateRunning, a.State())

	cancel()
	<-a.Done()
	assert.Equal(t, StateStopped, a.State())
	assert.EqualValues(t, 1, atomic.LoadInt32(&behavior.stopped))
}

func TestActor_SelfTerminatesWhenOnWorkReturnsFalse(t *testing.T) {
	behavior := &countingBehavior{workOnce: true}
	a := New(behavior, 1, 10*time.Millisecond, time.Second)

	go a.Run(context.Background())

	select {
	case <-a.Done():
	case <-time.After(time.Second):
		t.Fatal("actor did not self-terminate")
	}
	assert.Equal(t, StateStopped, a.State())
}

func TestActor_PingRespondsPong(t *testing.T) {
	behavior := &countingBehavior{}
	a := New(behavior, 1, 10*time.Millisecond, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	require.Eventually(t, func() bool { return a.State() == StateRunning }, time.Second, time.Millisecond)
	require.NoError(t, a.Ping(context.Background()))
}

func TestActor_StopIsGracefulAndIdempotentPerCall(t *testing.T) {
	behavior := &countingBehavior{}
	a := New(behavior, 1, 10*time.Millisecond, time.Second)

	go a.Run(context.Background())
	require.Eventually(t, func() bool { return a.State() == StateRunning }, time.Second, time.Millisecond)

	require.NoError(t, a.Stop(context.Background()))
	<-a.Done()
	assert.Equal(t, StateStopped, a.State())
}

func TestActor_AliveFalseAfterStop(t *testing.T) {
	behavior := &countingBehavior{}
	a := New(behavior, 1, 10*time.Millisecond, time.Second)

	go a.Run(context.Background())
	require.Eventually(t, func() bool { return a.State() == StateRunning }, time.Second, time.Millisecond)
	require.True(t, a.Alive())

	require.NoError(t, a.Stop(context.Background()))
	<-a.Done()
	assert.False(t, a.Alive())
}

func TestActor_GetInfoReportsAIDAndAge(t *testing.T) {
	behavior := &countingBehavior{}
	a := New(behavior, 7, 10*time.Millisecond, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	require.Eventually(t, func() bool { return a.State() == StateRunning }, time.Second, time.Millisecond)

	info, err := a.GetInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, a.AID(), info.AID)
	assert.EqualValues(t, 7, info.Age)
	assert.Equal(t, StateRunning, info.Status)
}
