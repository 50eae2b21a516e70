// Package actor implements the cooperative event-loop owner generalized
// from a single-worker goroutine plus its heartbeat loop: an identity,
// a priority control inbox, and a pluggable Behavior hook.
package actor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arbiterq/arbiterq/internal/logger"
)

// ErrActorStopped is returned by control-message sends once the actor's
// run loop has exited.
var ErrActorStopped = errors.New("actor: stopped")

// State is an actor's lifecycle state.
type State int

const (
	StateInitial State = iota
	StateStarting
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// DefaultHeartbeatTimeout is the liveness window a monitor uses to decide
// an actor is no longer alive.
const DefaultHeartbeatTimeout = 10 * time.Second

// Behavior is the user hook driven by the actor shell. OnWork is invoked
// repeatedly while the actor is RUNNING; it returns false to signal the
// actor should stop on its own (e.g. the worker variant's timeout
// self-termination).
type Behavior interface {
	OnStart(ctx context.Context) error
	OnWork(ctx context.Context) (more bool)
	OnStop(ctx context.Context)
}

// controlKind enumerates the actor's priority inbox messages.
type controlKind int

const (
	controlPing controlKind = iota
	controlStop
	controlInfo
	controlNotify
)

type controlMsg struct {
	kind  controlKind
	reply chan any
}

// Info is a liveness/status snapshot of an actor, returned by the `info`
// control message and read by a monitor's probe step.
type Info struct {
	AID           string
	Status        State
	Age           uint64
	LastHeartbeat time.Time
	CurrentTaskID string
}

// Actor is a single cooperative event-loop owner. The control channel is
// always serviced ahead of Behavior.OnWork via select-with-default.
type Actor struct {
	aid string
	age uint64

	behavior Behavior

	control chan controlMsg

	mu            sync.RWMutex
	state         State
	lastHeartbeat time.Time
	currentTaskID string

	heartbeatTimeout time.Duration
	closeTimeout     time.Duration

	done chan struct{}
}

// New creates an Actor bound to behavior. age is the monitor's monotonic
// creation counter, used for oldest-first trim tie-breaking.
func New(behavior Behavior, age uint64, heartbeatTimeout, closeTimeout time.Duration) *Actor {
	if heartbeatTimeout <= 0 {
		heartbeatTimeout = DefaultHeartbeatTimeout
	}
	if closeTimeout <= 0 {
		closeTimeout = 3 * time.Second
	}
	return &Actor{
		aid:              fmt.Sprintf("actor-%s", uuid.New().String()[:8]),
		age:              age,
		behavior:         behavior,
		control:          make(chan controlMsg),
		state:            StateInitial,
		heartbeatTimeout: heartbeatTimeout,
		closeTimeout:     closeTimeout,
		done:             make(chan struct{}),
	}
}

// AID returns the actor's identity.
func (a *Actor) AID() string { return a.aid }

// Age returns the monotonic creation counter used for trim tie-breaking.
func (a *Actor) Age() uint64 { return a.age }

func (a *Actor) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// State returns the actor's current lifecycle state.
func (a *Actor) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// Alive reports whether the actor has advertised a heartbeat within the
// timeout window. A monitor's reap step uses this to decide eligibility
// for termination.
func (a *Actor) Alive() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.state == StateStopped {
		return false
	}
	if a.lastHeartbeat.IsZero() {
		return true
	}
	return time.Since(a.lastHeartbeat) < a.heartbeatTimeout
}

// Run drives the actor's event loop until ctx is canceled or Stop is
// called. It is meant to be run in its own goroutine; Done() signals
// completion.
func (a *Actor) Run(ctx context.Context) {
	defer close(a.done)

	a.setState(StateStarting)
	a.touchHeartbeat()
	if err := a.behavior.OnStart(ctx); err != nil {
		logger.Error().Err(err).Str("aid", a.aid).Msg("actor start failed")
		a.setState(StateStopped)
		return
	}

	a.setState(StateRunning)
	log := logger.WithActor(a.aid)
	log.Info().Msg("actor running")

	for {
		select {
		case <-ctx.Done():
			a.stopWork(ctx)
			return
		case msg := <-a.control:
			if a.handleControl(ctx, msg) {
				a.stopWork(ctx)
				return
			}
			continue
		default:
		}

		select {
		case <-ctx.Done():
			a.stopWork(ctx)
			return
		case msg := <-a.control:
			if a.handleControl(ctx, msg) {
				a.stopWork(ctx)
				return
			}
		default:
			more := a.behavior.OnWork(ctx)
			a.touchHeartbeat()
			if !more {
				a.stopWork(ctx)
				return
			}
		}
	}
}

func (a *Actor) stopWork(context.Context) {
	a.setState(StateStopping)
	stopCtx, cancel := context.WithTimeout(context.Background(), a.closeTimeout)
	defer cancel()
	a.behavior.OnStop(stopCtx)
	a.setState(StateStopped)
}

// handleControl services one control message; returns true if the actor
// should exit its run loop (a `stop` message).
func (a *Actor) handleControl(ctx context.Context, msg controlMsg) bool {
	switch msg.kind {
	case controlPing:
		msg.reply <- "pong"
		return false
	case controlNotify:
		a.touchHeartbeat()
		msg.reply <- struct{}{}
		return false
	case controlInfo:
		msg.reply <- a.snapshot()
		return false
	case controlStop:
		msg.reply <- struct{}{}
		return true
	default:
		return false
	}
}

func (a *Actor) touchHeartbeat() {
	a.mu.Lock()
	a.lastHeartbeat = time.Now().UTC()
	a.mu.Unlock()
}

// SetCurrentTask records the task ID the worker variant is currently
// executing, surfaced via Info.
func (a *Actor) SetCurrentTask(taskID string) {
	a.mu.Lock()
	a.currentTaskID = taskID
	a.mu.Unlock()
}

func (a *Actor) snapshot() Info {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return Info{
		AID:           a.aid,
		Status:        a.state,
		Age:           a.age,
		LastHeartbeat: a.lastHeartbeat,
		CurrentTaskID: a.currentTaskID,
	}
}

// send delivers a control message and blocks for its reply, bounded by
// ctx. It is unexported: callers use the typed wrappers below.
func (a *Actor) send(ctx context.Context, kind controlKind) (any, error) {
	reply := make(chan any, 1)
	select {
	case a.control <- controlMsg{kind: kind, reply: reply}:
	case <-a.done:
		return nil, ErrActorStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case v := <-reply:
		return v, nil
	case <-a.done:
		return nil, ErrActorStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Ping sends a ping control message and waits for pong.
func (a *Actor) Ping(ctx context.Context) error {
	_, err := a.send(ctx, controlPing)
	return err
}

// Notify updates the actor's heartbeat from outside its own OnWork loop.
func (a *Actor) Notify(ctx context.Context) error {
	_, err := a.send(ctx, controlNotify)
	return err
}

// GetInfo requests a liveness/status snapshot.
func (a *Actor) GetInfo(ctx context.Context) (Info, error) {
	v, err := a.send(ctx, controlInfo)
	if err != nil {
		return Info{}, err
	}
	return v.(Info), nil
}

// Stop initiates graceful shutdown: the run loop finishes its current
// OnWork iteration, then calls OnStop bounded by closeTimeout.
func (a *Actor) Stop(ctx context.Context) error {
	_, err := a.send(ctx, controlStop)
	return err
}

// Done signals the run loop has fully exited.
func (a *Actor) Done() <-chan struct{} { return a.done }

// Terminate forcibly marks the actor stopped without waiting for the run
// loop's graceful path, used by a monitor's forced-termination step once
// CLOSE_TIMEOUT has elapsed during a graceful close.
func (a *Actor) Terminate() {
	a.setState(StateStopped)
}
