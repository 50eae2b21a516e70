package supervisor

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/arbiterq/arbiterq/internal/actor"
	"github.com/arbiterq/arbiterq/internal/logger"
	"github.com/arbiterq/arbiterq/internal/task"
)

// MonitorInfo is the `info` control-plane payload's per-monitor shape.
type MonitorInfo struct {
	Name       string       `json:"name"`
	NumActors  int          `json:"num_actors"`
	LiveCount  int          `json:"live_count"`
	Workers    []actor.Info `json:"workers"`
}

// Arbiter is the root supervisor: it owns every monitor, the global
// aid -> proxy index implied by them, and the control-plane commands
// (ping, echo, quit, info, named RPC). Modeled as an explicit value
// threaded through main rather than ambient/global state.
type Arbiter struct {
	mu       sync.Mutex
	monitors []*Monitor
	byName   map[string]*Monitor
	rpc      map[string]func(ctx context.Context, args any) (any, error)
}

// NewArbiter returns an empty Arbiter.
func NewArbiter() *Arbiter {
	return &Arbiter{
		byName: make(map[string]*Monitor),
		rpc:    make(map[string]func(ctx context.Context, args any) (any, error)),
	}
}

// AddMonitor registers and starts a monitor under name. Returns
// ErrDuplicateMonitor if name is already taken.
func (ar *Arbiter) AddMonitor(ctx context.Context, m *Monitor) error {
	ar.mu.Lock()
	if _, exists := ar.byName[m.Name]; exists {
		ar.mu.Unlock()
		return fmt.Errorf("%w: monitor %q already registered", task.ErrDuplicateMonitor, m.Name)
	}
	ar.byName[m.Name] = m
	ar.monitors = append(ar.monitors, m)
	ar.mu.Unlock()

	m.Start(ctx)
	logger.Info().Str("monitor", m.Name).Msg("monitor registered")
	return nil
}

// RegisterRPC adds a named command handled by the Call surface — a
// build-time-registered command name mapped to a handler function.
func (ar *Arbiter) RegisterRPC(name string, fn func(ctx context.Context, args any) (any, error)) {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	ar.rpc[name] = fn
}

// Monitor looks up a registered monitor by name.
func (ar *Arbiter) Monitor(name string) (*Monitor, bool) {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	m, ok := ar.byName[name]
	return m, ok
}

// Ping answers the control-plane ping command.
func (ar *Arbiter) Ping(ctx context.Context) string { return "pong" }

// Echo answers the control-plane echo command.
func (ar *Arbiter) Echo(ctx context.Context, s string) string { return s }

// Call dispatches a named RPC command registered via RegisterRPC.
func (ar *Arbiter) Call(ctx context.Context, name string, args any) (any, error) {
	ar.mu.Lock()
	fn, ok := ar.rpc[name]
	ar.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown command %q", task.ErrNotFound, name)
	}
	return fn(ctx, args)
}

// Info answers the control-plane info command: a snapshot across all
// registered monitors, each monitor's proxy map being single-writer so
// readers get a safe copy.
func (ar *Arbiter) Info(ctx context.Context) []MonitorInfo {
	ar.mu.Lock()
	monitors := make([]*Monitor, len(ar.monitors))
	copy(monitors, ar.monitors)
	ar.mu.Unlock()

	infos := make([]MonitorInfo, 0, len(monitors))
	for _, m := range monitors {
		infos = append(infos, MonitorInfo{
			Name:      m.Name,
			NumActors: m.numActors,
			LiveCount: m.LiveCount(),
			Workers:   m.Infos(ctx),
		})
	}
	return infos
}

// Quit drains every registered monitor sequentially in registration
// order, each via CloseActors' graceful-then-forced two-phase stop.
func (ar *Arbiter) Quit(ctx context.Context) bool {
	ar.mu.Lock()
	monitors := make([]*Monitor, len(ar.monitors))
	copy(monitors, ar.monitors)
	ar.mu.Unlock()

	for _, m := range monitors {
		m.CloseActors(ctx)
		m.Stop()
	}
	return true
}

// MonitorNames returns registered monitor names sorted alphabetically.
func (ar *Arbiter) MonitorNames() []string {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	names := make([]string, len(ar.monitors))
	for i, m := range ar.monitors {
		names[i] = m.Name
	}
	sort.Strings(names) // deterministic for tests; registration order kept in ar.monitors for Quit
	return names
}
