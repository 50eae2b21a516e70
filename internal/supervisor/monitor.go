// Package supervisor implements the pool-maintenance mixin (Monitor) and
// the root supervisor (Arbiter), generalizing a single worker-pool
// lifecycle (Start/Stop/Pause/Resume, graceful-then-forced shutdown)
// from "one worker kind talking to a queue" to "N actors of one
// ActorFactory running a maintenance cycle every event-loop turn."
package supervisor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arbiterq/arbiterq/internal/actor"
	"github.com/arbiterq/arbiterq/internal/logger"
	"github.com/arbiterq/arbiterq/internal/metrics"
)

// JoinTimeout bounds how long the reap step waits for a dead actor's run
// loop to exit before dropping it from the pool regardless.
const JoinTimeout = 1 * time.Second

// CloseTimeout bounds graceful close: after issuing stop to every actor,
// close_actors polls until empty or this elapses, then forces the rest.
const CloseTimeout = 3 * time.Second

// ActorFactory constructs a fresh Actor for a monitor's pool. age is the
// monitor's monotonic creation counter, used for trim tie-breaking.
type ActorFactory func(age uint64) *actor.Actor

// Hook is the subclass maintenance-cycle step (for the task queue: tick
// the periodic scheduler once schedule_periodic is enabled, or sweep a
// backend for orphaned claims).
type Hook func(ctx context.Context) error

// LifecycleHook is an optional notification fired with an actor's id on
// spawn and on reap, used to surface worker-joined/worker-left events to
// callers that care (the control-plane event stream) without making
// Monitor itself aware of any event-publishing mechanism.
type LifecycleHook func(aid string)

// proxy is the monitor's record of one managed actor.
type proxy struct {
	a         *actor.Actor
	cancel    context.CancelFunc
	stoppedAt time.Time
}

// Monitor maintains a target-sized pool of actors produced by one
// ActorFactory, running reap -> probe -> spawn -> trim -> hook on every
// maintenance tick.
type Monitor struct {
	Name      string
	factory   ActorFactory
	numActors int
	hook      Hook

	// OnSpawn and OnReap, when set, are called with an actor's id right
	// after it joins and right after it is dropped from the pool.
	OnSpawn LifecycleHook
	OnReap  LifecycleHook

	maintenanceInterval time.Duration

	mu        sync.Mutex
	proxies   map[string]*proxy
	ageCounter uint64
	spawning  int32

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

// NewMonitor creates a Monitor targeting numActors live actors of
// factory's kind. hook may be nil.
func NewMonitor(name string, numActors int, factory ActorFactory, hook Hook, maintenanceInterval time.Duration) *Monitor {
	if maintenanceInterval <= 0 {
		maintenanceInterval = 200 * time.Millisecond
	}
	return &Monitor{
		Name:                name,
		factory:             factory,
		numActors:           numActors,
		hook:                hook,
		maintenanceInterval: maintenanceInterval,
		proxies:             make(map[string]*proxy),
	}
}

// Start spawns the initial pool and begins the maintenance loop.
func (m *Monitor) Start(ctx context.Context) {
	m.runCtx, m.runCancel = context.WithCancel(ctx)
	m.maintain(m.runCtx) // first cycle spawns up to numActors synchronously

	m.wg.Add(1)
	go m.loop()
}

func (m *Monitor) loop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.runCtx.Done():
			return
		case <-ticker.C:
			m.maintain(m.runCtx)
		}
	}
}

// maintain runs one reap -> probe -> spawn -> trim -> hook cycle.
func (m *Monitor) maintain(ctx context.Context) {
	start := time.Now()
	m.reap()
	m.probe(ctx)
	m.spawn(ctx)
	m.trim(ctx)
	if m.hook != nil {
		if err := m.hook(ctx); err != nil {
			logger.WithMonitor(m.Name).Error().Err(err).Msg("monitor hook failed")
		}
	}
	metrics.RecordMonitorMaintenance(m.Name, time.Since(start).Seconds())
	metrics.SetActorsLive(m.Name, float64(m.liveCount()))
}

// reap drops proxies whose actor is no longer alive, joining with
// JoinTimeout before giving up on a clean exit.
func (m *Monitor) reap() {
	m.mu.Lock()
	var dead []*proxy
	for aid, p := range m.proxies {
		if !p.a.Alive() {
			dead = append(dead, p)
			delete(m.proxies, aid)
		}
	}
	m.mu.Unlock()

	for _, p := range dead {
		select {
		case <-p.a.Done():
		case <-time.After(JoinTimeout):
			p.a.Terminate()
		}
		metrics.RecordActorReaped(m.Name)
		if m.OnReap != nil {
			m.OnReap(p.a.AID())
		}
	}
}

// probe calls the arbiter-provided responsiveness check (a ping with a
// short bound) on every live actor; a failed probe marks it for reap on
// the next cycle by leaving its heartbeat stale.
func (m *Monitor) probe(ctx context.Context) {
	m.mu.Lock()
	actors := make([]*actor.Actor, 0, len(m.proxies))
	for _, p := range m.proxies {
		actors = append(actors, p.a)
	}
	m.mu.Unlock()

	for _, a := range actors {
		pctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		_ = a.Ping(pctx)
		cancel()
	}
}

// spawn brings the pool up to numActors, serialized by the spawning flag
// to prevent double-spawn storms from overlapping maintenance cycles.
func (m *Monitor) spawn(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&m.spawning, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&m.spawning, 0)

	m.mu.Lock()
	deficit := m.numActors - len(m.proxies)
	m.mu.Unlock()

	for i := 0; i < deficit; i++ {
		m.spawnOne(ctx)
	}
}

func (m *Monitor) spawnOne(ctx context.Context) {
	m.mu.Lock()
	m.ageCounter++
	age := m.ageCounter
	m.mu.Unlock()

	a := m.factory(age)
	actorCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.proxies[a.AID()] = &proxy{a: a, cancel: cancel}
	m.mu.Unlock()

	go a.Run(actorCtx)
	metrics.RecordActorSpawned(m.Name)
	if m.OnSpawn != nil {
		m.OnSpawn(a.AID())
	}
}

// trim stops the oldest live actors until the pool is back to numActors,
// tie-breaking by smallest age.
func (m *Monitor) trim(ctx context.Context) {
	m.mu.Lock()
	excess := len(m.proxies) - m.numActors
	if excess <= 0 {
		m.mu.Unlock()
		return
	}
	candidates := make([]*proxy, 0, len(m.proxies))
	for _, p := range m.proxies {
		candidates = append(candidates, p)
	}
	m.mu.Unlock()

	sortByAgeAscending(candidates)
	if excess > len(candidates) {
		excess = len(candidates)
	}
	for _, p := range candidates[:excess] {
		stopCtx, cancel := context.WithTimeout(ctx, CloseTimeout)
		_ = p.a.Stop(stopCtx)
		cancel()
	}
	metrics.RecordActorsTrimmed(m.Name, excess)
}

func sortByAgeAscending(ps []*proxy) {
	for i := 1; i < len(ps); i++ {
		for j := i; j > 0 && ps[j].a.Age() < ps[j-1].a.Age(); j-- {
			ps[j], ps[j-1] = ps[j-1], ps[j]
		}
	}
}

func (m *Monitor) liveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.proxies {
		if p.a.Alive() {
			n++
		}
	}
	return n
}

// LiveCount reports the number of actors currently considered alive.
func (m *Monitor) LiveCount() int { return m.liveCount() }

// Infos returns a snapshot of every managed actor's info, read-only
// per the monitor's proxy map being single-writer.
func (m *Monitor) Infos(ctx context.Context) []actor.Info {
	m.mu.Lock()
	actors := make([]*actor.Actor, 0, len(m.proxies))
	for _, p := range m.proxies {
		actors = append(actors, p.a)
	}
	m.mu.Unlock()

	infos := make([]actor.Info, 0, len(actors))
	for _, a := range actors {
		info, err := a.GetInfo(ctx)
		if err != nil {
			continue
		}
		infos = append(infos, info)
	}
	return infos
}

// CloseActors issues stop to every managed actor, then polls until empty
// or CloseTimeout elapses, after which residual actors are terminated
// forcibly and a warning is logged with the residual count.
func (m *Monitor) CloseActors(ctx context.Context) {
	m.mu.Lock()
	actors := make([]*actor.Actor, 0, len(m.proxies))
	for _, p := range m.proxies {
		actors = append(actors, p.a)
	}
	m.mu.Unlock()

	for _, a := range actors {
		stopCtx, cancel := context.WithTimeout(ctx, CloseTimeout)
		_ = a.Stop(stopCtx)
		cancel()
	}

	deadline := time.Now().Add(CloseTimeout)
	for time.Now().Before(deadline) {
		if m.allStopped(actors) {
			m.clearProxies()
			m.notifyReaped(actors)
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	residual := 0
	for _, a := range actors {
		if a.State() != actor.StateStopped {
			a.Terminate()
			residual++
		}
	}
	if residual > 0 {
		logger.WithMonitor(m.Name).Warn().Int("residual", residual).Msg("forced termination of residual actors after close timeout")
	}
	m.clearProxies()
	m.notifyReaped(actors)
}

func (m *Monitor) notifyReaped(actors []*actor.Actor) {
	if m.OnReap == nil {
		return
	}
	for _, a := range actors {
		m.OnReap(a.AID())
	}
}

func (m *Monitor) allStopped(actors []*actor.Actor) bool {
	for _, a := range actors {
		if a.State() != actor.StateStopped {
			return false
		}
	}
	return true
}

func (m *Monitor) clearProxies() {
	m.mu.Lock()
	m.proxies = make(map[string]*proxy)
	m.mu.Unlock()
}

// Stop cancels the maintenance loop. Callers should call CloseActors
// first to drain in-flight work.
func (m *Monitor) Stop() {
	if m.runCancel != nil {
		m.runCancel()
	}
	m.wg.Wait()
}
