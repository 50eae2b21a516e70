// Command arbiterd runs the full ArbiterQ process: a pool of worker actors
// claiming tasks from a pluggable backend, a periodic-scheduler hook, and
// the HTTP control plane, all under one Arbiter.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arbiterq/arbiterq/internal/actor"
	"github.com/arbiterq/arbiterq/internal/api"
	"github.com/arbiterq/arbiterq/internal/backend"
	"github.com/arbiterq/arbiterq/internal/config"
	"github.com/arbiterq/arbiterq/internal/events"
	"github.com/arbiterq/arbiterq/internal/job"
	"github.com/arbiterq/arbiterq/internal/logger"
	"github.com/arbiterq/arbiterq/internal/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel, os.Getenv("ENV") != "production")
	log := logger.Get()
	log.Info().Str("backend", cfg.TaskBackend).Msg("starting arbiterd")

	registerExampleJobs()
	registry, err := job.NewRegistry(cfg.TaskPaths)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build job registry")
	}

	workerBackend, err := backend.Default().Open(cfg.TaskBackend, cfg.ForWorker(), registry)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open task backend")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ar := supervisor.NewArbiter()

	var dlq *backend.DLQ
	var publisher *events.RedisPubSub
	var redisBackend *backend.RedisBackend
	if rb, ok := workerBackend.(*backend.RedisBackend); ok {
		redisBackend = rb
		dlq = backend.NewDLQ(rb.Client())
		publisher = events.NewRedisPubSub(rb.Client())
	}

	publishWorkerEvent := func(eventType events.EventType, workerID string) {
		if publisher == nil {
			return
		}
		evt := events.NewEvent(eventType, events.WorkerEventData(workerID, string(eventType), nil))
		if err := publisher.Publish(ctx, evt); err != nil {
			log.Error().Err(err).Str("worker_id", workerID).Msg("failed to publish worker event")
		}
	}

	workerFactory := func(age uint64) *actor.Actor {
		id := fmt.Sprintf("worker-%d", age)
		behavior := &actor.WorkerBehavior{
			WorkerID:     id,
			Backend:      workerBackend,
			Registry:     registry,
			BackendLabel: cfg.TaskBackend,
		}
		a := actor.New(behavior, age, cfg.Worker.HeartbeatTimeout, cfg.Worker.CloseTimeout)
		behavior.Bind(a)
		return a
	}
	var orphanSweepHook supervisor.Hook
	if redisBackend != nil {
		orphanSweepHook = func(ctx context.Context) error {
			recovered, err := redisBackend.ClaimOrphaned(ctx, "orphan-reaper")
			if err != nil {
				return err
			}
			if len(recovered) > 0 {
				log.Info().Int("count", len(recovered)).Msg("reclaimed orphaned tasks from dead workers")
			}
			return nil
		}
	}
	workers := supervisor.NewMonitor("workers", cfg.Worker.Concurrency, workerFactory, orphanSweepHook, cfg.Worker.HeartbeatInterval)
	workers.OnSpawn = func(aid string) { publishWorkerEvent(events.EventWorkerJoined, aid) }
	workers.OnReap = func(aid string) { publishWorkerEvent(events.EventWorkerLeft, aid) }
	if err := ar.AddMonitor(ctx, workers); err != nil {
		log.Fatal().Err(err).Msg("failed to register workers monitor")
	}

	if cfg.SchedulePeriodic {
		schedulerHook := func(ctx context.Context) error {
			now := time.Now().UTC()
			if now.Before(workerBackend.NextRunAt()) {
				return nil
			}
			n, err := workerBackend.Tick(ctx, now)
			if err != nil {
				return err
			}
			if n > 0 {
				log.Info().Int("count", n).Msg("periodic jobs ticked")
			}
			return nil
		}
		scheduler := supervisor.NewMonitor("scheduler", 0, nil, schedulerHook, cfg.Scheduler.PollInterval)
		if err := ar.AddMonitor(ctx, scheduler); err != nil {
			log.Fatal().Err(err).Msg("failed to register scheduler monitor")
		}
	}

	server := api.NewServer(cfg, workerBackend, ar, dlq, publisher)
	server.Start(ctx)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("control plane listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("control plane server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down arbiterd")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	_ = httpServer.Shutdown(shutdownCtx)
	server.Stop()
	ar.Quit(shutdownCtx)
	cancel()

	log.Info().Msg("arbiterd stopped")
}

// registerExampleJobs registers the demonstration jobs in the "examples"
// group: echo, sleep, compute, and fail.
func registerExampleJobs() {
	job.Register("examples", &job.Func{
		JobName: "echo",
		Fn: func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
			return map[string]any{"echoed": args}, nil
		},
	})

	job.Register("examples", &job.Func{
		JobName:    "sleep",
		JobTimeout: 30 * time.Second,
		Fn: func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
			duration := 1 * time.Second
			if d, ok := kwargs["duration_ms"].(float64); ok {
				duration = time.Duration(d) * time.Millisecond
			}
			select {
			case <-time.After(duration):
				return map[string]any{"slept_for": duration.String()}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	})

	job.Register("examples", &job.Func{
		JobName: "compute",
		Fn: func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
			iterations := 1000000
			if i, ok := kwargs["iterations"].(float64); ok {
				iterations = int(i)
			}
			sum := 0
			for i := 0; i < iterations; i++ {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				default:
					sum += i
				}
			}
			return map[string]any{"result": sum}, nil
		},
	})

	job.Register("examples", &job.Func{
		JobName: "fail",
		Fn: func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
			return nil, fmt.Errorf("intentional failure for testing")
		},
	})
}
