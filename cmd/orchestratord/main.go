// Command orchestratord runs the profile orchestration engine as a single
// host process: the supervision core, the schedule evaluator, transport
// ingestion, and the HTTP control/event surface, wired over a selectable
// persistence backend.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/time/rate"

	"github.com/forgefleet/orchestrator/internal/bus"
	"github.com/forgefleet/orchestrator/internal/config"
	"github.com/forgefleet/orchestrator/internal/httpapi"
	"github.com/forgefleet/orchestrator/internal/keypool"
	"github.com/forgefleet/orchestrator/internal/metrics"
	"github.com/forgefleet/orchestrator/internal/orchestrator"
	"github.com/forgefleet/orchestrator/internal/platform/processrunner"
	"github.com/forgefleet/orchestrator/internal/schedule"
	"github.com/forgefleet/orchestrator/internal/statestore"
	"github.com/forgefleet/orchestrator/internal/storage"
	"github.com/forgefleet/orchestrator/internal/storage/memory"
	"github.com/forgefleet/orchestrator/internal/storage/postgres"
	"github.com/forgefleet/orchestrator/internal/storage/sqlite"
	"github.com/forgefleet/orchestrator/internal/supervisor"
	"github.com/forgefleet/orchestrator/internal/system"
	"github.com/forgefleet/orchestrator/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file")
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
	backend := flag.String("store", "", "persistence backend: memory, sqlite, or postgres (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *addr != "" {
		cfg.HTTPAddr = *addr
	}
	if *backend != "" {
		cfg.StoreBackend = config.StoreBackend(*backend)
	}

	lg := logger.New(cfg.Logging)

	store, closeStore, err := openStore(cfg)
	if err != nil {
		lg.Fatalf("open %s store: %v", cfg.StoreBackend, err)
	}
	if closeStore != nil {
		defer closeStore()
	}

	states := statestore.New()

	eventBus := bus.New(cfg.Tuning.LogRingCapacity, lg)
	eventBus.SetMetricsHooks(metrics.BusSubscriberCountHook(), metrics.BusSubscriberEvictedHook())

	var cursor keypool.CursorStore = keypool.NewLocalCursorStore(store)
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		cursor = keypool.NewRedisCursorStore(client, "")
		defer client.Close()
	}
	keys := keypool.New(store, cursor)

	runner := processrunner.New(lg)

	sup := supervisor.New(store, states, keys, runner, eventBus, nil, cfg.Tuning, lg)
	sup.SetMetricsHooks(metrics.SupervisorHooks())

	orch := orchestrator.New(store, states, keys, eventBus, sup, runner, httpapi.RemoteCallerCheck{}, lg)
	sup.SetRestartHandler(func(name string) {
		go func() {
			if err := orch.Restart(context.Background(), name); err != nil {
				lg.WithField("subject", name).WithField("err", err).Warn("requested restart failed")
			}
		}()
	})

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()
	orch.Run(rootCtx)

	subjects, err := store.ListSubjects(rootCtx)
	if err != nil {
		lg.Fatalf("list subjects: %v", err)
	}
	for _, sub := range subjects {
		if err := orch.AddSubject(rootCtx, sub.Name); err != nil {
			lg.WithField("subject", sub.Name).WithField("err", err).Warn("register subject")
		}
	}

	evaluator, err := schedule.New(store, states, orch, nil, cfg.Tuning, lg)
	if err != nil {
		lg.Fatalf("construct schedule evaluator: %v", err)
	}

	frameLimiter := rate.NewLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)
	ingest := supervisor.NewIngestor(runner.Transport(), sup, frameLimiter, lg)

	httpServer := httpapi.New(orch, httpapi.Options{
		Addr:            cfg.HTTPAddr,
		JWTSigningKey:   cfg.JWTSigningKey,
		RateLimitPerSec: cfg.RateLimitPerSec,
		RateLimitBurst:  cfg.RateLimitBurst,
	}, lg)

	manager := system.NewManager()
	for _, svc := range []system.Service{ingest, evaluator, httpServer} {
		if err := manager.Register(svc); err != nil {
			lg.Fatalf("register service: %v", err)
		}
	}

	if err := manager.Start(rootCtx); err != nil {
		lg.Fatalf("start services: %v", err)
	}
	lg.WithField("addr", cfg.HTTPAddr).WithField("store", string(cfg.StoreBackend)).
		WithField("subjects", len(subjects)).Info("orchestratord running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()

	if err := manager.Stop(shutdownCtx); err != nil {
		lg.WithField("err", err).Warn("service shutdown")
	}
	for name, err := range orch.StopAll(shutdownCtx) {
		lg.WithField("subject", name).WithField("err", err).Warn("stop on shutdown")
	}
	cancelRoot()
	orch.Wait()
}

func openStore(cfg config.Config) (storage.Store, func() error, error) {
	switch cfg.StoreBackend {
	case config.BackendSQLite:
		s, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case config.BackendPostgres:
		s, err := postgres.Open(cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return memory.New(), nil, nil
	}
}
