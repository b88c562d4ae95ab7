package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"

	"github.com/angelmondragon/vetsync/api/controllers"
	"github.com/angelmondragon/vetsync/api/routes"
	"github.com/angelmondragon/vetsync/internal/conflict"
	"github.com/angelmondragon/vetsync/internal/engine"
	"github.com/angelmondragon/vetsync/internal/legacy"
	"github.com/angelmondragon/vetsync/internal/network"
	"github.com/angelmondragon/vetsync/internal/notify"
	"github.com/angelmondragon/vetsync/internal/scheduler"
	"github.com/angelmondragon/vetsync/pkg/config"
	"github.com/angelmondragon/vetsync/pkg/db"
	"github.com/angelmondragon/vetsync/pkg/db/models"
	"github.com/angelmondragon/vetsync/pkg/instance"
	"github.com/angelmondragon/vetsync/pkg/logger"
	"github.com/angelmondragon/vetsync/pkg/metrics"
	"github.com/angelmondragon/vetsync/pkg/migrate"
	"github.com/angelmondragon/vetsync/pkg/outbox"
	"github.com/angelmondragon/vetsync/pkg/pubsub"
	"github.com/angelmondragon/vetsync/pkg/redis"
	"github.com/angelmondragon/vetsync/pkg/syncclient"
)

const (
	serviceName     = "syncd"
	shutdownTimeout = 10 * time.Second
	lockName        = "syncd:cycle"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: serviceName})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"instance": instance.GetID(),
	})

	var closers []func() error
	defer func() {
		var errs error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = multierr.Append(errs, closers[i]())
		}
		if errs != nil {
			logg.Error(context.Background(), "errors while closing resources", errs)
		}
	}()

	// The daemon keeps serving in degraded mode when the local store cannot be opened.
	var (
		dbClient *db.Client
		dbP      controllers.Pinger
	)
	dbClient, err = db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "local store unavailable; running in degraded mode", err)
		dbClient = nil
	} else {
		closers = append(closers, dbClient.Close)
		dbP = dbClient
		if err := migrate.MaybeRun(ctx, cfg.DB, logg, dbClient); err != nil {
			logg.Error(ctx, "failed to run migrations", err)
			os.Exit(1)
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	syncMetrics := metrics.NewSyncMetrics(registry)
	jobMetrics := metrics.NewJobMetrics(registry)

	transport, err := syncclient.NewClient(cfg.Sync.ServerURL,
		syncclient.WithTimeout(cfg.Sync.HTTPTimeout),
		syncclient.WithBearerToken(cfg.Sync.AuthToken),
		syncclient.WithUserAgent(serviceName+"/"+instance.GetID()),
	)
	if err != nil {
		logg.Error(ctx, "failed to create sync client", err)
		os.Exit(1)
	}

	monitorOpts := network.Options{
		StartOnline: cfg.Sync.StartOnline,
		Logger:      logg,
	}
	if cfg.Sync.ProbeInterval > 0 {
		monitorOpts.Prober = transport
		monitorOpts.ProbeInterval = cfg.Sync.ProbeInterval
	}
	monitor := network.NewMonitor(monitorOpts)

	hub := notify.NewHub(logg)

	var (
		redisClient *redis.Client
		cycleLock   scheduler.Lock = scheduler.NoopLock{}
	)
	if cfg.Redis.Enabled() {
		redisClient, err = redis.New(ctx, cfg.Redis, logg)
		if err != nil {
			logg.Error(ctx, "failed to bootstrap redis", err)
			os.Exit(1)
		}
		closers = append(closers, redisClient.Close)
		lock, err := scheduler.NewRedisLock(redisClient, redisClient.LockKey(lockName), cfg.Redis.LockTTL)
		if err != nil {
			logg.Error(ctx, "failed to create cycle lock", err)
			os.Exit(1)
		}
		cycleLock = lock
	}

	engineParams := engine.Params{
		Transport:   transport,
		Network:     monitor,
		Metrics:     syncMetrics,
		Logger:      logg,
		MaxAttempts: cfg.Sync.MaxAttempts,
		MaxPages:    cfg.Sync.MaxPages,
		PageSize:    cfg.Sync.PageSize,
	}

	deviceID, _ := instance.DeviceID(cfg.App.DeviceID)
	if dbClient != nil {
		repo := outbox.NewRepository(dbClient, logg)
		meta := outbox.NewMetaRepository(dbClient)

		deviceID, err = resolveDeviceID(ctx, cfg.App.DeviceID, meta)
		if err != nil {
			logg.Error(ctx, "failed to resolve device id", err)
			os.Exit(1)
		}

		engineParams.Store = repo
		engineParams.Meta = meta
		engineParams.Outbox = outbox.NewService(repo, logg)
		engineParams.Resolver = conflict.NewResolver(repo, hub, syncMetrics, logg)

		if cfg.Legacy.Enabled() {
			migrator, err := legacy.NewMigrator(legacy.Params{
				Config: cfg.Legacy,
				Outbox: repo,
				Meta:   meta,
				Logger: logg,
			})
			if err != nil {
				logg.Error(ctx, "failed to create legacy migrator", err)
				os.Exit(1)
			}
			engineParams.Legacy = migrator
		}
	}
	engineParams.DeviceID = deviceID
	ctx = logg.WithDeviceID(ctx, deviceID)

	var pubsubP controllers.Pinger
	if cfg.PubSub.Enabled() {
		psClient, err := pubsub.NewClient(ctx, cfg.PubSub, logg)
		if err != nil {
			logg.Error(ctx, "failed to bootstrap pubsub", err)
			os.Exit(1)
		}
		closers = append(closers, psClient.Close)
		pubsubP = psClient

		forwarder, err := notify.NewPubSubForwarder(psClient.AppliedPublisher(), deviceID, logg)
		if err != nil {
			logg.Error(ctx, "failed to create pubsub forwarder", err)
			os.Exit(1)
		}
		unsubscribe := hub.Subscribe(forwarder)
		closers = append(closers, func() error { unsubscribe(); return nil })
	}

	syncEngine, err := engine.New(engineParams)
	if err != nil {
		logg.Error(ctx, "failed to create sync engine", err)
		os.Exit(1)
	}

	if _, err := syncEngine.Recover(ctx); err != nil {
		logg.Error(ctx, "failed to recover interrupted push", err)
	}
	if summary := syncEngine.MigrateFromLegacy(ctx); summary.Migrated {
		logg.Info(logg.WithField(ctx, "ops", summary.Count), "legacy queue imported")
	}

	sched, err := scheduler.New(scheduler.Params{
		Logger:   logg,
		Syncer:   syncEngine,
		Lock:     cycleLock,
		Metrics:  jobMetrics,
		Interval: cfg.Sync.Interval,
		Debounce: cfg.Sync.Debounce,
	})
	if err != nil {
		logg.Error(ctx, "failed to create scheduler", err)
		os.Exit(1)
	}
	syncEngine.OnEnqueue(func(ctx context.Context, _ models.OutboxRecord) {
		sched.NotifyEnqueued(ctx)
	})
	monitor.OnOnline(sched.OnOnline)

	server := &http.Server{
		Addr:              cfg.App.Addr,
		Handler:           routes.NewRouter(cfg, logg, dbP, redisClient, pubsubP, registry, syncEngine, monitor),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 3)
	go func() { errCh <- sched.Run(ctx) }()
	if monitorOpts.Prober != nil {
		go func() { errCh <- monitor.Run(ctx) }()
	}
	go func() {
		logg.Info(logg.WithField(ctx, "addr", cfg.App.Addr), "starting sync daemon")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logg.Error(ctx, "sync daemon component stopped unexpectedly", err)
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Error(shutdownCtx, "http server shutdown failed", err)
	}
	logg.Info(shutdownCtx, "sync daemon shutting down gracefully")
}

type deviceMeta interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// resolveDeviceID prefers the configured id, then the persisted one, and persists a generated id otherwise.
func resolveDeviceID(ctx context.Context, configured string, meta deviceMeta) (string, error) {
	if id, generated := instance.DeviceID(configured); !generated {
		return id, nil
	}
	stored, ok, err := meta.Get(ctx, outbox.MetaDeviceID)
	if err != nil {
		return "", err
	}
	if ok && stored != "" {
		return stored, nil
	}
	id, _ := instance.DeviceID("")
	if err := meta.Set(ctx, outbox.MetaDeviceID, id); err != nil {
		return "", err
	}
	return id, nil
}
