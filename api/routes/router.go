package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/vetsync/api/controllers"
	"github.com/angelmondragon/vetsync/api/middleware"
	"github.com/angelmondragon/vetsync/pkg/config"
	"github.com/angelmondragon/vetsync/pkg/logger"
	"github.com/angelmondragon/vetsync/pkg/redis"
)

// SyncEngine is everything the local API needs from the sync engine.
type SyncEngine interface {
	controllers.SyncService
	controllers.OutboxService
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP controllers.Pinger,
	redisClient *redis.Client,
	pubsubP controllers.Pinger,
	gatherer prometheus.Gatherer,
	syncEngine SyncEngine,
	network controllers.NetworkState,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	triggerPolicy := middleware.NewTriggerRateLimitPolicy(
		"sync",
		cfg.TriggerRateLimit.Window,
		cfg.TriggerRateLimit.Limit,
	)
	// Typed nil pointers must not leak into the interfaces below.
	var (
		redisP       controllers.Pinger
		triggerStore middleware.RateLimiterStore
	)
	if redisClient != nil {
		redisP = redisClient
		triggerStore = redisClient
	}
	throttle := middleware.TriggerRateLimit(triggerPolicy, triggerStore, logg)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, map[string]controllers.Pinger{
			"redis":  redisP,
			"pubsub": pubsubP,
		}))
	})

	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/sync", func(r chi.Router) {
			r.Get("/status", controllers.SyncStatus(syncEngine, logg))
			r.With(throttle).Post("/push", controllers.SyncPush(syncEngine, logg))
			r.With(throttle).Post("/pull", controllers.SyncPull(syncEngine, logg))
			r.Post("/legacy-migration", controllers.SyncLegacyMigration(syncEngine, logg))
			r.Post("/requeue-failed", controllers.SyncRequeueFailed(syncEngine, logg))
		})
		r.Route("/outbox", func(r chi.Router) {
			r.Get("/", controllers.OutboxList(syncEngine, logg))
			r.Post("/", controllers.OutboxEnqueue(syncEngine, logg))
		})
		r.Route("/network", func(r chi.Router) {
			r.Get("/", controllers.NetworkGet(network, logg))
			r.Put("/", controllers.NetworkSet(network, logg))
		})
	})

	return r
}
