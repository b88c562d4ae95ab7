package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/vetsync/api/responses"
	"github.com/angelmondragon/vetsync/pkg/config"
	pkgerrors "github.com/angelmondragon/vetsync/pkg/errors"
	"github.com/angelmondragon/vetsync/pkg/logger"
)

const readyTimeout = 3 * time.Second

// Pinger is any dependency the readiness probe can check.
type Pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Vetsync-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings every configured dependency. Nil pingers are reported as disabled.
// The local store is the only dependency whose failure makes the daemon not ready.
func HealthReady(cfg *config.Config, logg *logger.Logger, store Pinger, optional map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Vetsync-Env", cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()

		checks := map[string]string{}
		if store == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeStorageUnavailable, "local store not opened"))
			return
		}
		if err := store.Ping(ctx); err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeStorageUnavailable, err, "local store ping failed"))
			return
		}
		checks["db"] = "ok"

		for name, p := range optional {
			if p == nil {
				checks[name] = "disabled"
				continue
			}
			if err := p.Ping(ctx); err != nil {
				if logg != nil {
					logg.Warn(logg.WithFields(r.Context(), map[string]any{"dependency": name, "error": err.Error()}), "readiness dependency degraded")
				}
				checks[name] = "degraded"
				continue
			}
			checks[name] = "ok"
		}

		responses.WriteSuccess(w, map[string]any{"status": "ready", "checks": checks})
	}
}
