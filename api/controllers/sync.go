package controllers

import (
	"context"
	"net/http"

	"github.com/angelmondragon/vetsync/api/responses"
	"github.com/angelmondragon/vetsync/internal/engine"
	"github.com/angelmondragon/vetsync/internal/legacy"
	pkgerrors "github.com/angelmondragon/vetsync/pkg/errors"
	"github.com/angelmondragon/vetsync/pkg/logger"
)

// SyncService is the engine surface exposed to the host application.
type SyncService interface {
	GetStatus(ctx context.Context) engine.Status
	PushAll(ctx context.Context) engine.PushSummary
	Pull(ctx context.Context) engine.PullSummary
	MigrateFromLegacy(ctx context.Context) legacy.Summary
	RequeueFailed(ctx context.Context) (int64, error)
}

func SyncStatus(svc SyncService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sync service unavailable"))
			return
		}
		responses.WriteSuccess(w, svc.GetStatus(r.Context()))
	}
}

// SyncPush triggers a push. Skips and failures are part of the summary, so the response is always 200.
func SyncPush(svc SyncService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sync service unavailable"))
			return
		}
		responses.WriteSuccess(w, svc.PushAll(r.Context()))
	}
}

func SyncPull(svc SyncService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sync service unavailable"))
			return
		}
		responses.WriteSuccess(w, svc.Pull(r.Context()))
	}
}

func SyncLegacyMigration(svc SyncService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sync service unavailable"))
			return
		}
		responses.WriteSuccess(w, svc.MigrateFromLegacy(r.Context()))
	}
}

func SyncRequeueFailed(svc SyncService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sync service unavailable"))
			return
		}
		n, err := svc.RequeueFailed(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]int64{"requeued": n})
	}
}
