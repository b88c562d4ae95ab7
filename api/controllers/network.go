package controllers

import (
	"context"
	"net/http"

	"github.com/angelmondragon/vetsync/api/responses"
	"github.com/angelmondragon/vetsync/api/validators"
	pkgerrors "github.com/angelmondragon/vetsync/pkg/errors"
	"github.com/angelmondragon/vetsync/pkg/logger"
)

// NetworkState receives connectivity reports from the host.
type NetworkState interface {
	IsOnline() bool
	SetOnline(ctx context.Context, online bool)
}

type networkRequest struct {
	Online *bool `json:"online" validate:"required"`
}

func NetworkGet(state NetworkState, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if state == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "network monitor unavailable"))
			return
		}
		responses.WriteSuccess(w, map[string]bool{"online": state.IsOnline()})
	}
}

// NetworkSet flips the connectivity flag. Going online kicks off a sync cycle.
func NetworkSet(state NetworkState, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if state == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "network monitor unavailable"))
			return
		}

		var req networkRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		state.SetOnline(context.WithoutCancel(r.Context()), *req.Online)
		responses.WriteSuccess(w, map[string]bool{"online": state.IsOnline()})
	}
}
