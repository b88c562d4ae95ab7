package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/angelmondragon/vetsync/api/responses"
	"github.com/angelmondragon/vetsync/api/validators"
	"github.com/angelmondragon/vetsync/pkg/db/models"
	dbtypes "github.com/angelmondragon/vetsync/pkg/db/types"
	"github.com/angelmondragon/vetsync/pkg/enums"
	pkgerrors "github.com/angelmondragon/vetsync/pkg/errors"
	"github.com/angelmondragon/vetsync/pkg/logger"
	"github.com/angelmondragon/vetsync/pkg/outbox"
	"github.com/angelmondragon/vetsync/pkg/pagination"
)

// OutboxService is the local mutation queue as seen by HTTP callers.
type OutboxService interface {
	Enqueue(ctx context.Context, in outbox.EnqueueInput) (string, error)
	ListOutbox(ctx context.Context, params outbox.ListParams) ([]models.OutboxRecord, *pagination.KeysetCursor, error)
}

type enqueueRequest struct {
	EntityType    string          `json:"entity_type" validate:"required"`
	EntityID      string          `json:"entity_id" validate:"required"`
	OperationType string          `json:"operation_type" validate:"required,oneof=create update delete"`
	Payload       json.RawMessage `json:"payload"`
	BaseVersion   any             `json:"base_version"`
}

type outboxRecordDTO struct {
	OpID            string              `json:"op_id"`
	EntityType      string              `json:"entity_type"`
	EntityID        string              `json:"entity_id"`
	OperationType   enums.OperationType `json:"operation_type"`
	Payload         dbtypes.JSONPayload `json:"payload"`
	BaseVersion     int64               `json:"base_version"`
	ClientTimestamp time.Time           `json:"client_timestamp"`
	Status          enums.OutboxStatus  `json:"status"`
	RetryCount      int                 `json:"retry_count"`
	LastError       *string             `json:"last_error,omitempty"`
}

type outboxListResponse struct {
	Items      []outboxRecordDTO `json:"items"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

// OutboxEnqueue records a local mutation. base_version may be any JSON value.
func OutboxEnqueue(svc OutboxService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "outbox service unavailable"))
			return
		}

		var req enqueueRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		opID, err := svc.Enqueue(r.Context(), outbox.EnqueueInput{
			EntityType:    req.EntityType,
			EntityID:      req.EntityID,
			OperationType: enums.OperationType(req.OperationType),
			Payload:       dbtypes.JSONPayload(req.Payload),
			BaseVersion:   outbox.NormalizeBaseVersion(req.BaseVersion),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, map[string]string{"op_id": opID})
	}
}

func OutboxList(svc OutboxService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "outbox service unavailable"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status, err := validators.ParseQueryEnum(r, "status",
			string(enums.OutboxStatusPending),
			string(enums.OutboxStatusPushing),
			string(enums.OutboxStatusFailed),
		)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		after, err := pagination.ParseCursor(strings.TrimSpace(r.URL.Query().Get("cursor")))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInvalidArgument, err, "invalid cursor"))
			return
		}

		records, next, err := svc.ListOutbox(r.Context(), outbox.ListParams{
			Status: enums.OutboxStatus(status),
			Limit:  limit,
			After:  after,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resp := outboxListResponse{Items: make([]outboxRecordDTO, 0, len(records))}
		for _, rec := range records {
			resp.Items = append(resp.Items, toOutboxRecordDTO(rec))
		}
		if next != nil {
			resp.NextCursor = pagination.EncodeCursor(*next)
		}
		responses.WriteSuccess(w, resp)
	}
}

func toOutboxRecordDTO(rec models.OutboxRecord) outboxRecordDTO {
	return outboxRecordDTO{
		OpID:            rec.OpID,
		EntityType:      rec.EntityType,
		EntityID:        rec.EntityID,
		OperationType:   rec.OperationType,
		Payload:         rec.Payload,
		BaseVersion:     rec.BaseVersion,
		ClientTimestamp: rec.ClientTimestamp.UTC(),
		Status:          rec.Status,
		RetryCount:      rec.RetryCount,
		LastError:       rec.LastError,
	}
}
