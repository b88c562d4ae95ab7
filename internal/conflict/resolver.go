package conflict

import (
	"context"
	"time"

	"github.com/angelmondragon/vetsync/internal/notify"
	"github.com/angelmondragon/vetsync/pkg/db/models"
	"github.com/angelmondragon/vetsync/pkg/logger"
	"github.com/angelmondragon/vetsync/pkg/metrics"
	"github.com/angelmondragon/vetsync/pkg/syncclient"
)

const (
	winnerLocal  = "local"
	winnerRemote = "remote"
)

// Store is the slice of the outbox the resolver reads and prunes.
type Store interface {
	ListByEntity(ctx context.Context, entityType, entityID string) ([]models.OutboxRecord, error)
	BatchDelete(ctx context.Context, opIDs []string) error
}

// Result summarizes one page of reconciliation.
type Result struct {
	Applied     int
	Suppressed  int
	LocalLosers int
}

// Resolver reconciles pulled changes against pending local mutations using last-write-wins.
type Resolver struct {
	store      Store
	dispatcher notify.Dispatcher
	metrics    *metrics.SyncMetrics
	logg       *logger.Logger
}

func NewResolver(store Store, dispatcher notify.Dispatcher, m *metrics.SyncMetrics, logg *logger.Logger) *Resolver {
	if logg == nil {
		logg = logger.Nop()
	}
	return &Resolver{store: store, dispatcher: dispatcher, metrics: m, logg: logg}
}

// Resolve processes one pulled page. Local records with a timestamp at or before the remote
// change lose; a strictly newer local record suppresses the remote change for that entity.
// Losers stay visible to later changes in the same page and are deleted in one batch before
// any apply is dispatched, so a failed delete never notifies subscribers.
func (r *Resolver) Resolve(ctx context.Context, changes []syncclient.Change) (Result, error) {
	var (
		result  Result
		losers  []string
		lost    = map[string]struct{}{}
		toApply []syncclient.Change
	)

	for _, change := range changes {
		locals, err := r.store.ListByEntity(ctx, change.EntityType, change.EntityID)
		if err != nil {
			return result, err
		}

		remoteTs := change.RemoteTime()
		localWins := false
		for _, local := range locals {
			if !remoteTs.Before(localTime(local)) {
				if _, seen := lost[local.OpID]; !seen {
					lost[local.OpID] = struct{}{}
					losers = append(losers, local.OpID)
					r.metrics.IncConflict(winnerRemote)
				}
				continue
			}
			localWins = true
			r.metrics.IncConflict(winnerLocal)
		}

		if localWins {
			result.Suppressed++
			fields := map[string]any{
				"entity_type": change.EntityType,
				"entity_id":   change.EntityID,
				"remote_ts":   remoteTs.Format(time.RFC3339Nano),
			}
			r.logg.Info(r.logg.WithFields(ctx, fields), "remote change suppressed by newer local edit")
			continue
		}
		toApply = append(toApply, change)
	}

	if len(losers) > 0 {
		if err := r.store.BatchDelete(ctx, losers); err != nil {
			return Result{}, err
		}
		result.LocalLosers = len(losers)
		r.logg.Info(r.logg.WithField(ctx, "ops", len(losers)), "local outbox records lost to remote changes")
	}

	for _, change := range toApply {
		r.apply(ctx, change)
		result.Applied++
	}
	return result, nil
}

func (r *Resolver) apply(ctx context.Context, change syncclient.Change) {
	if r.dispatcher == nil {
		return
	}
	r.dispatcher.Dispatch(ctx, notify.AppliedChange{
		EntityType: change.EntityType,
		EntityID:   change.EntityID,
		ChangeType: change.ChangeType,
		Record:     change.Record,
		Version:    change.Version,
	})
}

func localTime(rec models.OutboxRecord) time.Time {
	if rec.ClientTimestamp.IsZero() {
		return time.Unix(0, 0).UTC()
	}
	return rec.ClientTimestamp
}
