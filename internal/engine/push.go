package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/angelmondragon/vetsync/pkg/db/models"
	"github.com/angelmondragon/vetsync/pkg/enums"
	"github.com/angelmondragon/vetsync/pkg/syncclient"
)

const (
	outcomeOK      = "ok"
	outcomeError   = "error"
	outcomeSkipped = "skipped"
)

// PushSummary reports one PushAll call. Skipped is set when nothing was attempted.
type PushSummary struct {
	Pushed   int    `json:"pushed"`
	Accepted int    `json:"accepted"`
	Rejected int    `json:"rejected"`
	Skipped  string `json:"skipped,omitempty"`
	Error    string `json:"error,omitempty"`
}

// PushAll sends every pending or failed record in one batch and reconciles the response.
// At most one call runs at a time per Engine; overlapping calls return Skipped=in_progress.
// Failures are recorded and reported in the summary, never returned.
func (e *Engine) PushAll(ctx context.Context) PushSummary {
	if !e.Available() {
		return PushSummary{Skipped: ReasonStorageUnavailable}
	}
	if !e.online() {
		e.metrics.ObserveRun("push", outcomeSkipped, 0)
		return PushSummary{Skipped: ReasonOffline}
	}
	if !e.pushing.CompareAndSwap(false, true) {
		e.metrics.ObserveRun("push", outcomeSkipped, 0)
		return PushSummary{Skipped: ReasonInProgress}
	}
	defer e.pushing.Store(false)

	start := time.Now()
	summary := e.push(ctx)
	outcome := outcomeOK
	if summary.Error != "" {
		outcome = outcomeError
	}
	e.metrics.ObserveRun("push", outcome, time.Since(start))
	return summary
}

func (e *Engine) push(ctx context.Context) PushSummary {
	snapshot, err := e.store.ReadAllSnapshot(ctx)
	if err != nil {
		e.recordError(ctx, "push", err)
		return PushSummary{Error: err.Error()}
	}

	batch := e.pushable(snapshot)
	if len(batch) == 0 {
		return PushSummary{}
	}

	ids := make([]string, len(batch))
	ops := make([]syncclient.Op, len(batch))
	for i, rec := range batch {
		ids[i] = rec.OpID
		ops[i] = toWireOp(rec)
	}

	ctx = e.logg.WithFields(ctx, map[string]any{"ops": len(batch), "device_id": e.deviceID})
	if err := e.store.BatchSetStatus(ctx, ids, enums.OutboxStatusPushing, ""); err != nil {
		e.recordError(ctx, "push", err)
		return PushSummary{Error: err.Error()}
	}

	// Records marked pushing must always leave that state, even if the caller gives up.
	settleCtx := context.WithoutCancel(ctx)
	resp, err := e.transport.Push(ctx, syncclient.PushRequest{DeviceID: e.deviceID, Ops: ops})
	if err != nil {
		if markErr := e.store.BatchSetStatus(settleCtx, ids, enums.OutboxStatusFailed, err.Error()); markErr != nil {
			e.logg.Error(ctx, "mark pushed records failed", markErr)
		}
		e.metrics.AddPushOps("failed", len(ids))
		e.recordError(settleCtx, "push", err)
		return PushSummary{Error: err.Error()}
	}
	if resp == nil {
		resp = &syncclient.PushResponse{}
	}

	return e.reconcile(settleCtx, ids, resp)
}

// pushable filters the snapshot to pending/failed records that are not quarantined.
func (e *Engine) pushable(snapshot []models.OutboxRecord) []models.OutboxRecord {
	out := make([]models.OutboxRecord, 0, len(snapshot))
	for _, rec := range snapshot {
		if !rec.Status.Pushable() {
			continue
		}
		if e.quarantined(rec) {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func (e *Engine) quarantined(rec models.OutboxRecord) bool {
	return e.maxAttempts > 0 && rec.Status == enums.OutboxStatusFailed && rec.RetryCount >= e.maxAttempts
}

// reconcile applies the server verdict: accepted records are deleted, rejected ones fail with
// the server's reason, and records the server did not mention go back to pending.
// ctx must not be cancellable.
func (e *Engine) reconcile(ctx context.Context, ids []string, resp *syncclient.PushResponse) PushSummary {
	inBatch := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		inBatch[id] = struct{}{}
	}

	settled := map[string]struct{}{}
	var accepted []string
	for _, id := range resp.Accepted {
		if _, ok := inBatch[id]; !ok {
			continue
		}
		if _, dup := settled[id]; dup {
			continue
		}
		settled[id] = struct{}{}
		accepted = append(accepted, id)
	}

	byReason := map[string][]string{}
	rejected := 0
	for _, rej := range resp.Rejected {
		if _, ok := inBatch[rej.OpID]; !ok {
			continue
		}
		if _, dup := settled[rej.OpID]; dup {
			continue
		}
		settled[rej.OpID] = struct{}{}
		byReason[rej.Reason] = append(byReason[rej.Reason], rej.OpID)
		rejected++
	}

	var untouched []string
	for _, id := range ids {
		if _, ok := settled[id]; !ok {
			untouched = append(untouched, id)
		}
	}

	if err := e.store.BatchDelete(ctx, accepted); err != nil {
		// The server already holds these; resubmitting is idempotent on op_id.
		e.recordError(ctx, "push", err)
		untouched = append(untouched, accepted...)
	}

	reasons := make([]string, 0, len(byReason))
	for reason := range byReason {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)
	for _, reason := range reasons {
		opIDs := byReason[reason]
		if err := e.store.BatchSetStatus(ctx, opIDs, enums.OutboxStatusFailed, reason); err != nil {
			e.logg.Error(ctx, "mark rejected records failed", err)
		}
		e.errs.add(e.now(), "push", fmt.Sprintf("server rejected %d operation(s): %s", len(opIDs), reason))
	}

	if err := e.store.BatchSetStatus(ctx, untouched, enums.OutboxStatusPending, ""); err != nil {
		e.logg.Error(ctx, "revert unacknowledged records failed", err)
	}

	e.metrics.AddPushOps("accepted", len(accepted))
	e.metrics.AddPushOps("rejected", rejected)
	e.metrics.AddPushOps("ignored", len(ids)-len(settled))

	summary := PushSummary{Pushed: len(ids), Accepted: len(accepted), Rejected: rejected}
	e.logg.Info(e.logg.WithFields(ctx, map[string]any{
		"accepted": summary.Accepted,
		"rejected": summary.Rejected,
		"ignored":  len(ids) - len(settled),
	}), "push completed")
	return summary
}

func toWireOp(rec models.OutboxRecord) syncclient.Op {
	baseVersion := rec.BaseVersion
	clientTS := rec.ClientTimestamp.UTC().Format(time.RFC3339Nano)
	return syncclient.Op{
		OpID:        rec.OpID,
		EntityType:  rec.EntityType,
		EntityID:    rec.EntityID,
		ChangeType:  rec.OperationType.ChangeType(),
		Record:      rec.Payload,
		BaseVersion: &baseVersion,
		ClientTS:    &clientTS,
	}
}
