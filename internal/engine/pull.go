package engine

import (
	"context"
	"time"

	"github.com/angelmondragon/vetsync/pkg/outbox"
	"github.com/angelmondragon/vetsync/pkg/pagination"
)

// PullSummary reports one Pull call.
type PullSummary struct {
	Pulled int    `json:"pulled"`
	Reason string `json:"reason,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Pull fetches remote changes page by page from the persisted cursor, reconciles each page
// against the outbox and saves the cursor after every page. Pull is not serialized against PushAll.
func (e *Engine) Pull(ctx context.Context) PullSummary {
	if !e.Available() {
		return PullSummary{Reason: ReasonStorageUnavailable}
	}
	if !e.online() {
		e.metrics.ObserveRun("pull", outcomeSkipped, 0)
		return PullSummary{Reason: ReasonOffline}
	}

	start := time.Now()
	pulled, err := e.pull(ctx)
	if err != nil {
		e.recordError(ctx, "pull", err)
		e.metrics.ObserveRun("pull", outcomeError, time.Since(start))
		return PullSummary{Pulled: 0, Error: err.Error()}
	}
	e.metrics.ObserveRun("pull", outcomeOK, time.Since(start))
	return PullSummary{Pulled: pulled}
}

func (e *Engine) pull(ctx context.Context) (int, error) {
	cursor, err := e.cursor(ctx)
	if err != nil {
		return 0, err
	}

	total := 0
	for page := 0; page < e.maxPages; page++ {
		res, err := e.transport.Pull(ctx, cursor)
		if err != nil {
			return 0, err
		}
		if res == nil || len(res.Changes) == 0 {
			break
		}

		result, err := e.resolver.Resolve(ctx, res.Changes)
		if err != nil {
			return 0, err
		}
		total += len(res.Changes)
		e.metrics.AddPulled(len(res.Changes))

		if next := res.Position(); !next.IsZero() {
			if err := e.meta.Set(ctx, outbox.MetaPullCursor, next.String()); err != nil {
				return 0, err
			}
			cursor = next
		}

		e.logg.Debug(e.logg.WithFields(ctx, map[string]any{
			"page":         page + 1,
			"changes":      len(res.Changes),
			"applied":      result.Applied,
			"suppressed":   result.Suppressed,
			"local_losers": result.LocalLosers,
			"cursor":       cursor.String(),
		}), "pull page processed")

		if !res.HasMore && len(res.Changes) < e.pageSize {
			break
		}
	}

	if err := e.meta.SetTime(ctx, outbox.MetaLastSync, e.now()); err != nil {
		return 0, err
	}
	if total > 0 {
		e.logg.Info(e.logg.WithField(ctx, "pulled", total), "pull completed")
	}
	return total, nil
}

func (e *Engine) cursor(ctx context.Context) (pagination.Cursor, error) {
	raw, ok, err := e.meta.Get(ctx, outbox.MetaPullCursor)
	if err != nil {
		return "", err
	}
	if !ok {
		return pagination.InitialCursor, nil
	}
	return pagination.Cursor(raw).OrInitial(), nil
}
