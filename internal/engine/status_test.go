package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/vetsync/internal/legacy"
	"github.com/angelmondragon/vetsync/pkg/enums"
)

func TestStatusCountsPendingAndFailed(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(t, "op1", "p1", enums.OutboxStatusPending, t0)
	h.seed(t, "op2", "p2", enums.OutboxStatusFailed, t0)
	h.seed(t, "op3", "p3", enums.OutboxStatusPushing, t0)

	status := h.engine.GetStatus(context.Background())
	assert.Equal(t, int64(2), status.Pending)
	assert.Equal(t, int64(1), status.Pushing)
	assert.True(t, status.Online)
	assert.True(t, status.Available)
	assert.Equal(t, "dev-test", status.DeviceID)
	assert.Nil(t, status.LastSync)
	assert.Empty(t, status.Errors)
}

func TestErrorRingKeepsNewest(t *testing.T) {
	ring := newErrorRing(errorRingCapacity)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 60; i++ {
		ring.add(base.Add(time.Duration(i)*time.Second), "push", fmt.Sprintf("err-%d", i))
	}
	assert.Len(t, ring.entries, errorRingCapacity)
	assert.Equal(t, "err-10", ring.entries[0].Error)

	recent := ring.recent(recentErrorCount)
	require.Len(t, recent, recentErrorCount)
	assert.Equal(t, "err-50", recent[0].Error)
	assert.Equal(t, "err-59", recent[9].Error)

	assert.Empty(t, newErrorRing(5).recent(10))
}

type stubMigrator struct {
	summary legacy.Summary
}

func (s stubMigrator) Migrate(context.Context) legacy.Summary {
	return s.summary
}

func TestMigrateFromLegacy(t *testing.T) {
	ctx := context.Background()

	disabled := newHarness(t, nil)
	assert.Equal(t, ReasonLegacyDisabled, disabled.engine.MigrateFromLegacy(ctx).Reason)

	failing := newHarness(t, func(p *Params) {
		p.Legacy = stubMigrator{summary: legacy.Summary{Reason: legacy.ReasonError, Error: "locked"}}
	})
	assert.Equal(t, "locked", failing.engine.MigrateFromLegacy(ctx).Error)
	require.Len(t, failing.engine.GetStatus(ctx).Errors, 1)
}
