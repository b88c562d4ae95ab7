package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/angelmondragon/vetsync/internal/conflict"
	"github.com/angelmondragon/vetsync/internal/legacy"
	"github.com/angelmondragon/vetsync/pkg/db/models"
	"github.com/angelmondragon/vetsync/pkg/enums"
	pkgerrors "github.com/angelmondragon/vetsync/pkg/errors"
	"github.com/angelmondragon/vetsync/pkg/logger"
	"github.com/angelmondragon/vetsync/pkg/metrics"
	"github.com/angelmondragon/vetsync/pkg/outbox"
	"github.com/angelmondragon/vetsync/pkg/pagination"
	"github.com/angelmondragon/vetsync/pkg/syncclient"
)

// Skip reasons reported in summaries.
const (
	ReasonInProgress         = "in_progress"
	ReasonOffline            = "offline"
	ReasonStorageUnavailable = "storage_unavailable"
	ReasonLegacyDisabled     = "legacy_disabled"
)

// Store is the outbox surface the engine drives.
type Store interface {
	ReadAllSnapshot(ctx context.Context) ([]models.OutboxRecord, error)
	CountByStatus(ctx context.Context, status enums.OutboxStatus) int64
	CountQuarantined(ctx context.Context, maxAttempts int) int64
	BatchSetStatus(ctx context.Context, opIDs []string, status enums.OutboxStatus, errMsg string) error
	BatchDelete(ctx context.Context, opIDs []string) error
	RequeueFailed(ctx context.Context) (int64, error)
	ResetPushing(ctx context.Context) (int64, error)
	List(ctx context.Context, params outbox.ListParams) ([]models.OutboxRecord, *pagination.KeysetCursor, error)
}

type MetaStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	GetTime(ctx context.Context, key string) (*time.Time, error)
	SetTime(ctx context.Context, key string, ts time.Time) error
}

// Transport talks to the sync server.
type Transport interface {
	Push(ctx context.Context, req syncclient.PushRequest) (*syncclient.PushResponse, error)
	Pull(ctx context.Context, since pagination.Cursor) (*syncclient.PullPage, error)
}

type Connectivity interface {
	IsOnline() bool
}

type ChangeResolver interface {
	Resolve(ctx context.Context, changes []syncclient.Change) (conflict.Result, error)
}

type LegacyMigrator interface {
	Migrate(ctx context.Context) legacy.Summary
}

type Params struct {
	DeviceID    string
	Store       Store
	Meta        MetaStore
	Outbox      *outbox.Service
	Transport   Transport
	Network     Connectivity
	Resolver    ChangeResolver
	Legacy      LegacyMigrator
	Metrics     *metrics.SyncMetrics
	Logger      *logger.Logger
	MaxAttempts int
	MaxPages    int
	PageSize    int
}

// Engine owns push, pull and status for one device. A nil Store puts it in degraded mode:
// every operation becomes a no-op reporting storage_unavailable.
type Engine struct {
	deviceID    string
	store       Store
	meta        MetaStore
	outbox      *outbox.Service
	transport   Transport
	network     Connectivity
	resolver    ChangeResolver
	legacy      LegacyMigrator
	metrics     *metrics.SyncMetrics
	logg        *logger.Logger
	maxAttempts int
	maxPages    int
	pageSize    int
	now         func() time.Time

	pushing atomic.Bool
	errs    *errorRing
}

func New(params Params) (*Engine, error) {
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	if params.Store != nil {
		if params.Meta == nil {
			return nil, errors.New("meta store is required")
		}
		if params.Transport == nil {
			return nil, errors.New("transport is required")
		}
		if params.Resolver == nil {
			return nil, errors.New("conflict resolver is required")
		}
	}

	maxPages := params.MaxPages
	if maxPages <= 0 {
		maxPages = pagination.DefaultMaxPullPages
	}
	maxAttempts := params.MaxAttempts
	if maxAttempts < 0 {
		maxAttempts = 0
	}

	return &Engine{
		deviceID:    params.DeviceID,
		store:       params.Store,
		meta:        params.Meta,
		outbox:      params.Outbox,
		transport:   params.Transport,
		network:     params.Network,
		resolver:    params.Resolver,
		legacy:      params.Legacy,
		metrics:     params.Metrics,
		logg:        logg,
		maxAttempts: maxAttempts,
		maxPages:    maxPages,
		pageSize:    pagination.NormalizePullPageSize(params.PageSize),
		now:         time.Now,
		errs:        newErrorRing(errorRingCapacity),
	}, nil
}

// Available reports whether the local store opened.
func (e *Engine) Available() bool {
	return e.store != nil
}

func (e *Engine) DeviceID() string {
	return e.deviceID
}

func (e *Engine) IsPushing() bool {
	return e.pushing.Load()
}

func (e *Engine) online() bool {
	return e.network == nil || e.network.IsOnline()
}

// Enqueue records a local mutation. It never touches the network.
func (e *Engine) Enqueue(ctx context.Context, in outbox.EnqueueInput) (string, error) {
	if !e.Available() || e.outbox == nil {
		return "", pkgerrors.New(pkgerrors.CodeStorageUnavailable, "local outbox is unavailable")
	}
	return e.outbox.Enqueue(ctx, in)
}

// OnEnqueue registers fn to run after each committed enqueue.
func (e *Engine) OnEnqueue(fn outbox.EnqueueHook) {
	if e.outbox == nil {
		return
	}
	e.outbox.OnEnqueued(fn)
}

// Recover returns records stranded in pushing by an interrupted run back to pending.
func (e *Engine) Recover(ctx context.Context) (int64, error) {
	if !e.Available() {
		return 0, nil
	}
	n, err := e.store.ResetPushing(ctx)
	if err != nil {
		e.recordError(ctx, "recover", err)
		return 0, err
	}
	if n > 0 {
		e.logg.Warn(e.logg.WithField(ctx, "ops", n), "reset outbox records left in pushing")
	}
	return n, nil
}

// RequeueFailed releases every failed record, including quarantined ones, for the next push.
func (e *Engine) RequeueFailed(ctx context.Context) (int64, error) {
	if !e.Available() {
		return 0, pkgerrors.New(pkgerrors.CodeStorageUnavailable, "local outbox is unavailable")
	}
	n, err := e.store.RequeueFailed(ctx)
	if err != nil {
		e.recordError(ctx, "requeue", err)
		return 0, err
	}
	e.logg.Info(e.logg.WithField(ctx, "ops", n), "failed outbox records requeued")
	return n, nil
}

// ListOutbox pages through local records in push order.
func (e *Engine) ListOutbox(ctx context.Context, params outbox.ListParams) ([]models.OutboxRecord, *pagination.KeysetCursor, error) {
	if !e.Available() {
		return nil, nil, pkgerrors.New(pkgerrors.CodeStorageUnavailable, "local outbox is unavailable")
	}
	return e.store.List(ctx, params)
}

// HasPendingWork reports whether any record is eligible for the next push.
func (e *Engine) HasPendingWork(ctx context.Context) bool {
	if !e.Available() {
		return false
	}
	waiting := e.store.CountByStatus(ctx, enums.OutboxStatusPending) + e.store.CountByStatus(ctx, enums.OutboxStatusFailed)
	return waiting-e.store.CountQuarantined(ctx, e.maxAttempts) > 0
}

// MigrateFromLegacy imports the previous client's queue once.
func (e *Engine) MigrateFromLegacy(ctx context.Context) legacy.Summary {
	if !e.Available() {
		return legacy.Summary{Reason: ReasonStorageUnavailable}
	}
	if e.legacy == nil {
		return legacy.Summary{Reason: ReasonLegacyDisabled}
	}
	summary := e.legacy.Migrate(ctx)
	if summary.Error != "" {
		e.errs.add(e.now(), "legacy_migration", summary.Error)
	}
	return summary
}

func (e *Engine) recordError(ctx context.Context, operation string, err error) {
	if err == nil {
		return
	}
	e.errs.add(e.now(), operation, err.Error())
	e.logg.Error(e.logg.WithField(ctx, "operation", operation), "sync operation failed", err)
}
