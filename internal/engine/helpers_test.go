package engine

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/vetsync/internal/conflict"
	"github.com/angelmondragon/vetsync/internal/notify"
	"github.com/angelmondragon/vetsync/pkg/config"
	dbpkg "github.com/angelmondragon/vetsync/pkg/db"
	"github.com/angelmondragon/vetsync/pkg/db/models"
	"github.com/angelmondragon/vetsync/pkg/enums"
	"github.com/angelmondragon/vetsync/pkg/logger"
	"github.com/angelmondragon/vetsync/pkg/migrate"
	"github.com/angelmondragon/vetsync/pkg/outbox"
	"github.com/angelmondragon/vetsync/pkg/pagination"
	"github.com/angelmondragon/vetsync/pkg/syncclient"
)

type fakeTransport struct {
	mu       sync.Mutex
	pushFn   func(syncclient.PushRequest) (*syncclient.PushResponse, error)
	pages    []*syncclient.PullPage
	pullErr  error
	requests []syncclient.PushRequest
	sinces   []pagination.Cursor
}

func (f *fakeTransport) Push(_ context.Context, req syncclient.PushRequest) (*syncclient.PushResponse, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	fn := f.pushFn
	f.mu.Unlock()
	if fn == nil {
		return &syncclient.PushResponse{}, nil
	}
	return fn(req)
}

func (f *fakeTransport) Pull(_ context.Context, since pagination.Cursor) (*syncclient.PullPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinces = append(f.sinces, since)
	if f.pullErr != nil {
		return nil, f.pullErr
	}
	if len(f.pages) == 0 {
		return &syncclient.PullPage{Cursor: since}, nil
	}
	page := f.pages[0]
	f.pages = f.pages[1:]
	return page, nil
}

type staticNetwork bool

func (s staticNetwork) IsOnline() bool { return bool(s) }

type harness struct {
	engine    *Engine
	repo      *outbox.Repository
	meta      *outbox.MetaRepository
	transport *fakeTransport
	hub       *notify.Hub
}

func newHarness(t *testing.T, mutate func(*Params)) *harness {
	t.Helper()
	ctx := context.Background()
	client, err := dbpkg.New(ctx, config.DBConfig{
		Driver: config.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "engine.db"),
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, migrate.MaybeRun(ctx, config.DBConfig{AutoMigrate: true}, logger.Nop(), client))

	repo := outbox.NewRepository(client, logger.Nop())
	meta := outbox.NewMetaRepository(client)
	hub := notify.NewHub(nil)
	transport := &fakeTransport{}

	params := Params{
		DeviceID:  "dev-test",
		Store:     repo,
		Meta:      meta,
		Outbox:    outbox.NewService(repo, logger.Nop()),
		Transport: transport,
		Network:   staticNetwork(true),
		Resolver:  conflict.NewResolver(repo, hub, nil, nil),
		PageSize:  2,
	}
	if mutate != nil {
		mutate(&params)
	}
	eng, err := New(params)
	require.NoError(t, err)
	return &harness{engine: eng, repo: repo, meta: meta, transport: transport, hub: hub}
}

func (h *harness) seed(t *testing.T, opID, entityID string, status enums.OutboxStatus, ts time.Time) {
	t.Helper()
	require.NoError(t, h.repo.Insert(context.Background(), &models.OutboxRecord{
		OpID:            opID,
		EntityType:      "pet",
		EntityID:        entityID,
		OperationType:   enums.OperationUpdate,
		Payload:         []byte(`{"name":"Rex"}`),
		BaseVersion:     4,
		ClientTimestamp: ts.UTC(),
		Status:          status,
	}))
}

func (h *harness) record(t *testing.T, opID string) *models.OutboxRecord {
	t.Helper()
	rec, err := h.repo.Get(context.Background(), opID)
	require.NoError(t, err)
	return rec
}
