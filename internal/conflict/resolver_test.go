package conflict

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/vetsync/internal/notify"
	"github.com/angelmondragon/vetsync/pkg/config"
	dbpkg "github.com/angelmondragon/vetsync/pkg/db"
	"github.com/angelmondragon/vetsync/pkg/db/models"
	"github.com/angelmondragon/vetsync/pkg/enums"
	"github.com/angelmondragon/vetsync/pkg/logger"
	"github.com/angelmondragon/vetsync/pkg/metrics"
	"github.com/angelmondragon/vetsync/pkg/migrate"
	"github.com/angelmondragon/vetsync/pkg/outbox"
	"github.com/angelmondragon/vetsync/pkg/syncclient"
)

type recorder struct {
	changes []notify.AppliedChange
}

func (r *recorder) Dispatch(_ context.Context, change notify.AppliedChange) {
	r.changes = append(r.changes, change)
}

func newRepo(t *testing.T) *outbox.Repository {
	t.Helper()
	ctx := context.Background()
	client, err := dbpkg.New(ctx, config.DBConfig{
		Driver: config.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "conflict.db"),
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, migrate.MaybeRun(ctx, config.DBConfig{AutoMigrate: true}, logger.Nop(), client))
	return outbox.NewRepository(client, logger.Nop())
}

func seed(t *testing.T, repo *outbox.Repository, opID, entityID, ts string) {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, ts)
	require.NoError(t, err)
	require.NoError(t, repo.Insert(context.Background(), &models.OutboxRecord{
		OpID:            opID,
		EntityType:      "pet",
		EntityID:        entityID,
		OperationType:   enums.OperationUpdate,
		Payload:         []byte(`{"name":"local"}`),
		ClientTimestamp: parsed,
		Status:          enums.OutboxStatusPending,
	}))
}

func remote(entityID, clientTS string) syncclient.Change {
	ts, _ := syncclient.ParseTimestamp(clientTS)
	return syncclient.Change{
		EntityType: "pet",
		EntityID:   entityID,
		ChangeType: enums.ChangeUpsert,
		Record:     []byte(`{"name":"remote"}`),
		Version:    []byte(`7`),
		ClientTS:   syncclient.Timestamp{Time: ts, Valid: clientTS != ""},
	}
}

func TestNewerRemoteDeletesLocalAndApplies(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	seed(t, repo, "op-local", "p1", "2024-01-01T00:00:00Z")
	rec := &recorder{}
	reg := prometheus.NewRegistry()
	m := metrics.NewSyncMetrics(reg)

	res, err := NewResolver(repo, rec, m, nil).Resolve(ctx, []syncclient.Change{remote("p1", "2024-01-02T00:00:00Z")})
	require.NoError(t, err)
	assert.Equal(t, Result{Applied: 1, LocalLosers: 1}, res)

	got, err := repo.Get(ctx, "op-local")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.Len(t, rec.changes, 1)
	assert.Equal(t, "p1", rec.changes[0].EntityID)
	assert.JSONEq(t, `{"name":"remote"}`, string(rec.changes[0].Record))
	assert.JSONEq(t, `7`, string(rec.changes[0].Version))
	assert.Equal(t, 1, testutil.CollectAndCount(reg, "vetsync_conflicts_total"))
}

func TestNewerLocalSuppressesRemote(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	seed(t, repo, "op-local", "p1", "2024-01-02T00:00:00Z")
	rec := &recorder{}

	res, err := NewResolver(repo, rec, nil, nil).Resolve(ctx, []syncclient.Change{remote("p1", "2024-01-01T00:00:00Z")})
	require.NoError(t, err)
	assert.Equal(t, Result{Suppressed: 1}, res)
	assert.Empty(t, rec.changes)

	got, err := repo.Get(ctx, "op-local")
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestTieFavorsRemote(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	seed(t, repo, "op-local", "p1", "2024-01-01T00:00:00Z")
	rec := &recorder{}

	res, err := NewResolver(repo, rec, nil, nil).Resolve(ctx, []syncclient.Change{remote("p1", "2024-01-01T00:00:00Z")})
	require.NoError(t, err)
	assert.Equal(t, 1, res.LocalLosers)
	assert.Len(t, rec.changes, 1)
}

func TestNoLocalAppliesDirectly(t *testing.T) {
	repo := newRepo(t)
	rec := &recorder{}

	res, err := NewResolver(repo, rec, nil, nil).Resolve(context.Background(), []syncclient.Change{
		remote("p1", ""),
		remote("p2", "2024-01-01T00:00:00Z"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Applied)
	assert.Len(t, rec.changes, 2)
}

func TestMissingRemoteTimestampLosesToLocal(t *testing.T) {
	repo := newRepo(t)
	seed(t, repo, "op-local", "p1", "2024-01-01T00:00:00Z")
	rec := &recorder{}

	res, err := NewResolver(repo, rec, nil, nil).Resolve(context.Background(), []syncclient.Change{remote("p1", "")})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Suppressed)
	assert.Empty(t, rec.changes)
}

func TestLoserStillSuppressesOlderChangeInSamePage(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	seed(t, repo, "op-local", "p1", "2024-01-02T00:00:00Z")
	rec := &recorder{}

	newer := remote("p1", "2024-01-03T00:00:00Z")
	newer.Record = []byte(`{"name":"newer"}`)
	older := remote("p1", "2024-01-01T00:00:00Z")
	older.Record = []byte(`{"name":"older"}`)

	res, err := NewResolver(repo, rec, nil, nil).Resolve(ctx, []syncclient.Change{newer, older})
	require.NoError(t, err)
	assert.Equal(t, Result{Applied: 1, Suppressed: 1, LocalLosers: 1}, res)

	require.Len(t, rec.changes, 1)
	assert.JSONEq(t, `{"name":"newer"}`, string(rec.changes[0].Record))

	got, err := repo.Get(ctx, "op-local")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestLoserDeletedOnceAcrossPage(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	seed(t, repo, "op-local", "p1", "2024-01-01T00:00:00Z")
	rec := &recorder{}

	res, err := NewResolver(repo, rec, nil, nil).Resolve(ctx, []syncclient.Change{
		remote("p1", "2024-01-02T00:00:00Z"),
		remote("p1", "2024-01-03T00:00:00Z"),
	})
	require.NoError(t, err)
	assert.Equal(t, Result{Applied: 2, LocalLosers: 1}, res)
}

type failingStore struct {
	listErr   error
	deleteErr error
	rows      []models.OutboxRecord
}

func (f failingStore) ListByEntity(context.Context, string, string) ([]models.OutboxRecord, error) {
	return f.rows, f.listErr
}

func (f failingStore) BatchDelete(context.Context, []string) error {
	return f.deleteErr
}

func TestStoreErrorsPropagate(t *testing.T) {
	ctx := context.Background()
	_, err := NewResolver(failingStore{listErr: errors.New("locked")}, &recorder{}, nil, nil).
		Resolve(ctx, []syncclient.Change{remote("p1", "2024-01-01T00:00:00Z")})
	assert.Error(t, err)

	store := failingStore{
		deleteErr: errors.New("locked"),
		rows:      []models.OutboxRecord{{OpID: "op-1"}},
	}
	_, err = NewResolver(store, nil, nil, nil).Resolve(ctx, []syncclient.Change{remote("p1", "2024-01-01T00:00:00Z")})
	assert.Error(t, err)
}

func TestFailedLoserDeleteDispatchesNothing(t *testing.T) {
	store := failingStore{
		deleteErr: errors.New("database is locked"),
		rows:      []models.OutboxRecord{{OpID: "op-1", ClientTimestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}},
	}
	rec := &recorder{}

	res, err := NewResolver(store, rec, nil, nil).Resolve(context.Background(), []syncclient.Change{
		remote("p1", "2024-01-02T00:00:00Z"),
	})
	require.Error(t, err)
	assert.Equal(t, Result{}, res)
	assert.Empty(t, rec.changes)
}
