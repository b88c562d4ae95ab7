package outbox

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/vetsync/pkg/config"
	dbpkg "github.com/angelmondragon/vetsync/pkg/db"
	"github.com/angelmondragon/vetsync/pkg/db/models"
	"github.com/angelmondragon/vetsync/pkg/enums"
	"github.com/angelmondragon/vetsync/pkg/logger"
	"github.com/angelmondragon/vetsync/pkg/migrate"
)

func newTestDB(t *testing.T) *dbpkg.Client {
	t.Helper()
	ctx := context.Background()
	client, err := dbpkg.New(ctx, config.DBConfig{
		Driver: config.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "outbox.db"),
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, migrate.MaybeRun(ctx, config.DBConfig{AutoMigrate: true}, logger.Nop(), client))
	return client
}

func seedRecord(t *testing.T, repo *Repository, opID, entityID string, status enums.OutboxStatus, ts time.Time) models.OutboxRecord {
	t.Helper()
	rec := models.OutboxRecord{
		OpID:            opID,
		EntityType:      "pet",
		EntityID:        entityID,
		OperationType:   enums.OperationUpdate,
		Payload:         []byte(`{"id":"` + entityID + `"}`),
		ClientTimestamp: ts.UTC(),
		Status:          status,
	}
	require.NoError(t, repo.Insert(context.Background(), &rec))
	return rec
}
