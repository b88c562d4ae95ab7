package outbox

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/vetsync/internal/repo"
	dbpkg "github.com/angelmondragon/vetsync/pkg/db"
	"github.com/angelmondragon/vetsync/pkg/db/models"
	pkgerrors "github.com/angelmondragon/vetsync/pkg/errors"
)

// Meta keys persisted by the sync engine.
const (
	MetaPullCursor     = "pull_cursor"
	MetaLastSync       = "last_sync"
	MetaLegacyMigrated = "legacy_migrated"
	MetaDeviceID       = "device_id"
)

type MetaRepository struct {
	repo.Base
}

func NewMetaRepository(db *dbpkg.Client) *MetaRepository {
	return &MetaRepository{Base: repo.NewBase(db)}
}

// Get returns the stored value and whether the key exists.
func (r *MetaRepository) Get(ctx context.Context, key string) (string, bool, error) {
	var row models.MetaEntry
	err := r.DB(ctx).Where("key = ?", key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "read sync meta").
			WithDetails(map[string]any{"key": key})
	}
	return row.Value, true, nil
}

// Set creates or overwrites key.
func (r *MetaRepository) Set(ctx context.Context, key, value string) error {
	row := models.MetaEntry{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	err := r.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "write sync meta").
			WithDetails(map[string]any{"key": key})
	}
	return nil
}

// GetTime parses an RFC3339 timestamp stored under key; nil when absent or malformed.
func (r *MetaRepository) GetTime(ctx context.Context, key string) (*time.Time, error) {
	raw, ok, err := r.Get(ctx, key)
	if err != nil || !ok {
		return nil, err
	}
	ts, perr := time.Parse(time.RFC3339Nano, raw)
	if perr != nil {
		return nil, nil
	}
	return &ts, nil
}

// SetTime stores ts as RFC3339 with nanoseconds, in UTC.
func (r *MetaRepository) SetTime(ctx context.Context, key string, ts time.Time) error {
	return r.Set(ctx, key, ts.UTC().Format(time.RFC3339Nano))
}
