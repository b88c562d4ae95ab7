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
	"github.com/angelmondragon/vetsync/pkg/enums"
	pkgerrors "github.com/angelmondragon/vetsync/pkg/errors"
	"github.com/angelmondragon/vetsync/pkg/logger"
	"github.com/angelmondragon/vetsync/pkg/pagination"
)

// batchChunk keeps IN lists below SQLite's bound-parameter limit.
const batchChunk = 500

type Repository struct {
	repo.Base
	logg *logger.Logger
}

func NewRepository(db *dbpkg.Client, logg *logger.Logger) *Repository {
	if logg == nil {
		logg = logger.Nop()
	}
	return &Repository{Base: repo.NewBase(db), logg: logg}
}

func (r *Repository) conn(ctx context.Context) *gorm.DB {
	return r.DB(ctx)
}

// Insert stores a new record and fails with CodeDuplicateKey when op_id already exists.
func (r *Repository) Insert(ctx context.Context, record *models.OutboxRecord) error {
	if record == nil {
		return pkgerrors.New(pkgerrors.CodeInvalidArgument, "record is required")
	}
	if err := r.conn(ctx).Create(record).Error; err != nil {
		if dbpkg.IsUniqueViolation(err, "") {
			return pkgerrors.Wrap(pkgerrors.CodeDuplicateKey, err, "op_id already exists").
				WithDetails(map[string]any{"op_id": record.OpID})
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "insert outbox record")
	}
	return nil
}

// Upsert inserts the record or replaces the row sharing its op_id.
func (r *Repository) Upsert(ctx context.Context, record *models.OutboxRecord) error {
	if record == nil {
		return pkgerrors.New(pkgerrors.CodeInvalidArgument, "record is required")
	}
	err := r.conn(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "op_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"entity_type", "entity_id", "operation_type", "payload", "base_version",
			"client_timestamp", "status", "retry_count", "last_error", "updated_at",
		}),
	}).Create(record).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "upsert outbox record")
	}
	return nil
}

// ReadAllSnapshot returns a detached copy of the whole outbox, ordered by creation time.
// The read transaction is closed before the slice is returned.
func (r *Repository) ReadAllSnapshot(ctx context.Context) ([]models.OutboxRecord, error) {
	var rows []models.OutboxRecord
	err := r.Tx(ctx, func(tx *gorm.DB) error {
		return tx.Order("client_timestamp ASC").Order("op_id ASC").Find(&rows).Error
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "read outbox snapshot")
	}
	return rows, nil
}

// Get returns the record with the given op_id, or nil when it does not exist.
func (r *Repository) Get(ctx context.Context, opID string) (*models.OutboxRecord, error) {
	var row models.OutboxRecord
	err := r.conn(ctx).Where("op_id = ?", opID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "get outbox record")
	}
	return &row, nil
}

// ListByEntity returns every record targeting the given entity.
func (r *Repository) ListByEntity(ctx context.Context, entityType, entityID string) ([]models.OutboxRecord, error) {
	var rows []models.OutboxRecord
	err := r.conn(ctx).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("client_timestamp ASC").
		Order("op_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list outbox records by entity")
	}
	return rows, nil
}

// ListParams filters a keyset-paginated outbox listing.
type ListParams struct {
	Status enums.OutboxStatus
	Limit  int
	After  *pagination.KeysetCursor
}

// List pages through the outbox in push order. The returned cursor is nil on the last page.
func (r *Repository) List(ctx context.Context, params ListParams) ([]models.OutboxRecord, *pagination.KeysetCursor, error) {
	normalized := pagination.NormalizeLimit(params.Limit)
	query := r.conn(ctx).Model(&models.OutboxRecord{})
	if params.Status != "" {
		query = query.Where("status = ?", params.Status)
	}
	if params.After != nil {
		query = query.Where("(client_timestamp, op_id) > (?, ?)", params.After.ClientTimestamp.UTC(), params.After.OpID)
	}

	var rows []models.OutboxRecord
	err := query.Order("client_timestamp ASC, op_id ASC").
		Limit(pagination.LimitWithBuffer(normalized)).
		Find(&rows).Error
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list outbox records")
	}

	if len(rows) > normalized {
		rows = rows[:normalized]
		last := rows[len(rows)-1]
		return rows, &pagination.KeysetCursor{ClientTimestamp: last.ClientTimestamp, OpID: last.OpID}, nil
	}
	return rows, nil, nil
}

// CountByStatus returns 0 on any storage failure.
func (r *Repository) CountByStatus(ctx context.Context, status enums.OutboxStatus) int64 {
	var count int64
	if err := r.conn(ctx).Model(&models.OutboxRecord{}).Where("status = ?", status).Count(&count).Error; err != nil {
		r.logg.Error(r.logg.WithField(ctx, "status", status), "count outbox records failed", err)
		return 0
	}
	return count
}

// CountQuarantined counts failed records that reached maxAttempts. Returns 0 when no cap is set or on failure.
func (r *Repository) CountQuarantined(ctx context.Context, maxAttempts int) int64 {
	if maxAttempts <= 0 {
		return 0
	}
	var count int64
	err := r.conn(ctx).Model(&models.OutboxRecord{}).
		Where("status = ? AND retry_count >= ?", enums.OutboxStatusFailed, maxAttempts).
		Count(&count).Error
	if err != nil {
		r.logg.Error(ctx, "count quarantined outbox records failed", err)
		return 0
	}
	return count
}

// BatchSetStatus moves the given records to status inside one transaction.
// failed increments retry_count and records errMsg; pending clears last_error.
// Missing ids are skipped and chunk-level write failures are logged, not returned.
func (r *Repository) BatchSetStatus(ctx context.Context, opIDs []string, status enums.OutboxStatus, errMsg string) error {
	if len(opIDs) == 0 {
		return nil
	}
	if !status.IsValid() {
		return pkgerrors.New(pkgerrors.CodeInvalidArgument, "invalid outbox status").
			WithDetails(map[string]any{"status": status})
	}

	updates := map[string]any{
		"status":     status,
		"updated_at": time.Now().UTC(),
	}
	switch status {
	case enums.OutboxStatusFailed:
		updates["retry_count"] = gorm.Expr("retry_count + 1")
		updates["last_error"] = errMsg
	case enums.OutboxStatusPending:
		updates["last_error"] = nil
	}

	err := r.Tx(ctx, func(tx *gorm.DB) error {
		for _, chunk := range chunks(opIDs) {
			res := tx.Model(&models.OutboxRecord{}).Where("op_id IN ?", chunk).Updates(updates)
			if res.Error != nil {
				logCtx := r.logg.WithFields(ctx, map[string]any{"status": status, "ops": len(chunk)})
				r.logg.Error(logCtx, "outbox status update failed; will self-heal next cycle", res.Error)
			}
		}
		return nil
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "batch set outbox status")
	}
	return nil
}

// BatchDelete removes the given records; ids that no longer exist are ignored.
func (r *Repository) BatchDelete(ctx context.Context, opIDs []string) error {
	if len(opIDs) == 0 {
		return nil
	}
	err := r.Tx(ctx, func(tx *gorm.DB) error {
		for _, chunk := range chunks(opIDs) {
			if err := tx.Where("op_id IN ?", chunk).Delete(&models.OutboxRecord{}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "batch delete outbox records")
	}
	return nil
}

// RequeueFailed returns every failed record to pending with a fresh retry budget.
func (r *Repository) RequeueFailed(ctx context.Context) (int64, error) {
	res := r.conn(ctx).Model(&models.OutboxRecord{}).
		Where("status = ?", enums.OutboxStatusFailed).
		Updates(map[string]any{
			"status":      enums.OutboxStatusPending,
			"retry_count": 0,
			"last_error":  nil,
			"updated_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, res.Error, "requeue failed outbox records")
	}
	return res.RowsAffected, nil
}

// ResetPushing returns records stranded in pushing (the process stopped mid-push) to pending.
func (r *Repository) ResetPushing(ctx context.Context) (int64, error) {
	res := r.conn(ctx).Model(&models.OutboxRecord{}).
		Where("status = ?", enums.OutboxStatusPushing).
		Updates(map[string]any{
			"status":     enums.OutboxStatusPending,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, res.Error, "reset pushing outbox records")
	}
	return res.RowsAffected, nil
}

func chunks(ids []string) [][]string {
	out := make([][]string, 0, (len(ids)+batchChunk-1)/batchChunk)
	for start := 0; start < len(ids); start += batchChunk {
		end := start + batchChunk
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[start:end])
	}
	return out
}
