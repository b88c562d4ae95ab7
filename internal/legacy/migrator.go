package legacy

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/vetsync/pkg/config"
	dbpkg "github.com/angelmondragon/vetsync/pkg/db"
	"github.com/angelmondragon/vetsync/pkg/db/models"
	dbtypes "github.com/angelmondragon/vetsync/pkg/db/types"
	"github.com/angelmondragon/vetsync/pkg/enums"
	pkgerrors "github.com/angelmondragon/vetsync/pkg/errors"
	"github.com/angelmondragon/vetsync/pkg/logger"
	"github.com/angelmondragon/vetsync/pkg/outbox"
	"github.com/angelmondragon/vetsync/pkg/syncclient"
)

const (
	ReasonAlreadyMigrated = "already_migrated"
	ReasonError           = "error"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Summary reports the outcome of one migration attempt.
type Summary struct {
	Migrated bool   `json:"migrated"`
	Count    int    `json:"count"`
	Reason   string `json:"reason,omitempty"`
	Error    string `json:"error,omitempty"`
}

type outboxWriter interface {
	Upsert(ctx context.Context, record *models.OutboxRecord) error
}

type metaStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	SetTime(ctx context.Context, key string, ts time.Time) error
}

type Params struct {
	Config config.LegacyConfig
	Outbox outboxWriter
	Meta   metaStore
	Logger *logger.Logger
}

// Migrator imports the queue kept by the previous client schema into the outbox, exactly once.
type Migrator struct {
	cfg    config.LegacyConfig
	outbox outboxWriter
	meta   metaStore
	logg   *logger.Logger
	now    func() time.Time
}

func NewMigrator(params Params) (*Migrator, error) {
	if params.Outbox == nil {
		return nil, errors.New("outbox writer is required")
	}
	if params.Meta == nil {
		return nil, errors.New("meta store is required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	cfg := params.Config
	if strings.TrimSpace(cfg.Table) == "" {
		cfg.Table = "pending_operations"
	}
	if strings.TrimSpace(cfg.EntityType) == "" {
		cfg.EntityType = "pet"
	}
	if !tableNamePattern.MatchString(cfg.Table) {
		return nil, fmt.Errorf("invalid legacy table name %q", cfg.Table)
	}
	return &Migrator{
		cfg:    cfg,
		outbox: params.Outbox,
		meta:   params.Meta,
		logg:   logg,
		now:    time.Now,
	}, nil
}

// Migrate copies convertible legacy rows into the outbox and sets the legacy_migrated flag.
// Failures come back in the summary; the flag stays unset so the next start retries.
func (m *Migrator) Migrate(ctx context.Context) Summary {
	ctx = m.logg.WithField(ctx, "legacy_path", m.cfg.Path)

	if _, done, err := m.meta.Get(ctx, outbox.MetaLegacyMigrated); err != nil {
		return m.fail(ctx, 0, err)
	} else if done {
		return Summary{Migrated: false, Count: 0, Reason: ReasonAlreadyMigrated}
	}

	rows, err := m.readLegacy(ctx)
	if err != nil {
		return m.fail(ctx, 0, err)
	}

	count := 0
	for _, row := range rows {
		record, ok := m.convert(row)
		if !ok {
			m.logg.Warn(m.logg.WithField(ctx, "legacy_id", row.ID.String), "legacy operation has no entity id; skipped")
			continue
		}
		if err := m.outbox.Upsert(ctx, &record); err != nil {
			return m.fail(ctx, count, err)
		}
		count++
	}

	if err := m.meta.SetTime(ctx, outbox.MetaLegacyMigrated, m.now()); err != nil {
		return m.fail(ctx, count, err)
	}

	m.logg.Info(m.logg.WithFields(ctx, map[string]any{"count": count, "read": len(rows)}), "legacy queue migrated")
	return Summary{Migrated: true, Count: count}
}

func (m *Migrator) fail(ctx context.Context, count int, err error) Summary {
	wrapped := pkgerrors.Wrap(pkgerrors.CodeMigration, err, "legacy migration failed")
	m.logg.Error(m.logg.WithField(ctx, "count", count), "legacy migration failed", wrapped)
	return Summary{Migrated: false, Count: count, Reason: ReasonError, Error: wrapped.Error()}
}

type legacyRow struct {
	ID        sql.NullString
	OpType    sql.NullString
	PetID     sql.NullString
	Payload   sql.NullString
	CreatedAt sql.NullString
}

// readLegacy returns nil when the legacy file or table is absent. The file is opened
// read-only after an existence check so probing never creates it.
func (m *Migrator) readLegacy(ctx context.Context) (out []legacyRow, err error) {
	path := strings.TrimSpace(m.cfg.Path)
	if path == "" {
		return nil, nil
	}
	if _, statErr := os.Stat(path); statErr != nil {
		if errors.Is(statErr, os.ErrNotExist) {
			m.logg.Info(ctx, "no legacy store found")
			return nil, nil
		}
		return nil, statErr
	}

	client, err := dbpkg.New(ctx, config.DBConfig{
		Driver: config.DriverSQLite,
		DSN:    "file:" + path + "?mode=ro",
	}, nil)
	if err != nil {
		m.logg.Warn(m.logg.WithField(ctx, "error", err.Error()), "legacy store could not be opened; treating as empty")
		return nil, nil
	}
	defer func() {
		err = multierr.Append(err, client.Close())
	}()

	var tables int64
	if err := client.Raw(ctx, "SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?", m.cfg.Table).
		Scan(&tables).Error; err != nil {
		return nil, err
	}
	if tables == 0 {
		m.logg.Info(m.logg.WithField(ctx, "table", m.cfg.Table), "legacy table not present")
		return nil, nil
	}

	var version int64
	if err := client.Raw(ctx, "PRAGMA user_version").Scan(&version).Error; err == nil {
		ctx = m.logg.WithField(ctx, "legacy_schema_version", version)
	}

	rows, err := client.DB().WithContext(ctx).
		Table(m.cfg.Table).
		Select("id, op_type, pet_id, payload, created_at").
		Rows()
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Append(err, rows.Close())
	}()

	for rows.Next() {
		var row legacyRow
		if err := rows.Scan(&row.ID, &row.OpType, &row.PetID, &row.Payload, &row.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	m.logg.Debug(m.logg.WithField(ctx, "rows", len(out)), "legacy rows read")
	return out, nil
}

func (m *Migrator) convert(row legacyRow) (models.OutboxRecord, bool) {
	fields := map[string]any{}
	var payload dbtypes.JSONPayload
	if raw := strings.TrimSpace(row.Payload.String); raw != "" && json.Valid([]byte(raw)) {
		payload = dbtypes.JSONPayload(raw)
		dec := json.NewDecoder(strings.NewReader(raw))
		dec.UseNumber()
		_ = dec.Decode(&fields)
	}

	entityID := firstNonEmpty(idString(fields["id"]), idString(fields["pet_id"]), strings.TrimSpace(row.PetID.String))
	if entityID == "" {
		return models.OutboxRecord{}, false
	}

	opID := strings.TrimSpace(row.ID.String)
	if opID == "" {
		opID = uuid.NewString()
	}

	ts, ok := syncclient.ParseTimestamp(row.CreatedAt.String)
	if !ok {
		ts = m.now().UTC()
	}

	return models.OutboxRecord{
		OpID:            opID,
		EntityType:      m.cfg.EntityType,
		EntityID:        entityID,
		OperationType:   MapOperation(row.OpType.String),
		Payload:         payload,
		BaseVersion:     outbox.NormalizeBaseVersion(fields["base_version"]),
		ClientTimestamp: ts,
		Status:          enums.OutboxStatusPending,
	}, true
}

// MapOperation translates a legacy operation tag. Unknown tags become updates.
func MapOperation(tag string) enums.OperationType {
	switch strings.ToLower(strings.TrimSpace(tag)) {
	case "create", "insert", "add":
		return enums.OperationCreate
	case "delete", "remove":
		return enums.OperationDelete
	default:
		return enums.OperationUpdate
	}
}

func idString(v any) string {
	switch id := v.(type) {
	case string:
		return strings.TrimSpace(id)
	case json.Number:
		return id.String()
	default:
		return ""
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
