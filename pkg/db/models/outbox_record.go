package models

import (
	"time"

	dbtypes "github.com/angelmondragon/vetsync/pkg/db/types"
	"github.com/angelmondragon/vetsync/pkg/enums"
)

// OutboxRecord is one locally captured mutation awaiting delivery to the sync server.
type OutboxRecord struct {
	OpID            string              `gorm:"column:op_id;primaryKey"`
	EntityType      string              `gorm:"column:entity_type;not null;index:idx_outbox_records_entity,priority:1"`
	EntityID        string              `gorm:"column:entity_id;not null;index:idx_outbox_records_entity,priority:2"`
	OperationType   enums.OperationType `gorm:"column:operation_type;not null"`
	Payload         dbtypes.JSONPayload `gorm:"column:payload"`
	BaseVersion     int64               `gorm:"column:base_version;not null;default:0"`
	ClientTimestamp time.Time           `gorm:"column:client_timestamp;not null"`
	Status          enums.OutboxStatus  `gorm:"column:status;not null;index:idx_outbox_records_status"`
	RetryCount      int                 `gorm:"column:retry_count;not null;default:0"`
	LastError       *string             `gorm:"column:last_error"`
	CreatedAt       time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (OutboxRecord) TableName() string { return "outbox_records" }
