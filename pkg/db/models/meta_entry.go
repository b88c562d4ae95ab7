package models

import "time"

// MetaEntry is a key/value row in the sync metadata store.
type MetaEntry struct {
	Key       string    `gorm:"column:key;primaryKey"`
	Value     string    `gorm:"column:value;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (MetaEntry) TableName() string { return "sync_meta" }
