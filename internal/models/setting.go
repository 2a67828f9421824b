package models

import (
	"time"

	"gorm.io/datatypes"
)

// Setting stores one runtime configuration value keyed by name.
type Setting struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Key   string         `gorm:"type:varchar(128);not null;uniqueIndex"` // Setting key.
	Value datatypes.JSON `gorm:"type:jsonb"`                             // Setting value.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
