package models

import (
	"time"

	"gorm.io/datatypes"
)

// AuditLog records an observability trail for billing-relevant actions.
//
// Writes are best effort; a failed audit insert never unwinds the action it
// describes.
type AuditLog struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	CompanyID uint64 `gorm:"not null;index"` // Affected company ID.

	Actor  string `gorm:"type:varchar(64);not null"`       // Who triggered the action (system, webhook, admin).
	Action string `gorm:"type:varchar(64);not null;index"` // Action name, e.g. addon_topup.
	Status string `gorm:"type:varchar(16);not null"`       // success or failed.

	Metadata datatypes.JSON `gorm:"type:jsonb"` // Action details.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"` // Creation timestamp.
}
