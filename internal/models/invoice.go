package models

import (
	"time"

	"gorm.io/datatypes"
)

// Invoice records a settled payment for accounting.
//
// ExternalKey is derived from the gateway order ID, making creation
// idempotent per order.
type Invoice struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	CompanyID uint64 `gorm:"not null;index"` // Billed company ID.

	ExternalKey string `gorm:"type:varchar(128);not null;uniqueIndex"` // Dedup key, e.g. razorpay_order:{order_id}.
	OrderID     string `gorm:"type:varchar(64);not null"`              // Gateway order identifier.
	PaymentID   string `gorm:"type:varchar(64)"`                       // Gateway payment identifier.

	AmountPaise int64          `gorm:"not null;default:0"` // Invoiced amount in paise.
	Metadata    datatypes.JSON `gorm:"type:jsonb"`         // Line item details.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
