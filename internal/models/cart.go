package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// CartStatus represents the lifecycle state of an add-on cart.
type CartStatus int

// CartStatus constants define cart lifecycle states.
const (
	// CartCreated marks a cart assembled but not yet paid.
	CartCreated CartStatus = 1
	// CartPaid marks a cart whose order was paid.
	CartPaid CartStatus = 2
	// CartApplying marks a cart with a rollforward in progress.
	CartApplying CartStatus = 3
	// CartApplied marks a cart whose items were all granted.
	CartApplied CartStatus = 4
)

// CartItem is one (kind, qty) line of a multi-item purchase.
//
// Two lines with the same kind and qty are distinct purchases; item
// bookkeeping is multiset-based, never deduplicated by value.
type CartItem struct {
	Kind UsageKind `json:"kind"` // Top-up kind.
	Qty  int64     `json:"qty"`  // Top-up quantity.
}

// AddonCart represents a multi-item add-on purchase.
//
// AppliedItems records which lines have already been granted so a retried
// rollforward resumes instead of reapplying. It is always a prefix-closed
// sub-multiset of Items.
type AddonCart struct {
	ID string `gorm:"type:varchar(36);primaryKey"` // Cart UUID.

	CompanyID uint64 `gorm:"not null;index"` // Owning company ID.

	Items        datatypes.JSON `gorm:"type:jsonb;not null"`              // Ordered (kind, qty) lines.
	AppliedItems datatypes.JSON `gorm:"type:jsonb;not null;default:'[]'"` // Lines already granted.

	TotalPaise int64 `gorm:"not null;default:0"` // Expected order amount in paise.

	OrderID *string `gorm:"type:varchar(64);index"` // Linked gateway order, set at payment.

	Status    CartStatus `gorm:"not null;default:1"` // Current cart status.
	AppliedAt *time.Time // Rollforward completion timestamp.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// DecodeCartItems parses a serialized item list.
func DecodeCartItems(raw datatypes.JSON) ([]CartItem, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var items []CartItem
	if errUnmarshal := json.Unmarshal(raw, &items); errUnmarshal != nil {
		return nil, fmt.Errorf("cart items: decode: %w", errUnmarshal)
	}
	return items, nil
}

// EncodeCartItems serializes an item list for storage.
func EncodeCartItems(items []CartItem) (datatypes.JSON, error) {
	if items == nil {
		items = []CartItem{}
	}
	raw, errMarshal := json.Marshal(items)
	if errMarshal != nil {
		return nil, fmt.Errorf("cart items: encode: %w", errMarshal)
	}
	return datatypes.JSON(raw), nil
}
