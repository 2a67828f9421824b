package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// PurchaseStatus represents the lifecycle state of an add-on purchase.
type PurchaseStatus int

// PurchaseStatus constants define purchase lifecycle states.
const (
	// PurchaseCreated marks an order issued but not yet paid.
	PurchaseCreated PurchaseStatus = 1
	// PurchasePaid marks an order whose payment was confirmed.
	PurchasePaid PurchaseStatus = 2
)

// Purpose payload types stored on an add-on purchase.
const (
	// PurposeSingle marks a purchase of one (kind, qty) top-up.
	PurposeSingle = "single"
	// PurposeCart marks a purchase paying for a multi-item cart.
	PurposeCart = "cart"
)

// PurchasePurpose is the tagged payload describing what a purchase grants.
type PurchasePurpose struct {
	Type   string    `json:"type"`              // PurposeSingle or PurposeCart.
	Kind   UsageKind `json:"kind,omitempty"`    // Top-up kind (single only).
	Qty    int64     `json:"qty,omitempty"`     // Top-up quantity (single only).
	CartID string    `json:"cart_id,omitempty"` // Referenced cart (cart only).
}

// Validate checks the purpose payload for structural consistency.
func (p PurchasePurpose) Validate() error {
	switch p.Type {
	case PurposeSingle:
		kind, ok := ParseUsageKind(string(p.Kind))
		if !ok {
			return fmt.Errorf("purpose: unknown kind %q", p.Kind)
		}
		if p.Qty <= 0 {
			return fmt.Errorf("purpose: non-positive qty %d for kind %s", p.Qty, kind)
		}
		return nil
	case PurposeCart:
		if p.CartID == "" {
			return fmt.Errorf("purpose: missing cart_id")
		}
		return nil
	default:
		return fmt.Errorf("purpose: unknown type %q", p.Type)
	}
}

// AddonPurchase represents one payment-gateway order for add-on quota.
//
// Status transitions Created -> Paid exactly once; that transition is the
// idempotency gate for webhook and callback reconciliation. AppliedAt marks
// quota application separately so a crash between the status transition and
// the grant stays recoverable.
type AddonPurchase struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	CompanyID uint64  `gorm:"not null;index"`       // Purchasing company ID.
	Company   Company `gorm:"foreignKey:CompanyID"` // Purchasing company record.

	OrderID   string  `gorm:"type:varchar(64);not null;uniqueIndex"` // Gateway order identifier.
	PaymentID *string `gorm:"type:varchar(64)"`                      // Gateway payment identifier, set on payment.

	Purpose     datatypes.JSON `gorm:"type:jsonb;not null"` // Tagged purpose payload.
	AmountPaise int64          `gorm:"not null;default:0"`  // Order amount in paise.

	Status    PurchaseStatus `gorm:"not null;default:1"` // Current purchase status.
	PaidAt    *time.Time     // Payment confirmation timestamp.
	AppliedAt *time.Time     // Quota application timestamp (single-item orders).

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// DecodePurpose parses and validates the stored purpose payload.
func (p AddonPurchase) DecodePurpose() (PurchasePurpose, error) {
	var purpose PurchasePurpose
	if errUnmarshal := json.Unmarshal(p.Purpose, &purpose); errUnmarshal != nil {
		return PurchasePurpose{}, fmt.Errorf("purpose: decode: %w", errUnmarshal)
	}
	if errValidate := purpose.Validate(); errValidate != nil {
		return PurchasePurpose{}, errValidate
	}
	return purpose, nil
}

// EncodePurpose serializes a purpose payload for storage on a purchase row.
func EncodePurpose(purpose PurchasePurpose) (datatypes.JSON, error) {
	if errValidate := purpose.Validate(); errValidate != nil {
		return nil, errValidate
	}
	raw, errMarshal := json.Marshal(purpose)
	if errMarshal != nil {
		return nil, fmt.Errorf("purpose: encode: %w", errMarshal)
	}
	return datatypes.JSON(raw), nil
}
