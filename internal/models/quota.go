package models

import "time"

// UsageKind identifies a metered usage dimension.
type UsageKind string

// Usage kinds for label levels and seat capacity.
const (
	// KindUnit meters primary (unit) label generation.
	KindUnit UsageKind = "unit"
	// KindBox meters secondary (box) label generation.
	KindBox UsageKind = "box"
	// KindPallet meters tertiary (pallet) label generation.
	KindPallet UsageKind = "pallet"
	// KindSeat extends user-seat capacity; it is additive, not consumable.
	KindSeat UsageKind = "seat"
)

// ParseUsageKind validates and normalizes a usage kind string.
func ParseUsageKind(raw string) (UsageKind, bool) {
	switch UsageKind(raw) {
	case KindUnit, KindBox, KindPallet, KindSeat:
		return UsageKind(raw), true
	default:
		return "", false
	}
}

// Consumable reports whether the kind draws down a quota counter.
func (k UsageKind) Consumable() bool {
	return k == KindUnit || k == KindBox || k == KindPallet
}

// QuotaCounter tracks metered usage for one company, kind, and billing period.
//
// UsedQty only increases through a reserve and only decreases through an
// explicit refund. LimitQty is extended by paid top-ups; LimitUnlimited (-1)
// disables the ceiling. A new counter row is created when a billing period
// starts; closed periods are never mutated.
type QuotaCounter struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	CompanyID uint64    `gorm:"not null;uniqueIndex:idx_counter_scope,priority:1"`                   // Owning company ID.
	Kind      UsageKind `gorm:"type:varchar(16);not null;uniqueIndex:idx_counter_scope,priority:2"` // Metered usage kind.

	PeriodStart time.Time `gorm:"not null;uniqueIndex:idx_counter_scope,priority:3"` // Billing period start (inclusive).
	PeriodEnd   time.Time `gorm:"not null"`                                          // Billing period end (exclusive).

	UsedQty  int64 `gorm:"not null;default:0"` // Consumed quantity within the period.
	LimitQty int64 `gorm:"not null;default:0"` // Quota ceiling (-1 = unlimited).

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// Unlimited reports whether the counter has no ceiling.
func (c QuotaCounter) Unlimited() bool { return c.LimitQty == LimitUnlimited }

// Remaining returns the capacity left in the counter, clamped to zero.
func (c QuotaCounter) Remaining() int64 {
	if c.Unlimited() {
		return LimitUnlimited
	}
	left := c.LimitQty - c.UsedQty
	if left < 0 {
		return 0
	}
	return left
}

// ReservationState represents the lifecycle state of a usage reservation.
type ReservationState int

// ReservationState constants define reservation lifecycle states.
const (
	// ReservationReserved marks an in-flight reservation holding quota.
	ReservationReserved ReservationState = 1
	// ReservationFinalized marks a reservation whose usage completed.
	ReservationFinalized ReservationState = 2
	// ReservationReleased marks a reservation whose quota was refunded.
	ReservationReleased ReservationState = 3
)

// UsageReservation records an in-flight attempt to consume quota.
//
// The quantity is debited from the counter when the reservation is created;
// finalize leaves the counter untouched and release refunds it.
type UsageReservation struct {
	ID string `gorm:"type:varchar(36);primaryKey"` // Reservation UUID.

	CompanyID uint64    `gorm:"not null;index"`            // Owning company ID.
	Kind      UsageKind `gorm:"type:varchar(16);not null"` // Metered usage kind.
	CounterID uint64    `gorm:"not null;index"`            // Counter the quantity was debited from.
	Quantity  int64     `gorm:"not null"`                  // Reserved quantity.

	State ReservationState `gorm:"not null;default:1;index"` // Current lifecycle state.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"`       // Last update timestamp.
}
