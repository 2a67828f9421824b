package models

import "time"

// LimitUnlimited marks a quota limit as unmetered.
const LimitUnlimited int64 = -1

// Plan represents a subscription plan configuration.
type Plan struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Name        string `gorm:"type:varchar(255);not null"` // Plan name.
	Description string `gorm:"type:text"`                  // Plan description.

	MonthPricePaise int64 `gorm:"not null;default:0"` // Monthly price in paise.

	UnitLimit   int64 `gorm:"not null;default:0"` // Monthly unit-label quota (-1 = unlimited).
	BoxLimit    int64 `gorm:"not null;default:0"` // Monthly box-label quota (-1 = unlimited).
	PalletLimit int64 `gorm:"not null;default:0"` // Monthly pallet-label quota (-1 = unlimited).
	Seats       int64 `gorm:"not null;default:1"` // Included user seats.

	RateLimit int `gorm:"not null;default:0"` // Reserve calls per second (0 = settings default).

	SortOrder int  `gorm:"not null;default:0"`    // Display ordering weight.
	IsEnabled bool `gorm:"not null;default:true"` // Whether the plan is active.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// LimitFor returns the plan quota limit for a consumable usage kind.
func (p Plan) LimitFor(kind UsageKind) int64 {
	switch kind {
	case KindUnit:
		return p.UnitLimit
	case KindBox:
		return p.BoxLimit
	case KindPallet:
		return p.PalletLimit
	default:
		return 0
	}
}
