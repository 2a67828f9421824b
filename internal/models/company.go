package models

import "time"

// Company represents a pharmaceutical company account stored in the database.
type Company struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Name      string `gorm:"type:text;not null"`             // Registered company name.
	Slug      string `gorm:"type:text;not null;uniqueIndex"` // URL-safe identifier.
	GS1Prefix string `gorm:"type:varchar(32)"`               // GS1 company prefix for label payloads.
	LicenseNo string `gorm:"type:varchar(64)"`               // Drug manufacturing license number.

	PlanID *uint64 `gorm:"index"`             // Active subscription plan ID.
	Plan   *Plan   `gorm:"foreignKey:PlanID"` // Active subscription plan.

	ExtraSeats int64 `gorm:"not null;default:0"` // Purchased seats beyond the plan allowance.

	Active bool `gorm:"not null;default:true"` // Whether the company can use the service.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
