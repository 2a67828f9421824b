package db

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/akshay2d/rxtrace/internal/models"
	internalsettings "github.com/akshay2d/rxtrace/internal/settings"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Migrate runs database migrations and seeds default rows.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}

	if errAutoMigrate := conn.AutoMigrate(
		&models.Admin{},
		&models.Plan{},
		&models.Company{},
		&models.QuotaCounter{},
		&models.UsageReservation{},
		&models.AddonPurchase{},
		&models.AddonCart{},
		&models.Invoice{},
		&models.AuditLog{},
		&models.Setting{},
	); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}

	if errSeed := ensureDefaultPlan(conn); errSeed != nil {
		return errSeed
	}
	if errSeed := ensureDefaultSettings(conn); errSeed != nil {
		return errSeed
	}
	return nil
}

// ensureDefaultPlan seeds the free starter plan when no plans exist.
func ensureDefaultPlan(conn *gorm.DB) error {
	var count int64
	if errCount := conn.Model(&models.Plan{}).Count(&count).Error; errCount != nil {
		return fmt.Errorf("db: count plans: %w", errCount)
	}
	if count > 0 {
		return nil
	}
	starter := models.Plan{
		Name:        "Starter",
		Description: "Entry plan for small manufacturers",
		UnitLimit:   1000,
		BoxLimit:    200,
		PalletLimit: 20,
		Seats:       2,
		IsEnabled:   true,
	}
	if errCreate := conn.Create(&starter).Error; errCreate != nil {
		return fmt.Errorf("db: seed starter plan: %w", errCreate)
	}
	return nil
}

// ensureDefaultSettings seeds settings rows that other components read.
func ensureDefaultSettings(conn *gorm.DB) error {
	defaults := map[string]any{
		internalsettings.RateLimitKey:                 internalsettings.DefaultRateLimit,
		internalsettings.RateLimitRedisEnabledKey:     false,
		internalsettings.RateLimitRedisPrefixKey:      internalsettings.DefaultRateLimitRedisPrefix,
		internalsettings.ReservationTimeoutSecondsKey: internalsettings.DefaultReservationTimeoutSeconds,
		internalsettings.ReservationSweepIntervalKey:  internalsettings.DefaultReservationSweepIntervalSeconds,
	}
	for key, value := range defaults {
		raw, errMarshal := json.Marshal(value)
		if errMarshal != nil {
			return fmt.Errorf("db: marshal setting %s: %w", key, errMarshal)
		}
		record := models.Setting{Key: key, Value: raw}
		errCreate := conn.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoNothing: true,
		}).Create(&record).Error
		if errCreate != nil && !errors.Is(errCreate, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("db: seed setting %s: %w", key, errCreate)
		}
	}
	return nil
}
