package ratelimit

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/akshay2d/rxtrace/internal/models"
	internalsettings "github.com/akshay2d/rxtrace/internal/settings"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func refreshSettings(t *testing.T, rows map[string]string) {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := conn.AutoMigrate(&models.Setting{}); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	for key, value := range rows {
		record := models.Setting{Key: key, Value: []byte(value)}
		if errCreate := conn.Create(&record).Error; errCreate != nil {
			t.Fatalf("seed setting %s: %v", key, errCreate)
		}
	}
	if errRefresh := internalsettings.Refresh(context.Background(), conn); errRefresh != nil {
		t.Fatalf("refresh: %v", errRefresh)
	}
}

func TestLoadSettingsConfig_SeededValues(t *testing.T) {
	refreshSettings(t, map[string]string{
		internalsettings.RateLimitKey:              `25`,
		internalsettings.RateLimitRedisEnabledKey:  `true`,
		internalsettings.RateLimitRedisAddrKey:     `"  10.0.0.5:6379  "`,
		internalsettings.RateLimitRedisPasswordKey: `"hunter2"`,
		internalsettings.RateLimitRedisDBKey:       `3`,
		internalsettings.RateLimitRedisPrefixKey:   `"custom:rl"`,
	})

	cfg := LoadSettingsConfig()
	if cfg.Limit != 25 {
		t.Fatalf("expected limit 25, got %d", cfg.Limit)
	}
	if !cfg.RedisEnabled {
		t.Fatalf("expected redis enabled")
	}
	if cfg.RedisAddr != "10.0.0.5:6379" {
		t.Fatalf("expected trimmed addr, got %q", cfg.RedisAddr)
	}
	if cfg.RedisPassword != "hunter2" {
		t.Fatalf("expected password, got %q", cfg.RedisPassword)
	}
	if cfg.RedisDB != 3 {
		t.Fatalf("expected redis db 3, got %d", cfg.RedisDB)
	}
	if cfg.RedisPrefix != "custom:rl" {
		t.Fatalf("expected custom prefix, got %q", cfg.RedisPrefix)
	}
}

func TestLoadSettingsConfig_DefaultsAndInvalidValues(t *testing.T) {
	refreshSettings(t, map[string]string{
		internalsettings.RateLimitKey:             `"not-a-number"`,
		internalsettings.RateLimitRedisEnabledKey: `"yes"`,
		internalsettings.RateLimitRedisPrefixKey:  `""`,
	})

	cfg := LoadSettingsConfig()
	if cfg.Limit != internalsettings.DefaultRateLimit {
		t.Fatalf("invalid limit must fall back, got %d", cfg.Limit)
	}
	if cfg.RedisEnabled {
		t.Fatalf("non-boolean value must fall back to disabled")
	}
	if cfg.RedisPrefix != internalsettings.DefaultRateLimitRedisPrefix {
		t.Fatalf("empty prefix must fall back, got %q", cfg.RedisPrefix)
	}
	if cfg.RedisAddr != "" || cfg.RedisPassword != "" || cfg.RedisDB != 0 {
		t.Fatalf("absent keys must yield zero values, got %+v", cfg)
	}
}
