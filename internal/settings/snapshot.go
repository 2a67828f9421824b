package settings

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/akshay2d/rxtrace/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// snapshot holds the latest settings values loaded from the database.
var snapshot atomic.Value // map[string]json.RawMessage

// DBConfigValue returns the raw settings value for a key, if present.
func DBConfigValue(key string) (json.RawMessage, bool) {
	current, _ := snapshot.Load().(map[string]json.RawMessage)
	if current == nil {
		return nil, false
	}
	raw, ok := current[key]
	return raw, ok
}

// Refresh reloads the settings snapshot from the database.
func Refresh(ctx context.Context, conn *gorm.DB) error {
	if conn == nil {
		return nil
	}
	var rows []models.Setting
	if errFind := conn.WithContext(ctx).Find(&rows).Error; errFind != nil {
		return errFind
	}
	next := make(map[string]json.RawMessage, len(rows))
	for _, row := range rows {
		next[row.Key] = json.RawMessage(row.Value)
	}
	snapshot.Store(next)
	return nil
}

// StartRefresher refreshes the snapshot periodically until ctx is done.
func StartRefresher(ctx context.Context, conn *gorm.DB, interval time.Duration) {
	if conn == nil {
		return
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if errRefresh := Refresh(ctx, conn); errRefresh != nil {
		log.WithError(errRefresh).Warn("settings: initial refresh failed")
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if errRefresh := Refresh(ctx, conn); errRefresh != nil {
					log.WithError(errRefresh).Warn("settings: refresh failed")
				}
			}
		}
	}()
}

// IntValue returns an integer setting, falling back when absent or invalid.
func IntValue(key string, fallback int) int {
	raw, ok := DBConfigValue(key)
	if !ok {
		return fallback
	}
	var parsed int
	if errUnmarshal := json.Unmarshal(raw, &parsed); errUnmarshal != nil {
		return fallback
	}
	return parsed
}

// BoolValue returns a boolean setting, falling back when absent or invalid.
func BoolValue(key string, fallback bool) bool {
	raw, ok := DBConfigValue(key)
	if !ok {
		return fallback
	}
	var parsed bool
	if errUnmarshal := json.Unmarshal(raw, &parsed); errUnmarshal != nil {
		return fallback
	}
	return parsed
}

// StringValue returns a string setting, falling back when absent or invalid.
func StringValue(key string, fallback string) string {
	raw, ok := DBConfigValue(key)
	if !ok {
		return fallback
	}
	var parsed string
	if errUnmarshal := json.Unmarshal(raw, &parsed); errUnmarshal != nil {
		return fallback
	}
	return parsed
}
