package ratelimit

import (
	"strings"

	internalsettings "github.com/akshay2d/rxtrace/internal/settings"
)

// SettingsConfig is the rate limit slice of the settings snapshot.
type SettingsConfig struct {
	Limit         int
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// LoadSettingsConfig reads the current rate limit settings. Values are plain
// JSON scalars as the migration seeder and admin API write them; anything
// else falls back to the defaults.
func LoadSettingsConfig() SettingsConfig {
	cfg := SettingsConfig{
		Limit:         internalsettings.IntValue(internalsettings.RateLimitKey, internalsettings.DefaultRateLimit),
		RedisEnabled:  internalsettings.BoolValue(internalsettings.RateLimitRedisEnabledKey, false),
		RedisAddr:     strings.TrimSpace(internalsettings.StringValue(internalsettings.RateLimitRedisAddrKey, "")),
		RedisPassword: strings.TrimSpace(internalsettings.StringValue(internalsettings.RateLimitRedisPasswordKey, "")),
		RedisDB:       internalsettings.IntValue(internalsettings.RateLimitRedisDBKey, 0),
		RedisPrefix:   strings.TrimSpace(internalsettings.StringValue(internalsettings.RateLimitRedisPrefixKey, "")),
	}
	if cfg.RedisPrefix == "" {
		cfg.RedisPrefix = internalsettings.DefaultRateLimitRedisPrefix
	}
	if cfg.RedisDB < 0 {
		cfg.RedisDB = 0
	}
	if cfg.Limit < 0 {
		cfg.Limit = 0
	}
	return cfg
}

// DefaultSettingsLimit returns the settings-level reserve-call rate limit.
func DefaultSettingsLimit() int {
	return LoadSettingsConfig().Limit
}
