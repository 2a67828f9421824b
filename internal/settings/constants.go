package settings

// DB config keys and defaults for settings.
const (
	// RateLimitKey controls the default reserve-call rate limit per second.
	RateLimitKey = "RATE_LIMIT"
	// RateLimitRedisEnabledKey toggles Redis-backed rate limiting.
	RateLimitRedisEnabledKey = "RATE_LIMIT_REDIS_ENABLED"
	// RateLimitRedisAddrKey defines the Redis address for rate limiting.
	RateLimitRedisAddrKey = "RATE_LIMIT_REDIS_ADDR"
	// RateLimitRedisPasswordKey defines the Redis password for rate limiting.
	RateLimitRedisPasswordKey = "RATE_LIMIT_REDIS_PASSWORD"
	// RateLimitRedisDBKey defines the Redis DB index for rate limiting.
	RateLimitRedisDBKey = "RATE_LIMIT_REDIS_DB"
	// RateLimitRedisPrefixKey defines the Redis key prefix for rate limiting.
	RateLimitRedisPrefixKey = "RATE_LIMIT_REDIS_PREFIX"
	// ReservationTimeoutSecondsKey controls when abandoned reservations expire.
	ReservationTimeoutSecondsKey = "RESERVATION_TIMEOUT_SECONDS"
	// ReservationSweepIntervalKey controls the abandoned-reservation sweep interval.
	ReservationSweepIntervalKey = "RESERVATION_SWEEP_INTERVAL_SECONDS"
	// DefaultRateLimit is the fallback rate limit (0 means unlimited).
	DefaultRateLimit = 0
	// DefaultRateLimitRedisPrefix is the fallback Redis key prefix.
	DefaultRateLimitRedisPrefix = "rxtrace:rl"
	// DefaultReservationTimeoutSeconds is the fallback reservation timeout.
	DefaultReservationTimeoutSeconds = 900
	// DefaultReservationSweepIntervalSeconds is the fallback sweep interval.
	DefaultReservationSweepIntervalSeconds = 60
)
