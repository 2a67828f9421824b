package ratelimit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// After a Redis failure the manager serves from memory for this long before
// probing Redis again.
const redisRetryDelay = 30 * time.Second

// SettingsProvider supplies the current rate limit settings snapshot.
type SettingsProvider func() SettingsConfig

// RedisClientFactory constructs a Redis client for the given options.
type RedisClientFactory func(options *redis.Options) *redis.Client

type redisParams struct {
	addr     string
	password string
	prefix   string
	db       int
}

func redisParamsFrom(cfg SettingsConfig) redisParams {
	p := redisParams{
		addr:     strings.TrimSpace(cfg.RedisAddr),
		password: strings.TrimSpace(cfg.RedisPassword),
		prefix:   strings.TrimSpace(cfg.RedisPrefix),
		db:       cfg.RedisDB,
	}
	if p.db < 0 {
		p.db = 0
	}
	return p
}

// Manager enforces reserve-call rate limits. It prefers the Redis backend
// when settings enable it and degrades to the in-memory backend while Redis
// is misconfigured or down.
type Manager struct {
	provider       SettingsProvider
	nowFn          func() time.Time
	memory         Limiter
	newRedisClient RedisClientFactory

	mu          sync.Mutex
	redis       *RedisLimiter
	redisParams redisParams
	retryAfter  time.Time
}

// NewManager constructs a Manager. Nil arguments select the defaults: the
// settings snapshot, the wall clock, and redis.NewClient.
func NewManager(provider SettingsProvider, nowFn func() time.Time, newRedisClient RedisClientFactory) *Manager {
	if provider == nil {
		provider = LoadSettingsConfig
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if newRedisClient == nil {
		newRedisClient = redis.NewClient
	}
	return &Manager{
		provider:       provider,
		nowFn:          nowFn,
		memory:         NewMemoryLimiter(),
		newRedisClient: newRedisClient,
	}
}

// Allow consumes one slot for key against limit using the best available
// backend.
func (m *Manager) Allow(ctx context.Context, key string, limit int) (Result, error) {
	if m == nil || limit <= 0 || key == "" {
		return Result{Allowed: true}, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	now := m.nowFn()
	cfg := m.provider()

	if cfg.RedisEnabled {
		if result, served := m.tryRedis(ctx, key, limit, now, cfg); served {
			return result, nil
		}
	}
	return m.memory.Allow(ctx, key, limit, now)
}

// tryRedis attempts the Redis backend. A false second return means the caller
// should fall back to memory.
func (m *Manager) tryRedis(ctx context.Context, key string, limit int, now time.Time, cfg SettingsConfig) (Result, bool) {
	if m.inRetryDelay(now) {
		return Result{}, false
	}

	limiter, errBackend := m.redisBackend(ctx, cfg)
	if errBackend != nil {
		m.deferRedis(errBackend, now)
		return Result{}, false
	}

	result, errAllow := limiter.Allow(ctx, key, limit, now)
	if errAllow != nil {
		m.deferRedis(errAllow, now)
		return Result{}, false
	}
	return result, true
}

func (m *Manager) inRetryDelay(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.retryAfter.IsZero() {
		return false
	}
	if now.Before(m.retryAfter) {
		return true
	}
	m.retryAfter = time.Time{}
	return false
}

func (m *Manager) deferRedis(err error, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.retryAfter.IsZero() && now.Before(m.retryAfter) {
		return
	}
	m.retryAfter = now.Add(redisRetryDelay)
	log.WithError(err).Warn("rate limit: redis unavailable, serving from memory")
}

// redisBackend returns a limiter for the current settings, reconnecting when
// the Redis parameters changed since the last call.
func (m *Manager) redisBackend(ctx context.Context, cfg SettingsConfig) (*RedisLimiter, error) {
	params := redisParamsFrom(cfg)
	if params.addr == "" {
		return nil, errors.New("rate limit redis: missing address")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.redis != nil && m.redisParams == params {
		return m.redis, nil
	}
	if m.redis != nil {
		_ = m.redis.client.Close()
		m.redis = nil
	}

	client := m.newRedisClient(&redis.Options{
		Addr:     params.addr,
		Password: params.password,
		DB:       params.db,
	})
	ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if errPing := client.Ping(ctxPing).Err(); errPing != nil {
		_ = client.Close()
		return nil, errPing
	}

	m.redis = NewRedisLimiter(client, params.prefix)
	m.redisParams = params
	return m.redis, nil
}
