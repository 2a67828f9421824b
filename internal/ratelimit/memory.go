package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter is a fixed one-second-window limiter kept in process memory.
// It is the fallback backend when Redis is disabled or unreachable, so each
// server instance enforces the limit independently.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]memoryWindow
}

type memoryWindow struct {
	startSec int64
	used     int
}

// NewMemoryLimiter constructs a MemoryLimiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{windows: make(map[string]memoryWindow)}
}

// Allow consumes one slot from the window containing now. A non-positive
// limit or empty key disables limiting for the call.
func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int, now time.Time) (Result, error) {
	if limit <= 0 || key == "" {
		return Result{Allowed: true}, nil
	}

	sec := now.Unix()
	reset := time.Unix(sec+1, 0).UTC()

	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.windows[key]
	if w.startSec != sec {
		w = memoryWindow{startSec: sec}
	}
	if w.used >= limit {
		l.windows[key] = w
		return Result{Allowed: false, Remaining: 0, Reset: reset}, nil
	}
	w.used++
	l.windows[key] = w
	return Result{Allowed: true, Remaining: limit - w.used, Reset: reset}, nil
}
