// Package ratelimit implements a keyed sliding-window limiter on durable
// state, so limits survive process restarts and are shared across nodes.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/voxgate/voxgate/internal/durable"
)

// ErrLimitExceeded is terminal: callers must not retry the same request.
var ErrLimitExceeded = errors.New("rate limit exceeded")

type Config struct {
	Window time.Duration
	Max    int
}

type windowState struct {
	WindowStartMS int64 `json:"window_start_ms"`
	Count         int   `json:"count"`
}

// Limiter tracks one window per key. The clock is injectable for tests.
type Limiter struct {
	store durable.Store
	now   func() time.Time
}

func New(store durable.Store) *Limiter {
	return &Limiter{store: store, now: time.Now}
}

func NewWithClock(store durable.Store, now func() time.Time) *Limiter {
	return &Limiter{store: store, now: now}
}

func stateKey(key string) string { return "ratelimit:" + key }

// CheckAndConsume admits one request under key or fails with
// ErrLimitExceeded. A window older than cfg.Window resets to a fresh one
// before counting, so the count never exceeds cfg.Max and the first
// request of a new window always passes.
func (l *Limiter) CheckAndConsume(ctx context.Context, key string, cfg Config) error {
	if cfg.Max <= 0 {
		return fmt.Errorf("%w: zero budget for %q", ErrLimitExceeded, key)
	}

	for attempt := 0; attempt < 5; attempt++ {
		var st windowState
		found, err := l.store.Get(ctx, stateKey(key), &st)
		if err != nil {
			return fmt.Errorf("read limiter state: %w", err)
		}

		nowMS := l.now().UnixMilli()
		next := st
		if !found || nowMS-st.WindowStartMS >= cfg.Window.Milliseconds() {
			next = windowState{WindowStartMS: nowMS}
		} else if st.Count >= cfg.Max {
			return fmt.Errorf("%w: %d requests in window for %q", ErrLimitExceeded, st.Count, key)
		}
		next.Count++

		var old any
		if found {
			old = st
		}
		ok, err := l.store.CompareAndSwap(ctx, stateKey(key), old, next)
		if err != nil {
			return fmt.Errorf("update limiter state: %w", err)
		}
		if ok {
			return nil
		}
		// Lost a race with a concurrent request; re-read and retry.
	}
	return fmt.Errorf("limiter contention for %q", key)
}

// Reset clears the window for key.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	if err := l.store.Delete(ctx, stateKey(key)); err != nil {
		return fmt.Errorf("reset limiter state: %w", err)
	}
	return nil
}
