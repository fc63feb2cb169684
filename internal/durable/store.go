// Package durable provides keyed JSON state with compare-and-swap and
// step memoization. Workflow code uses it so that retried or replayed
// executions observe the results of side effects instead of redoing them.
package durable

import (
	"context"
	"encoding/json"
	"fmt"
)

// Store is the durable state capability. Values are JSON-encoded; Get
// reports found=false for missing keys instead of an error.
type Store interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, key string) error

	// SetIfAbsent writes only when the key does not exist yet.
	SetIfAbsent(ctx context.Context, key string, value any) (bool, error)

	// CompareAndSwap replaces the value only if the stored JSON equals
	// old's encoding. A nil old means "only if absent".
	CompareAndSwap(ctx context.Context, key string, old, new any) (bool, error)
}

// RunOnce executes fn at most once per (key, step) pair. The first
// successful result is memoized; later calls return it without invoking fn.
// A failed fn is not memoized, so retries re-run the step.
func RunOnce(ctx context.Context, s Store, key, step string, fn func(context.Context) (any, error)) (json.RawMessage, error) {
	memoKey := key + ":step:" + step

	var cached json.RawMessage
	found, err := s.Get(ctx, memoKey, &cached)
	if err != nil {
		return nil, fmt.Errorf("read step memo %q: %w", step, err)
	}
	if found {
		return cached, nil
	}

	result, err := fn(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode step result %q: %w", step, err)
	}
	if err := s.Set(ctx, memoKey, json.RawMessage(raw)); err != nil {
		return nil, fmt.Errorf("persist step result %q: %w", step, err)
	}
	return raw, nil
}
