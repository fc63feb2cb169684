package provider

import (
	"context"
	"errors"
	"time"
)

type PollStatus int

const (
	PollComplete PollStatus = iota
	PollContinue
	PollFailed
)

type PollConfig struct {
	Interval       time.Duration
	MaxAttempts    int
	TimeoutMessage string
}

// PollUntil invokes fn until it completes, fails, or the attempt budget
// runs out. PollFailed stops immediately with fn's error; exhausting the
// budget returns a timeout error carrying the caller's message.
func PollUntil[T any](ctx context.Context, cfg PollConfig, fn func(context.Context) (T, PollStatus, error)) (T, error) {
	var zero T

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		v, status, err := fn(ctx)
		switch status {
		case PollComplete:
			return v, nil
		case PollFailed:
			if err == nil {
				err = errors.New("poll step failed")
			}
			return zero, err
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(cfg.Interval):
		}
	}

	msg := cfg.TimeoutMessage
	if msg == "" {
		msg = "polling exhausted"
	}
	return zero, errors.New(msg)
}
