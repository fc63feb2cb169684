package provider

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPollUntilComplete(t *testing.T) {
	attempts := 0
	got, err := PollUntil(context.Background(), PollConfig{Interval: time.Millisecond, MaxAttempts: 10},
		func(context.Context) (string, PollStatus, error) {
			attempts++
			if attempts < 3 {
				return "", PollContinue, nil
			}
			return "transcript", PollComplete, nil
		})
	if err != nil {
		t.Fatalf("PollUntil: %v", err)
	}
	if got != "transcript" || attempts != 3 {
		t.Errorf("got %q after %d attempts", got, attempts)
	}
}

func TestPollUntilFailedStopsImmediately(t *testing.T) {
	boom := errors.New("provider rejected the job")
	attempts := 0
	_, err := PollUntil(context.Background(), PollConfig{Interval: time.Millisecond, MaxAttempts: 10},
		func(context.Context) (int, PollStatus, error) {
			attempts++
			return 0, PollFailed, boom
		})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want the poll failure", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no retry after failure)", attempts)
	}
}

func TestPollUntilExhaustionUsesTimeoutMessage(t *testing.T) {
	_, err := PollUntil(context.Background(),
		PollConfig{Interval: time.Millisecond, MaxAttempts: 2, TimeoutMessage: "transcription timed out"},
		func(context.Context) (int, PollStatus, error) {
			return 0, PollContinue, nil
		})
	if err == nil || err.Error() != "transcription timed out" {
		t.Errorf("err = %v, want the caller's timeout message", err)
	}
}

func TestPollUntilRespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := PollUntil(ctx, PollConfig{Interval: time.Second, MaxAttempts: 5},
		func(context.Context) (int, PollStatus, error) {
			return 0, PollContinue, nil
		})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
