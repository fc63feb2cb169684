// Package health keeps rolling per-provider session statistics so /status
// can report recent error rates without external storage.
package health

import (
	"sync"
	"time"
)

const window = 5 * time.Minute

type event struct {
	at time.Time
	ok bool
}

// Tracker records session outcomes per provider and reports counts over
// a sliding five-minute window.
type Tracker struct {
	mu     sync.Mutex
	events map[string][]event
	now    func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{
		events: make(map[string][]event),
		now:    time.Now,
	}
}

func (t *Tracker) RecordSuccess(provider string) { t.record(provider, true) }
func (t *Tracker) RecordError(provider string)   { t.record(provider, false) }

func (t *Tracker) record(provider string, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events[provider] = append(t.prune(t.events[provider]), event{at: t.now(), ok: ok})
}

func (t *Tracker) prune(evs []event) []event {
	cutoff := t.now().Add(-window)
	i := 0
	for i < len(evs) && evs[i].at.Before(cutoff) {
		i++
	}
	return evs[i:]
}

type ProviderStats struct {
	Sessions  int     `json:"sessions"`
	Errors    int     `json:"errors"`
	ErrorRate float64 `json:"error_rate"`
}

// Snapshot returns per-provider stats for sessions inside the window.
func (t *Tracker) Snapshot() map[string]ProviderStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]ProviderStats, len(t.events))
	for provider, evs := range t.events {
		evs = t.prune(evs)
		t.events[provider] = evs
		if len(evs) == 0 {
			continue
		}
		stats := ProviderStats{Sessions: len(evs)}
		for _, ev := range evs {
			if !ev.ok {
				stats.Errors++
			}
		}
		stats.ErrorRate = float64(stats.Errors) / float64(stats.Sessions)
		out[provider] = stats
	}
	return out
}
