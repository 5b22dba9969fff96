package store

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"time"
)

// Janitor reclaims session directories whose last activity is older than the
// TTL. It runs opportunistically on session joins and, in addition, from a
// background ticker.
type Janitor struct {
	store   *Store
	ttl     time.Duration
	onSweep func(sessionID string)
}

func NewJanitor(store *Store, ttl time.Duration) *Janitor {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Janitor{store: store, ttl: ttl}
}

// SetSweepHook registers a callback invoked once per removed session.
func (j *Janitor) SetSweepHook(hook func(sessionID string)) {
	j.onSweep = hook
}

// Sweep removes every expired session directory. Deletion errors are logged
// and do not abort the rest of the sweep.
func (j *Janitor) Sweep(now time.Time) int {
	entries, err := os.ReadDir(j.store.Root())
	if err != nil {
		log.Printf("janitor: read upload root: %v", err)
		return 0
	}
	removed := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) <= j.ttl {
			continue
		}
		sessionID := e.Name()
		if err := os.RemoveAll(filepath.Join(j.store.Root(), sessionID)); err != nil {
			log.Printf("janitor: remove session %s: %v", sessionID, err)
			continue
		}
		removed++
		if j.onSweep != nil {
			j.onSweep(sessionID)
		}
	}
	return removed
}

// Start runs periodic sweeps until ctx is cancelled.
func (j *Janitor) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				j.Sweep(time.Now())
			}
		}
	}()
}
