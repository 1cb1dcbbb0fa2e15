package status

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// requeryThrottle caps gateway requeries to one per interval per transaction.
// Entries for transactions nobody polls anymore are evicted by a background
// cleanup so the map does not grow with ledger size.
type requeryThrottle struct {
	mu       sync.Mutex
	entries  map[string]*throttleEntry
	interval time.Duration
	stopCh   chan struct{}
}

type throttleEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newRequeryThrottle(interval time.Duration) *requeryThrottle {
	t := &requeryThrottle{
		entries:  make(map[string]*throttleEntry),
		interval: interval,
		stopCh:   make(chan struct{}),
	}
	go t.cleanupLoop()
	return t
}

// allow reports whether a requery for the transaction may run now.
func (t *requeryThrottle) allow(transactionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[transactionID]
	if !ok {
		entry = &throttleEntry{
			limiter: rate.NewLimiter(rate.Every(t.interval), 1),
		}
		t.entries[transactionID] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter.Allow()
}

// cleanupLoop evicts entries idle for several throttle windows.
func (t *requeryThrottle) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	ttl := 10 * t.interval
	if ttl < 5*time.Minute {
		ttl = 5 * time.Minute
	}

	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-ttl)
			t.mu.Lock()
			for id, entry := range t.entries {
				if entry.lastSeen.Before(cutoff) {
					delete(t.entries, id)
				}
			}
			t.mu.Unlock()
		}
	}
}

func (t *requeryThrottle) stop() {
	close(t.stopCh)
}
