// Package dedup suppresses repeated emission of the same content reference
// inside a rolling time window.
package dedup

import (
	"sync"
	"time"
)

// DefaultWindow is the suppression window used when none is configured.
const DefaultWindow = 300 * time.Second

// Ledger remembers when each key was last emitted. It is safe for
// concurrent use; the mutex covers only the compare-and-set.
type Ledger struct {
	window time.Duration
	mu     sync.Mutex
	last   map[string]time.Time
}

func NewLedger(window time.Duration) *Ledger {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Ledger{
		window: window,
		last:   make(map[string]time.Time),
	}
}

func (l *Ledger) Window() time.Duration {
	return l.window
}

// ShouldEmit reports whether key may be emitted at now and, if so, records
// now as its last emission. An entry exactly window old still suppresses.
func (l *Ledger) ShouldEmit(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if prev, ok := l.last[key]; ok && now.Sub(prev) <= l.window {
		return false
	}
	l.last[key] = now
	return true
}

// Sweep drops entries that can no longer suppress anything and returns how
// many were removed.
func (l *Ledger) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, prev := range l.last {
		if now.Sub(prev) > l.window {
			delete(l.last, key)
			removed++
		}
	}
	return removed
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.last)
}
