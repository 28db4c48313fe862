package health

import (
	"sync"
	"time"
)

// Snapshot is a point-in-time copy of per-stream write bookkeeping.
type Snapshot struct {
	LastWriteMs map[string]int64
	Counts      map[string]int64
}

// Tracker records the last successful write time and a running count per
// stream key. The persistence router marks it on every write; the monitor
// loops read it. Guarded by a mutex because the timer loops run on their
// own goroutines.
type Tracker struct {
	mu          sync.RWMutex
	lastWriteMs map[string]int64
	counts      map[string]int64
}

func NewTracker() *Tracker {
	return &Tracker{
		lastWriteMs: make(map[string]int64),
		counts:      make(map[string]int64),
	}
}

// Mark records one successful write for key at the given wall-clock time.
func (t *Tracker) Mark(key string, now time.Time) {
	t.mu.Lock()
	t.lastWriteMs[key] = now.UnixMilli()
	t.counts[key]++
	t.mu.Unlock()
}

// LastWriteMs returns the last write time for key, or zero when the key has
// never been written.
func (t *Tracker) LastWriteMs(key string) int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastWriteMs[key]
}

// Count returns the number of writes recorded for key.
func (t *Tracker) Count(key string) int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.counts[key]
}

// Snapshot copies the full bookkeeping state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snap := Snapshot{
		LastWriteMs: make(map[string]int64, len(t.lastWriteMs)),
		Counts:      make(map[string]int64, len(t.counts)),
	}
	for k, v := range t.lastWriteMs {
		snap.LastWriteMs[k] = v
	}
	for k, v := range t.counts {
		snap.Counts[k] = v
	}
	return snap
}
