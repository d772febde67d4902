// Package epoch tracks which execution units are inside a critical section
// and waits for every section observed in progress to end.
//
// Each unit owns a sequence counter. Entering a section moves it from even
// to odd, leaving moves it back to even. The odd state doubles as the
// unit's "busy" flag, so Enter fails on a unit already inside a section.
// Both operations are lock-free and never block.
//
// Wait snapshots every counter and returns once each unit that was odd in
// the snapshot has moved on. Sections entered after the snapshot are not
// waited for.
package epoch

import (
	"runtime"
	"sync/atomic"
	"time"
)

const (
	minBackoff = 20 * time.Microsecond
	maxBackoff = 5 * time.Millisecond
)

// slot pads a counter to its own cache line.
type slot struct {
	seq atomic.Uint64
	_   [56]byte
}

// Tracker tracks sections across a fixed set of units.
type Tracker struct {
	slots []slot
}

// New creates a tracker for units 0..n-1. n is at least 1.
func New(n int) *Tracker {
	if n < 1 {
		n = 1
	}
	return &Tracker{slots: make([]slot, n)}
}

// Units returns the number of tracked units.
func (t *Tracker) Units() int {
	return len(t.slots)
}

// Enter marks unit as inside a section. It returns false when the unit is
// already inside one, or when unit is out of range.
func (t *Tracker) Enter(unit int) bool {
	if unit < 0 || unit >= len(t.slots) {
		return false
	}
	s := &t.slots[unit].seq
	cur := s.Load()
	if cur&1 == 1 {
		return false
	}
	return s.CompareAndSwap(cur, cur+1)
}

// Exit ends the section entered on unit. It must follow a successful Enter.
func (t *Tracker) Exit(unit int) {
	t.slots[unit].seq.Add(1)
}

// Busy reports whether unit is currently inside a section.
func (t *Tracker) Busy(unit int) bool {
	if unit < 0 || unit >= len(t.slots) {
		return false
	}
	return t.slots[unit].seq.Load()&1 == 1
}

// Wait blocks until every section in progress at call time has ended.
// It sleeps between polls and must not be called from inside a section.
func (t *Tracker) Wait() {
	snapshot := make([]uint64, len(t.slots))
	for i := range t.slots {
		snapshot[i] = t.slots[i].seq.Load()
	}

	backoff := minBackoff
	for i := range t.slots {
		if snapshot[i]&1 == 0 {
			continue
		}
		for t.slots[i].seq.Load() == snapshot[i] {
			runtime.Gosched()
			time.Sleep(backoff)
			if backoff < maxBackoff {
				backoff *= 2
			}
		}
	}
}
