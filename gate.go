package txengine

import (
	"sync"
	"sync/atomic"
	"time"
)

// IntervalGate throttles a repeating action to at most once per configured
// interval. Triggers are serialized through a mutex so overlapping calls
// collapse into a single execution: a slow action can never be double-invoked
// by a fast-arriving second trigger.
type IntervalGate struct {
	mu sync.Mutex

	// interval holds the minimum spacing in nanoseconds; lastRun the UnixNano
	// of the last run start. Both are read without the lock for the cheap
	// pre-check.
	interval atomic.Int64
	lastRun  atomic.Int64
}

// NewIntervalGate returns a gate with the given minimum interval. A zero
// interval still serializes runs but never suppresses them.
func NewIntervalGate(interval time.Duration) *IntervalGate {
	g := &IntervalGate{}
	g.interval.Store(int64(interval))
	return g
}

// SetInterval changes the minimum interval for subsequent runs.
func (g *IntervalGate) SetInterval(interval time.Duration) {
	g.interval.Store(int64(interval))
}

// Run executes fn if at least the configured interval has elapsed since the
// previous run started. It reports whether fn ran.
func (g *IntervalGate) Run(fn func()) bool {
	if !g.elapsed() {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	// Re-check under the lock: another trigger may have run while we waited.
	if !g.elapsed() {
		return false
	}

	g.lastRun.Store(time.Now().UnixNano())
	fn()
	return true
}

func (g *IntervalGate) elapsed() bool {
	interval := time.Duration(g.interval.Load())
	if interval <= 0 {
		return true
	}
	last := g.lastRun.Load()
	return last == 0 || time.Since(time.Unix(0, last)) >= interval
}

// Reset clears the gate so the next trigger runs immediately.
func (g *IntervalGate) Reset() {
	g.lastRun.Store(0)
}
