package interceptor

import (
	"context"
	"sync"
	"time"
)

type correlationEntry struct {
	target    target
	set       bool
	ready     chan struct{}
	expiresAt time.Time
}

// correlationTable maps the local address of a loopback connection dialed for
// a tunnel to the CONNECT target. The dialing side inserts, the accepting side
// consumes, in whichever order they get there.
type correlationTable struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]*correlationEntry
}

func newCorrelationTable(ttl time.Duration) *correlationTable {
	return &correlationTable{ttl: ttl, now: time.Now, entries: make(map[string]*correlationEntry)}
}

// entry must be called with mu held.
func (t *correlationTable) entry(key string) *correlationEntry {
	e, ok := t.entries[key]
	if !ok {
		e = &correlationEntry{ready: make(chan struct{}), expiresAt: t.now().Add(t.ttl)}
		t.entries[key] = e
	}
	return e
}

func (t *correlationTable) insert(key string, tgt target) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entry(key)
	if e.set {
		return
	}
	e.target, e.set = tgt, true
	close(e.ready)
}

// consume removes and returns the entry for key, waiting up to wait for the
// insert to land.
func (t *correlationTable) consume(ctx context.Context, key string, wait time.Duration) (target, bool) {
	t.mu.Lock()
	e := t.entry(key)
	t.mu.Unlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-e.ready:
	case <-timer.C:
	case <-ctx.Done():
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.entries[key] == e {
		delete(t.entries, key)
	}
	return e.target, e.set
}

// sweep drops entries older than the ttl, tunnels that were opened but never
// accepted and waiters that gave up.
func (t *correlationTable) sweep() int {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for k, e := range t.entries {
		if !now.Before(e.expiresAt) {
			delete(t.entries, k)
			n++
		}
	}
	return n
}

func (t *correlationTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// janitor sweeps periodically until ctx is done.
func (t *correlationTable) janitor(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.sweep()
		}
	}
}
