// Package limitation bounds how much work the proxy takes on at once.
package limitation

import (
	"sync"

	"github.com/Windscribe/interceptor"
)

// Limiter caps the number of exchanges between their request phase and the
// end of the exchange.
type Limiter struct {
	slots chan struct{}
}

// ConcurrentRequests creates a limiter. A limit of zero or less never blocks.
func ConcurrentRequests(limit int) *Limiter {
	if limit <= 0 {
		return &Limiter{}
	}
	return &Limiter{slots: make(chan struct{}, limit)}
}

// Acquire waits for a free slot. The slot is given back when the exchange is
// done, even if later interceptors fail. Register it first in the request
// phase so it runs before any other interceptor.
func (l *Limiter) Acquire() interceptor.Handler {
	return interceptor.HandlerFunc(func(c *interceptor.Cycle) error {
		if l.slots == nil {
			return nil
		}
		select {
		case l.slots <- struct{}{}:
			var once sync.Once
			c.OnDone(func() { once.Do(func() { <-l.slots }) })
			return nil
		case <-c.Context().Done():
			return c.Context().Err()
		}
	})
}

// Register installs Acquire on srv.
func (l *Limiter) Register(srv *interceptor.Server) error {
	return srv.On(string(interceptor.PhaseRequest), l.Acquire())
}
