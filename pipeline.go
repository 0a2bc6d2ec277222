package interceptor

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// runPhase enters p and runs its interceptors one at a time. The first failure
// ends the phase, the exchange carries on with the next one.
func (s *Server) runPhase(c *Cycle, p Phase) {
	c.phase = p
	for _, h := range s.registry.snapshot(p) {
		if err := s.invoke(c, h); err != nil {
			s.metrics.recordPhaseError(p)
			c.Errorf(err, "%s phase error", p)
			return
		}
	}
}

// invoke runs a single interceptor and waits for its completion. A stall
// timer logs once if the interceptor is slow, the interceptor keeps running.
func (s *Server) invoke(c *Cycle, h Handler) error {
	phase, fullURL := c.phase, c.Request.FullURL()
	stall := time.AfterFunc(s.opts.StallTimeout, func() {
		s.metrics.recordStall(phase)
		c.Debugf("an async %s intercept is taking a long time: %s", phase, fullURL)
	})
	defer stall.Stop()

	result := make(chan error, 1)
	var once sync.Once
	done := func(err error) {
		once.Do(func() { result <- err })
	}
	func() {
		defer func() {
			if r := recover(); r != nil {
				done(fmt.Errorf("interceptor panic: %v", r))
			}
		}()
		h.Handle(c, done)
	}()

	// a handler that already finished wins over a cancelled context
	select {
	case err := <-result:
		return err
	default:
	}
	select {
	case err := <-result:
		return err
	case <-c.Context().Done():
		select {
		case err := <-result:
			return err
		default:
			return c.Context().Err()
		}
	}
}

// exchange runs the four phases for a cycle whose request has been read, and
// writes the response to w. It reports whether the client connection may be
// reused.
func (s *Server) exchange(c *Cycle, w io.Writer) bool {
	s.metrics.recordExchange(c.Request.Method, c.Request.Protocol)
	defer func() {
		c.finish()
		s.metrics.recordExchangeDuration(c.Request.Method, c.Response.StatusCode, time.Since(c.started))
	}()

	s.runPhase(c, PhaseRequest)

	var pending <-chan fetchResult
	if c.Response.Populated() {
		s.metrics.recordFetchSkipped()
		c.Debugf("server fetch skipped for %s", c.Request.FullURL())
	} else {
		pending = s.fetch(c)
	}

	s.runPhase(c, PhaseRequestSent)

	if pending != nil {
		res := <-pending
		if res.err != nil {
			s.fail(c, res.err)
		} else {
			c.Response.setHTTPSource(res.resp)
		}
	}

	s.runPhase(c, PhaseResponse)

	keepAlive, err := writeResponse(w, c)
	if err != nil {
		c.Warnf("cannot write response for %s: %v", c.Request.FullURL(), err)
		keepAlive = false
	}
	c.Response.Body.close()

	s.runPhase(c, PhaseResponseSent)
	return keepAlive
}
