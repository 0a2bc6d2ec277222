package interceptor

import (
	"fmt"
	"sync"
)

// InterceptOptions describes where and when an interceptor runs.
//
// Phase is required. As asks for the body of the phase's side (request in
// "request", response in "response") to be loaded and materialized before the
// handler runs: one of "buffer", "string", "tree", "json" or "params". Filter,
// when set, is consulted after the predicate fields matched.
type InterceptOptions struct {
	Phase  string
	As     string
	Filter func(c *Cycle) bool
	Predicate
}

// Intercept registers h for the phase named in opts. Registration order is
// execution order within a phase.
func (s *Server) Intercept(opts InterceptOptions, h Handler) error {
	phase, err := ParsePhase(opts.Phase)
	if err != nil {
		return err
	}
	view, err := ParseView(opts.As)
	if err != nil {
		return err
	}
	if view != ViewNone && phase.ReadOnly() {
		return fmt.Errorf("%w: %s", ErrReadOnlyView, phase)
	}
	if h == nil {
		return ErrNilHandler
	}
	s.registry.add(phase, decorate(opts, phase, view, h))
	return nil
}

// On is shorthand for Intercept with only a phase.
func (s *Server) On(phase string, h Handler) error {
	return s.Intercept(InterceptOptions{Phase: phase}, h)
}

// OnConnect registers h to run when a client asks for a tunnel, before the
// tunnel is accepted. The cycle carries the CONNECT request, its URL is
// empty. A handler that fills the response refuses the tunnel: the response
// is sent and the connection closed. Data set on the cycle is inherited by
// every exchange carried by the tunnel.
func (s *Server) OnConnect(h Handler) error {
	if h == nil {
		return ErrNilHandler
	}
	s.registry.addConnect(normalize(h))
	return nil
}

// decorate wraps the handler, innermost first: completion normalization, body
// materialization, custom filter, predicate. At call time this gives the
// order predicate, filter, materialization, handler.
func decorate(opts InterceptOptions, phase Phase, view View, h Handler) Handler {
	h = normalize(h)
	if view != ViewNone {
		h = withBodyView(phase, view, h)
	}
	if opts.Filter != nil {
		h = withFilter(opts.Filter, h)
	}
	pred := opts.Predicate
	return AsyncHandlerFunc(func(c *Cycle, done func(error)) {
		if !pred.Matches(c) {
			done(nil)
			return
		}
		h.Handle(c, done)
	})
}

func withFilter(filter func(*Cycle) bool, h Handler) Handler {
	return AsyncHandlerFunc(func(c *Cycle, done func(error)) {
		if !filter(c) {
			done(nil)
			return
		}
		h.Handle(c, done)
	})
}

func withBodyView(phase Phase, view View, h Handler) Handler {
	return AsyncHandlerFunc(func(c *Cycle, done func(error)) {
		body, ct := &c.Response.Body, c.Response.Header.Get("Content-Type")
		if phase.IsRequestSide() {
			body, ct = &c.Request.Body, c.Request.Header.Get("Content-Type")
		}
		if err := body.materialize(view, ct); err != nil {
			done(err)
			return
		}
		h.Handle(c, done)
	})
}

type registry struct {
	mu      sync.RWMutex
	byPhase [len(Phases)][]Handler
	connect []Handler
}

func (r *registry) addConnect(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connect = append(r.connect, h)
}

func (r *registry) connectHandlers() []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connect[:len(r.connect):len(r.connect)]
}

func (r *registry) add(p Phase, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byPhase[p.index()] = append(r.byPhase[p.index()], h)
}

// snapshot returns the handlers of a phase. The slice is never written to
// after being handed out, appends reallocate or write past its length.
func (r *registry) snapshot(p Phase) []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hs := r.byPhase[p.index()]
	return hs[:len(hs):len(hs)]
}
