package interceptor

import (
	"fmt"
	"sync"
)

// Handler is the normalized interceptor shape. Handle must call done exactly
// once, with nil on success. The pipeline does not move on before it does.
type Handler interface {
	Handle(c *Cycle, done func(error))
}

// HandlerFunc is a synchronous interceptor. Returning closes the invocation.
type HandlerFunc func(c *Cycle) error

func (f HandlerFunc) Handle(c *Cycle, done func(error)) {
	done(f(c))
}

// AsyncHandlerFunc receives an explicit continuation and may call it from
// any goroutine.
type AsyncHandlerFunc func(c *Cycle, done func(error))

func (f AsyncHandlerFunc) Handle(c *Cycle, done func(error)) {
	f(c, done)
}

// FutureHandlerFunc returns a channel that yields the outcome. A closed channel
// without a value counts as success.
type FutureHandlerFunc func(c *Cycle) <-chan error

func (f FutureHandlerFunc) Handle(c *Cycle, done func(error)) {
	ch := f(c)
	if ch == nil {
		done(nil)
		return
	}
	go func() {
		select {
		case err := <-ch:
			done(err)
		case <-c.Context().Done():
			done(c.Context().Err())
		}
	}()
}

// Steps runs its functions one after another. The first error ends the chain.
type Steps []HandlerFunc

func (s Steps) Handle(c *Cycle, done func(error)) {
	for _, step := range s {
		if err := step(c); err != nil {
			done(err)
			return
		}
	}
	done(nil)
}

// normalize guards a handler so that a panic becomes an error and done runs
// at most once whatever the handler does.
func normalize(h Handler) Handler {
	return AsyncHandlerFunc(func(c *Cycle, done func(error)) {
		var once sync.Once
		finish := func(err error) {
			once.Do(func() { done(err) })
		}
		defer func() {
			if r := recover(); r != nil {
				finish(fmt.Errorf("interceptor panic: %v", r))
			}
		}()
		h.Handle(c, finish)
	})
}
