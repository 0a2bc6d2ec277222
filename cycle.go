package interceptor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Cycle carries one request/response exchange through the four phases.
// It is owned by the connection that read the request.
type Cycle struct {
	ID       string
	Request  *Request
	Response *Response

	phase   Phase
	ctx     context.Context
	server  *Server
	started time.Time

	mu     sync.Mutex
	data   map[string]any
	onDone []func()
}

func newCycle(ctx context.Context, s *Server) *Cycle {
	return &Cycle{
		ID:       uuid.NewString(),
		Request:  newRequest(),
		Response: newResponse(),
		phase:    PhaseRequest,
		ctx:      ctx,
		server:   s,
		started:  time.Now(),
	}
}

// NewCycle builds a cycle that is not attached to a server, for driving
// interceptors directly. Its logging methods do nothing.
func NewCycle(ctx context.Context, method, fullURL string) (*Cycle, error) {
	c := newCycle(ctx, nil)
	if err := c.Request.SetFullURL(fullURL); err != nil {
		return nil, err
	}
	c.Request.Method = method
	c.Request.Header.Set("Host", c.Request.Host())
	return c, nil
}

// Phase returns the phase the cycle is currently in.
func (c *Cycle) Phase() Phase {
	return c.phase
}

// Context is cancelled when the client connection goes away or the server
// closes.
func (c *Cycle) Context() context.Context {
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

// Data returns a value stored by an earlier interceptor.
func (c *Cycle) Data(key string) any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data[key]
}

// SetData stores a value that later interceptors of the same exchange can read.
func (c *Cycle) SetData(key string, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data == nil {
		c.data = make(map[string]any)
	}
	c.data[key] = v
}

// OnDone registers fn to run once the exchange is over, after the
// response-sent phase, whatever happened in the phases.
func (c *Cycle) OnDone(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDone = append(c.onDone, fn)
}

// finish runs the OnDone callbacks in registration order.
func (c *Cycle) finish() {
	c.mu.Lock()
	fns := c.onDone
	c.onDone = nil
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (c *Cycle) dataSnapshot() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.data) == 0 {
		return nil
	}
	out := make(map[string]any, len(c.data))
	for k, v := range c.data {
		out[k] = v
	}
	return out
}

func (c *Cycle) inherit(data map[string]any) {
	for k, v := range data {
		c.SetData(k, v)
	}
}

// Logf sends a message to the server log, tagged with the cycle id.
func (c *Cycle) Logf(level Level, format string, args ...any) {
	if c.server == nil {
		return
	}
	c.server.emit(LogRecord{Level: level, Message: fmt.Sprintf(format, args...), CycleID: c.ID})
}

func (c *Cycle) Debugf(format string, args ...any) { c.Logf(LevelDebug, format, args...) }
func (c *Cycle) Infof(format string, args ...any)  { c.Logf(LevelInfo, format, args...) }
func (c *Cycle) Warnf(format string, args ...any)  { c.Logf(LevelWarn, format, args...) }

// Errorf logs err at error level, the formatted text becomes its prefix.
func (c *Cycle) Errorf(err error, format string, args ...any) {
	if c.server == nil {
		return
	}
	rec := errorRecord(err, format, args...)
	rec.CycleID = c.ID
	c.server.emit(rec)
}
