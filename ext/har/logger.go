package har

import (
	"sync"
	"time"

	"github.com/Windscribe/interceptor"
)

const (
	startKey    = "har.start"
	responseKey = "har.response"
)

// ExportFunc is a function type that users can implement to handle exported entries
type ExportFunc func([]Entry)

// Logger collects one entry per exchange and hands them to an ExportFunc in
// batches.
type Logger struct {
	exportFunc      ExportFunc
	exportInterval  time.Duration
	exportThreshold int
	captureContent  bool

	dataCh   chan Entry
	done     chan struct{}
	stopOnce sync.Once
	mu       sync.RWMutex
	stopped  bool
}

// LoggerOption is a function type for configuring the Logger
type LoggerOption func(*Logger)

// WithExportInterval sets the interval for automatic exports
func WithExportInterval(d time.Duration) LoggerOption {
	return func(l *Logger) {
		l.exportInterval = d
	}
}

// WithExportThreshold sets the number of entries after which to export
func WithExportThreshold(threshold int) LoggerOption {
	return func(l *Logger) {
		l.exportThreshold = threshold
	}
}

// WithContent records request and response bodies. Bodies are then loaded
// into memory for every exchange.
func WithContent() LoggerOption {
	return func(l *Logger) {
		l.captureContent = true
	}
}

// NewLogger creates a new HAR logger instance
func NewLogger(exportFunc ExportFunc, opts ...LoggerOption) *Logger {
	l := &Logger{
		exportFunc:      exportFunc,
		exportThreshold: 100,
		dataCh:          make(chan Entry, 16),
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	go l.exportLoop()
	return l
}

// Register installs the logger on srv.
func (l *Logger) Register(srv *interceptor.Server) error {
	as := ""
	if l.captureContent {
		as = string(interceptor.ViewBuffer)
	}
	steps := []struct {
		phase string
		h     interceptor.Handler
	}{
		{"request", interceptor.HandlerFunc(l.onRequest)},
		{"response", interceptor.HandlerFunc(l.onResponse)},
		{"response-sent", interceptor.HandlerFunc(l.onResponseSent)},
	}
	for _, s := range steps {
		opts := interceptor.InterceptOptions{Phase: s.phase}
		if s.phase != "response-sent" {
			opts.As = as
		}
		if err := srv.Intercept(opts, s.h); err != nil {
			return err
		}
	}
	return nil
}

func (l *Logger) onRequest(c *interceptor.Cycle) error {
	c.SetData(startKey, time.Now())
	return nil
}

func (l *Logger) onResponse(c *interceptor.Cycle) error {
	c.SetData(responseKey, time.Now())
	return nil
}

func (l *Logger) onResponseSent(c *interceptor.Cycle) error {
	start, ok := c.Data(startKey).(time.Time)
	if !ok {
		return nil
	}
	responded, ok := c.Data(responseKey).(time.Time)
	if !ok {
		responded = start
	}
	now := time.Now()
	entry := Entry{
		StartedDateTime: start,
		Time:            now.Sub(start).Milliseconds(),
		Request:         ParseRequest(c.Request, l.captureContent),
		Response:        ParseResponse(c.Response, l.captureContent),
		Timings: Timings{
			Send:    0,
			Wait:    responded.Sub(start).Milliseconds(),
			Receive: now.Sub(responded).Milliseconds(),
		},
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.stopped {
		return nil
	}
	l.dataCh <- entry
	return nil
}

func (l *Logger) exportLoop() {
	defer close(l.done)
	var entries []Entry

	exportIfNeeded := func() {
		if len(entries) > 0 {
			l.exportFunc(entries)
			entries = nil
		}
	}

	var tickerC <-chan time.Time
	if l.exportInterval > 0 {
		ticker := time.NewTicker(l.exportInterval)
		defer ticker.Stop()
		tickerC = ticker.C
	}

	for {
		select {
		case entry, ok := <-l.dataCh:
			if !ok {
				exportIfNeeded()
				return
			}
			entries = append(entries, entry)
			if l.exportThreshold > 0 && len(entries) >= l.exportThreshold {
				exportIfNeeded()
			}
		case <-tickerC:
			exportIfNeeded()
		}
	}
}

// Stop exports what is left and waits for the export to finish. Exchanges
// completing afterwards are not recorded.
func (l *Logger) Stop() {
	l.stopOnce.Do(func() {
		l.mu.Lock()
		l.stopped = true
		close(l.dataCh)
		l.mu.Unlock()
	})
	<-l.done
}
