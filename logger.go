package interceptor

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/function61/gokit/log/logex"
	"go.uber.org/zap"
)

// Level of a log record.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// LogRecord is what log subscribers receive.
type LogRecord struct {
	Level   Level
	Message string
	Error   error
	CycleID string
}

// Text is the line a writer subscriber gets, without the level prefix.
func (r LogRecord) Text() string {
	if r.Message == "" && r.Error != nil {
		return r.Error.Error()
	}
	return r.Message
}

// errorRecord builds an error record whose message ends with the error text.
func errorRecord(err error, format string, args ...any) LogRecord {
	msg := fmt.Sprintf(format, args...)
	if err != nil {
		msg += ": " + err.Error()
	}
	return LogRecord{Level: LevelError, Message: msg, Error: err}
}

type logSubscriber struct {
	levels map[Level]bool
	fn     func(LogRecord)
}

// logBus fans records out to subscribers. Every record also goes to zap.
type logBus struct {
	mu      sync.RWMutex
	subs    []logSubscriber
	onError []func(error)
	zap     *zap.Logger
}

func parseMask(mask string) map[Level]bool {
	levels := make(map[Level]bool)
	for _, f := range strings.Fields(mask) {
		levels[Level(strings.ToLower(f))] = true
	}
	return levels
}

func (b *logBus) subscribe(mask string, fn func(LogRecord)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, logSubscriber{levels: parseMask(mask), fn: fn})
}

func (b *logBus) subscribeErrors(fn func(error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onError = append(b.onError, fn)
}

func (b *logBus) emit(rec LogRecord) {
	b.toZap(rec)
	b.mu.RLock()
	subs, onError := b.subs, b.onError
	b.mu.RUnlock()
	for _, s := range subs {
		if s.levels[rec.Level] {
			s.fn(rec)
		}
	}
	if rec.Level == LevelError && rec.Error != nil {
		for _, fn := range onError {
			fn(rec.Error)
		}
	}
}

func (b *logBus) toZap(rec LogRecord) {
	if b.zap == nil {
		return
	}
	fields := make([]zap.Field, 0, 2)
	if rec.CycleID != "" {
		fields = append(fields, zap.String("cycle", rec.CycleID))
	}
	if rec.Error != nil {
		fields = append(fields, zap.Error(rec.Error))
	}
	switch rec.Level {
	case LevelDebug:
		b.zap.Debug(rec.Message, fields...)
	case LevelInfo:
		b.zap.Info(rec.Message, fields...)
	case LevelWarn:
		b.zap.Warn(rec.Message, fields...)
	default:
		b.zap.Error(rec.Message, fields...)
	}
}

// Log writes every record whose level is in mask to w as
// "<LEVEL>: <message>\n". mask is a whitespace separated list such as
// "error warn debug". A nil writer means stderr.
func (s *Server) Log(mask string, w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	var mu sync.Mutex
	s.logs.subscribe(mask, func(rec LogRecord) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(w, "%s: %s\n", strings.ToUpper(string(rec.Level)), rec.Text())
	})
}

// LogFunc delivers structured records whose level is in mask to fn.
func (s *Server) LogFunc(mask string, fn func(LogRecord)) {
	s.logs.subscribe(mask, fn)
}

// OnError is called for every error record, transport errors included.
func (s *Server) OnError(fn func(error)) {
	s.logs.subscribeErrors(fn)
}

func (s *Server) emit(rec LogRecord) {
	s.logs.emit(rec)
}

func (s *Server) debugf(format string, args ...any) {
	s.emit(LogRecord{Level: LevelDebug, Message: fmt.Sprintf(format, args...)})
}

func (s *Server) infof(format string, args ...any) {
	s.emit(LogRecord{Level: LevelInfo, Message: fmt.Sprintf(format, args...)})
}

func (s *Server) warnf(format string, args ...any) {
	s.emit(LogRecord{Level: LevelWarn, Message: fmt.Sprintf(format, args...)})
}

func (s *Server) errorf(err error, format string, args ...any) {
	s.emit(errorRecord(err, format, args...))
}

// LogexSink routes records to a gokit leveled logger. Warnings go to the
// error stream, logex has no warn level.
func LogexSink(l *logex.Leveled) func(LogRecord) {
	return func(rec LogRecord) {
		switch rec.Level {
		case LevelDebug:
			l.Debug.Println(rec.Text())
		case LevelInfo:
			l.Info.Println(rec.Text())
		default:
			l.Error.Println(rec.Text())
		}
	}
}
