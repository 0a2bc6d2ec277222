package interceptor

import (
	"bytes"
	"errors"
	"log"
	"testing"

	"github.com/function61/gokit/log/logex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogWriterMaskAndFormat(t *testing.T) {
	s := newTestServer(t, nil)
	var buf bytes.Buffer
	s.Log("error   warn", &buf)

	s.debugf("not shown")
	s.warnf("slow origin %s", "example.com")
	s.errorf(errors.New("refused"), "cannot reach %s", "example.com")

	assert.Equal(t, "WARN: slow origin example.com\nERROR: cannot reach example.com: refused\n", buf.String())
}

func TestLogFuncAndOnError(t *testing.T) {
	s := newTestServer(t, nil)
	var logs logRecorder
	s.LogFunc("debug error", logs.add)
	var errs []error
	s.OnError(func(err error) { errs = append(errs, err) })

	s.infof("ignored")
	s.debugf("kept")
	boom := errors.New("boom")
	s.errorf(boom, "failed")

	require.Len(t, logs.recs, 2)
	assert.Equal(t, LevelDebug, logs.recs[0].Level)
	assert.Equal(t, "failed: boom", logs.recs[1].Text())
	assert.Same(t, boom, logs.recs[1].Error)
	assert.Equal(t, []error{boom}, errs)
}

func TestCycleLogsCarryID(t *testing.T) {
	s := newTestServer(t, nil)
	var logs logRecorder
	s.LogFunc("info warn", logs.add)
	c := testCycle(t, s, "GET", "http://example.com/")
	c.Infof("hello %d", 1)
	c.Warnf("careful")

	require.Len(t, logs.recs, 2)
	assert.Equal(t, "hello 1", logs.recs[0].Text())
	assert.Equal(t, c.ID, logs.recs[0].CycleID)
	assert.Equal(t, LevelWarn, logs.recs[1].Level)
}

func TestRecordsReachZap(t *testing.T) {
	core, observed := observer.New(zap.DebugLevel)
	s := newTestServer(t, func(o *Options) { o.Logger = zap.New(core) })
	c := testCycle(t, s, "GET", "http://example.com/")
	c.Errorf(errors.New("nope"), "request phase error")

	entries := observed.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "request phase error: nope", entries[0].Message)
	assert.Equal(t, c.ID, entries[0].ContextMap()["cycle"])
	assert.Equal(t, "nope", entries[0].ContextMap()["error"])
}

func TestLogexSink(t *testing.T) {
	var debug, info, errs bytes.Buffer
	sink := LogexSink(&logex.Leveled{
		Debug: log.New(&debug, "", 0),
		Info:  log.New(&info, "", 0),
		Error: log.New(&errs, "", 0),
	})
	s := newTestServer(t, nil)
	s.LogFunc("debug info warn error", sink)

	s.debugf("d")
	s.infof("i")
	s.warnf("w")
	s.errorf(errors.New("x"), "e")

	assert.Equal(t, "d\n", debug.String())
	assert.Equal(t, "i\n", info.String())
	assert.Equal(t, "w\ne: x\n", errs.String())
}
