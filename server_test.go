package interceptor

import (
	"bufio"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlainProxyRoundTrip(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		io.WriteString(w, "bobo "+r.Header.Get("X-Intercepted"))
	}))
	defer origin.Close()

	s, client := listeningServer(t, nil)
	require.NoError(t, s.Intercept(InterceptOptions{
		Phase:     "request",
		Predicate: Predicate{URL: String("/bobo")},
	}, HandlerFunc(func(c *Cycle) error {
		c.Request.Header.Set("X-Intercepted", "yes")
		return nil
	})))
	require.NoError(t, s.Intercept(InterceptOptions{
		Phase:     "response",
		As:        "string",
		Predicate: Predicate{MimeType: String("text/plain")},
	}, HandlerFunc(func(c *Cycle) error {
		c.Response.Body.SetString(strings.ToUpper(c.Response.Body.String()))
		return nil
	})))

	status, body := getBody(t, client, origin.URL+"/bobo")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "BOBO YES", body)

	// second request on the same client connection
	status, body = getBody(t, client, origin.URL+"/other")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "BOBO ", body)
}

func TestSkippedFetchNeverReachesOrigin(t *testing.T) {
	var hits atomic.Int32
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer origin.Close()

	s, client := listeningServer(t, nil)
	var logs logRecorder
	s.LogFunc("debug", logs.add)
	require.NoError(t, s.On("request", HandlerFunc(func(c *Cycle) error {
		c.Response.Fill(http.StatusOK, "text/plain", "from proxy")
		return nil
	})))

	status, body := getBody(t, client, origin.URL+"/x")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "from proxy", body)
	assert.Zero(t, hits.Load())
	assert.Len(t, logs.matching("server fetch skipped for "+origin.URL+"/x"), 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(s.metrics.fetchSkipped))
}

func TestUnreachableOriginGetsBadGateway(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	dead := l.Addr().String()
	l.Close()

	s, client := listeningServer(t, func(o *Options) {
		o.ErrorPages.Connect = []byte("cannot reach %H")
	})
	var onErr atomic.Value
	s.OnError(func(err error) { onErr.Store(err) })

	status, body := getBody(t, client, "http://"+dead+"/")
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, "cannot reach 127.0.0.1", body)
	assert.NotNil(t, onErr.Load())
}

func TestNonProxyRequestIsRejected(t *testing.T) {
	s, _ := listeningServer(t, nil)
	resp, err := http.Get("http://" + s.Addr().String() + "/direct")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, nonProxyMessage, string(body))
}

func TestReverseMode(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "reversed "+r.URL.Path)
	}))
	defer origin.Close()

	var logs logRecorder
	s := newTestServer(t, func(o *Options) { o.Reverse = origin.URL })
	s.LogFunc("info", logs.add)
	require.NoError(t, s.Listen("127.0.0.1:0"))
	assert.Len(t, logs.matching(", reverse "+origin.URL), 1)

	resp, err := http.Get("http://" + s.Addr().String() + "/path")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "reversed /path", string(body))
}

func TestBadReverseTarget(t *testing.T) {
	opts := DefaultOptions()
	opts.Reverse = "backend:8080/path"
	_, err := New(opts)
	require.Error(t, err)
}

func TestListenLogsPort(t *testing.T) {
	var logs logRecorder
	s := newTestServer(t, nil)
	s.LogFunc("info", logs.add)
	require.NoError(t, s.Listen("127.0.0.1:0"))
	port := s.Addr().(*net.TCPAddr).Port
	recs := logs.matching("proxy listening on ")
	require.Len(t, recs, 1)
	assert.Equal(t, "proxy listening on "+strconv.Itoa(port), recs[0].Text())
}

func TestMalformedRequestGets400(t *testing.T) {
	s, _ := listeningServer(t, nil)
	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	io.WriteString(conn, "NOT HTTP AT ALL\r\n\r\n")
	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 400 Bad Request\r\n", line)
}

func TestCloseStopsServing(t *testing.T) {
	s, _ := listeningServer(t, nil)
	addr := s.Addr().String()
	require.NoError(t, s.Close())
	_, err := net.Dial("tcp", addr)
	require.Error(t, err)
	require.ErrorIs(t, s.Listen("127.0.0.1:0"), ErrServerClosed)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	require.True(t, errors.Is(s.Serve(l), ErrServerClosed))
}

func TestMetricsHandler(t *testing.T) {
	s := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	s.metrics.recordExchange("GET", "http:")
	s.MetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `interceptor_exchanges_total{method="GET",protocol="http:"} 1`)
}

func TestServeLogsPort(t *testing.T) {
	var logs logRecorder
	s := newTestServer(t, nil)
	s.LogFunc("info", logs.add)
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	served := make(chan error, 1)
	go func() { served <- s.Serve(l) }()

	want := "proxy listening on " + strconv.Itoa(l.Addr().(*net.TCPAddr).Port)
	require.Eventually(t, func() bool { return len(logs.matching(want)) == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, s.Close())
	assert.ErrorIs(t, <-served, ErrServerClosed)
}
