package interceptor

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

// textResponse builds an origin response for fake transports.
func textResponse(req *http.Request, status int, body string) *http.Response {
	return &http.Response{
		StatusCode:    status,
		Status:        http.StatusText(status),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{"Content-Type": {"text/plain"}},
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

// logRecorder collects log records from any goroutine.
type logRecorder struct {
	mu   sync.Mutex
	recs []LogRecord
}

func (r *logRecorder) add(rec LogRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, rec)
}

func (r *logRecorder) matching(substr string) []LogRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []LogRecord
	for _, rec := range r.recs {
		if strings.Contains(rec.Text(), substr) {
			out = append(out, rec)
		}
	}
	return out
}

func newTestServer(t *testing.T, tweak func(*Options)) *Server {
	t.Helper()
	opts := DefaultOptions()
	if tweak != nil {
		tweak(&opts)
	}
	s, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// listeningServer returns a started server and a client that uses it as
// proxy.
func listeningServer(t *testing.T, tweak func(*Options)) (*Server, *http.Client) {
	t.Helper()
	s := newTestServer(t, tweak)
	require.NoError(t, s.Listen("127.0.0.1:0"))
	proxyURL, err := url.Parse("http://" + s.Addr().String())
	require.NoError(t, err)
	client := &http.Client{Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)}}
	t.Cleanup(client.CloseIdleConnections)
	return s, client
}

// testCycle builds a cycle for rawURL as if it was read from a client.
func testCycle(t *testing.T, s *Server, method, rawURL string) *Cycle {
	t.Helper()
	c := newCycle(context.Background(), s)
	require.NoError(t, c.Request.SetFullURL(rawURL))
	c.Request.Method = method
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	c.Request.Header.Set("Host", u.Host)
	return c
}

func getBody(t *testing.T, client *http.Client, rawURL string) (int, string) {
	t.Helper()
	resp, err := client.Get(rawURL)
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, buf.String()
}
