package interceptor

import (
	"bytes"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderKeepsOrderAndSpelling(t *testing.T) {
	var h Header
	h.Add("x-lower", "1")
	h.Add("Accept", "a")
	h.Add("ACCEPT", "b")
	h.Add("Cookie", "c")

	assert.Equal(t, "1", h.Get("X-Lower"))
	assert.Equal(t, []string{"a", "b"}, h.Values("accept"))

	h.Set("accept", "z")
	var buf bytes.Buffer
	require.NoError(t, h.write(&buf))
	assert.Equal(t, "x-lower: 1\r\nAccept: z\r\nCookie: c\r\n", buf.String())

	h.Del("COOKIE")
	assert.False(t, h.Has("cookie"))
	assert.Equal(t, 2, h.Len())
}

func TestHeaderFromHTTPUsesWireNames(t *testing.T) {
	src := http.Header{
		"Host":       {"example.com"},
		"X-Custom":   {"1"},
		"User-Agent": {"test"},
		"Accept":     {"a", "b"},
	}
	h := headerFromHTTP(src, []string{"Host", "x-custom", "Accept", "Accept"})

	var names []string
	h.Each(func(name, _ string) { names = append(names, name) })
	assert.Equal(t, []string{"Host", "x-custom", "Accept", "Accept", "User-Agent"}, names)
	assert.Equal(t, []string{"a", "b"}, h.Values("Accept"))
}

func TestRemoveHopHeaders(t *testing.T) {
	var h Header
	h.Add("Connection", "keep-alive, X-Session")
	h.Add("X-Session", "1")
	h.Add("Keep-Alive", "timeout=5")
	h.Add("Transfer-Encoding", "chunked")
	h.Add("Content-Type", "text/plain")
	h.removeHopHeaders()

	var names []string
	h.Each(func(name, _ string) { names = append(names, name) })
	assert.Equal(t, []string{"Content-Type"}, names)
}
