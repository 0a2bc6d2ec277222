package http1parser_test

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/Windscribe/interceptor/internal/http1parser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadRequestKeepsHeaderOrder(t *testing.T) {
	data := "POST /index.html HTTP/1.1\r\n" +
		"Host: www.test.com\r\n" +
		"lowercase: 3z\r\n" +
		"Accept: */*\r\n" +
		"Content-Length: 17\r\n" +
		"\r\n" +
		`{"hello":"world"}`

	r := http1parser.NewRequestReader(strings.NewReader(data))
	req, names, err := r.ReadRequest()
	require.NoError(t, err)
	assert.Equal(t, []string{"Host", "lowercase", "Accept", "Content-Length"}, names)
	assert.Equal(t, "3z", req.Header.Get("Lowercase"))

	body, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.Equal(t, `{"hello":"world"}`, string(body))
}

func TestMultipleRequestsOnOneConnection(t *testing.T) {
	data := "POST /index.html HTTP/1.1\r\n" +
		"Host: www.test.com\r\n" +
		"Content-Length: 17\r\n" +
		"first: 1\r\n" +
		"\r\n" +
		`{"hello":"world"}`

	data2 := "GET /index.html HTTP/1.1\r\n" +
		"Host: www.test.com\r\n" +
		"second: 2\r\n" +
		"\r\n"

	r := http1parser.NewRequestReader(bytes.NewReader(append([]byte(data), data2...)))

	req, names, err := r.ReadRequest()
	require.NoError(t, err)
	assert.Contains(t, names, "first")
	// closing drains the body so the next request lines up
	require.NoError(t, req.Body.Close())

	req, names, err = r.ReadRequest()
	require.NoError(t, err)
	assert.Equal(t, "GET", req.Method)
	assert.Equal(t, []string{"Host", "second"}, names)
	assert.True(t, r.IsEOF())
}

func TestReadRequestEOF(t *testing.T) {
	r := http1parser.NewRequestReader(strings.NewReader(""))
	_, _, err := r.ReadRequest()
	require.ErrorIs(t, err, io.EOF)
}

func TestReadRequestOversizedHead(t *testing.T) {
	data := "GET / HTTP/1.1\r\n" +
		"Host: a\r\n" +
		"X-Big: " + strings.Repeat("a", http1parser.MaxHeaderBytes) + "\r\n" +
		"\r\n"
	r := http1parser.NewRequestReader(strings.NewReader(data))
	req, names, err := r.ReadRequest()
	require.NoError(t, err)
	assert.Nil(t, names)
	assert.Equal(t, "a", req.Host)
}
