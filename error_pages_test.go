package interceptor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorPages(t *testing.T) {
	pages := ErrorPages{
		DNS:     []byte("no such host %H"),
		Connect: []byte("connect to %H failed"),
		Timeout: []byte("%H is slow"),
	}
	dnsErr := &net.DNSError{Err: "no such host", Name: "nx.example", IsNotFound: true}
	opErr := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}

	tests := []struct {
		name   string
		err    error
		status int
		body   string
	}{
		{"dns", fmt.Errorf("dial: %w", dnsErr), http.StatusBadGateway, "no such host nx.example"},
		{"connect", opErr, http.StatusBadGateway, "connect to nx.example failed"},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout, "nx.example is slow"},
		{"dns timeout", &net.DNSError{Err: "i/o timeout", IsTimeout: true}, http.StatusGatewayTimeout, "nx.example is slow"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := pages.page(tt.err, "nx.example")
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.body, body)
		})
	}
}

func TestDefaultErrorPageEscapes(t *testing.T) {
	var pages ErrorPages
	status, body := pages.page(errors.New("bad <thing>"), "h")
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, "<html><body><h1>Bad Gateway</h1><p>bad &lt;thing&gt;</p></body></html>", body)
}
