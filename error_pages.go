package interceptor

import (
	"errors"
	"html"
	"net"
	"net/http"
	"strings"
)

// ErrorPages holds the bodies sent to clients when the origin cannot be
// reached. "%H" in a template is replaced with the target hostname. An empty
// template falls back to a short built in page.
type ErrorPages struct {
	Connect []byte
	DNS     []byte
	Timeout []byte
	General []byte
}

const defaultErrorPage = "<html><body><h1>%S</h1><p>%E</p></body></html>"

// page picks status and body for a forwarding error: 504 on timeouts, 502
// otherwise, with the DNS and connect templates chosen by error type.
func (e *ErrorPages) page(err error, host string) (int, string) {
	var (
		status = http.StatusBadGateway
		tmpl   []byte
		dnsErr *net.DNSError
		opErr  *net.OpError
	)
	switch {
	case isTimeout(err):
		status = http.StatusGatewayTimeout
		tmpl = e.Timeout
	case errors.As(err, &dnsErr):
		tmpl = e.DNS
	case errors.As(err, &opErr):
		tmpl = e.Connect
	default:
		tmpl = e.General
	}
	body := string(tmpl)
	if body == "" {
		body = strings.NewReplacer(
			"%S", http.StatusText(status),
			"%E", html.EscapeString(err.Error()),
		).Replace(defaultErrorPage)
	}
	return status, strings.ReplaceAll(body, "%H", html.EscapeString(host))
}
