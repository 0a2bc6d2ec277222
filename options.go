package interceptor

import (
	"crypto/tls"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// TLSOptions configures interception of CONNECT tunnels.
type TLSOptions struct {
	// Intercept terminates TLS inside CONNECT tunnels and runs the decrypted
	// requests through the pipeline. When false tunnels are relayed blindly.
	Intercept bool
	// CA signs forged certificates. When nil, and neither PEM nor files are
	// given, forged certificates are self-signed.
	CA         *tls.Certificate
	CACertPEM  []byte
	CAKeyPEM   []byte
	CACertFile string
	CAKeyFile  string
}

func (o TLSOptions) loadCA() (*tls.Certificate, error) {
	switch {
	case o.CA != nil:
		return o.CA, nil
	case len(o.CACertPEM) > 0:
		return LoadCA(o.CACertPEM, o.CAKeyPEM)
	case o.CACertFile != "":
		return LoadCAFiles(o.CACertFile, o.CAKeyFile)
	}
	return nil, nil
}

// Options are the construction parameters of a Server.
//
// Start from DefaultOptions and customize, zero values of the durations are
// not replaced.
type Options struct {
	// Reverse sends every plain request to this origin, e.g. "http://backend:8080".
	Reverse string
	// UpstreamProxy routes outbound traffic through another proxy. http,
	// https and socks5 URLs are supported.
	UpstreamProxy string
	TLS           TLSOptions
	// ProxyAgent is sent in the Proxy-agent header of CONNECT replies.
	ProxyAgent string

	// StallTimeout is how long an interceptor may run before a diagnostic is logged.
	StallTimeout time.Duration
	// ReadTimeout bounds the wait for the next request on an idle client connection.
	ReadTimeout time.Duration
	// ResponseTimeout bounds the wait for origin response headers. Zero means none.
	ResponseTimeout time.Duration

	// CertCacheSize is the number of forged certificates kept. Zero forges a
	// fresh certificate on every handshake.
	CertCacheSize int
	CertCacheTTL  time.Duration
	// CorrelationTTL is how long an unclaimed tunnel correlation entry lives.
	CorrelationTTL time.Duration

	// DNSServer, when set, resolves origin names by querying this server.
	DNSServer string
	// KeepAlive tunes TCP keepalive on accepted client connections (linux).
	KeepAlive KeepAliveOptions

	Logger     *zap.Logger
	Metrics    *Metrics
	ErrorPages ErrorPages
	// Transport overrides the outbound round tripper.
	Transport http.RoundTripper
}

// KeepAliveOptions are TCP keepalive parameters. A zero Idle leaves the
// system defaults.
type KeepAliveOptions struct {
	Idle     time.Duration
	Interval time.Duration
	Count    int
}

// DefaultOptions returns the recommended initial options for the proxy server.
// You can freely edit them before passing them to New.
func DefaultOptions() Options {
	return Options{
		ProxyAgent:     "interceptor",
		StallTimeout:   5 * time.Second,
		ReadTimeout:    2 * time.Minute,
		CertCacheSize:  1024,
		CertCacheTTL:   24 * time.Hour,
		CorrelationTTL: 30 * time.Second,
		Logger:         zap.NewNop(),
	}
}

func (o *Options) reverseURL() (*url.URL, error) {
	if o.Reverse == "" {
		return nil, nil
	}
	u, err := url.Parse(o.Reverse)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, &url.Error{Op: "parse", URL: o.Reverse, Err: errNotAbsolute}
	}
	return u, nil
}
