package interceptor

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"net/url"
	"time"
)

type fetchResult struct {
	resp *http.Response
	err  error
}

// fetch starts the origin round trip. The outbound request is built before
// returning, so request-sent interceptors cannot race its serialization.
func (s *Server) fetch(c *Cycle) <-chan fetchResult {
	ch := make(chan fetchResult, 1)
	req, err := c.Request.toHTTP(c.Context())
	if err != nil {
		ch <- fetchResult{err: err}
		return ch
	}
	c.Debugf("fetching %s", c.Request.FullURL())
	go func() {
		resp, err := s.transport.RoundTrip(req)
		ch <- fetchResult{resp: resp, err: err}
	}()
	return ch
}

// fail logs a forwarding error and fills the response with the matching
// error page.
func (s *Server) fail(c *Cycle, err error) {
	c.Errorf(err, "forwarding %s", c.Request.FullURL())
	status, body := s.opts.ErrorPages.page(err, c.Request.Hostname)
	s.metrics.recordForwardError(status)
	c.Response.Fill(status, "text/html", body)
}

// newTransport builds the outbound transport. Connections to origins are
// never reused and HTTP/2 is never negotiated.
func newTransport(opts *Options, dial dialFunc) (*http.Transport, error) {
	tr := &http.Transport{
		DialContext:           dial,
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: true},
		TLSNextProto:          map[string]func(string, *tls.Conn) http.RoundTripper{},
		DisableKeepAlives:     true,
		DisableCompression:    true,
		ForceAttemptHTTP2:     false,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: opts.ResponseTimeout,
		ExpectContinueTimeout: time.Second,
	}
	if opts.UpstreamProxy != "" {
		u, err := url.Parse(opts.UpstreamProxy)
		if err != nil {
			return nil, err
		}
		tr.Proxy = http.ProxyURL(u)
	}
	return tr, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
