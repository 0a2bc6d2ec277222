package interceptor

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
)

// Request is the mutable view interceptors get of the client request.
type Request struct {
	Protocol string // "http:" or "https:"
	Hostname string
	Port     string // empty when the client did not name one
	Method   string
	URL      string // path and query
	Header   Header
	Body     Body

	RemoteAddr string

	protoMajor int
	protoMinor int
	close      bool
}

func newRequest() *Request {
	r := &Request{Method: http.MethodGet, URL: "/", Protocol: "http:", protoMajor: 1, protoMinor: 1}
	r.Body = newBody(&r.Header)
	return r
}

// FullURL returns protocol, host, port and url joined together.
func (r *Request) FullURL() string {
	host := r.Hostname
	if strings.IndexByte(host, ':') >= 0 {
		host = "[" + host + "]"
	}
	if r.Port != "" {
		host += ":" + r.Port
	}
	return r.Protocol + "//" + host + r.URL
}

// Host returns the Host header, falling back to hostname and port.
func (r *Request) Host() string {
	if h := r.Header.Get("Host"); h != "" {
		return h
	}
	if r.Port != "" {
		return net.JoinHostPort(r.Hostname, r.Port)
	}
	return r.Hostname
}

// SetFullURL points the request at a new absolute URL.
func (r *Request) SetFullURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("not an absolute url: %q", raw)
	}
	r.Protocol = u.Scheme + ":"
	r.Hostname = u.Hostname()
	r.Port = u.Port()
	r.URL = u.RequestURI()
	return nil
}

func (r *Request) effectivePort() string {
	if r.Port != "" {
		return r.Port
	}
	if r.Protocol == "https:" {
		return "443"
	}
	return "80"
}

// target is the origin address a request is sent to.
type target struct {
	scheme string
	host   string
	port   string
	// data set on the CONNECT cycle, inherited by every exchange of the tunnel
	data map[string]any
}

func (t target) String() string {
	return t.scheme + "://" + net.JoinHostPort(t.host, t.port)
}

func parseTarget(scheme, hostport string) (target, error) {
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		if !strings.Contains(err.Error(), "missing port") {
			return target{}, err
		}
		host = strings.Trim(hostport, "[]")
		port = "443"
		if scheme == "http" {
			port = "80"
		}
	}
	return target{scheme: scheme, host: host, port: port}, nil
}

// setHTTPSource fills the facade from a request read off a client
// connection. A bound target (tunnel or transparent mode) wins over a reverse
// target, which wins over the absolute request URI.
func (r *Request) setHTTPSource(in *http.Request, names []string, bound *target, reverse *url.URL) error {
	r.Method = in.Method
	r.URL = in.URL.RequestURI()
	// net/http moves Host out of the header map, put it back so it keeps its
	// place in the original order
	src := in.Header
	if in.Host != "" && src.Get("Host") == "" {
		src = src.Clone()
		src.Set("Host", in.Host)
	}
	r.Header = headerFromHTTP(src, names)
	r.RemoteAddr = in.RemoteAddr
	r.protoMajor, r.protoMinor = in.ProtoMajor, in.ProtoMinor
	r.close = in.Close
	r.Body = newBody(&r.Header)
	if in.Body != nil && in.Body != http.NoBody {
		r.Body.setSource(in.Body, in.ContentLength)
	}

	switch {
	case bound != nil:
		r.Protocol = bound.scheme + ":"
		r.Hostname = bound.host
		r.Port = bound.port
	case reverse != nil:
		r.Protocol = reverse.Scheme + ":"
		r.Hostname = reverse.Hostname()
		r.Port = reverse.Port()
	case in.URL.IsAbs():
		r.Protocol = in.URL.Scheme + ":"
		r.Hostname = in.URL.Hostname()
		r.Port = in.URL.Port()
	default:
		return errNotProxyRequest
	}
	return nil
}

// setConnectSource fills the facade from a CONNECT request for tgt.
func (r *Request) setConnectSource(in *http.Request, tgt target) {
	r.Method = in.Method
	r.Protocol = tgt.scheme + ":"
	r.Hostname, r.Port = tgt.host, tgt.port
	r.URL = ""
	r.Header = headerFromHTTP(in.Header, nil)
	r.Header.Set("Host", net.JoinHostPort(tgt.host, tgt.port))
	r.RemoteAddr = in.RemoteAddr
	r.protoMajor, r.protoMinor = in.ProtoMajor, in.ProtoMinor
	r.close = true
	r.Body = newBody(&r.Header)
}

// toHTTP builds the outbound request. Views are serialized and hop-by-hop
// headers dropped.
func (r *Request) toHTTP(ctx context.Context) (*http.Request, error) {
	body, size, err := r.Body.reader()
	if err != nil {
		return nil, err
	}
	if size == 0 {
		body = nil
	}
	u := &url.URL{
		Scheme: strings.TrimSuffix(r.Protocol, ":"),
		Host:   net.JoinHostPort(r.Hostname, r.effectivePort()),
	}
	ref, err := url.ParseRequestURI(r.URL)
	if err != nil {
		return nil, fmt.Errorf("bad request url %q: %w", r.URL, err)
	}
	u.Path, u.RawPath, u.RawQuery = ref.Path, ref.RawPath, ref.RawQuery

	out, err := http.NewRequestWithContext(ctx, r.Method, u.String(), body)
	if err != nil {
		return nil, err
	}
	h := r.Header.Clone()
	h.removeHopHeaders()
	h.Del("Host")
	h.Del("Content-Length")
	out.Header = h.HTTPHeader()
	out.Host = r.Host()
	out.ContentLength = size
	return out, nil
}
