package interceptor

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/proxy"
)

type dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

func baseDialer(opts *Options) dialFunc {
	d := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
	if opts.DNSServer != "" {
		return resolvingDialer(NewDNSResolver(opts.DNSServer), d)
	}
	return d.DialContext
}

// tunnelDialer opens raw TCP connections for blind tunnels, through the
// upstream proxy when one is configured.
func tunnelDialer(opts *Options, base dialFunc) (dialFunc, error) {
	if opts.UpstreamProxy == "" {
		return base, nil
	}
	u, err := url.Parse(opts.UpstreamProxy)
	if err != nil {
		return nil, fmt.Errorf("upstream proxy: %w", err)
	}
	switch u.Scheme {
	case "", "http", "https":
		return connectDialer(u, base), nil
	case "socks5", "socks5h":
		return socksDialer(u, base)
	default:
		return nil, fmt.Errorf("upstream proxy: unsupported scheme %q", u.Scheme)
	}
}

// connectDialer tunnels through an HTTP(S) proxy with a CONNECT request.
func connectDialer(u *url.URL, base dialFunc) dialFunc {
	proxyAddr := u.Host
	if strings.IndexRune(proxyAddr, ':') == -1 {
		if u.Scheme == "https" {
			proxyAddr += ":443"
		} else {
			proxyAddr += ":80"
		}
	}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		c, err := base(ctx, network, proxyAddr)
		if err != nil {
			return nil, err
		}
		if u.Scheme == "https" {
			c = tls.Client(c, &tls.Config{ServerName: u.Hostname(), InsecureSkipVerify: true})
		}
		connectReq := &http.Request{
			Method: http.MethodConnect,
			URL:    &url.URL{Opaque: addr},
			Host:   addr,
			Header: make(http.Header),
		}
		if u.User != nil {
			pass, _ := u.User.Password()
			connectReq.SetBasicAuth(u.User.Username(), pass)
			connectReq.Header.Set("Proxy-Authorization", connectReq.Header.Get("Authorization"))
			connectReq.Header.Del("Authorization")
		}
		if err := connectReq.Write(c); err != nil {
			c.Close()
			return nil, err
		}
		// Okay to use and discard buffered reader here, the target will not
		// speak until spoken to.
		resp, err := http.ReadResponse(bufio.NewReader(c), connectReq)
		if err != nil {
			c.Close()
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 500))
			c.Close()
			return nil, errors.New("proxy refused connection: " + resp.Status + " " + string(body))
		}
		return c, nil
	}
}

type dialFuncAdapter dialFunc

func (f dialFuncAdapter) Dial(network, addr string) (net.Conn, error) {
	return f(context.Background(), network, addr)
}

func (f dialFuncAdapter) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	return f(ctx, network, addr)
}

func socksDialer(u *url.URL, base dialFunc) (dialFunc, error) {
	d, err := proxy.FromURL(u, dialFuncAdapter(base))
	if err != nil {
		return nil, fmt.Errorf("upstream proxy: %w", err)
	}
	if cd, ok := d.(proxy.ContextDialer); ok {
		return cd.DialContext, nil
	}
	return func(_ context.Context, network, addr string) (net.Conn, error) {
		return d.Dial(network, addr)
	}, nil
}
