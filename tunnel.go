package interceptor

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	vhost "github.com/Windscribe/go-vhost"
)

const sniffTimeout = 10 * time.Second

// handleConnect answers a CONNECT request and takes over the client
// connection.
func (s *Server) handleConnect(ctx context.Context, client net.Conn, req *http.Request) {
	hostport := req.URL.Host
	if hostport == "" {
		hostport = req.Host
	}
	tgt, err := parseTarget("https", hostport)
	if err != nil || tgt.host == "" {
		s.warnf("bad CONNECT target %q from %s", hostport, req.RemoteAddr)
		io.WriteString(client, "HTTP/1.1 400 Bad Request\r\nConnection: close\r\n\r\n")
		return
	}
	s.debugf("http connect received for %s", hostport)

	c := newCycle(ctx, s)
	c.Request.setConnectSource(req, tgt)
	if !s.admitConnect(c) {
		bw := bufio.NewWriter(client)
		if _, err := writeResponse(bw, c); err == nil {
			bw.Flush()
		}
		c.Response.Body.close()
		return
	}
	tgt.data = c.dataSnapshot()

	established := "HTTP/1.1 200 Connection Established\r\n" +
		"Proxy-agent: " + s.opts.ProxyAgent + "\r\n" +
		"\r\n"
	if _, err := io.WriteString(client, established); err != nil {
		s.debugf("cannot answer CONNECT from %s: %v", req.RemoteAddr, err)
		return
	}
	s.tunnel(ctx, client, tgt, "connect")
}

// admitConnect runs the connect handlers in order and reports whether the
// tunnel may be opened. A failing handler refuses it with a 500.
func (s *Server) admitConnect(c *Cycle) bool {
	for _, h := range s.registry.connectHandlers() {
		if err := s.invoke(c, h); err != nil {
			c.Errorf(err, "connect handler error")
			c.Response.Fill(http.StatusInternalServerError, "text/plain; charset=utf-8", "cannot open tunnel\n")
			return false
		}
		if c.Response.Populated() {
			c.Debugf("tunnel to %s refused with %d", c.Request.Host(), c.Response.StatusCode)
			return false
		}
	}
	return true
}

// tunnel carries a client connection whose destination is already known.
// TLS is terminated on the loopback listener, plain HTTP is served right here,
// and with interception off the bytes are relayed untouched.
func (s *Server) tunnel(ctx context.Context, client net.Conn, tgt target, mode string) {
	if !s.opts.TLS.Intercept {
		s.blindTunnel(ctx, client, tgt, mode)
		return
	}

	conn, sni, isTLS, err := sniff(client)
	if err != nil {
		s.debugf("cannot sniff tunnel to %s: %v", tgt, err)
		client.Close()
		return
	}
	if !isTLS {
		tgt.scheme = "http"
		s.metrics.tunnelOpened(mode + "-http")
		defer s.metrics.tunnelClosed()
		s.serveConn(conn, &tgt)
		return
	}
	if mode == "transparent" && sni != "" {
		tgt.host = sni
	}
	s.mitmTunnel(ctx, conn, tgt, mode)
}

// sniff peeks at the first bytes of the client. For a TLS client hello the
// returned conn replays it and sni carries the requested server name.
func sniff(client net.Conn) (conn net.Conn, sni string, isTLS bool, err error) {
	client.SetReadDeadline(time.Now().Add(sniffTimeout))
	defer client.SetReadDeadline(time.Time{})

	first := make([]byte, 1)
	if _, err := io.ReadFull(client, first); err != nil {
		return nil, "", false, err
	}
	prefixed := &prefixConn{Conn: client, prefix: first}
	// TLS records start with content type 0x16, handshake
	if first[0] != 0x16 {
		return prefixed, "", false, nil
	}
	hello, err := vhost.TLS(prefixed)
	if err != nil {
		return nil, "", true, err
	}
	return hello, hello.Host(), true, nil
}

// mitmTunnel bridges the client to the loopback TLS listener and records
// where the resulting connection is headed.
func (s *Server) mitmTunnel(ctx context.Context, client net.Conn, tgt target, mode string) {
	s.mu.Lock()
	loopback := s.loopback
	s.mu.Unlock()
	if loopback == nil {
		s.errorf(errors.New("no loopback listener"), "tunnel to %s", tgt)
		client.Close()
		return
	}

	var d net.Dialer
	near, err := d.DialContext(ctx, "tcp", loopback.Addr().String())
	if err != nil {
		s.errorf(err, "tunnel to %s", tgt)
		client.Close()
		return
	}
	s.correlations.insert(near.LocalAddr().String(), tgt)

	s.metrics.tunnelOpened(mode + "-tls")
	defer s.metrics.tunnelClosed()
	stop := context.AfterFunc(ctx, func() {
		client.Close()
		near.Close()
	})
	defer stop()
	relay(s.opts.Logger, tgt.String(), client, near)
}

func (s *Server) blindTunnel(ctx context.Context, client net.Conn, tgt target, mode string) {
	addr := net.JoinHostPort(tgt.host, tgt.port)
	remote, err := s.tunnelDial(ctx, "tcp", addr)
	if err != nil {
		s.errorf(err, "cannot reach %s", addr)
		client.Close()
		return
	}
	s.metrics.tunnelOpened(mode + "-blind")
	defer s.metrics.tunnelClosed()
	stop := context.AfterFunc(ctx, func() {
		client.Close()
		remote.Close()
	})
	defer stop()
	relay(s.opts.Logger, addr, client, remote)
}

func (s *Server) serveLoopback(l net.Listener) {
	err := s.acceptLoop(l, s.serveTLS)
	if err != nil && !errors.Is(err, ErrServerClosed) {
		s.errorf(err, "tls loopback listener")
	}
}

// serveTLS claims the correlation entry of an accepted loopback connection,
// terminates TLS with a forged certificate and serves the decrypted requests
// with the tunnel target bound.
func (s *Server) serveTLS(raw net.Conn) {
	tgt, ok := s.correlations.consume(s.ctx, raw.RemoteAddr().String(), correlationWait)
	if !ok {
		s.warnf("no tunnel target for loopback connection %s", raw.RemoteAddr())
		raw.Close()
		return
	}
	conn := tls.Server(raw, s.tlsConfig(tgt))
	ctx, cancel := context.WithTimeout(s.ctx, sniffTimeout)
	err := conn.HandshakeContext(ctx)
	cancel()
	if err != nil {
		s.debugf("tls handshake for %s failed: %v", tgt, err)
		raw.Close()
		return
	}
	s.serveConn(conn, &tgt)
}
