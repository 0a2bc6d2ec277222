//go:build linux

package interceptor

import (
	"errors"
	"net"
	"strconv"

	tproxy "github.com/LiamHaworth/go-tproxy"
)

// ListenTransparent binds a TPROXY listener on addr. Connections redirected
// to it by the firewall are tunneled to their original destination, exactly
// like a CONNECT to that address. For TLS clients the SNI name becomes the
// target hostname. Needs CAP_NET_ADMIN and matching iptables rules.
func (s *Server) ListenTransparent(addr string) error {
	laddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return err
	}
	l, err := tproxy.ListenTCP("tcp", laddr)
	if err != nil {
		s.errorf(err, "transparent listener")
		return err
	}
	if err := s.start(); err != nil {
		l.Close()
		return err
	}
	if !s.trackListener(l) {
		l.Close()
		return ErrServerClosed
	}
	s.infof("transparent proxy listening on %s", strconv.Itoa(l.Addr().(*net.TCPAddr).Port))
	s.goFunc(func() {
		if err := s.acceptLoop(l, s.handleTransparent); err != nil && !errors.Is(err, ErrServerClosed) {
			s.errorf(err, "transparent listener")
		}
	})
	return nil
}

func (s *Server) handleTransparent(conn net.Conn) {
	defer conn.Close()
	if !s.trackConn(conn, true) {
		return
	}
	defer s.trackConn(conn, false)
	s.tuneKeepAlive(conn)

	dst, ok := conn.LocalAddr().(*net.TCPAddr)
	if !ok {
		s.warnf("transparent connection without tcp destination: %s", conn.LocalAddr())
		return
	}
	tgt := target{scheme: "https", host: dst.IP.String(), port: strconv.Itoa(dst.Port)}
	s.tunnel(s.ctx, conn, tgt, "transparent")
}
