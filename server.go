package interceptor

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrServerClosed is returned by Serve after Close.
	ErrServerClosed = errors.New("interceptor: server closed")

	errNotProxyRequest = errors.New("not a proxy request")
	errNotAbsolute     = errors.New("url is not absolute")
)

// correlationWait is how long the loopback listener waits for the CONNECT
// side to record where a tunnel goes.
const correlationWait = 5 * time.Second

// Server is a programmable intercepting proxy.
type Server struct {
	opts         Options
	reverse      *url.URL
	registry     registry
	logs         logBus
	metrics      *Metrics
	transport    http.RoundTripper
	tunnelDial   dialFunc
	signer       *cachedSigner
	correlations *correlationTable

	ctx    context.Context
	cancel context.CancelFunc

	startOnce sync.Once
	startErr  error

	mu        sync.Mutex
	closed    bool
	listeners []net.Listener
	addr      net.Addr
	loopback  net.Listener
	conns     map[net.Conn]struct{}
	wg        sync.WaitGroup
}

// New creates a proxy server. Nothing is bound until Listen or Serve.
func New(opts Options) (*Server, error) {
	if opts.StallTimeout <= 0 {
		opts.StallTimeout = 5 * time.Second
	}
	if opts.CorrelationTTL <= 0 {
		opts.CorrelationTTL = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}

	reverse, err := opts.reverseURL()
	if err != nil {
		return nil, fmt.Errorf("reverse: %w", err)
	}
	ca, err := opts.TLS.loadCA()
	if err != nil {
		return nil, err
	}

	base := baseDialer(&opts)
	tunnelDial, err := tunnelDialer(&opts, base)
	if err != nil {
		return nil, err
	}
	transport := opts.Transport
	if transport == nil {
		if transport, err = newTransport(&opts, base); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		opts:         opts,
		reverse:      reverse,
		metrics:      opts.Metrics,
		transport:    transport,
		tunnelDial:   tunnelDial,
		signer:       newCachedSigner(ca, opts.CertCacheSize, opts.CertCacheTTL, opts.Metrics),
		correlations: newCorrelationTable(opts.CorrelationTTL),
		ctx:          ctx,
		cancel:       cancel,
		conns:        make(map[net.Conn]struct{}),
	}
	s.logs.zap = opts.Logger
	return s, nil
}

// MetricsHandler serves the server's Prometheus metrics.
func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

// start brings up the loopback TLS listener the first time the server is
// used.
func (s *Server) start() error {
	s.startOnce.Do(func() {
		if !s.opts.TLS.Intercept {
			return
		}
		l, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			s.startErr = fmt.Errorf("tls loopback listener: %w", err)
			return
		}
		s.mu.Lock()
		s.loopback = l
		s.mu.Unlock()
		s.goFunc(func() { s.serveLoopback(l) })
		s.goFunc(func() { s.correlations.janitor(s.ctx, time.Second) })
	})
	return s.startErr
}

// goFunc runs fn on a goroutine Close waits for. It refuses once the server
// is closed.
func (s *Server) goFunc(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
	return true
}

// Listen binds addr and serves it in the background.
func (s *Server) Listen(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		s.errorf(err, "proxy server error")
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
	s.logListening(l.Addr())
	s.goFunc(func() {
		if err := s.acceptLoop(l, s.handleClient); err != nil && !errors.Is(err, ErrServerClosed) {
			s.errorf(err, "proxy server error")
		}
	})
	return nil
}

func (s *Server) logListening(addr net.Addr) {
	port := addr.String()
	if tcp, ok := addr.(*net.TCPAddr); ok {
		port = strconv.Itoa(tcp.Port)
	}
	msg := "proxy listening on " + port
	if s.reverse != nil {
		msg += ", reverse " + s.opts.Reverse
	}
	s.infof("%s", msg)
}

// Serve accepts client connections on l until it fails or the server is
// closed.
func (s *Server) Serve(l net.Listener) error {
	if err := s.start(); err != nil {
		return err
	}
	if !s.trackListener(l) {
		l.Close()
		return ErrServerClosed
	}
	s.logListening(l.Addr())
	return s.acceptLoop(l, s.handleClient)
}

func (s *Server) handleClient(conn net.Conn) {
	s.tuneKeepAlive(conn)
	s.serveConn(conn, nil)
}

func (s *Server) acceptLoop(l net.Listener, handle func(net.Conn)) error {
	var tempDelay time.Duration
	for {
		conn, err := l.Accept()
		if err != nil {
			if s.isClosed() {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else if tempDelay *= 2; tempDelay > time.Second {
					tempDelay = time.Second
				}
				s.warnf("accept error: %v; retrying in %v", err, tempDelay)
				time.Sleep(tempDelay)
				continue
			}
			return err
		}
		tempDelay = 0
		if !s.goFunc(func() { handle(conn) }) {
			conn.Close()
			return ErrServerClosed
		}
	}
}

func (s *Server) tuneKeepAlive(conn net.Conn) {
	if s.opts.KeepAlive.Idle <= 0 {
		return
	}
	if err := setKeepAlive(conn, s.opts.KeepAlive); err != nil {
		s.warnf("cannot set keepalive on %s: %v", conn.RemoteAddr(), err)
	}
}

// Addr returns the address of the first bound listener.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Close stops the listeners, aborts in-flight fetches and tunnels, and waits
// for connection handlers to return.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var errs []error
	for _, l := range s.listeners {
		if err := l.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if s.loopback != nil {
		s.loopback.Close()
	}
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	return errors.Join(errs...)
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) trackListener(l net.Listener) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.listeners = append(s.listeners, l)
	if s.addr == nil {
		s.addr = l.Addr()
	}
	return true
}

func (s *Server) trackConn(c net.Conn, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		if s.closed {
			return false
		}
		s.conns[c] = struct{}{}
	} else {
		delete(s.conns, c)
	}
	return true
}

func (s *Server) tlsConfig(tgt target) *tls.Config {
	return &tls.Config{
		GetCertificate: func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
			host := hello.ServerName
			if host == "" {
				host = tgt.host
			}
			return s.signer.signHost(host)
		},
		NextProtos: []string{"http/1.1"},
	}
}
