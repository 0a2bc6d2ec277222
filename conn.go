package interceptor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httputil"
	"strconv"
	"sync"
	"time"

	"github.com/Windscribe/interceptor/internal/http1parser"
)

const nonProxyMessage = "This is a proxy server. Does not respond to non-proxy requests.\n"

// serveConn reads requests off a client connection and runs each through the
// pipeline. bound is the destination fixed by a tunnel, nil for a plain proxy
// connection. Only one handling path exists, tunnels end up here too.
func (s *Server) serveConn(conn net.Conn, bound *target) {
	defer conn.Close()
	if !s.trackConn(conn, true) {
		return
	}
	defer s.trackConn(conn, false)

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	rr := http1parser.NewRequestReader(conn)
	bw := bufio.NewWriter(conn)
	for {
		if s.opts.ReadTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
		}
		req, names, err := rr.ReadRequest()
		if err != nil {
			if !isClosedConn(err) {
				s.debugf("cannot read request from %s: %v", conn.RemoteAddr(), err)
				io.WriteString(conn, "HTTP/1.1 400 Bad Request\r\nConnection: close\r\n\r\n")
			}
			return
		}
		conn.SetReadDeadline(time.Time{})
		req.RemoteAddr = conn.RemoteAddr().String()

		if req.Method == http.MethodConnect {
			if bound != nil {
				io.WriteString(conn, "HTTP/1.1 405 Method Not Allowed\r\nConnection: close\r\n\r\n")
				return
			}
			s.handleConnect(ctx, &prefixConn{Conn: conn, prefix: buffered(rr.Reader())}, req)
			return
		}

		c := newCycle(ctx, s)
		if bound != nil {
			c.inherit(bound.data)
		}
		keepAlive := false
		if err := c.Request.setHTTPSource(req, names, bound, s.reverse); err != nil {
			c.Debugf("rejecting non-proxy request for %s", req.URL)
			c.Response.Fill(http.StatusInternalServerError, "text/plain; charset=utf-8", nonProxyMessage)
			keepAlive, err = writeResponse(bw, c)
			if err != nil {
				keepAlive = false
			}
		} else {
			if bound != nil && bound.scheme == "https" {
				c.Debugf("https request received for %s", c.Request.FullURL())
			}
			keepAlive = s.exchange(c, bw)
		}
		req.Body.Close()
		if err := bw.Flush(); err != nil || !keepAlive {
			return
		}
	}
}

func isClosedConn(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// buffered drains what the reader already pulled off the connection.
func buffered(r *bufio.Reader) []byte {
	n := r.Buffered()
	if n == 0 {
		return nil
	}
	b := make([]byte, n)
	io.ReadFull(r, b)
	return b
}

// prefixConn wraps a net.Conn and replays prefix before reading from it.
type prefixConn struct {
	net.Conn
	prefix []byte
	mu     sync.Mutex
}

func (pc *prefixConn) Read(b []byte) (int, error) {
	pc.mu.Lock()
	if len(pc.prefix) > 0 {
		n := copy(b, pc.prefix)
		pc.prefix = pc.prefix[n:]
		pc.mu.Unlock()
		return n, nil
	}
	pc.mu.Unlock()
	return pc.Conn.Read(b)
}

// framingHeaders are recomputed for every response written to a client.
// Proxy-Authenticate is left alone, it is meant for the client.
var framingHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func bodyAllowed(method string, status int) bool {
	if method == http.MethodHead {
		return false
	}
	switch {
	case status >= 100 && status <= 199:
		return false
	case status == http.StatusNoContent, status == http.StatusNotModified:
		return false
	}
	return true
}

// writeResponse serializes the response facade for the client and reports
// whether the connection can carry another request. Framing is recomputed
// from the body that is actually sent.
func writeResponse(w io.Writer, c *Cycle) (bool, error) {
	req, resp := c.Request, c.Response
	if !resp.Populated() {
		resp.Fill(http.StatusBadGateway, "text/plain; charset=utf-8", "no response\n")
	}
	keepAlive := !req.close && (req.protoMajor > 1 || (req.protoMajor == 1 && req.protoMinor >= 1))

	h := resp.Header.Clone()
	for _, name := range framingHeaders {
		h.Del(name)
	}

	var (
		body    io.Reader
		size    int64
		chunked bool
	)
	if bodyAllowed(req.Method, resp.StatusCode) {
		r, n, err := resp.Body.reader()
		if err != nil {
			return false, err
		}
		h.Del("Content-Length")
		switch {
		case n >= 0:
			h.Set("Content-Length", strconv.FormatInt(n, 10))
		case keepAlive:
			h.Set("Transfer-Encoding", "chunked")
			chunked = true
		default:
			// length unknown and no chunking, the end of the body is
			// signalled by closing the connection
		}
		body, size = r, n
	}
	if body != nil && size < 0 && !chunked {
		keepAlive = false
	}
	if !keepAlive {
		h.Set("Connection", "close")
	}

	if _, err := fmt.Fprintf(w, "HTTP/1.1 %03d %s\r\n", resp.StatusCode, http.StatusText(resp.StatusCode)); err != nil {
		return false, err
	}
	if err := h.write(w); err != nil {
		return false, err
	}
	if _, err := io.WriteString(w, "\r\n"); err != nil {
		return false, err
	}
	if body == nil || size == 0 {
		return keepAlive, nil
	}
	if chunked {
		cw := httputil.NewChunkedWriter(w)
		if _, err := io.Copy(cw, body); err != nil {
			return false, err
		}
		if err := cw.Close(); err != nil {
			return false, err
		}
		_, err := io.WriteString(w, "\r\n")
		return keepAlive, err
	}
	if size > 0 {
		_, err := io.CopyN(w, body, size)
		return keepAlive, err
	}
	_, err := io.Copy(w, body)
	return keepAlive, err
}
