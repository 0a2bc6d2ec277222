//go:build !linux

package interceptor

import "errors"

// ListenTransparent needs TPROXY support, which only exists on linux.
func (s *Server) ListenTransparent(addr string) error {
	return errors.New("transparent mode is only supported on linux")
}
