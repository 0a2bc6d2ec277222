//go:build !linux

package interceptor

import (
	"net"
	"time"
)

// setKeepAlive only sets the idle period, interval and count tuning needs linux.
func setKeepAlive(conn net.Conn, o KeepAliveOptions) error {
	kc, ok := conn.(interface {
		SetKeepAlive(bool) error
		SetKeepAlivePeriod(time.Duration) error
	})
	if !ok {
		return nil
	}
	if err := kc.SetKeepAlive(true); err != nil {
		return err
	}
	return kc.SetKeepAlivePeriod(o.Idle)
}
