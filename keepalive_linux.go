//go:build linux

package interceptor

import (
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

type keepAliveConn interface {
	SetKeepAlive(bool) error
	SetKeepAlivePeriod(time.Duration) error
	SyscallConn() (syscall.RawConn, error)
}

// setKeepAlive enables TCP keepalive with the given idle time, retry
// interval and retry count.
func setKeepAlive(conn net.Conn, o KeepAliveOptions) error {
	kc, ok := conn.(keepAliveConn)
	if !ok {
		return nil
	}
	if err := kc.SetKeepAlive(true); err != nil {
		return err
	}
	if err := kc.SetKeepAlivePeriod(o.Idle); err != nil {
		return err
	}
	raw, err := kc.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	err = raw.Control(func(fdPtr uintptr) {
		fd := int(fdPtr)
		if o.Interval > 0 {
			// wait time after an unanswered keepalive
			if sockErr = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, int(o.Interval/time.Second)); sockErr != nil {
				return
			}
		}
		if o.Count > 0 {
			sockErr = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPCNT, o.Count)
		}
	})
	if err != nil {
		return err
	}
	return sockErr
}
