package interceptor

import (
	"errors"
	"io"
	"net"
	"sync"

	"github.com/oxtoacart/bpool"
	"go.uber.org/zap"
)

var relayBuffers = bpool.NewBytePool(128, 32*1024)

// loopCopy moves bytes from in to out with a pooled buffer until in is
// exhausted or out fails.
func loopCopy(log *zap.Logger, conn, dir string, out io.Writer, in io.Reader) (int64, error) {
	buf := relayBuffers.Get()
	defer relayBuffers.Put(buf)

	var total int64
	for {
		n, readErr := in.Read(buf)
		if n > 0 {
			if _, writeErr := out.Write(buf[:n]); writeErr != nil {
				log.Debug("writing",
					zap.String("conn", conn),
					zap.String("dir", dir),
					zap.Int64("total", total),
					zap.Error(writeErr),
				)
				return total, writeErr
			}
			total += int64(n)
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				readErr = nil
			}
			log.Debug("done",
				zap.String("conn", conn),
				zap.String("dir", dir),
				zap.Int64("total", total),
				zap.Error(readErr),
			)
			return total, readErr
		}
	}
}

// relay copies between a and b in both directions. When either direction
// ends both connections are closed, so the other copy unblocks.
func relay(log *zap.Logger, name string, a, b net.Conn) {
	var (
		wg   sync.WaitGroup
		once sync.Once
	)
	closeBoth := func() {
		once.Do(func() {
			a.Close()
			b.Close()
		})
	}
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer closeBoth()
		loopCopy(log, name, "up", b, a)
	}()
	go func() {
		defer wg.Done()
		defer closeBoth()
		loopCopy(log, name, "down", a, b)
	}()
	wg.Wait()
}
