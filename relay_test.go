package interceptor

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRelayCopiesBothWaysAndClosesBoth(t *testing.T) {
	clientSide, a := net.Pipe()
	b, originSide := net.Pipe()

	done := make(chan struct{})
	go func() {
		relay(zap.NewNop(), "test", a, b)
		close(done)
	}()

	go clientSide.Write([]byte("ping"))
	buf := make([]byte, 4)
	_, err := io.ReadFull(originSide, buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf))

	go originSide.Write([]byte("pong"))
	_, err = io.ReadFull(clientSide, buf)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(buf))

	originSide.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not return after one side closed")
	}
	_, err = clientSide.Read(buf)
	assert.Error(t, err)
}
