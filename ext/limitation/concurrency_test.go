package limitation_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Windscribe/interceptor"
	"github.com/Windscribe/interceptor/ext/limitation"
)

func newCycle(t *testing.T, ctx context.Context) *interceptor.Cycle {
	c, err := interceptor.NewCycle(ctx, "GET", "http://test.com/")
	require.NoError(t, err)
	return c
}

func handle(h interceptor.Handler, c *interceptor.Cycle) error {
	errc := make(chan error, 1)
	h.Handle(c, func(err error) { errc <- err })
	return <-errc
}

func limitedProxy(t *testing.T, setup func(t *testing.T, srv *interceptor.Server)) *http.Client {
	srv, err := interceptor.New(interceptor.DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })
	setup(t, srv)
	require.NoError(t, srv.Listen("127.0.0.1:0"))

	tr := &http.Transport{Proxy: http.ProxyURL(&url.URL{Scheme: "http", Host: srv.Addr().String()})}
	t.Cleanup(tr.CloseIdleConnections)
	return &http.Client{Transport: tr, Timeout: 2 * time.Second}
}

func TestConcurrentRequests(t *testing.T) {
	maximumDuration := 100 * time.Millisecond

	t.Run("empty limitation", func(t *testing.T) {
		zeroLimiter := limitation.ConcurrentRequests(0)
		done := make(chan struct{})
		go func() {
			handle(zeroLimiter.Acquire(), newCycle(t, context.Background()))
			handle(zeroLimiter.Acquire(), newCycle(t, context.Background()))
			close(done)
		}()
		select {
		case <-time.After(maximumDuration):
			t.Error("Limiter took too long")
		case <-done:
		}
	})

	t.Run("more than the limit", func(t *testing.T) {
		oneLimiter := limitation.ConcurrentRequests(1)
		require.NoError(t, handle(oneLimiter.Acquire(), newCycle(t, context.Background())))

		ctx, cancel := context.WithTimeout(context.Background(), maximumDuration)
		defer cancel()
		err := handle(oneLimiter.Acquire(), newCycle(t, ctx))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestSlotReturnedAfterExchange(t *testing.T) {
	background := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ok")
	}))
	defer background.Close()

	cases := map[string]func(t *testing.T, srv *interceptor.Server){
		"plain": func(t *testing.T, srv *interceptor.Server) {
			require.NoError(t, limitation.ConcurrentRequests(1).Register(srv))
		},
		"failing response-sent interceptor first": func(t *testing.T, srv *interceptor.Server) {
			require.NoError(t, srv.On("response-sent", interceptor.HandlerFunc(func(*interceptor.Cycle) error {
				return errors.New("boom")
			})))
			require.NoError(t, limitation.ConcurrentRequests(1).Register(srv))
		},
		"failing request interceptor after acquire": func(t *testing.T, srv *interceptor.Server) {
			require.NoError(t, limitation.ConcurrentRequests(1).Register(srv))
			require.NoError(t, srv.On("request", interceptor.HandlerFunc(func(*interceptor.Cycle) error {
				return errors.New("boom")
			})))
		},
	}
	for name, setup := range cases {
		t.Run(name, func(t *testing.T) {
			client := limitedProxy(t, setup)
			for i := 0; i < 3; i++ {
				resp, err := client.Get(background.URL)
				require.NoError(t, err, "request %d", i)
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				assert.Equal(t, http.StatusOK, resp.StatusCode)
			}
		})
	}
}
