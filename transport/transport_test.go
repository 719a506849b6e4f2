package transport

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wsrpc/logger"
)

const waitFor = 2 * time.Second

func collect(conn Conn) (func() []string, <-chan struct{}) {
	var mu sync.Mutex
	var received []string
	arrived := make(chan struct{}, 64)
	conn.OnMessage(func(data []byte) {
		mu.Lock()
		received = append(received, string(data))
		mu.Unlock()
		arrived <- struct{}{}
	})
	return func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), received...)
	}, arrived
}

func TestPipeDeliversInOrder(t *testing.T) {
	left, right := Pipe()
	defer left.Close()

	received, arrived := collect(right)
	for _, text := range []string{"a", "b", "c"} {
		require.NoError(t, left.Send([]byte(text)))
	}
	for n := 0; n < 3; n++ {
		<-arrived
	}
	assert.Equal(t, []string{"a", "b", "c"}, received())
	assert.NotEqual(t, left.ID(), right.ID())
}

func TestPipeCloseClosesBothEnds(t *testing.T) {
	left, right := Pipe()

	closed := make(chan error, 1)
	right.OnClose(func(err error) { closed <- err })

	require.NoError(t, left.Close())
	select {
	case err := <-closed:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("close not propagated")
	}

	assert.ErrorIs(t, left.Send([]byte("x")), ErrClosed)
	assert.ErrorIs(t, right.Send([]byte("x")), ErrClosed)

	// registering after the fact runs immediately
	late := false
	right.OnClose(func(error) { late = true })
	assert.True(t, late)
}

func TestOpenHandlerRunsImmediatelyWhenOpen(t *testing.T) {
	left, _ := Pipe()
	defer left.Close()

	opened := false
	left.OnOpen(func() { opened = true })
	assert.True(t, opened)
}

func newEchoServer(t *testing.T, opts Options) (*httptest.Server, string) {
	t.Helper()
	upgrader := NewUpgrader(func(conn Conn) {
		conn.OnMessage(func(data []byte) {
			_ = conn.Send(append([]byte("echo:"), data...))
		})
	}, opts)
	server := httptest.NewServer(upgrader)
	t.Cleanup(server.Close)
	return server, "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestWebsocketRoundTrip(t *testing.T) {
	for _, binary := range []bool{false, true} {
		opts := Options{Binary: binary, Logger: logger.Nop()}
		_, url := newEchoServer(t, opts)

		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		conn, err := Dial(ctx, url, opts)
		cancel()
		require.NoError(t, err)

		received, arrived := collect(conn)
		require.NoError(t, conn.Send([]byte("hello")))
		select {
		case <-arrived:
		case <-time.After(waitFor):
			t.Fatal("no echo")
		}
		assert.Equal(t, []string{"echo:hello"}, received())
		require.NoError(t, conn.Close())
		assert.ErrorIs(t, conn.Send([]byte("late")), ErrClosed)
	}
}

func TestWebsocketServerCloseReachesClient(t *testing.T) {
	accepted := make(chan Conn, 1)
	server := httptest.NewServer(NewUpgrader(func(conn Conn) {
		conn.OnMessage(func([]byte) {})
		accepted <- conn
	}, Options{Logger: logger.Nop()}))
	defer server.Close()

	conn, err := Dial(context.Background(), "ws"+strings.TrimPrefix(server.URL, "http"), Options{Logger: logger.Nop()})
	require.NoError(t, err)

	closed := make(chan error, 1)
	conn.OnClose(func(err error) { closed <- err })
	conn.OnMessage(func([]byte) {})

	require.NoError(t, (<-accepted).Close())
	select {
	case err := <-closed:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("client did not observe close")
	}
}

func TestDialFailure(t *testing.T) {
	_, err := Dial(context.Background(), "ws://127.0.0.1:1/", Options{Logger: logger.Nop()})
	assert.Error(t, err)
}
