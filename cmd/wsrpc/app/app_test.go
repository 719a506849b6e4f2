package app

import (
	"bytes"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"wsrpc/config"
)

func TestParseArgs(t *testing.T) {
	require.Equal(t,
		[]any{float64(1), "two", []any{float64(3)}, map[string]any{"a": true}, "hello world"},
		parseArgs([]string{"1", `"two"`, "[3]", `{"a":true}`, "hello world"}))
}

func TestDemoEndpoint(t *testing.T) {
	demo, err := newDemoEndpoint()
	require.NoError(t, err)
	require.Equal(t, []string{"echo", "fail", "sleep", "sum"}, demo.Names())
}

func TestServeAndCall(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())

	serverCfg := config.DefaultServer()
	serverCfg.Addr = addr
	serverCfg.Log.Level = "error"

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() {
		served <- (&serveCommandeer{}).serve(ctx, serverCfg)
	}()

	clientCfg := config.DefaultClient()
	clientCfg.URL = "ws://" + addr + "/"

	caller := &callCommandeer{repeat: 3}
	var out bytes.Buffer
	require.Eventually(t, func() bool {
		out.Reset()
		return caller.call(context.Background(), clientCfg, "sum", parseArgs([]string{"1.5", `"2"`}), &out) == nil
	}, 2*time.Second, 20*time.Millisecond)
	require.Equal(t, []string{"3.5", "3.5", "3.5"}, strings.Fields(out.String()))

	out.Reset()
	require.Error(t, caller.call(context.Background(), clientCfg, "fail", []any{"no"}, &out))

	cancel()
	require.NoError(t, <-served)
}
