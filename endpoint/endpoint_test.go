package endpoint

import (
	"context"
	goerrors "errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"golang.org/x/sync/errgroup"

	"wsrpc/client"
	"wsrpc/coerce"
	"wsrpc/config"
	"wsrpc/loadbalance"
	"wsrpc/logger"
	"wsrpc/protocol"
	"wsrpc/registry"
	"wsrpc/server"
	"wsrpc/transport"
)

func passArgs(ctx context.Context, args []any) (any, error) {
	return args, nil
}

func newTestEndpoint(notified *atomic.Int64) (*Endpoint, error) {
	return New(map[string]any{
		"noArgs": func() string { return "noArgs" },
		"echo": func(ctx context.Context, args []any) (any, error) {
			if len(args) == 0 {
				return nil, nil
			}
			return args[0], nil
		},
		"echoAsync": server.Async(func(ctx context.Context, args []any) (any, error) {
			time.Sleep(time.Duration(rand.Intn(5)) * time.Millisecond)
			return args[0], nil
		}),
		"add": func(a, b int) int { return a + b },
		"fail": func() error { return goerrors.New("boom") },
		"sleep": func(ctx context.Context, ms int) (string, error) {
			select {
			case <-time.After(time.Duration(ms) * time.Millisecond):
				return "woke", nil
			case <-ctx.Done():
				return "", ctx.Err()
			}
		},
		"count": func() { notified.Add(1) },
		"checkTypes": []any{
			passArgs,
			[]any{"int", "integer", "float", "bool", "boolean", "string", "array", "object"},
		},
		"withDefaults":              []any{[]any{"int", []any{"int", 5}}, passArgs},
		"parsingFails":              []any{passArgs, []string{"int"}},
		"hasNoDefaultForMissingArg": []any{passArgs, coerce.Signature{coerce.Arg(coerce.TypeInt)}},
	})
}

type EndpointTestSuite struct {
	suite.Suite
	endpoint *Endpoint
	notified atomic.Int64
	ctx      context.Context
	cancel   context.CancelFunc
}

func (suite *EndpointTestSuite) SetupTest() {
	var err error
	suite.notified.Store(0)
	suite.endpoint, err = newTestEndpoint(&suite.notified)
	suite.Require().NoError(err)
	suite.ctx, suite.cancel = context.WithTimeout(context.Background(), 5*time.Second)
}

func (suite *EndpointTestSuite) TearDownTest() {
	suite.cancel()
}

// serve starts a server for the suite's endpoint on a free port and returns its url.
func (suite *EndpointTestSuite) serve(cfg config.ServerConfig, opts ...Option) (*server.Server, string) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	suite.Require().NoError(err)
	url := "ws://" + listener.Addr().String() + cfg.Path
	if cfg.AdvertiseURL == "" {
		cfg.AdvertiseURL = url
	}

	srv, err := suite.endpoint.AsServer(cfg, append([]Option{WithLogger(logger.Nop())}, opts...)...)
	suite.Require().NoError(err)

	served := make(chan error, 1)
	go func() {
		served <- srv.Serve(listener)
	}()
	suite.T().Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		suite.NoError(srv.Shutdown(ctx))
		suite.ErrorIs(<-served, server.ErrServerClosed)
	})
	return srv, url
}

func (suite *EndpointTestSuite) serverConfig() config.ServerConfig {
	cfg := config.DefaultServer()
	cfg.Path = "/rpc"
	cfg.Workers = 16
	return cfg
}

func (suite *EndpointTestSuite) connect(url string, codecName string, opts ...Option) *Proxy {
	cfg := config.DefaultClient()
	cfg.URL = url
	cfg.Codec = codecName
	proxy, err := suite.endpoint.AsClient(suite.ctx, cfg, append([]Option{WithLogger(logger.Nop())}, opts...)...)
	suite.Require().NoError(err)
	suite.T().Cleanup(func() {
		_ = proxy.Close()
	})
	return proxy
}

func (suite *EndpointTestSuite) start() *Proxy {
	_, url := suite.serve(suite.serverConfig())
	return suite.connect(url, "json")
}

func (suite *EndpointTestSuite) requireRemoteCode(err error, code int) *client.RemoteError {
	var remote *client.RemoteError
	suite.Require().True(goerrors.As(err, &remote), "expected a remote error, got %v", err)
	suite.Require().Equal(code, remote.Code)
	return remote
}

func (suite *EndpointTestSuite) requireJSONEq(expected string, actual any) {
	encoded, err := json.Marshal(actual)
	suite.Require().NoError(err)
	suite.Require().JSONEq(expected, string(encoded))
}

func (suite *EndpointTestSuite) TestNew() {
	suite.Require().Equal([]string{
		"add", "checkTypes", "count", "echo", "echoAsync", "fail",
		"hasNoDefaultForMissingArg", "noArgs", "parsingFails", "sleep", "withDefaults",
	}, suite.endpoint.Names())

	_, err := New(map[string]any{"bad": []any{passArgs, passArgs}})
	suite.Require().Error(err)

	_, err = New(map[string]any{"bad": 42})
	suite.Require().Error(err)
}

func (suite *EndpointTestSuite) TestEcho() {
	proxy := suite.start()

	result, err := proxy.Method("echo")(suite.ctx, 42).Wait(suite.ctx)
	suite.Require().NoError(err)
	suite.Require().EqualValues(42, result)
}

func (suite *EndpointTestSuite) TestNoArgs() {
	proxy := suite.start()

	result, err := proxy.Method("noArgs")(suite.ctx).Wait(suite.ctx)
	suite.Require().NoError(err)
	suite.Require().Equal("noArgs", result)
}

func (suite *EndpointTestSuite) TestTypedAdd() {
	proxy := suite.start()

	var sum int
	suite.Require().NoError(proxy.Method("add")(suite.ctx, 2, "40").Decode(suite.ctx, &sum))
	suite.Require().Equal(42, sum)
}

func (suite *EndpointTestSuite) TestFail() {
	proxy := suite.start()

	_, err := proxy.Method("fail")(suite.ctx).Wait(suite.ctx)
	remote := suite.requireRemoteCode(err, protocol.CodeExecutionFailed)
	suite.Require().Equal("Error executing.", remote.Text)
	suite.Require().NotNil(remote.Exception)
}

func (suite *EndpointTestSuite) TestUnknownMethod() {
	proxy := suite.start()

	_, ok := proxy.Stub("nope")
	suite.Require().False(ok)
	suite.Require().Panics(func() { proxy.Method("nope") })

	_, err := proxy.Call(suite.ctx, "nope")
	suite.requireRemoteCode(err, protocol.CodeUnknownMethod)
}

func (suite *EndpointTestSuite) TestCheckTypes() {
	proxy := suite.start()
	checkTypes := proxy.Method("checkTypes")

	first := checkTypes(suite.ctx, 1, 5123, 1.3, false, true, "999", []any{1}, map[string]any{"foo": "bar"})
	second := checkTypes(suite.ctx, "1", "5123", "1.3", false, true, 999, []any{2}, map[string]any{"foo": "bar"})

	result, err := first.Wait(suite.ctx)
	suite.Require().NoError(err)
	suite.requireJSONEq(`[1, 5123, 1.3, false, true, "999", [1], {"foo": "bar"}]`, result)

	result, err = second.Wait(suite.ctx)
	suite.Require().NoError(err)
	suite.requireJSONEq(`[1, 5123, 1.3, false, true, "999", [2], {"foo": "bar"}]`, result)
}

func (suite *EndpointTestSuite) TestWithDefaults() {
	proxy := suite.start()
	withDefaults := proxy.Method("withDefaults")

	for _, call := range []*client.Call{
		withDefaults(suite.ctx, 1),
		withDefaults(suite.ctx, 1, nil),
	} {
		result, err := call.Wait(suite.ctx)
		suite.Require().NoError(err)
		suite.requireJSONEq(`[1, 5]`, result)
	}
}

func (suite *EndpointTestSuite) TestParsingFails() {
	proxy := suite.start()

	_, err := proxy.Method("parsingFails")(suite.ctx, "t").Wait(suite.ctx)
	remote := suite.requireRemoteCode(err, protocol.CodeInvalidArgument)
	suite.Require().NotNil(remote.Exception)
	suite.Require().Equal(protocol.FaultValidation, remote.Exception.Name)
}

func (suite *EndpointTestSuite) TestMissingArgument() {
	proxy := suite.start()

	_, err := proxy.Method("hasNoDefaultForMissingArg")(suite.ctx).Wait(suite.ctx)
	suite.requireRemoteCode(err, protocol.CodeMissingArgument)
}

func (suite *EndpointTestSuite) TestSyncAndAsyncAgree() {
	proxy := suite.start()

	sync, err := proxy.Method("echo")(suite.ctx, map[string]any{"a": []any{1, "b"}}).Wait(suite.ctx)
	suite.Require().NoError(err)
	async, err := proxy.Method("echoAsync")(suite.ctx, map[string]any{"a": []any{1, "b"}}).Wait(suite.ctx)
	suite.Require().NoError(err)
	suite.Require().Equal(sync, async)
}

func (suite *EndpointTestSuite) TestConcurrentCallsAreCorrelated() {
	proxy := suite.start()
	echoAsync := proxy.Method("echoAsync")

	group, ctx := errgroup.WithContext(suite.ctx)
	for i := 0; i < 200; i++ {
		i := i
		group.Go(func() error {
			result, err := echoAsync(ctx, i).Wait(ctx)
			if err != nil {
				return err
			}
			if fmt.Sprint(result) != fmt.Sprint(i) {
				return fmt.Errorf("call %d got %v", i, result)
			}
			return nil
		})
	}
	suite.Require().NoError(group.Wait())
	suite.Require().Zero(proxy.Pending())
}

func (suite *EndpointTestSuite) TestMsgPack() {
	cfg := suite.serverConfig()
	cfg.Codec = "msgpack"
	_, url := suite.serve(cfg)
	proxy := suite.connect(url, "msgpack")

	result, err := proxy.Method("checkTypes")(suite.ctx, "1", "5123", "1.3", false, true, 999, []any{2}, map[string]any{"foo": "bar"}).
		Wait(suite.ctx)
	suite.Require().NoError(err)
	suite.requireJSONEq(`[1, 5123, 1.3, false, true, "999", [2], {"foo": "bar"}]`, result)

	_, err = proxy.Method("parsingFails")(suite.ctx, "t").Wait(suite.ctx)
	suite.requireRemoteCode(err, protocol.CodeInvalidArgument)
}

func (suite *EndpointTestSuite) TestNotify() {
	proxy := suite.start()

	suite.Require().NoError(proxy.Notify("count"))
	suite.Require().NoError(proxy.Notify("count"))
	suite.Require().Eventually(func() bool {
		return suite.notified.Load() == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func (suite *EndpointTestSuite) TestHandlerTimeout() {
	cfg := suite.serverConfig()
	cfg.HandlerTimeout = 50 * time.Millisecond
	_, url := suite.serve(cfg)
	proxy := suite.connect(url, "json")

	result, err := proxy.Method("sleep")(suite.ctx, 1).Wait(suite.ctx)
	suite.Require().NoError(err)
	suite.Require().Equal("woke", result)

	_, err = proxy.Method("sleep")(suite.ctx, 2000).Wait(suite.ctx)
	suite.requireRemoteCode(err, protocol.CodeExecutionTimeout)
}

func (suite *EndpointTestSuite) TestRateLimit() {
	cfg := suite.serverConfig()
	cfg.Rate = 0.001
	cfg.Burst = 1
	_, url := suite.serve(cfg)
	proxy := suite.connect(url, "json")

	_, err := proxy.Call(suite.ctx, "echo", 1)
	suite.Require().NoError(err)
	_, err = proxy.Call(suite.ctx, "echo", 2)
	suite.requireRemoteCode(err, protocol.CodeRateLimited)
}

func (suite *EndpointTestSuite) TestMetricsRegisterer() {
	metrics := prometheus.NewRegistry()
	_, url := suite.serve(suite.serverConfig(), WithMetrics(metrics))
	proxy := suite.connect(url, "json")

	_, err := proxy.Call(suite.ctx, "echo", 1)
	suite.Require().NoError(err)
	_, err = proxy.Call(suite.ctx, "fail")
	suite.Require().Error(err)

	families, err := metrics.Gather()
	suite.Require().NoError(err)
	var requests float64
	for _, family := range families {
		if family.GetName() != "wsrpc_server_requests_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			requests += metric.GetCounter().GetValue()
		}
	}
	suite.Require().Equal(float64(2), requests)
}

func (suite *EndpointTestSuite) TestMetricsPath() {
	cfg := suite.serverConfig()
	cfg.MetricsPath = "/metrics"
	srv, url := suite.serve(cfg)
	proxy := suite.connect(url, "json")

	_, err := proxy.Call(suite.ctx, "echo", 1)
	suite.Require().NoError(err)

	suite.Require().Eventually(func() bool { return srv.Addr() != nil }, time.Second, 5*time.Millisecond)
	resp, err := http.Get("http://" + srv.Addr().String() + "/metrics")
	suite.Require().NoError(err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	suite.Require().NoError(err)
	suite.Require().Contains(string(body), `wsrpc_server_requests_total{code="0",method="echo"} 1`)
}

func (suite *EndpointTestSuite) TestDiscovery() {
	reg := registry.NewMemory()

	cfg := suite.serverConfig()
	cfg.Service = "arith"
	_, firstURL := suite.serve(cfg, WithRegistry(reg))
	_, secondURL := suite.serve(cfg, WithRegistry(reg))

	suite.Require().Eventually(func() bool {
		instances, _ := reg.Discover(suite.ctx, "arith")
		return len(instances) == 2
	}, 2*time.Second, 10*time.Millisecond)

	balancer, err := loadbalance.New(loadbalance.NameRoundRobin)
	suite.Require().NoError(err)
	seen := map[string]bool{}
	for i := 0; i < 4; i++ {
		url, err := Resolve(suite.ctx, reg, balancer, "arith", "")
		suite.Require().NoError(err)
		seen[url] = true
	}
	suite.Require().Equal(map[string]bool{firstURL: true, secondURL: true}, seen)

	clientCfg := config.DefaultClient()
	clientCfg.URL = ""
	clientCfg.Service = "arith"
	clientCfg.Balancer = loadbalance.NameConsistentHash
	clientCfg.BalanceKey = "tenant-1"
	proxy, err := suite.endpoint.AsClient(suite.ctx, clientCfg, WithRegistry(reg), WithLogger(logger.Nop()))
	suite.Require().NoError(err)
	defer proxy.Close()

	var sum int
	suite.Require().NoError(proxy.Method("add")(suite.ctx, 1, 2).Decode(suite.ctx, &sum))
	suite.Require().Equal(3, sum)

	_, err = Resolve(suite.ctx, reg, balancer, "missing", "")
	suite.Require().Error(err)
}

func (suite *EndpointTestSuite) TestServiceWithoutRegistry() {
	cfg := suite.serverConfig()
	cfg.Service = "arith"
	_, err := suite.endpoint.AsServer(cfg, WithLogger(logger.Nop()))
	suite.Require().Error(err)

	clientCfg := config.DefaultClient()
	clientCfg.Service = "arith"
	_, err = suite.endpoint.AsClient(suite.ctx, clientCfg, WithLogger(logger.Nop()))
	suite.Require().Error(err)
}

func (suite *EndpointTestSuite) TestServeOverPipe() {
	local, remote := transport.Pipe()
	_, err := suite.endpoint.Serve(remote, server.WithLogger(logger.Nop()))
	suite.Require().NoError(err)

	proxy := suite.endpoint.Attach(local, client.WithLogger(logger.Nop()))
	defer proxy.Close()

	result, err := proxy.Method("withDefaults")(suite.ctx, "7").Wait(suite.ctx)
	suite.Require().NoError(err)
	suite.requireJSONEq(`[7, 5]`, result)

	suite.Require().NoError(proxy.Notify("count"))
	suite.Require().Eventually(func() bool {
		return suite.notified.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func (suite *EndpointTestSuite) TestNonFiniteNumbersOverPipe() {
	e, err := New(map[string]any{
		"infinity": func() float64 { return math.Inf(1) },
		"half":     func(x float64) float64 { return x / 2 },
	})
	suite.Require().NoError(err)

	local, remote := transport.Pipe()
	_, err = e.Serve(remote, server.WithLogger(logger.Nop()))
	suite.Require().NoError(err)

	proxy := e.Attach(local, client.WithLogger(logger.Nop()))
	defer proxy.Close()

	ctx, cancel := context.WithTimeout(suite.ctx, 2*time.Second)
	defer cancel()

	_, err = proxy.Method("infinity")(ctx).Wait(ctx)
	suite.requireRemoteCode(err, protocol.CodeExecutionFailed)
	suite.Require().Zero(proxy.Pending())

	for _, arg := range []string{"NaN", "Infinity", "0x10"} {
		_, err = proxy.Method("half")(ctx, arg).Wait(ctx)
		suite.requireRemoteCode(err, protocol.CodeInvalidArgument)
	}

	result, err := proxy.Method("half")(ctx, "3").Wait(ctx)
	suite.Require().NoError(err)
	suite.Require().EqualValues(1.5, result)
}

func (suite *EndpointTestSuite) TestCloseRejectsPending() {
	proxy := suite.start()

	call := proxy.Method("sleep")(suite.ctx, 300)
	suite.Require().Eventually(func() bool { return proxy.Pending() == 1 }, time.Second, 5*time.Millisecond)
	suite.Require().NoError(proxy.Close())

	_, err := call.Wait(suite.ctx)
	suite.Require().ErrorIs(err, client.ErrConnectionClosed)
}

func TestEndpointTestSuite(t *testing.T) {
	suite.Run(t, new(EndpointTestSuite))
}

func TestProxyNames(t *testing.T) {
	var notified atomic.Int64
	e, err := newTestEndpoint(&notified)
	require.NoError(t, err)

	local, _ := transport.Pipe()
	proxy := e.Attach(local, client.WithLogger(logger.Nop()))
	defer proxy.Close()
	require.Equal(t, e.Names(), proxy.Names())
}
