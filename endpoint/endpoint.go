// Package endpoint ties a set of named methods to the server side and resolves the
// client side into a proxy of callable stubs.
//
//	methods ──New──→ Endpoint ──AsServer──→ server.Server (websocket, registry, metrics)
//	                          └─Serve────→ one transport.Conn
//	ClientConfig ──AsClient──→ Proxy{client.Client + one Stub per method}
package endpoint

import (
	"context"
	"fmt"
	"sort"

	"github.com/nuclio/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"wsrpc/client"
	"wsrpc/codec"
	"wsrpc/config"
	"wsrpc/loadbalance"
	"wsrpc/logger"
	"wsrpc/middleware"
	"wsrpc/registry"
	"wsrpc/server"
	"wsrpc/transport"
)

// Endpoint is an immutable set of method registrations.
type Endpoint struct {
	registrations []server.Registration
	names         []string
}

// New normalizes every definition in methods. A definition is anything server.Normalize
// accepts: a handler, a typed function, or a [callable, signature] pair in either order.
func New(methods map[string]any) (*Endpoint, error) {
	e := &Endpoint{}
	for name := range methods {
		e.names = append(e.names, name)
	}
	sort.Strings(e.names)

	for _, name := range e.names {
		registration, err := server.Normalize(name, methods[name])
		if err != nil {
			return nil, errors.Wrapf(err, "Invalid definition for method %q", name)
		}
		e.registrations = append(e.registrations, registration)
	}
	return e, nil
}

// Names returns the method names, sorted.
func (e *Endpoint) Names() []string {
	return append([]string(nil), e.names...)
}

// Registrations returns the normalized method registrations.
func (e *Endpoint) Registrations() []server.Registration {
	return append([]server.Registration(nil), e.registrations...)
}

// NewDispatcher builds a dispatcher serving the endpoint's methods.
func (e *Endpoint) NewDispatcher(options ...server.Option) (*server.Dispatcher, error) {
	return server.NewDispatcher(e.registrations, options...)
}

// Serve answers requests arriving on conn with a fresh dispatcher, without a Server. Each
// frame is processed on its own goroutine; responses go back on conn in completion order.
func (e *Endpoint) Serve(conn transport.Conn, options ...server.Option) (*server.Dispatcher, error) {
	dispatcher, err := e.NewDispatcher(options...)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	conn.OnClose(func(error) {
		cancel()
	})
	conn.OnMessage(func(data []byte) {
		go func() {
			response := dispatcher.Process(ctx, data)
			reply, err := response.Await(ctx)
			if err != nil || response.Notification() {
				return
			}
			encoded, err := dispatcher.Encode(reply)
			if err != nil {
				return
			}
			_ = conn.Send(encoded)
		}()
	})
	return dispatcher, nil
}

// Option configures AsServer and AsClient.
type Option func(*options)

type options struct {
	registry    registry.Registry
	registerer  prometheus.Registerer
	logger      *zerolog.Logger
	middlewares []server.Middleware
	clientOpts  []client.Option
}

// WithRegistry overrides the etcd registry built from the configured endpoints.
func WithRegistry(reg registry.Registry) Option {
	return func(o *options) {
		o.registry = reg
	}
}

// WithMetrics records server metrics on registerer instead of a private registry.
func WithMetrics(registerer prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = registerer
	}
}

func WithLogger(l *zerolog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMiddleware appends server middlewares after the configured ones.
func WithMiddleware(middlewares ...server.Middleware) Option {
	return func(o *options) {
		o.middlewares = append(o.middlewares, middlewares...)
	}
}

// WithClientOptions passes options through to client.New.
func WithClientOptions(clientOptions ...client.Option) Option {
	return func(o *options) {
		o.clientOpts = append(o.clientOpts, clientOptions...)
	}
}

func newOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// AsServer builds a server for the endpoint from cfg. The middleware chain is, outermost
// first: recover, metrics (when enabled), logging, rate limit (cfg.Rate > 0), handler
// timeout (cfg.HandlerTimeout > 0), then any WithMiddleware additions. When cfg.Service is
// set the server advertises itself in the registry.
func (e *Endpoint) AsServer(cfg config.ServerConfig, opts ...Option) (*server.Server, error) {
	o := newOptions(opts)
	log := o.logger
	if log == nil {
		log = logger.WithComponent("endpoint")
	}

	codecType, err := codec.Parse(cfg.Codec)
	if err != nil {
		return nil, err
	}

	if cfg.Service != "" && o.registry == nil && len(cfg.EtcdEndpoints) == 0 {
		return nil, errors.New(fmt.Sprintf("Service %q needs etcd endpoints to be advertised", cfg.Service))
	}

	middlewares := []server.Middleware{middleware.Recover()}

	registerer := o.registerer
	var metricsRegistry *prometheus.Registry
	if registerer == nil && cfg.MetricsPath != "" {
		metricsRegistry = prometheus.NewRegistry()
		registerer = metricsRegistry
	}
	if registerer != nil {
		metrics, err := middleware.Metrics(registerer)
		if err != nil {
			return nil, err
		}
		middlewares = append(middlewares, metrics)
	}

	middlewares = append(middlewares, middleware.Logging(log))
	if cfg.Rate > 0 {
		middlewares = append(middlewares, middleware.RateLimit(cfg.Rate, cfg.Burst))
	}
	if cfg.HandlerTimeout > 0 {
		middlewares = append(middlewares, middleware.Timeout(cfg.HandlerTimeout))
	}
	middlewares = append(middlewares, o.middlewares...)

	dispatcher, err := e.NewDispatcher(
		server.WithCodec(codec.Get(codecType)),
		server.WithLogger(log),
		server.WithMiddleware(middlewares...),
	)
	if err != nil {
		return nil, err
	}

	srv, err := server.New(dispatcher, cfg)
	if err != nil {
		return nil, err
	}

	if metricsRegistry != nil {
		srv.Handle(cfg.MetricsPath, promhttp.HandlerFor(metricsRegistry, promhttp.HandlerOpts{}))
	}

	if cfg.Service != "" {
		reg := o.registry
		if reg == nil {
			etcd, err := registry.NewEtcd(cfg.EtcdEndpoints, "")
			if err != nil {
				return nil, err
			}
			srv.RegisterOnShutdown(func() {
				_ = etcd.Close()
			})
			reg = etcd
		}
		srv.Advertise(reg, registry.Instance{URL: cfg.AdvertiseURL, Weight: 1})
	}
	return srv, nil
}

// Stub invokes one remote method.
type Stub func(ctx context.Context, args ...any) *client.Call

// Proxy is a client with one stub per method of the endpoint.
type Proxy struct {
	*client.Client
	stubs map[string]Stub
	names []string
	close func() error
}

// Attach wraps a client around conn, with stubs for the endpoint's methods.
func (e *Endpoint) Attach(conn transport.Conn, clientOptions ...client.Option) *Proxy {
	return e.proxy(client.New(conn, clientOptions...))
}

func (e *Endpoint) proxy(c *client.Client) *Proxy {
	p := &Proxy{
		Client: c,
		stubs:  make(map[string]Stub, len(e.names)),
		names:  e.Names(),
	}
	for _, name := range e.names {
		method := name
		p.stubs[method] = func(ctx context.Context, args ...any) *client.Call {
			return c.Go(ctx, method, args...)
		}
	}
	return p
}

// Names returns the names of the proxied methods, sorted.
func (p *Proxy) Names() []string {
	return append([]string(nil), p.names...)
}

// Stub returns the stub for name.
func (p *Proxy) Stub(name string) (Stub, bool) {
	stub, ok := p.stubs[name]
	return stub, ok
}

// Method returns the stub for name and panics if the endpoint has no such method.
func (p *Proxy) Method(name string) Stub {
	stub, ok := p.stubs[name]
	if !ok {
		panic(fmt.Sprintf("endpoint has no method %q", name))
	}
	return stub
}

// Close closes the connection and whatever AsClient opened to find it.
func (p *Proxy) Close() error {
	err := p.Client.Close()
	if p.close != nil {
		if closeErr := p.close(); err == nil {
			err = closeErr
		}
	}
	return err
}

// AsClient connects to the endpoint described by cfg. With cfg.Service set, the URL is
// picked among the registered instances by cfg.Balancer; otherwise cfg.URL is dialed.
func (e *Endpoint) AsClient(ctx context.Context, cfg config.ClientConfig, opts ...Option) (*Proxy, error) {
	o := newOptions(opts)
	log := o.logger
	if log == nil {
		log = logger.WithComponent("endpoint")
	}

	codecType, err := codec.Parse(cfg.Codec)
	if err != nil {
		return nil, err
	}

	var closeRegistry func() error
	url := cfg.URL
	if cfg.Service != "" {
		reg := o.registry
		if reg == nil {
			if len(cfg.EtcdEndpoints) == 0 {
				return nil, errors.New(fmt.Sprintf("Service %q needs etcd endpoints to be discovered", cfg.Service))
			}
			etcd, err := registry.NewEtcd(cfg.EtcdEndpoints, "")
			if err != nil {
				return nil, err
			}
			closeRegistry = etcd.Close
			reg = etcd
		}

		balancer, err := loadbalance.New(cfg.Balancer)
		if err == nil {
			url, err = Resolve(ctx, reg, balancer, cfg.Service, cfg.BalanceKey)
		}
		if err != nil {
			if closeRegistry != nil {
				_ = closeRegistry()
			}
			return nil, err
		}
		log.Debug().Str("service", cfg.Service).Str("url", url).Msg("Resolved service")
	}

	dialCtx := ctx
	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	conn, err := transport.Dial(dialCtx, url, transport.Options{
		Binary: codecType.Binary(),
		Logger: log,
	})
	if err != nil {
		if closeRegistry != nil {
			_ = closeRegistry()
		}
		return nil, err
	}

	clientOptions := []client.Option{
		client.WithCodec(codec.Get(codecType)),
		client.WithLogger(log),
		client.WithCallTimeout(cfg.CallTimeout),
	}
	proxy := e.proxy(client.New(conn, append(clientOptions, o.clientOpts...)...))
	proxy.close = closeRegistry
	return proxy, nil
}

// Resolve picks the URL of one registered instance of service. Reusing balancer across
// calls lets stateful strategies such as round robin spread connections.
func Resolve(ctx context.Context, reg registry.Registry, balancer loadbalance.Balancer, service string, key string) (string, error) {
	instances, err := reg.Discover(ctx, service)
	if err != nil {
		return "", errors.Wrapf(err, "Failed to discover service %s", service)
	}
	instance, err := balancer.Pick(instances, key)
	if err != nil {
		return "", errors.Wrapf(err, "Failed to pick an instance of %s", service)
	}
	return instance.URL, nil
}
