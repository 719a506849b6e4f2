// Package server dispatches incoming calls to registered methods and serves them over
// websocket connections.
//
// Request processing pipeline:
//
//	Upgrade → transport.Conn (single read loop per connection)
//	  → for each frame: ants pool task (parallel processing)
//	    → Dispatcher.Process: Decode → Middleware Chain → lookup → coerce → handler
//	    → await Response → Encode → conn.Send
package server

import (
	"context"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/nuclio/errors"
	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"

	"wsrpc/config"
	"wsrpc/logger"
	"wsrpc/registry"
	"wsrpc/transport"
)

// ErrServerClosed is returned by Serve and ListenAndServe after Shutdown.
var ErrServerClosed = errors.New("Server closed")

// Server serves one dispatcher to every websocket connection accepted on config.Path.
type Server struct {
	dispatcher *Dispatcher
	config     config.ServerConfig
	pool       *ants.Pool
	logger     zerolog.Logger
	httpServer *http.Server
	mux        *http.ServeMux

	ctx    context.Context
	cancel context.CancelFunc

	// inflightMu orders wg.Add in handleFrame against setting shutdown, so that no
	// request is added once Shutdown may be waiting.
	inflightMu sync.Mutex
	wg         sync.WaitGroup // in-flight requests, awaited by Shutdown
	shutdown   atomic.Bool

	connsMu sync.Mutex
	conns   map[string]transport.Conn

	registry registry.Registry
	instance registry.Instance

	listenerMu sync.Mutex
	listener   net.Listener

	onShutdown []func()
}

// New creates a server for dispatcher. Requests run on an ants pool of cfg.Workers
// goroutines; the dispatcher runs its deferred replies on the same pool.
func New(dispatcher *Dispatcher, cfg config.ServerConfig) (*Server, error) {
	workers := cfg.Workers
	if workers <= 0 {
		workers = config.DefaultServer().Workers
	}
	if cfg.Path == "" {
		cfg.Path = "/"
	}

	log := logger.WithComponent("server")
	pool, err := ants.NewPool(workers, ants.WithNonblocking(true), ants.WithPanicHandler(func(recovered any) {
		log.Error().Interface("panic", recovered).Msg("Worker panicked")
	}))
	if err != nil {
		return nil, errors.Wrap(err, "Failed to create worker pool")
	}

	if dispatcher.pool == nil {
		dispatcher.pool = pool
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		dispatcher: dispatcher,
		config:     cfg,
		pool:       pool,
		logger:     *log,
		ctx:        ctx,
		cancel:     cancel,
		conns:      map[string]transport.Conn{},
	}

	s.mux = http.NewServeMux()
	s.mux.Handle(cfg.Path, s.Handler())
	s.httpServer = &http.Server{Addr: cfg.Addr, Handler: s.mux}
	return s, nil
}

// Use registers a middleware. Middlewares are applied in the order they are added.
func (s *Server) Use(mw Middleware) {
	s.dispatcher.Use(mw)
}

// Dispatcher returns the dispatcher the server serves.
func (s *Server) Dispatcher() *Dispatcher {
	return s.dispatcher
}

// Advertise registers instance under the configured service name once the server is
// listening, and deregisters it on Shutdown.
func (s *Server) Advertise(reg registry.Registry, instance registry.Instance) {
	if instance.URL == "" {
		instance.URL = s.config.AdvertiseURL
	}
	s.registry = reg
	s.instance = instance
}

// Handler returns the websocket accept handler, for mounting on an existing mux.
func (s *Server) Handler() http.Handler {
	return transport.NewUpgrader(s.ServeConn, transport.Options{
		Binary: s.dispatcher.Codec().Type().Binary(),
		Logger: &s.logger,
	})
}

// Handle mounts an extra HTTP handler next to the websocket endpoint. It must be called
// before Serve.
func (s *Server) Handle(pattern string, handler http.Handler) {
	s.mux.Handle(pattern, handler)
}

// RegisterOnShutdown registers a function to call once Shutdown has finished.
func (s *Server) RegisterOnShutdown(f func()) {
	s.onShutdown = append(s.onShutdown, f)
}

// ServeConn serves requests arriving on conn until it closes.
func (s *Server) ServeConn(conn transport.Conn) {
	if s.shutdown.Load() {
		_ = conn.Close()
		return
	}

	s.connsMu.Lock()
	s.conns[conn.ID()] = conn
	s.connsMu.Unlock()

	conn.OnClose(func(err error) {
		s.connsMu.Lock()
		delete(s.conns, conn.ID())
		s.connsMu.Unlock()
	})
	conn.OnMessage(func(data []byte) {
		s.handleFrame(conn, data)
	})
}

// handleFrame hands one frame to the pool so that a slow handler never blocks the
// connection's read loop. A saturated pool falls back to a plain goroutine.
func (s *Server) handleFrame(conn transport.Conn, data []byte) {
	s.inflightMu.Lock()
	if s.shutdown.Load() {
		s.inflightMu.Unlock()
		return
	}
	s.wg.Add(1)
	s.inflightMu.Unlock()

	task := func() {
		defer s.wg.Done()
		s.handleRequest(conn, data)
	}
	if err := s.pool.Submit(task); err != nil {
		go task()
	}
}

func (s *Server) handleRequest(conn transport.Conn, data []byte) {
	response := s.dispatcher.Process(s.ctx, data)

	reply, err := response.Await(s.ctx)
	if err != nil {
		s.logger.Warn().Err(err).Str("conn", conn.ID()).Msg("Abandoned response on shutdown")
		return
	}
	if response.Notification() {
		if reply.IsError() {
			s.logger.Warn().Str("conn", conn.ID()).Int("code", reply.ErrorCode).Msg("Notification failed")
		}
		return
	}

	encoded, err := s.dispatcher.Encode(reply)
	if err != nil {
		s.logger.Error().Err(err).Str("id", reply.IDString()).Msg("Failed to encode response")
		return
	}
	if err := conn.Send(encoded); err != nil {
		s.logger.Debug().Err(err).Str("conn", conn.ID()).Msg("Failed to send response")
	}
}

// ListenAndServe listens on config.Addr and serves until Shutdown.
func (s *Server) ListenAndServe() error {
	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return errors.Wrapf(err, "Failed to listen on %s", s.config.Addr)
	}
	return s.Serve(listener)
}

// Serve accepts connections on listener. It advertises the server first when a registry
// was given, and returns ErrServerClosed after Shutdown.
func (s *Server) Serve(listener net.Listener) error {
	if s.shutdown.Load() {
		return ErrServerClosed
	}

	s.listenerMu.Lock()
	s.listener = listener
	s.listenerMu.Unlock()

	if s.registry != nil {
		if err := s.advertise(); err != nil {
			_ = listener.Close()
			return err
		}
	}

	s.logger.Info().
		Str("addr", listener.Addr().String()).
		Str("path", s.config.Path).
		Strs("methods", s.dispatcher.Methods()).
		Msg("Serving")

	err := s.httpServer.Serve(listener)
	if err == http.ErrServerClosed || s.shutdown.Load() {
		return ErrServerClosed
	}
	return errors.Wrap(err, "Server failed")
}

// Addr returns the address the server listens on, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) advertise() error {
	if s.config.Service == "" {
		return errors.New("Cannot advertise without a service name")
	}
	if s.instance.URL == "" {
		return errors.New("Cannot advertise without an advertise URL")
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.config.ShutdownTimeout)
	defer cancel()
	if err := s.registry.Register(ctx, s.config.Service, s.instance, s.config.RegistryTTL); err != nil {
		return errors.Wrap(err, "Failed to advertise server")
	}
	return nil
}

// Shutdown performs graceful shutdown:
//  1. Deregister from the registry so that callers stop picking this server
//  2. Stop accepting connections
//  3. Wait for in-flight requests to finish, or for ctx to expire
//  4. Close remaining connections and release the worker pool
func (s *Server) Shutdown(ctx context.Context) error {
	s.inflightMu.Lock()
	if !s.shutdown.CompareAndSwap(false, true) {
		s.inflightMu.Unlock()
		return nil
	}
	s.inflightMu.Unlock()

	if s.registry != nil && s.instance.URL != "" {
		if err := s.registry.Deregister(ctx, s.config.Service, s.instance.URL); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to deregister")
		}
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to stop listener")
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = errors.Wrap(ctx.Err(), "Timeout waiting for ongoing requests to finish")
	}

	s.cancel()

	s.connsMu.Lock()
	conns := make([]transport.Conn, 0, len(s.conns))
	for _, conn := range s.conns {
		conns = append(conns, conn)
	}
	s.connsMu.Unlock()
	for _, conn := range conns {
		_ = conn.Close()
	}

	s.pool.Release()
	for _, f := range s.onShutdown {
		f()
	}
	s.logger.Info().Msg("Server stopped")
	return err
}
