package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/nuclio/errors"
	"github.com/rs/zerolog"

	"wsrpc/logger"
)

const closeGracePeriod = time.Second

// Options configures websocket connections on both the dialing and the accepting side.
type Options struct {
	// Binary sends binary frames instead of text frames; set it for binary codecs.
	Binary           bool
	ReadLimit        int64
	HandshakeTimeout time.Duration
	Header           http.Header
	Logger           *zerolog.Logger
}

func (o Options) messageType() int {
	if o.Binary {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}

func (o Options) logger() zerolog.Logger {
	if o.Logger != nil {
		return o.Logger.With().Str("component", "transport").Logger()
	}
	return *logger.WithComponent("transport")
}

type wsConn struct {
	events
	id          string
	conn        *websocket.Conn
	messageType int
	logger      zerolog.Logger

	writeMu   sync.Mutex
	readOnce  sync.Once
	closeOnce sync.Once
}

func newWSConn(conn *websocket.Conn, opts Options) *wsConn {
	if opts.ReadLimit > 0 {
		conn.SetReadLimit(opts.ReadLimit)
	}
	id := uuid.NewString()
	return &wsConn{
		id:          id,
		conn:        conn,
		messageType: opts.messageType(),
		logger:      opts.logger().With().Str("conn", id).Logger(),
	}
}

// Dial opens a websocket connection to url. The returned Conn is already open; its read
// loop starts when the first message handler is registered.
func Dial(ctx context.Context, url string, opts Options) (Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: opts.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, url, opts.Header)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to dial %s", url)
	}

	c := newWSConn(conn, opts)
	c.emitOpen()
	c.logger.Debug().Str("url", url).Msg("Dialed")
	return c, nil
}

func (c *wsConn) ID() string {
	return c.id
}

func (c *wsConn) Send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.isClosed() {
		return ErrClosed
	}
	if err := c.conn.WriteMessage(c.messageType, data); err != nil {
		return errors.Wrap(err, "Failed to write message")
	}
	return nil
}

func (c *wsConn) OnMessage(handler func(data []byte)) {
	c.addMessage(handler)
	c.readOnce.Do(func() {
		go c.readLoop()
	})
}

func (c *wsConn) OnOpen(handler func()) {
	c.addOpen(handler)
}

func (c *wsConn) OnClose(handler func(err error)) {
	c.addClose(handler)
}

// Close sends a close frame and releases the connection. Close handlers receive a nil error.
func (c *wsConn) Close() error {
	var err error
	closing := false
	c.closeOnce.Do(func() {
		closing = true
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGracePeriod))
		err = c.conn.Close()
		c.writeMu.Unlock()
	})
	if closing {
		c.emitClose(nil)
	}
	return err
}

// readLoop is the only reader of the connection; websocket reads must be sequential.
func (c *wsConn) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.finish(err)
			return
		}
		c.emitMessage(data)
	}
}

func (c *wsConn) finish(err error) {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || c.isClosed() {
		err = nil
	} else {
		err = errors.Wrap(err, "Connection lost")
	}

	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.Close()
		c.writeMu.Unlock()
	})

	if c.emitClose(err) {
		if err != nil {
			c.logger.Warn().Err(err).Msg("Connection closed")
		} else {
			c.logger.Debug().Msg("Connection closed")
		}
	}
}

// Upgrader is the accept side: an http.Handler that upgrades every request to a
// websocket connection and hands it to onConn.
type Upgrader struct {
	upgrader websocket.Upgrader
	onConn   func(Conn)
	opts     Options
	logger   zerolog.Logger
}

// NewUpgrader returns a handler passing each accepted connection to onConn. onConn runs
// on the request goroutine and should register its handlers before returning.
func NewUpgrader(onConn func(Conn), opts Options) *Upgrader {
	return &Upgrader{
		upgrader: websocket.Upgrader{
			HandshakeTimeout: opts.HandshakeTimeout,
			CheckOrigin:      func(*http.Request) bool { return true },
		},
		onConn: onConn,
		opts:   opts,
		logger: opts.logger(),
	}
}

func (u *Upgrader) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := u.upgrader.Upgrade(w, r, nil)
	if err != nil {
		u.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("Failed to upgrade connection")
		return
	}

	c := newWSConn(conn, u.opts)
	c.emitOpen()
	c.logger.Debug().Str("remote", r.RemoteAddr).Msg("Accepted connection")
	u.onConn(c)
}
