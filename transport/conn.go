// Package transport carries encoded messages between two peers.
//
// A Conn is a duplex message pipe: whole messages in, whole messages out, no framing of
// its own. The websocket implementation serializes writes with a per-connection lock and
// reads with a single goroutine, so that concurrent callers sharing one connection never
// interleave frames:
//
//	goroutine-1 ──Send──┐
//	goroutine-2 ──Send──┼──→ writeMu ──→ websocket ──→ peer
//	goroutine-3 ──Send──┘
//
//	readLoop: ←── frame ──→ OnMessage handlers
package transport

import (
	"sync"

	"github.com/nuclio/errors"
)

// ErrClosed is returned by Send on a closed connection.
var ErrClosed = errors.New("Connection closed")

// Conn is one end of a duplex message transport.
//
// Handlers may be registered at any time. An open handler registered after the connection
// opened runs immediately, and a close handler registered after it closed runs immediately
// with the close error. Message handlers see every message delivered after registration.
type Conn interface {
	ID() string
	Send(data []byte) error
	OnMessage(handler func(data []byte))
	OnOpen(handler func())
	OnClose(handler func(err error))
	Close() error
}

type events struct {
	mu        sync.Mutex
	onMessage []func([]byte)
	onOpen    []func()
	onClose   []func(error)
	opened    bool
	closed    bool
	closeErr  error
}

func (e *events) addMessage(handler func([]byte)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onMessage = append(e.onMessage, handler)
}

func (e *events) addOpen(handler func()) {
	e.mu.Lock()
	if e.opened {
		e.mu.Unlock()
		handler()
		return
	}
	e.onOpen = append(e.onOpen, handler)
	e.mu.Unlock()
}

func (e *events) addClose(handler func(error)) {
	e.mu.Lock()
	if e.closed {
		err := e.closeErr
		e.mu.Unlock()
		handler(err)
		return
	}
	e.onClose = append(e.onClose, handler)
	e.mu.Unlock()
}

func (e *events) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *events) emitMessage(data []byte) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	handlers := append([]func([]byte){}, e.onMessage...)
	e.mu.Unlock()

	for _, handler := range handlers {
		handler(data)
	}
}

func (e *events) emitOpen() {
	e.mu.Lock()
	if e.opened {
		e.mu.Unlock()
		return
	}
	e.opened = true
	handlers := e.onOpen
	e.onOpen = nil
	e.mu.Unlock()

	for _, handler := range handlers {
		handler()
	}
}

// emitClose runs the close handlers once; later calls are no-ops.
func (e *events) emitClose(err error) bool {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	e.closed = true
	e.closeErr = err
	handlers := e.onClose
	e.onClose = nil
	e.onMessage = nil
	e.mu.Unlock()

	for _, handler := range handlers {
		handler(err)
	}
	return true
}
