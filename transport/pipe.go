package transport

import (
	"sync"

	"github.com/google/uuid"
)

// Pipe returns two connected in-memory Conns. Messages sent on one end are delivered,
// in order, to the message handlers of the other. Closing either end closes both.
func Pipe() (Conn, Conn) {
	left := newPipeConn()
	right := newPipeConn()
	left.peer, right.peer = right, left
	left.emitOpen()
	right.emitOpen()
	return left, right
}

type pipeConn struct {
	events
	id   string
	peer *pipeConn

	queueMu   sync.Mutex
	queueCond *sync.Cond
	queue     [][]byte
	done      bool
	readOnce  sync.Once
}

func newPipeConn() *pipeConn {
	c := &pipeConn{id: uuid.NewString()}
	c.queueCond = sync.NewCond(&c.queueMu)
	return c
}

func (c *pipeConn) ID() string {
	return c.id
}

func (c *pipeConn) Send(data []byte) error {
	if c.isClosed() {
		return ErrClosed
	}
	return c.peer.enqueue(append([]byte(nil), data...))
}

func (c *pipeConn) enqueue(data []byte) error {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()

	if c.done {
		return ErrClosed
	}
	c.queue = append(c.queue, data)
	c.queueCond.Signal()
	return nil
}

func (c *pipeConn) OnMessage(handler func(data []byte)) {
	c.addMessage(handler)
	c.readOnce.Do(func() {
		go c.deliverLoop()
	})
}

func (c *pipeConn) OnOpen(handler func()) {
	c.addOpen(handler)
}

func (c *pipeConn) OnClose(handler func(err error)) {
	c.addClose(handler)
}

func (c *pipeConn) Close() error {
	c.shutdown()
	c.peer.shutdown()
	return nil
}

func (c *pipeConn) shutdown() {
	c.queueMu.Lock()
	c.done = true
	c.queue = nil
	c.queueCond.Broadcast()
	c.queueMu.Unlock()

	c.emitClose(nil)
}

func (c *pipeConn) deliverLoop() {
	for {
		c.queueMu.Lock()
		for len(c.queue) == 0 && !c.done {
			c.queueCond.Wait()
		}
		if c.done {
			c.queueMu.Unlock()
			return
		}
		data := c.queue[0]
		c.queue = c.queue[1:]
		c.queueMu.Unlock()

		c.emitMessage(data)
	}
}
