package gateway

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// connection binds one transport to the gateway. Once retired, its
// frames and close event no longer affect the session.
type connection struct {
	id        string
	g         *Gateway
	transport Transport

	retired     atomic.Bool
	established atomic.Bool

	readyOnce sync.Once
	ready     chan struct{}

	failOnce sync.Once
	failed   chan struct{}
	err      error
}

func newConnection(g *Gateway, t Transport) *connection {
	return &connection{
		id:        uuid.NewString(),
		g:         g,
		transport: t,
		ready:     make(chan struct{}),
		failed:    make(chan struct{}),
	}
}

// retire reports whether this call retired the connection.
func (c *connection) retire() bool {
	return c.retired.CompareAndSwap(false, true)
}

// establish marks the handshake as complete.
func (c *connection) establish() {
	c.readyOnce.Do(func() {
		c.established.Store(true)
		close(c.ready)
	})
}

// fail reports a handshake failure to the waiting connect call.
func (c *connection) fail(err error) {
	c.failOnce.Do(func() {
		c.err = err
		close(c.failed)
	})
}

func (c *connection) OnOpen() {
	c.g.onOpen(c)
}

func (c *connection) OnMessage(data []byte) {
	c.g.onMessage(c, data)
}

func (c *connection) OnClose(code int, reason string) {
	c.g.onClose(c, code, reason)
}

func (c *connection) OnPong(payload []byte) {
	c.g.onPong(c, payload)
}
