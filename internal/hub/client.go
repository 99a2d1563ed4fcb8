package hub

import "sync"

// Conn is the slice of a WebSocket connection the hub writes to. The
// web layer adapts gorilla's *websocket.Conn; tests use in-memory
// fakes.
type Conn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// Client is one connected dashboard socket. Outbound messages go
// through a buffered channel drained by a single write pump, so the
// hub never blocks on a slow consumer: a full buffer counts as a
// delivery failure and the client is dropped.
type Client struct {
	hub  *Hub
	conn Conn

	mu     sync.Mutex
	send   chan interface{}
	closed bool
}

const sendBuffer = 32

func newClient(h *Hub, conn Conn) *Client {
	return &Client{
		hub:  h,
		conn: conn,
		send: make(chan interface{}, sendBuffer),
	}
}

// enqueue hands a message to the write pump. It reports false when the
// client is closed or its buffer is full.
func (c *Client) enqueue(v interface{}) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- v:
		return true
	default:
		return false
	}
}

// close stops the write pump. Safe to call more than once.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// writePump serializes all writes to the underlying connection. A
// write error tears the whole client down.
func (c *Client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			c.hub.Disconnect(c)
			return
		}
	}
}
