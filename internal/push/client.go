package push

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Client is one connected subscriber. Frames queue in a bounded buffer that
// the transport drains; a full buffer means the client is too slow.
type Client struct {
	id     uuid.UUID
	userID uuid.UUID
	out    chan Frame

	closeOnce sync.Once
	closed    chan struct{}

	mu sync.Mutex
	// latest is the newest server time sent per session.
	latest map[uuid.UUID]time.Time
}

// NewClient creates a client for userID with room for buffer pending frames.
func NewClient(userID uuid.UUID, buffer int) *Client {
	if buffer < 1 {
		buffer = 1
	}
	return &Client{
		id:     uuid.New(),
		userID: userID,
		out:    make(chan Frame, buffer),
		closed: make(chan struct{}),
		latest: make(map[uuid.UUID]time.Time),
	}
}

// ID identifies the connection.
func (c *Client) ID() uuid.UUID { return c.id }

// UserID is the authenticated user behind the connection.
func (c *Client) UserID() uuid.UUID { return c.userID }

// Outbound yields frames to write to the connection.
func (c *Client) Outbound() <-chan Frame { return c.out }

// Closed is closed once the gateway has dropped the client.
func (c *Client) Closed() <-chan struct{} { return c.closed }

// send queues f without blocking. It reports false if the client is closed
// or its buffer is full.
func (c *Client) send(f Frame) bool {
	select {
	case <-c.closed:
		return false
	default:
	}

	select {
	case c.out <- f:
		return true
	default:
		return false
	}
}

func (c *Client) markSent(sessionID uuid.UUID, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if at.After(c.latest[sessionID]) {
		c.latest[sessionID] = at
	}
}

// sentAfter reports whether c was already sent a frame for the session
// newer than at.
func (c *Client) sentAfter(sessionID uuid.UUID, at time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest[sessionID].After(at)
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.closed) })
}
