package core

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const defaultClientBuffer = 64

// Client is one authenticated connection as seen by the core layer.
// Several clients may share an identity (one per browser tab).
type Client struct {
	ID       string
	Identity string
	Commands chan *Command
	Events   chan *Event

	// rooms is owned by the hub loop.
	rooms map[string]struct{}

	lastSeen  atomic.Int64
	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a client with initialized channels. A non-positive
// buffer falls back to the default.
func NewClient(id, identity string, buffer int) *Client {
	if buffer <= 0 {
		buffer = defaultClientBuffer
	}
	c := &Client{
		ID:       id,
		Identity: identity,
		Commands: make(chan *Command, buffer),
		Events:   make(chan *Event, buffer),
		rooms:    make(map[string]struct{}),
		done:     make(chan struct{}),
	}
	c.Touch()
	return c
}

// Touch records liveness. Transports call it on every inbound frame and pong.
func (c *Client) Touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

// LastSeen returns the last time the client showed liveness.
func (c *Client) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

// Done is closed once the client has been removed from the hub.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close marks the client closed. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Submit queues a command for the client's handler goroutine.
func (c *Client) Submit(ctx context.Context, cmd *Command) error {
	select {
	case c.Commands <- cmd:
		return nil
	case <-c.done:
		return ErrClientClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// deliver enqueues an event without blocking; slow consumers lose events.
func (c *Client) deliver(ev *Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Events <- ev:
		return true
	default:
		return false
	}
}
