// Package broker implements the concurrent room directory and per-room
// fan-out at the heart of the chat server: rooms are created lazily on the
// first JOIN, serialize their own membership and broadcasts, and are
// unmapped in the same operation that removes their last member.
package broker

import (
	"io"

	"github.com/google/uuid"
)

// Conn is the transport surface the broker needs from one peer: writes for
// fan-out and close on teardown. Reading stays with the connection handler.
type Conn interface {
	io.Writer
	Close() error
}

// Client is the broker's opaque handle for one connected peer. Handles
// compare by identity and appear in at most one room at a time.
type Client struct {
	id   string
	conn Conn
}

// NewClient wraps an accepted connection in a handle.
func NewClient(conn Conn) *Client {
	return &Client{
		id:   uuid.NewString(),
		conn: conn,
	}
}

// ID returns the handle's identifier, used only for logging.
func (c *Client) ID() string {
	return c.id
}

// Write sends bytes to the peer.
func (c *Client) Write(p []byte) (int, error) {
	return c.conn.Write(p)
}

// Close severs the peer's connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
