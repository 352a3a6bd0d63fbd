package network

import (
	"context"
	"fmt"
	"net"
	"time"
)

// DefaultDialTimeout bounds Dial when the context has no deadline.
const DefaultDialTimeout = 5 * time.Second

// Client is a frame connection to a Server.
type Client struct {
	*Conn
}

// Dial connects to a frame server at address.
func Dial(ctx context.Context, address string) (*Client, error) {
	dialer := &net.Dialer{Timeout: DefaultDialTimeout}

	netConn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}

	return &Client{Conn: NewConn(netConn, 0, DefaultDialTimeout)}, nil
}

// Send writes payload as a data frame and returns its sequence number.
func (c *Client) Send(priority int, payload []byte) (uint32, error) {
	frame := NewDataFrame(priority, payload)
	frame.Sequence = c.NextSequence()
	if err := c.WriteFrame(frame); err != nil {
		return 0, err
	}
	return frame.Sequence, nil
}

// Ping sends a heartbeat and waits for the echo.
func (c *Client) Ping(timeout time.Duration) error {
	seq := c.NextSequence()
	if err := c.WriteFrame(&Frame{Type: FrameTypeHeartbeat, Sequence: seq}); err != nil {
		return err
	}

	if timeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(timeout))
		defer c.conn.SetReadDeadline(time.Time{})
	}

	for {
		frame, err := ReadFrame(c.conn)
		if err != nil {
			return fmt.Errorf("failed to read heartbeat: %w", err)
		}
		if frame.Type == FrameTypeHeartbeat && frame.Sequence == seq {
			return nil
		}
	}
}

// Close sends a close frame and closes the connection.
func (c *Client) Close() error {
	c.WriteFrame(&Frame{Type: FrameTypeClose})
	return c.Conn.Close()
}
