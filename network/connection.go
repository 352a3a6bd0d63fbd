package network

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Conn wraps a net.Conn with frame reads and writes. Writes are serialized;
// reads must come from a single goroutine.
type Conn struct {
	id           string
	conn         net.Conn
	state        atomic.Int32
	readTimeout  time.Duration
	writeTimeout time.Duration
	lastActivity atomic.Int64

	writeMu sync.Mutex
	seq     atomic.Uint32

	// Statistics
	bytesRead     atomic.Int64
	bytesWritten  atomic.Int64
	framesRead    atomic.Int64
	framesWritten atomic.Int64
}

// NewConn wraps conn with a fresh random id.
func NewConn(conn net.Conn, readTimeout, writeTimeout time.Duration) *Conn {
	c := &Conn{
		id:           uuid.NewString(),
		conn:         conn,
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
	}
	c.state.Store(int32(ConnectionStateConnected))
	c.touch()
	return c
}

// ID returns the connection ID
func (c *Conn) ID() string {
	return c.id
}

// RemoteAddr returns the remote address
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// LocalAddr returns the local address
func (c *Conn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// State returns the current connection state
func (c *Conn) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

// LastActivity returns the time of the last successful read or write.
func (c *Conn) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// NextSequence returns a sequence number unique to this connection.
func (c *Conn) NextSequence() uint32 {
	return c.seq.Add(1)
}

// ReadFrame reads the next frame, honoring the read timeout.
func (c *Conn) ReadFrame() (*Frame, error) {
	if c.isClosed() {
		return nil, fmt.Errorf("%w: %s", ErrConnectionClosed, c.id)
	}

	if c.readTimeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return nil, fmt.Errorf("failed to set read deadline: %w", err)
		}
	}

	frame, err := ReadFrame(c.conn)
	if err != nil {
		return nil, err
	}

	c.bytesRead.Add(int64(frame.Size()))
	c.framesRead.Add(1)
	c.touch()
	return frame, nil
}

// WriteFrame writes a frame, honoring the write timeout.
func (c *Conn) WriteFrame(frame *Frame) error {
	if c.isClosed() {
		return fmt.Errorf("%w: %s", ErrConnectionClosed, c.id)
	}

	data, err := frame.MarshalBinary()
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return fmt.Errorf("failed to set write deadline: %w", err)
		}
	}

	n, err := c.conn.Write(data)
	c.bytesWritten.Add(int64(n))
	if err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}

	c.framesWritten.Add(1)
	c.touch()
	return nil
}

// Close closes the connection
func (c *Conn) Close() error {
	if !c.state.CompareAndSwap(int32(ConnectionStateConnected), int32(ConnectionStateClosed)) {
		return nil
	}
	return c.conn.Close()
}

// Statistics returns connection statistics
func (c *Conn) Statistics() ConnectionStatistics {
	return ConnectionStatistics{
		ConnectionID:  c.id,
		State:         c.State(),
		BytesRead:     c.bytesRead.Load(),
		BytesWritten:  c.bytesWritten.Load(),
		FramesRead:    c.framesRead.Load(),
		FramesWritten: c.framesWritten.Load(),
		LastActivity:  c.LastActivity(),
		RemoteAddr:    c.RemoteAddr().String(),
	}
}

func (c *Conn) isClosed() bool {
	return c.State() == ConnectionStateClosed
}

func (c *Conn) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

// ConnectionStatistics holds statistics for a connection
type ConnectionStatistics struct {
	ConnectionID  string          `json:"connection_id"`
	State         ConnectionState `json:"state"`
	BytesRead     int64           `json:"bytes_read"`
	BytesWritten  int64           `json:"bytes_written"`
	FramesRead    int64           `json:"frames_read"`
	FramesWritten int64           `json:"frames_written"`
	LastActivity  time.Time       `json:"last_activity"`
	RemoteAddr    string          `json:"remote_addr"`
}

// String returns the string representation of connection statistics
func (cs ConnectionStatistics) String() string {
	return fmt.Sprintf("Connection[%s] State=%s BytesR/W=%d/%d FramesR/W=%d/%d Remote=%s",
		cs.ConnectionID, cs.State, cs.BytesRead, cs.BytesWritten,
		cs.FramesRead, cs.FramesWritten, cs.RemoteAddr)
}
