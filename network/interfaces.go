// Package network provides the length-prefixed TCP frame transport used by
// ingress units to feed external traffic into unit references.
package network

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrServerRunning    = errors.New("server is already running")
	ErrServerStopped    = errors.New("server is not running")
	ErrConnectionClosed = errors.New("connection is closed")
	ErrFrameTooLarge    = errors.New("frame payload too large")
	ErrInvalidFrame     = errors.New("invalid frame")
)

// ConnectionState represents the state of a network connection
type ConnectionState int32

const (
	ConnectionStateConnected ConnectionState = iota
	ConnectionStateClosed
)

// String returns the string representation of ConnectionState
func (cs ConnectionState) String() string {
	switch cs {
	case ConnectionStateConnected:
		return "connected"
	case ConnectionStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Handler processes data frames received by a Server. A returned error is
// reported back to the peer as an error frame; the connection stays open.
type Handler interface {
	OnFrame(conn *Conn, frame *Frame) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(conn *Conn, frame *Frame) error

// OnFrame calls f(conn, frame).
func (f HandlerFunc) OnFrame(conn *Conn, frame *Frame) error {
	return f(conn, frame)
}

// ConnectionObserver is notified when connections open and close. Handlers
// may implement it alongside Handler.
type ConnectionObserver interface {
	OnConnect(conn *Conn)
	OnDisconnect(conn *Conn, err error)
}

// ServerConfig holds listener settings.
type ServerConfig struct {
	Address           string        `json:"address" yaml:"address"`
	Port              int           `json:"port" yaml:"port"`
	MaxConnections    int           `json:"max_connections" yaml:"max_connections"`
	ReadTimeout       time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout      time.Duration `json:"write_timeout" yaml:"write_timeout"`
	KeepAlive         bool          `json:"keep_alive" yaml:"keep_alive"`
	KeepAliveInterval time.Duration `json:"keep_alive_interval" yaml:"keep_alive_interval"`
}

// DefaultServerConfig returns settings for a loopback listener on an
// ephemeral port.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Address:           "127.0.0.1",
		Port:              0,
		MaxConnections:    64,
		ReadTimeout:       0,
		WriteTimeout:      10 * time.Second,
		KeepAlive:         true,
		KeepAliveInterval: 30 * time.Second,
	}
}

// ListenAddress returns the host:port the server binds.
func (c *ServerConfig) ListenAddress() string {
	return fmt.Sprintf("%s:%d", c.Address, c.Port)
}

// Validate checks the settings.
func (c *ServerConfig) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("invalid max connections: %d", c.MaxConnections)
	}
	return nil
}
