package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Server accepts TCP connections and dispatches their data frames to a
// Handler. Heartbeats are echoed, close frames end the connection.
type Server struct {
	config   ServerConfig
	handler  Handler
	logger   *slog.Logger
	listener net.Listener
	running  atomic.Bool

	connections   map[string]*Conn
	connectionsMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Statistics
	totalConnections    atomic.Int64
	rejectedConnections atomic.Int64
	totalFrames         atomic.Int64
	startTime           time.Time
}

// NewServer creates a new frame server. A nil config uses
// DefaultServerConfig.
func NewServer(config *ServerConfig, handler Handler, logger *slog.Logger) (*Server, error) {
	if config == nil {
		config = DefaultServerConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, errors.New("frame handler is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		config:      *config,
		handler:     handler,
		logger:      logger.With("component", "frame-server"),
		connections: make(map[string]*Conn),
	}, nil
}

// Start binds the listener and starts the accept loop.
func (s *Server) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrServerRunning
	}

	address := s.config.ListenAddress()
	listener, err := net.Listen("tcp", address)
	if err != nil {
		s.running.Store(false)
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	s.listener = listener
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.startTime = time.Now()

	s.wg.Add(1)
	go s.acceptLoop()

	s.logger.Info("frame server started", "address", listener.Addr().String())
	return nil
}

// Stop closes the listener and every open connection, then waits for the
// connection goroutines to finish.
func (s *Server) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	s.cancel()
	err := s.listener.Close()

	s.connectionsMu.Lock()
	for _, conn := range s.connections {
		conn.Close()
	}
	s.connectionsMu.Unlock()

	s.wg.Wait()

	s.logger.Info("frame server stopped", "frames", s.totalFrames.Load())
	return err
}

// Addr returns the listening address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Running reports whether the server is accepting connections.
func (s *Server) Running() bool {
	return s.running.Load()
}

// Connections returns all active connections
func (s *Server) Connections() []*Conn {
	s.connectionsMu.RLock()
	defer s.connectionsMu.RUnlock()

	conns := make([]*Conn, 0, len(s.connections))
	for _, conn := range s.connections {
		conns = append(conns, conn)
	}
	return conns
}

// ConnectionCount returns the number of active connections
func (s *Server) ConnectionCount() int {
	s.connectionsMu.RLock()
	defer s.connectionsMu.RUnlock()
	return len(s.connections)
}

// FrameCount returns the number of data frames dispatched so far.
func (s *Server) FrameCount() int64 {
	return s.totalFrames.Load()
}

// Statistics returns server statistics
func (s *Server) Statistics() ServerStatistics {
	stats := ServerStatistics{
		Running:             s.Running(),
		StartTime:           s.startTime,
		TotalConnections:    s.totalConnections.Load(),
		RejectedConnections: s.rejectedConnections.Load(),
		CurrentConnections:  int64(s.ConnectionCount()),
		TotalFrames:         s.totalFrames.Load(),
	}
	if addr := s.Addr(); addr != nil {
		stats.Address = addr.String()
	}
	if stats.Running {
		stats.Uptime = time.Since(s.startTime)
	}
	return stats
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		netConn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.logger.Warn("failed to accept connection", "error", err)
			continue
		}

		s.admit(netConn)
	}
}

// admit registers the connection and starts its read loop, or rejects it
// when the connection limit is reached.
func (s *Server) admit(netConn net.Conn) {
	if tcpConn, ok := netConn.(*net.TCPConn); ok && s.config.KeepAlive {
		tcpConn.SetKeepAlive(true)
		tcpConn.SetKeepAlivePeriod(s.config.KeepAliveInterval)
	}

	conn := NewConn(netConn, s.config.ReadTimeout, s.config.WriteTimeout)

	s.connectionsMu.Lock()
	if s.ctx.Err() != nil {
		s.connectionsMu.Unlock()
		conn.Close()
		return
	}
	if s.config.MaxConnections > 0 && len(s.connections) >= s.config.MaxConnections {
		s.connectionsMu.Unlock()
		s.rejectedConnections.Add(1)
		s.logger.Warn("connection limit reached, rejecting connection",
			"limit", s.config.MaxConnections, "remote", netConn.RemoteAddr().String())
		conn.WriteFrame(NewErrorFrame(0, "connection limit reached"))
		conn.Close()
		return
	}
	s.connections[conn.ID()] = conn
	s.wg.Add(1)
	s.connectionsMu.Unlock()

	s.totalConnections.Add(1)
	go s.handleConnection(conn)
}

func (s *Server) handleConnection(conn *Conn) {
	defer s.wg.Done()

	observer, _ := s.handler.(ConnectionObserver)
	if observer != nil {
		observer.OnConnect(conn)
	}

	err := s.readLoop(conn)

	s.removeConnection(conn.ID())
	conn.Close()

	if observer != nil {
		observer.OnDisconnect(conn, err)
	}
	s.logger.Debug("connection closed", "conn", conn.ID(), "error", err)
}

// readLoop returns nil when the peer closes cleanly or the server stops.
func (s *Server) readLoop(conn *Conn) error {
	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) || s.ctx.Err() != nil || conn.isClosed() {
				return nil
			}
			return err
		}

		switch frame.Type {
		case FrameTypeData:
			s.totalFrames.Add(1)
			if err := s.handler.OnFrame(conn, frame); err != nil {
				if werr := conn.WriteFrame(NewErrorFrame(frame.Sequence, err.Error())); werr != nil {
					return werr
				}
			}
		case FrameTypeHeartbeat:
			if err := conn.WriteFrame(&Frame{Type: FrameTypeHeartbeat, Sequence: frame.Sequence}); err != nil {
				return err
			}
		case FrameTypeClose:
			return nil
		default:
			if err := conn.WriteFrame(NewErrorFrame(frame.Sequence, "unsupported frame type "+frame.Type.String())); err != nil {
				return err
			}
		}
	}
}

func (s *Server) removeConnection(id string) {
	s.connectionsMu.Lock()
	defer s.connectionsMu.Unlock()
	delete(s.connections, id)
}

// ServerStatistics holds statistics for a server
type ServerStatistics struct {
	Address             string        `json:"address"`
	Running             bool          `json:"running"`
	StartTime           time.Time     `json:"start_time"`
	Uptime              time.Duration `json:"uptime"`
	TotalConnections    int64         `json:"total_connections"`
	RejectedConnections int64         `json:"rejected_connections"`
	CurrentConnections  int64         `json:"current_connections"`
	TotalFrames         int64         `json:"total_frames"`
}

// String returns the string representation of server statistics
func (ss ServerStatistics) String() string {
	return fmt.Sprintf("Server[%s] Running=%t Uptime=%s Connections=%d/%d Rejected=%d Frames=%d",
		ss.Address, ss.Running, ss.Uptime.Truncate(time.Second),
		ss.CurrentConnections, ss.TotalConnections, ss.RejectedConnections, ss.TotalFrames)
}
