// Package ingress provides a unit that accepts TCP frame traffic and feeds
// it to a target unit.
package ingress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/najoast/robo/core"
	"github.com/najoast/robo/network"
)

// Type is the factory name of the ingress unit.
const Type = "ingress"

// ErrRateLimited is reported to peers that exceed the configured rate.
var ErrRateLimited = errors.New("rate limit exceeded")

// Ingress listens for frames and sends each payload, as a string, to its
// target with the frame's priority.
//
// Configuration:
//
//	target           unit receiving payloads (required)
//	port             listen port (default 0, ephemeral)
//	address          listen address (default 127.0.0.1)
//	rate             frames per second across all connections (default unlimited)
//	burst            limiter burst (default max(1, rate))
//	max_connections  concurrent connection limit (default 64)
type Ingress struct {
	logger  *slog.Logger
	target  core.Reference
	config  network.ServerConfig
	limiter *rate.Limiter
	server  atomic.Pointer[network.Server]

	frames   atomic.Int64
	rejected atomic.Int64
}

// New creates an unconfigured ingress unit.
func New() *Ingress {
	return &Ingress{logger: slog.Default()}
}

// RequiredKeys implements core.ConfigSchema.
func (in *Ingress) RequiredKeys() []string {
	return []string{"target"}
}

// Initialize implements core.Initializable.
func (in *Ingress) Initialize(env core.UnitEnv, cfg core.Configuration) error {
	if env.Logger != nil {
		in.logger = env.Logger
	}

	target, err := env.Reference(cfg.StringOr("target", ""))
	if err != nil {
		return err
	}
	in.target = target

	in.config = *network.DefaultServerConfig()
	in.config.Address = cfg.StringOr("address", in.config.Address)
	if in.config.Port, err = cfg.Int("port", 0); err != nil {
		return err
	}
	if in.config.MaxConnections, err = cfg.Int("max_connections", in.config.MaxConnections); err != nil {
		return err
	}
	if err := in.config.Validate(); err != nil {
		return &core.ConfigurationError{Reason: err.Error()}
	}

	limit, err := cfg.Float("rate", 0)
	if err != nil {
		return err
	}
	if limit < 0 {
		return &core.ConfigurationError{Key: "rate", Reason: "must not be negative"}
	}
	burst, err := cfg.Int("burst", max(1, int(math.Ceil(limit))))
	if err != nil {
		return err
	}
	if burst <= 0 {
		return &core.ConfigurationError{Key: "burst", Reason: "must be positive"}
	}

	in.limiter = rate.NewLimiter(rate.Inf, burst)
	if limit > 0 {
		in.limiter.SetLimit(rate.Limit(limit))
	}
	return nil
}

// OnStart implements core.Starter. It binds the listener.
func (in *Ingress) OnStart(context.Context) error {
	server, err := network.NewServer(&in.config, network.HandlerFunc(in.onFrame), in.logger)
	if err != nil {
		return err
	}
	if err := server.Start(); err != nil {
		return err
	}
	in.server.Store(server)
	return nil
}

// OnStop implements core.Stopper.
func (in *Ingress) OnStop(context.Context) error {
	server := in.server.Swap(nil)
	if server == nil {
		return nil
	}
	return server.Stop()
}

// OnMessage implements core.MessageHandler. Ingress only produces traffic.
func (in *Ingress) OnMessage(_ context.Context, payload any) error {
	return fmt.Errorf("ingress: unexpected message %T", payload)
}

func (in *Ingress) onFrame(conn *network.Conn, frame *network.Frame) error {
	if !in.limiter.Allow() {
		in.rejected.Add(1)
		return ErrRateLimited
	}

	if err := in.target.SendWithPriority(string(frame.Payload), int(frame.Priority)); err != nil {
		in.rejected.Add(1)
		in.logger.Warn("frame not delivered", "conn", conn.ID(), "target", in.target.ID(), "error", err)
		return err
	}

	in.frames.Add(1)
	return nil
}

// Addr returns the bound address, or "" when not listening.
func (in *Ingress) Addr() string {
	if server := in.server.Load(); server != nil && server.Addr() != nil {
		return server.Addr().String()
	}
	return ""
}

// GetAttribute implements core.AttributeQueryable.
func (in *Ingress) GetAttribute(d core.AttributeDescriptor) (any, bool) {
	switch d.Name {
	case "address":
		return in.Addr(), true
	case "connections":
		if server := in.server.Load(); server != nil {
			return server.ConnectionCount(), true
		}
		return 0, true
	case "frames":
		return in.frames.Load(), true
	case "rejected":
		return in.rejected.Load(), true
	}
	return nil, false
}
