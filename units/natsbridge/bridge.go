// Package natsbridge connects units to a NATS server: messages published on
// a subject are forwarded to a target unit, and payloads sent to the bridge
// are published on an outbound subject.
package natsbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/najoast/robo/core"
)

// Type is the factory name of the NATS bridge unit.
const Type = "nats-bridge"

// ErrNotConnected is returned when publishing without a connection.
var ErrNotConnected = errors.New("nats bridge is not connected")

const (
	DefaultTimeout       = 2 * time.Second
	DefaultReconnectWait = time.Second
	DefaultMaxReconnects = 10
)

// Bridge forwards between NATS subjects and units.
//
// Configuration:
//
//	url             server url (default nats://127.0.0.1:4222)
//	subject         inbound subject, forwarded to target
//	target          unit receiving inbound payloads (required with subject)
//	publish         outbound subject for payloads sent to the bridge
//	timeout         connect timeout (default 2s)
//	max_reconnects  reconnect attempts (default 10)
type Bridge struct {
	id            string
	logger        *slog.Logger
	url           string
	subject       string
	publish       string
	target        *core.Reference
	timeout       time.Duration
	maxReconnects int

	mu   sync.Mutex
	conn *nats.Conn
	sub  *nats.Subscription

	received  atomic.Int64
	published atomic.Int64
	failed    atomic.Int64
}

// New creates an unconfigured bridge.
func New() *Bridge {
	return &Bridge{logger: slog.Default(), url: nats.DefaultURL}
}

// Initialize implements core.Initializable.
func (b *Bridge) Initialize(env core.UnitEnv, cfg core.Configuration) error {
	b.id = env.ID
	if env.Logger != nil {
		b.logger = env.Logger
	}

	b.url = cfg.StringOr("url", nats.DefaultURL)
	b.subject = cfg.StringOr("subject", "")
	b.publish = cfg.StringOr("publish", "")
	if b.subject == "" && b.publish == "" {
		return &core.ConfigurationError{Key: "subject", Reason: "subject or publish is required"}
	}

	if id, ok := cfg.String("target"); ok {
		ref, err := env.Reference(id)
		if err != nil {
			return err
		}
		b.target = &ref
	}
	if b.subject != "" && b.target == nil {
		return &core.ConfigurationError{Key: "target", Reason: "required when subject is set"}
	}

	var err error
	if b.timeout, err = cfg.Duration("timeout", DefaultTimeout); err != nil {
		return err
	}
	if b.maxReconnects, err = cfg.Int("max_reconnects", DefaultMaxReconnects); err != nil {
		return err
	}
	return nil
}

func (b *Bridge) options() []nats.Option {
	opts := []nats.Option{
		nats.Timeout(b.timeout),
		nats.MaxReconnects(b.maxReconnects),
		nats.ReconnectWait(DefaultReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			b.logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			b.logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}
	if b.id != "" {
		opts = append(opts, nats.Name("robo-"+b.id))
	}
	return opts
}

// OnStart implements core.Starter. It connects and subscribes.
func (b *Bridge) OnStart(context.Context) error {
	conn, err := nats.Connect(b.url, b.options()...)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", b.url, err)
	}

	var sub *nats.Subscription
	if b.subject != "" {
		sub, err = conn.Subscribe(b.subject, b.forward)
		if err != nil {
			conn.Close()
			return fmt.Errorf("failed to subscribe to %s: %w", b.subject, err)
		}
		// the subscription is live on the server once Start returns
		if err := conn.FlushTimeout(b.timeout); err != nil {
			conn.Close()
			return fmt.Errorf("failed to flush subscription to %s: %w", b.subject, err)
		}
	}

	b.mu.Lock()
	b.conn, b.sub = conn, sub
	b.mu.Unlock()

	b.logger.Info("nats bridge connected", "url", conn.ConnectedUrl(), "subject", b.subject, "publish", b.publish)
	return nil
}

// OnStop implements core.Stopper. Pending inbound messages are drained.
func (b *Bridge) OnStop(context.Context) error {
	b.mu.Lock()
	conn := b.conn
	b.conn, b.sub = nil, nil
	b.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := conn.Drain(); err != nil {
		conn.Close()
		return err
	}
	return nil
}

func (b *Bridge) forward(msg *nats.Msg) {
	b.received.Add(1)
	if err := b.target.Send(string(msg.Data)); err != nil {
		b.failed.Add(1)
		b.logger.Warn("inbound message not delivered", "subject", msg.Subject, "error", err)
	}
}

// OnMessage implements core.MessageHandler. It publishes the payload on
// the outbound subject.
func (b *Bridge) OnMessage(_ context.Context, payload any) error {
	if b.publish == "" {
		return fmt.Errorf("nats bridge %s has no publish subject", b.id)
	}

	data, err := Encode(payload)
	if err != nil {
		return err
	}

	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	if err := conn.Publish(b.publish, data); err != nil {
		b.failed.Add(1)
		return fmt.Errorf("failed to publish to %s: %w", b.publish, err)
	}
	b.published.Add(1)
	return nil
}

// Encode converts a payload to message data. Strings and byte slices are
// sent as is, everything else as JSON.
func Encode(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case []byte:
		return p, nil
	case string:
		return []byte(p), nil
	case fmt.Stringer:
		return []byte(p.String()), nil
	default:
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %T: %w", payload, err)
		}
		return data, nil
	}
}

// GetAttribute implements core.AttributeQueryable.
func (b *Bridge) GetAttribute(d core.AttributeDescriptor) (any, bool) {
	switch d.Name {
	case "connected":
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.conn != nil && b.conn.IsConnected(), true
	case "received":
		return b.received.Load(), true
	case "published":
		return b.published.Load(), true
	case "failed":
		return b.failed.Load(), true
	}
	return nil, false
}
