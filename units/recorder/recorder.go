// Package recorder provides a sink unit that remembers the most recent
// payloads it received.
package recorder

import (
	"context"
	"slices"
	"sync"

	"github.com/najoast/robo/core"
)

// Type is the factory name of the Recorder unit.
const Type = "recorder"

// DefaultCapacity is the number of payloads kept when capacity is unset.
const DefaultCapacity = 16

// Recorder keeps the last capacity payloads.
//
// Configuration:
//
//	capacity  number of payloads kept (default 16)
type Recorder struct {
	mu       sync.RWMutex
	capacity int
	payloads []any
	count    int64
	notify   chan struct{}
}

// New creates a Recorder with the default capacity.
func New() *Recorder {
	return &Recorder{capacity: DefaultCapacity, notify: make(chan struct{}, 1)}
}

// Initialize implements core.Initializable.
func (r *Recorder) Initialize(_ core.UnitEnv, cfg core.Configuration) error {
	capacity, err := cfg.Int("capacity", DefaultCapacity)
	if err != nil {
		return err
	}
	if capacity <= 0 {
		return &core.ConfigurationError{Key: "capacity", Reason: "must be positive"}
	}

	r.mu.Lock()
	r.capacity = capacity
	r.mu.Unlock()
	return nil
}

// OnMessage implements core.MessageHandler.
func (r *Recorder) OnMessage(_ context.Context, payload any) error {
	r.mu.Lock()
	r.payloads = append(r.payloads, payload)
	if over := len(r.payloads) - r.capacity; over > 0 {
		r.payloads = slices.Delete(r.payloads, 0, over)
	}
	r.count++
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
	return nil
}

// Payloads returns the retained payloads, oldest first.
func (r *Recorder) Payloads() []any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.payloads)
}

// Count returns the number of payloads received in total.
func (r *Recorder) Count() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Notify is signalled after each received payload. Signals coalesce.
func (r *Recorder) Notify() <-chan struct{} {
	return r.notify
}

// GetAttribute implements core.AttributeQueryable.
func (r *Recorder) GetAttribute(d core.AttributeDescriptor) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	switch d.Name {
	case "count":
		return r.count, true
	case "last":
		if len(r.payloads) == 0 {
			return nil, true
		}
		return r.payloads[len(r.payloads)-1], true
	}
	return nil, false
}
