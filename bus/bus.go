package bus

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// DefaultWaitGranularity is how long a parked Take or Peek sleeps before it
// re-checks whether the bus is still active.
const DefaultWaitGranularity = time.Second

// Route reports which store an Enqueue placed its envelope in.
type Route uint8

const (
	// RoutePrimary means a consumer was parked and the envelope went to the
	// priority store
	RoutePrimary Route = iota

	// RouteSecondary means no consumer was parked and the envelope was
	// buffered for the next Take
	RouteSecondary
)

// String returns the string representation of Route.
func (r Route) String() string {
	switch r {
	case RoutePrimary:
		return "primary"
	case RouteSecondary:
		return "secondary"
	default:
		return "unknown"
	}
}

// Bus is a blocking mailbox for a single consumer and any number of
// producers. All state is guarded by one mutex; blocked readers wait on a
// condition variable tied to that mutex.
type Bus[T any] struct {
	mu   sync.Mutex
	cond *sync.Cond

	primary   priorityStore[T]
	secondary fifoStore[T]

	// waiting counts goroutines parked inside Take
	waiting int
	active  bool
	seq     uint64

	granularity time.Duration
}

// Option configures a Bus.
type Option func(*options)

type options struct {
	granularity time.Duration
}

// WithWaitGranularity sets the periodic wake-up interval for parked readers.
// Non-positive values are ignored.
func WithWaitGranularity(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.granularity = d
		}
	}
}

// New creates an active Bus.
func New[T any](opts ...Option) *Bus[T] {
	o := options{granularity: DefaultWaitGranularity}
	for _, opt := range opts {
		opt(&o)
	}

	b := &Bus[T]{
		active:      true,
		granularity: o.granularity,
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// WaitGranularity returns the wake-up interval used by Take and Peek.
func (b *Bus[T]) WaitGranularity() time.Duration {
	return b.granularity
}

// IsActive reports whether the bus accepts blocking reads.
func (b *Bus[T]) IsActive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

// Activate re-enables blocking reads after Deactivate.
func (b *Bus[T]) Activate() {
	b.mu.Lock()
	b.active = true
	b.mu.Unlock()
}

// Deactivate marks the bus inactive and wakes every parked reader. Readers
// return an empty result instead of blocking from then on.
func (b *Bus[T]) Deactivate() {
	b.mu.Lock()
	b.active = false
	b.cond.Broadcast()
	b.mu.Unlock()
}

// TryEnqueue inserts e only if a consumer is currently parked in Take.
// It returns false and leaves the bus untouched otherwise.
func (b *Bus[T]) TryEnqueue(e Envelope[T]) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.waiting == 0 {
		return false
	}
	b.pushPrimary(e)
	return true
}

// Enqueue inserts e without blocking. With a consumer parked it goes to the
// priority store; otherwise it is buffered in arrival order and handed to
// the next Take ahead of the priority store.
func (b *Bus[T]) Enqueue(e Envelope[T]) Route {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.waiting > 0 {
		b.pushPrimary(e)
		return RoutePrimary
	}
	b.pushSecondary(e)
	return RouteSecondary
}

// EnqueueWithDeadline behaves exactly like Enqueue. The timeout is accepted
// for interface compatibility but no timed wait takes place: when no
// consumer is parked the envelope is buffered immediately and false is
// returned even though it will still be delivered.
func (b *Bus[T]) EnqueueWithDeadline(e Envelope[T], _ time.Duration) bool {
	return b.Enqueue(e) == RoutePrimary
}

// Take returns the next envelope, blocking while the bus is empty and
// active. The boolean is false once the bus has been deactivated and
// nothing buffered remains for the caller.
func (b *Bus[T]) Take() (Envelope[T], bool) {
	return b.TakeContext(context.Background())
}

// TakeContext is Take with an additional cancellation source.
func (b *Bus[T]) TakeContext(ctx context.Context) (Envelope[T], bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if e, ok := b.secondary.pop(); ok {
		return e, true
	}

	stop := b.wakeOnDone(ctx)
	defer stop()

	b.waiting++
	defer func() { b.waiting-- }()

	for b.active && ctx.Err() == nil {
		if e, ok := b.secondary.pop(); ok {
			return e, true
		}
		if b.primary.Len() > 0 {
			return heap.Pop(&b.primary).(Envelope[T]), true
		}
		b.wait()
	}

	var zero Envelope[T]
	return zero, false
}

// Peek returns the head envelope without removing it. The priority store is
// consulted first, then the buffered store. It blocks while both are empty
// and the bus is active.
func (b *Bus[T]) Peek() (Envelope[T], bool) {
	return b.PeekContext(context.Background())
}

// PeekContext is Peek with an additional cancellation source.
func (b *Bus[T]) PeekContext(ctx context.Context) (Envelope[T], bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	stop := b.wakeOnDone(ctx)
	defer stop()

	for {
		if b.primary.Len() > 0 {
			return b.primary[0], true
		}
		if e, ok := b.secondary.front(); ok {
			return e, true
		}
		if !b.active || ctx.Err() != nil {
			var zero Envelope[T]
			return zero, false
		}
		b.wait()
	}
}

// Drain removes and returns every queued envelope: buffered ones first in
// arrival order, then the priority store in priority order.
func (b *Bus[T]) Drain() []Envelope[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Envelope[T], 0, b.size())
	for {
		e, ok := b.secondary.pop()
		if !ok {
			break
		}
		out = append(out, e)
	}
	for b.primary.Len() > 0 {
		out = append(out, heap.Pop(&b.primary).(Envelope[T]))
	}
	return out
}

// Size returns the number of queued envelopes across both stores.
func (b *Bus[T]) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size()
}

// WaitingConsumers returns the number of goroutines parked in Take.
func (b *Bus[T]) WaitingConsumers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.waiting
}

// HasWaitingConsumer reports whether a goroutine is parked in Take.
func (b *Bus[T]) HasWaitingConsumer() bool {
	return b.WaitingConsumers() > 0
}

func (b *Bus[T]) size() int {
	return b.primary.Len() + b.secondary.Len()
}

// pushPrimary and pushSecondary must be called with b.mu held.
func (b *Bus[T]) pushPrimary(e Envelope[T]) {
	b.seq++
	e.seq = b.seq
	heap.Push(&b.primary, e)
	b.cond.Broadcast()
}

func (b *Bus[T]) pushSecondary(e Envelope[T]) {
	b.seq++
	e.seq = b.seq
	b.secondary.push(e)
	b.cond.Broadcast()
}

// wait parks the caller on the condition variable for at most one
// granularity interval. b.mu must be held; it is released while parked.
func (b *Bus[T]) wait() {
	t := time.AfterFunc(b.granularity, b.broadcast)
	b.cond.Wait()
	t.Stop()
}

// wakeOnDone arranges for parked readers to wake when ctx is done.
func (b *Bus[T]) wakeOnDone(ctx context.Context) func() bool {
	if ctx.Done() == nil {
		return func() bool { return false }
	}
	return context.AfterFunc(ctx, b.broadcast)
}

func (b *Bus[T]) broadcast() {
	b.mu.Lock()
	b.cond.Broadcast()
	b.mu.Unlock()
}
