package bus

import "container/heap"

// Priority levels used by callers that do not need finer control.
// Lower values are delivered first.
const (
	PriorityHigh   = 0
	PriorityNormal = 5
	PriorityLow    = 10
)

// Envelope wraps a payload with its ordering key.
type Envelope[T any] struct {
	// Payload is the message carried by the envelope
	Payload T

	// Priority orders envelopes in the primary store, lowest first
	Priority int

	// seq is the arrival order, assigned under the bus lock
	seq uint64
}

// NewEnvelope creates an envelope with the given payload and priority.
func NewEnvelope[T any](payload T, priority int) Envelope[T] {
	return Envelope[T]{Payload: payload, Priority: priority}
}

// Seq returns the arrival sequence number assigned when the envelope was
// enqueued. It is zero for envelopes that never entered a bus.
func (e Envelope[T]) Seq() uint64 {
	return e.seq
}

// priorityStore is a min-heap on (Priority, seq).
type priorityStore[T any] []Envelope[T]

var _ heap.Interface = (*priorityStore[int])(nil)

func (s priorityStore[T]) Len() int { return len(s) }

func (s priorityStore[T]) Less(i, j int) bool {
	if s[i].Priority != s[j].Priority {
		return s[i].Priority < s[j].Priority
	}
	return s[i].seq < s[j].seq
}

func (s priorityStore[T]) Swap(i, j int) { s[i], s[j] = s[j], s[i] }

func (s *priorityStore[T]) Push(x any) {
	*s = append(*s, x.(Envelope[T]))
}

func (s *priorityStore[T]) Pop() any {
	old := *s
	n := len(old)
	e := old[n-1]
	var zero Envelope[T]
	old[n-1] = zero
	*s = old[:n-1]
	return e
}

// fifoStore is an append-only queue with a moving head.
type fifoStore[T any] struct {
	items []Envelope[T]
	head  int
}

func (f *fifoStore[T]) Len() int { return len(f.items) - f.head }

func (f *fifoStore[T]) push(e Envelope[T]) {
	f.items = append(f.items, e)
}

func (f *fifoStore[T]) front() (Envelope[T], bool) {
	if f.Len() == 0 {
		var zero Envelope[T]
		return zero, false
	}
	return f.items[f.head], true
}

func (f *fifoStore[T]) pop() (Envelope[T], bool) {
	e, ok := f.front()
	if !ok {
		return e, false
	}
	var zero Envelope[T]
	f.items[f.head] = zero
	f.head++

	// Reclaim the backing array once the queue empties or the dead prefix
	// dominates.
	if f.head == len(f.items) {
		f.items = f.items[:0]
		f.head = 0
	} else if f.head > 64 && f.head*2 > len(f.items) {
		n := copy(f.items, f.items[f.head:])
		clear(f.items[n:])
		f.items = f.items[:n]
		f.head = 0
	}
	return e, true
}
