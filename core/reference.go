package core

import (
	"fmt"
	"weak"

	"github.com/najoast/robo/bus"
)

// Reference is an opaque, copyable handle to a unit. It holds no strong
// pointer to the Context, so an abandoned Context can be collected while
// References to its units are still around; sends through such a Reference
// fail with an UnknownTargetError.
type Reference struct {
	id    string
	owner weak.Pointer[Context]
}

// ID returns the id of the referenced unit.
func (r Reference) ID() string {
	return r.id
}

// String returns the string representation of Reference.
func (r Reference) String() string {
	return "ref:" + r.id
}

// Send delivers payload at normal priority. It never blocks; the message
// is queued for the unit's consumer.
func (r Reference) Send(payload any) error {
	return r.SendWithPriority(payload, bus.PriorityNormal)
}

// SendWithPriority delivers payload with the given priority. Lower values
// are delivered first among messages queued while the consumer is waiting.
func (r Reference) SendWithPriority(payload any, priority int) error {
	u, err := r.resolve()
	if err != nil {
		return err
	}
	return u.enqueue(bus.NewEnvelope(payload, priority))
}

// TrySend delivers payload only if the unit's consumer is idle and waiting.
// It returns false when the message was not accepted, which suits
// perishable data such as sensor readings.
func (r Reference) TrySend(payload any, priority int) (bool, error) {
	u, err := r.resolve()
	if err != nil {
		return false, err
	}
	return u.tryEnqueue(bus.NewEnvelope(payload, priority))
}

// Query reads an attribute synchronously. found is false when the unit
// does not support the attribute.
func (r Reference) Query(d AttributeDescriptor) (value any, found bool, err error) {
	u, err := r.resolve()
	if err != nil {
		return nil, false, err
	}
	value, found = u.getAttribute(d)
	return value, found, nil
}

// QueryAs reads the named attribute as a T.
func QueryAs[T any](r Reference, name string) (T, error) {
	var zero T

	v, found, err := r.Query(NewAttribute[T](name))
	if err != nil {
		return zero, err
	}
	if !found {
		return zero, fmt.Errorf("%w: %s on unit %s", ErrUnsupportedAttribute, name, r.id)
	}
	if v == nil {
		return zero, nil
	}
	return v.(T), nil
}

func (r Reference) resolve() (*Unit, error) {
	c := r.owner.Value()
	if c == nil {
		return nil, &UnknownTargetError{ID: r.id}
	}
	return c.lookup(r.id)
}
