package core

import (
	"fmt"
	"maps"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// AttributeDescriptor names a queryable unit attribute and the Go type of
// its value.
type AttributeDescriptor struct {
	Name string
	Type reflect.Type
}

// NewAttribute returns a descriptor for an attribute of type T.
func NewAttribute[T any](name string) AttributeDescriptor {
	return AttributeDescriptor{Name: name, Type: reflect.TypeFor[T]()}
}

// String returns the string representation of AttributeDescriptor.
func (d AttributeDescriptor) String() string {
	if d.Type == nil {
		return d.Name
	}
	return fmt.Sprintf("%s(%s)", d.Name, d.Type)
}

// accepts reports whether v is a valid value for the descriptor.
func (d AttributeDescriptor) accepts(v any) bool {
	if d.Type == nil {
		return true
	}
	if v == nil {
		switch d.Type.Kind() {
		case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
			return true
		default:
			return false
		}
	}
	return reflect.TypeOf(v).AssignableTo(d.Type)
}

// Configuration holds the string properties a unit is initialized with.
type Configuration map[string]string

// Clone returns a copy of c that is safe to hand to unit code.
func (c Configuration) Clone() Configuration {
	if c == nil {
		return Configuration{}
	}
	return maps.Clone(c)
}

// String returns the trimmed value for key and whether it is set and non-empty.
func (c Configuration) String(key string) (string, bool) {
	v, ok := c[key]
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

// StringOr returns the value for key or def when it is unset.
func (c Configuration) StringOr(key, def string) string {
	if v, ok := c.String(key); ok {
		return v
	}
	return def
}

// Require returns the value for key or a ConfigurationError when it is missing.
func (c Configuration) Require(key string) (string, error) {
	v, ok := c.String(key)
	if !ok {
		return "", &ConfigurationError{Key: key, Reason: "missing required key"}
	}
	return v, nil
}

// Int returns the integer value for key, def when unset, or a
// ConfigurationError when the value does not parse.
func (c Configuration) Int(key string, def int) (int, error) {
	v, ok := c.String(key)
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &ConfigurationError{Key: key, Reason: fmt.Sprintf("not an integer: %q", v)}
	}
	return n, nil
}

// Float returns the float value for key, def when unset, or a ConfigurationError.
func (c Configuration) Float(key string, def float64) (float64, error) {
	v, ok := c.String(key)
	if !ok {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, &ConfigurationError{Key: key, Reason: fmt.Sprintf("not a number: %q", v)}
	}
	return f, nil
}

// Bool returns the boolean value for key, def when unset, or a ConfigurationError.
func (c Configuration) Bool(key string, def bool) (bool, error) {
	v, ok := c.String(key)
	if !ok {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, &ConfigurationError{Key: key, Reason: fmt.Sprintf("not a boolean: %q", v)}
	}
	return b, nil
}

// Duration returns the duration value for key, def when unset, or a
// ConfigurationError. Values use time.ParseDuration syntax.
func (c Configuration) Duration(key string, def time.Duration) (time.Duration, error) {
	v, ok := c.String(key)
	if !ok {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, &ConfigurationError{Key: key, Reason: fmt.Sprintf("not a duration: %q", v)}
	}
	return d, nil
}

// WithPrefix returns the keys starting with prefix, with the prefix removed.
func (c Configuration) WithPrefix(prefix string) map[string]string {
	out := make(map[string]string)
	for k, v := range c {
		if rest, ok := strings.CutPrefix(k, prefix); ok && rest != "" {
			out[rest] = v
		}
	}
	return out
}

// DeliveryPolicy decides what happens to messages addressed to a unit that
// is not STARTED.
type DeliveryPolicy uint8

const (
	// DeliveryDrop discards messages sent to a unit that is neither starting
	// nor started, and messages still queued when it shuts down
	DeliveryDrop DeliveryPolicy = iota

	// DeliveryBuffer keeps messages queued until the unit is started
	DeliveryBuffer
)

// String returns the string representation of DeliveryPolicy.
func (p DeliveryPolicy) String() string {
	switch p {
	case DeliveryDrop:
		return "drop"
	case DeliveryBuffer:
		return "buffer"
	default:
		return "unknown"
	}
}

// ParseDeliveryPolicy parses "drop" or "buffer". The empty string means drop.
func ParseDeliveryPolicy(s string) (DeliveryPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "drop":
		return DeliveryDrop, nil
	case "buffer":
		return DeliveryBuffer, nil
	default:
		return DeliveryDrop, fmt.Errorf("%w: unknown delivery policy %q", ErrConfiguration, s)
	}
}

// UnitStats contains runtime statistics for a unit.
type UnitStats struct {
	ID    string
	State State

	// Total messages handed to the handler
	Delivered uint64

	// Messages dropped by the delivery policy or a failed hand-off
	Dropped uint64

	// Handler invocations that returned an error or panicked
	Failures uint64

	// Envelopes currently queued in the unit's bus
	Queued int

	CreatedAt     time.Time
	StartedAt     time.Time
	LastMessageAt time.Time
}
