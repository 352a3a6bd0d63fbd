package command

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidBatch is returned for malformed batch strings.
var ErrInvalidBatch = errors.New("invalid batch")

// Step is one command of a batch with its argument.
type Step struct {
	Command Command
	Value   int
}

// String formats the step in batch notation.
func (s Step) String() string {
	return fmt.Sprintf("%s(%d)", s.Command.Name, s.Value)
}

// ParseBatch parses a comma-separated batch such as
// "move(30),back(30),move(30)". The argument is optional; "stop" and
// "stop()" both yield a zero Value.
func ParseBatch(batch string) ([]Step, error) {
	batch = strings.TrimSpace(batch)
	if batch == "" {
		return nil, fmt.Errorf("%w: empty batch", ErrInvalidBatch)
	}

	parts := strings.Split(batch, ",")
	steps := make([]Step, 0, len(parts))
	for i, part := range parts {
		step, err := parseStep(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("%w: step %d: %w", ErrInvalidBatch, i+1, err)
		}
		steps = append(steps, step)
	}
	return steps, nil
}

// FormatBatch is the inverse of ParseBatch.
func FormatBatch(steps []Step) string {
	parts := make([]string, len(steps))
	for i, s := range steps {
		parts[i] = s.String()
	}
	return strings.Join(parts, ",")
}

func parseStep(s string) (Step, error) {
	name, arg := s, ""
	if open := strings.IndexByte(s, '('); open >= 0 {
		if !strings.HasSuffix(s, ")") {
			return Step{}, fmt.Errorf("unbalanced parenthesis in %q", s)
		}
		name, arg = strings.TrimSpace(s[:open]), strings.TrimSpace(s[open+1:len(s)-1])
	}
	if name == "" {
		return Step{}, fmt.Errorf("missing command name in %q", s)
	}

	cmd, ok := Lookup(name)
	if !ok {
		return Step{}, fmt.Errorf("unknown command %q", name)
	}

	step := Step{Command: cmd}
	if arg != "" {
		v, err := strconv.Atoi(arg)
		if err != nil {
			return Step{}, fmt.Errorf("bad argument %q for %s", arg, name)
		}
		step.Value = v
	}
	return step, nil
}
