// Package command holds the command tables shared by robot units, the
// batch notation used to script them, and the Commander unit that plays
// named batches against a target.
package command

import (
	"fmt"
	"slices"
)

// Kind groups commands by the subsystem they drive.
type Kind uint8

const (
	KindHand Kind = iota + 1
	KindMotion
)

// String returns the string representation of Kind
func (k Kind) String() string {
	switch k {
	case KindHand:
		return "hand"
	case KindMotion:
		return "motion"
	default:
		return fmt.Sprintf("unknown(%d)", k)
	}
}

// Command is an entry of a command table.
type Command struct {
	Code int
	Name string
	Kind Kind
}

// String returns the command name.
func (c Command) String() string {
	return c.Name
}

// Table is an immutable code/name lookup for one Kind. Tables are fully
// built at package initialization and safe for concurrent use.
type Table struct {
	kind     Kind
	commands []Command
	byCode   map[int]Command
	byName   map[string]Command
}

func newTable(kind Kind, names ...string) *Table {
	t := &Table{
		kind:   kind,
		byCode: make(map[int]Command, len(names)),
		byName: make(map[string]Command, len(names)),
	}
	for code, name := range names {
		c := Command{Code: code, Name: name, Kind: kind}
		t.commands = append(t.commands, c)
		t.byCode[code] = c
		t.byName[name] = c
	}
	return t
}

var (
	// Hand drives the front hand: exit=0, command=1.
	Hand = newTable(KindHand, "exit", "command")

	// Motion drives the platform engines.
	Motion = newTable(KindMotion, "move", "back", "left", "right", "stop")
)

// Kind returns the kind of every command in the table.
func (t *Table) Kind() Kind {
	return t.kind
}

// ByCode looks a command up by its numeric code.
func (t *Table) ByCode(code int) (Command, bool) {
	c, ok := t.byCode[code]
	return c, ok
}

// ByName looks a command up by name.
func (t *Table) ByName(name string) (Command, bool) {
	c, ok := t.byName[name]
	return c, ok
}

// Commands returns the commands ordered by code.
func (t *Table) Commands() []Command {
	return slices.Clone(t.commands)
}

// Lookup finds name in the motion table first, then the hand table.
func Lookup(name string) (Command, bool) {
	if c, ok := Motion.ByName(name); ok {
		return c, true
	}
	return Hand.ByName(name)
}
