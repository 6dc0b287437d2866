package types

import (
	"errors"
	"fmt"
)

// ErrUnknownEventClass is returned by ParseEventClass for unrecognized names.
var ErrUnknownEventClass = errors.New("unknown event class")

// EventClass selects which changes a listener is notified about.
type EventClass int

// Event classes. The zero value is ValueChanged.
const (
	ValueChanged EventClass = iota
	ChildAdded
	ChildChanged
	ChildRemoved
	ChildMoved
)

var eventClassNames = map[EventClass]string{
	ValueChanged: "value",
	ChildAdded:   "child_added",
	ChildChanged: "child_changed",
	ChildRemoved: "child_removed",
	ChildMoved:   "child_moved",
}

// EventClasses lists every event class for enumeration.
var EventClasses = []EventClass{
	ValueChanged,
	ChildAdded,
	ChildChanged,
	ChildRemoved,
	ChildMoved,
}

// String returns the wire name of the event class.
func (c EventClass) String() string {
	if name, ok := eventClassNames[c]; ok {
		return name
	}
	return fmt.Sprintf("EventClass(%d)", int(c))
}

// Valid reports whether c is one of the defined event classes.
func (c EventClass) Valid() bool {
	_, ok := eventClassNames[c]
	return ok
}

// IsChild reports whether c reports changes to individual children.
func (c EventClass) IsChild() bool {
	return c.Valid() && c != ValueChanged
}

// ParseEventClass maps a wire name such as "child_added" to its EventClass.
func ParseEventClass(name string) (EventClass, error) {
	for c, n := range eventClassNames {
		if n == name {
			return c, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownEventClass, name)
}

// MarshalText implements encoding.TextMarshaler.
func (c EventClass) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownEventClass, int(c))
	}
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *EventClass) UnmarshalText(b []byte) error {
	parsed, err := ParseEventClass(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
