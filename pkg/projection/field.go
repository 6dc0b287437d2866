package projection

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/mesh-intelligence/livedb/pkg/types"
)

// ErrNoData marks a field projected before any snapshot arrived.
var ErrNoData = errors.New("no data")

// Kind is the type of a projected value.
type Kind int

// Field kinds. KindEmpty is the empty sentinel.
const (
	KindEmpty Kind = iota
	KindString
	KindNumber
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	default:
		return "empty"
	}
}

// Field is a typed value projected from a snapshot, or the empty sentinel
// when the value is absent or malformed. Err says why a field is empty.
type Field struct {
	Key    string
	Kind   Kind
	Text   string
	Number float64
	Bool   bool
	Err    error
}

// Empty returns the empty sentinel for key.
func Empty(key string, err error) Field {
	return Field{Key: key, Kind: KindEmpty, Err: err}
}

// IsEmpty reports whether f is the empty sentinel.
func (f Field) IsEmpty() bool { return f.Kind == KindEmpty }

// String renders the value for display. Numbers use the shortest exact
// decimal form, so 10 renders as "10". The empty sentinel renders as "".
func (f Field) String() string {
	switch f.Kind {
	case KindString:
		return f.Text
	case KindNumber:
		return strconv.FormatFloat(f.Number, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(f.Bool)
	default:
		return ""
	}
}

// MalformedDataError explains why a field could not be projected. It never
// terminates a stream; it rides along on the empty sentinel.
type MalformedDataError struct {
	Path   types.Path
	Key    string
	Reason string
}

func (e *MalformedDataError) Error() string {
	return fmt.Sprintf("malformed field %q at %s: %s", e.Key, e.Path, e.Reason)
}
