package types

import (
	"errors"
	"strings"
)

// Path errors.
var (
	ErrInvalidPath = errors.New("invalid path")
	ErrInvalidKey  = errors.New("invalid key")
)

// maxKeyBytes bounds a single path segment.
const maxKeyBytes = 768

// Path identifies a location in the hierarchical store as an ordered
// sequence of keys. A Path is immutable; every method returns a new value.
// The zero Path is the root.
type Path struct {
	segments []string
}

// Root returns the root path.
func Root() Path {
	return Path{}
}

// NewPath builds a path from already split segments.
// Returns ErrInvalidKey if any segment is not a valid key.
func NewPath(segments ...string) (Path, error) {
	for _, s := range segments {
		if err := ValidateKey(s); err != nil {
			return Path{}, err
		}
	}
	cp := make([]string, len(segments))
	copy(cp, segments)
	return Path{segments: cp}, nil
}

// ParsePath parses a slash separated path such as "doctorProfiles/42".
// Leading, trailing and repeated slashes are ignored; "" and "/" are the root.
func ParsePath(s string) (Path, error) {
	var segments []string
	for _, part := range strings.Split(s, "/") {
		if part == "" {
			continue
		}
		segments = append(segments, part)
	}
	p, err := NewPath(segments...)
	if err != nil {
		return Path{}, errors.Join(ErrInvalidPath, err)
	}
	return p, nil
}

// MustParsePath is ParsePath for constant paths; it panics on error.
func MustParsePath(s string) Path {
	p, err := ParsePath(s)
	if err != nil {
		panic(err)
	}
	return p
}

// ValidateKey reports whether key may be used as a path segment.
// Keys must be non-empty, at most 768 bytes, and free of the characters
// . $ # [ ] / and ASCII control characters.
func ValidateKey(key string) error {
	if key == "" || len(key) > maxKeyBytes {
		return ErrInvalidKey
	}
	for _, r := range key {
		if r < 0x20 || r == 0x7f {
			return ErrInvalidKey
		}
		switch r {
		case '.', '$', '#', '[', ']', '/':
			return ErrInvalidKey
		}
	}
	return nil
}

// Child returns the path extended by the given segments. Segments containing
// slashes are split, so Child("a/b") equals Child("a", "b").
func (p Path) Child(segments ...string) (Path, error) {
	out := make([]string, 0, len(p.segments)+len(segments))
	out = append(out, p.segments...)
	for _, s := range segments {
		for _, part := range strings.Split(s, "/") {
			if part == "" {
				continue
			}
			if err := ValidateKey(part); err != nil {
				return Path{}, err
			}
			out = append(out, part)
		}
	}
	return Path{segments: out}, nil
}

// Parent returns the parent path. The root has no parent.
func (p Path) Parent() (Path, bool) {
	if p.IsRoot() {
		return Path{}, false
	}
	n := len(p.segments) - 1
	return Path{segments: p.segments[:n:n]}, true
}

// Key returns the last segment, or "" for the root.
func (p Path) Key() string {
	if p.IsRoot() {
		return ""
	}
	return p.segments[len(p.segments)-1]
}

// Segments returns a copy of the path segments.
func (p Path) Segments() []string {
	cp := make([]string, len(p.segments))
	copy(cp, p.segments)
	return cp
}

// Len returns the number of segments.
func (p Path) Len() int { return len(p.segments) }

// IsRoot reports whether p is the root path.
func (p Path) IsRoot() bool { return len(p.segments) == 0 }

// Equal reports whether p and q name the same location.
func (p Path) Equal(q Path) bool {
	if len(p.segments) != len(q.segments) {
		return false
	}
	for i := range p.segments {
		if p.segments[i] != q.segments[i] {
			return false
		}
	}
	return true
}

// Contains reports whether q is p or a descendant of p.
func (p Path) Contains(q Path) bool {
	if len(q.segments) < len(p.segments) {
		return false
	}
	for i := range p.segments {
		if p.segments[i] != q.segments[i] {
			return false
		}
	}
	return true
}

// Rel returns the segments of q below p. ok is false if p does not contain q.
func (p Path) Rel(q Path) (rel []string, ok bool) {
	if !p.Contains(q) {
		return nil, false
	}
	return q.Segments()[len(p.segments):], true
}

// String returns the slash separated form; the root prints as "/".
func (p Path) String() string {
	if p.IsRoot() {
		return "/"
	}
	return strings.Join(p.segments, "/")
}

// MarshalText implements encoding.TextMarshaler.
func (p Path) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Path) UnmarshalText(b []byte) error {
	parsed, err := ParsePath(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
