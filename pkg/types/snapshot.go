package types

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// Reserved keys of the export form. A node with a priority carries it under
// PriorityKey; a leaf with a priority is wrapped as {".value": v, ".priority": p}.
const (
	PriorityKey = ".priority"
	ValueKey    = ".value"
)

// Snapshot is an immutable, point-in-time read of the value at a Path.
// The value is held in export form; Value strips the annotations.
type Snapshot struct {
	path    Path
	export  any
	prev    string
	hasPrev bool
}

// NewSnapshot wraps an export-form value read at path. The value must not be
// mutated after the call.
func NewSnapshot(path Path, export any) Snapshot {
	return Snapshot{path: path, export: export}
}

// Path returns the location the snapshot was read from.
func (s Snapshot) Path() Path { return s.path }

// Key returns the last segment of the snapshot path.
func (s Snapshot) Key() string { return s.path.Key() }

// Exists reports whether the location held any data.
func (s Snapshot) Exists() bool { return s.export != nil }

// Value returns the plain value: nil, string, float64, bool or
// map[string]any. The result is a fresh copy.
func (s Snapshot) Value() any { return Strip(s.export) }

// Export returns a copy of the value including priority annotations.
func (s Snapshot) Export() any { return copyValue(s.export) }

// Priority returns the ordering key of the node, or nil if none is set.
func (s Snapshot) Priority() any { return PriorityOf(s.export) }

// PrevSiblingKey returns the key of the sibling ordered immediately before
// this child. ok is false for the first child and for value events.
func (s Snapshot) PrevSiblingKey() (key string, ok bool) {
	return s.prev, s.hasPrev
}

// WithPrevSiblingKey returns a copy carrying the given previous sibling key.
// An empty key marks the snapshot as the first child.
func (s Snapshot) WithPrevSiblingKey(key string) Snapshot {
	s.prev = key
	s.hasPrev = key != ""
	return s
}

// Child returns the snapshot of a descendant. key may contain slashes.
// Invalid keys yield a non-existent snapshot at the root path.
func (s Snapshot) Child(key string) Snapshot {
	p, err := s.path.Child(key)
	if err != nil {
		return Snapshot{}
	}
	rel, _ := s.path.Rel(p)
	cur := s.export
	for _, seg := range rel {
		m, ok := interior(cur)
		if !ok {
			cur = nil
			break
		}
		cur = m[seg]
	}
	return NewSnapshot(p, cur)
}

// HasChildren reports whether the node is an interior node.
func (s Snapshot) HasChildren() bool {
	return s.NumChildren() > 0
}

// NumChildren returns the number of direct children.
func (s Snapshot) NumChildren() int {
	m, ok := interior(s.export)
	if !ok {
		return 0
	}
	n := len(m)
	if _, has := m[PriorityKey]; has {
		n--
	}
	return n
}

// Children returns the direct children in store order: by priority (none,
// then numbers, then strings) and then by key. Each child carries the key of
// its predecessor.
func (s Snapshot) Children() []Snapshot {
	m, ok := interior(s.export)
	if !ok {
		return nil
	}
	keys := OrderedKeys(m)
	out := make([]Snapshot, 0, len(keys))
	prev := ""
	for _, k := range keys {
		p, err := s.path.Child(k)
		if err != nil {
			continue
		}
		out = append(out, NewSnapshot(p, m[k]).WithPrevSiblingKey(prev))
		prev = k
	}
	return out
}

// JSON returns the plain value encoded as JSON. Missing data encodes as null.
func (s Snapshot) JSON() ([]byte, error) {
	return json.Marshal(s.Value())
}

type snapshotJSON struct {
	Path     string `json:"path"`
	Key      string `json:"key,omitempty"`
	Value    any    `json:"value"`
	Priority any    `json:"priority,omitempty"`
	Prev     string `json:"prev,omitempty"`
}

// MarshalJSON encodes the snapshot with its path and metadata.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(snapshotJSON{
		Path:     s.path.String(),
		Key:      s.Key(),
		Value:    s.Value(),
		Priority: s.Priority(),
		Prev:     s.prev,
	})
}

// Strip removes priority annotations from an export-form value.
func Strip(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	if inner, leaf := m[ValueKey]; leaf {
		return inner
	}
	out := make(map[string]any, len(m))
	for k, child := range m {
		if k == PriorityKey {
			continue
		}
		out[k] = Strip(child)
	}
	return out
}

// PriorityOf returns the priority annotation of an export-form value.
func PriorityOf(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	return m[PriorityKey]
}

// IsLeaf reports whether v is a scalar, possibly wrapped with a priority.
func IsLeaf(v any) bool {
	if v == nil {
		return false
	}
	_, ok := interior(v)
	return !ok
}

// interior returns the child map of an interior node.
func interior(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	if _, leaf := m[ValueKey]; leaf {
		return nil, false
	}
	return m, true
}

// OrderedKeys returns the child keys of an interior node map in store order.
func OrderedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		if strings.HasPrefix(k, ".") {
			continue
		}
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		pi, pj := PriorityOf(m[keys[i]]), PriorityOf(m[keys[j]])
		if c := ComparePriorities(pi, pj); c != 0 {
			return c < 0
		}
		return CompareKeys(keys[i], keys[j]) < 0
	})
	return keys
}

func priorityRank(p any) int {
	switch p.(type) {
	case float64:
		return 1
	case string:
		return 2
	default:
		return 0
	}
}

// ComparePriorities orders priorities: nil first, then numbers ascending,
// then strings lexicographically.
func ComparePriorities(a, b any) int {
	ra, rb := priorityRank(a), priorityRank(b)
	if ra != rb {
		return ra - rb
	}
	switch av := a.(type) {
	case float64:
		bv := b.(float64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
	case string:
		return strings.Compare(av, b.(string))
	}
	return 0
}

// CompareKeys orders keys: keys that parse as 32-bit integers come first in
// numeric order, then the remaining keys lexicographically.
func CompareKeys(a, b string) int {
	ia, errA := strconv.ParseInt(a, 10, 32)
	ib, errB := strconv.ParseInt(b, 10, 32)
	switch {
	case errA == nil && errB == nil:
		switch {
		case ia < ib:
			return -1
		case ia > ib:
			return 1
		}
		return strings.Compare(a, b)
	case errA == nil:
		return -1
	case errB == nil:
		return 1
	}
	return strings.Compare(a, b)
}

func copyValue(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	out := make(map[string]any, len(m))
	for k, child := range m {
		out[k] = copyValue(child)
	}
	return out
}
