// Package tree implements the in-memory value tree shared by the store
// backends: normalisation of incoming values into export form, copy-on-write
// updates, and the diff from which listener events are derived.
//
// Trees are immutable. Every update returns a new root that shares untouched
// subtrees with the old one, so a root captured under the store lock may be
// read later without copying.
package tree

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/mesh-intelligence/livedb/pkg/types"
)

// Normalize converts v into export form: scalars are string, float64 or
// bool; interior nodes are map[string]any; slices become index-keyed maps;
// nil children and empty maps are removed. Priorities may be given under
// ".priority" and leaves wrapped as {".value": v, ".priority": p}.
func Normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidData, err)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidData, err)
	}
	return canonical(decoded)
}

func canonical(v any) (any, error) {
	switch x := v.(type) {
	case nil, string, float64, bool:
		return x, nil
	case []any:
		m := make(map[string]any, len(x))
		for i, child := range x {
			m[strconv.Itoa(i)] = child
		}
		return canonical(m)
	case map[string]any:
		if inner, ok := x[types.ValueKey]; ok {
			return canonicalLeaf(inner, x)
		}
		out := make(map[string]any, len(x))
		for k, child := range x {
			if k == types.PriorityKey {
				if err := ValidatePriority(child); err != nil {
					return nil, err
				}
				if child != nil {
					out[k] = child
				}
				continue
			}
			if err := types.ValidateKey(k); err != nil {
				return nil, fmt.Errorf("%w: key %q", types.ErrInvalidData, k)
			}
			c, err := canonical(child)
			if err != nil {
				return nil, err
			}
			if c != nil {
				out[k] = c
			}
		}
		if !hasChildren(out) {
			return nil, nil
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unsupported type %T", types.ErrInvalidData, v)
	}
}

func canonicalLeaf(inner any, wrapper map[string]any) (any, error) {
	for k := range wrapper {
		if k != types.ValueKey && k != types.PriorityKey {
			return nil, fmt.Errorf("%w: %q beside %s", types.ErrInvalidData, k, types.ValueKey)
		}
	}
	switch inner.(type) {
	case nil:
		return nil, nil
	case string, float64, bool:
	default:
		return nil, fmt.Errorf("%w: %s must be a scalar", types.ErrInvalidData, types.ValueKey)
	}
	prio := wrapper[types.PriorityKey]
	if err := ValidatePriority(prio); err != nil {
		return nil, err
	}
	return withPriority(inner, prio), nil
}

// ValidatePriority accepts nil, numbers and strings.
func ValidatePriority(p any) error {
	switch p.(type) {
	case nil, float64, string:
		return nil
	default:
		return fmt.Errorf("%w: %T", types.ErrInvalidPriority, p)
	}
}

// NormalizePriority converts integer types to float64 and validates.
func NormalizePriority(p any) (any, error) {
	switch x := p.(type) {
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case float32:
		return float64(x), nil
	}
	if err := ValidatePriority(p); err != nil {
		return nil, err
	}
	return p, nil
}

// Get returns the export-form value at segs below root, or nil.
func Get(root any, segs []string) any {
	cur := root
	for _, s := range segs {
		m, ok := interior(cur)
		if !ok {
			return nil
		}
		cur = m[s]
	}
	return cur
}

// Set returns a new root with the value at segs replaced by v, which must be
// in export form. Ancestors left without children are pruned.
func Set(root any, segs []string, v any) any {
	if len(segs) == 0 {
		return v
	}
	var out map[string]any
	if m, ok := interior(root); ok {
		out = make(map[string]any, len(m)+1)
		for k, child := range m {
			out[k] = child
		}
	} else {
		out = make(map[string]any, 2)
		if p := types.PriorityOf(root); p != nil {
			out[types.PriorityKey] = p
		}
	}
	child := Set(out[segs[0]], segs[1:], v)
	if child == nil {
		delete(out, segs[0])
	} else {
		out[segs[0]] = child
	}
	if !hasChildren(out) {
		return nil
	}
	return out
}

// SetPriority returns a new root with the priority of the node at segs set
// to prio. Returns types.ErrNotFound if no value is stored there.
func SetPriority(root any, segs []string, prio any) (any, error) {
	node := Get(root, segs)
	if node == nil {
		return nil, types.ErrNotFound
	}
	return Set(root, segs, withPriority(node, prio)), nil
}

// withPriority returns node carrying prio; a nil prio clears it.
func withPriority(node any, prio any) any {
	if node == nil {
		return nil
	}
	if m, ok := interior(node); ok {
		out := make(map[string]any, len(m)+1)
		for k, child := range m {
			out[k] = child
		}
		if prio == nil {
			delete(out, types.PriorityKey)
		} else {
			out[types.PriorityKey] = prio
		}
		return out
	}
	scalar := types.Strip(node)
	if prio == nil {
		return scalar
	}
	return map[string]any{types.ValueKey: scalar, types.PriorityKey: prio}
}

func interior(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	if _, leaf := m[types.ValueKey]; leaf {
		return nil, false
	}
	return m, true
}

func hasChildren(m map[string]any) bool {
	for k := range m {
		if k != types.PriorityKey {
			return true
		}
	}
	return false
}
