package tree

import (
	"fmt"
	"sort"

	"github.com/mesh-intelligence/livedb/pkg/types"
)

// Op names a write operation.
type Op int

// Write operations.
const (
	OpSet Op = iota
	OpUpdate
	OpRemove
	OpPriority
)

func (o Op) String() string {
	switch o {
	case OpSet:
		return "set"
	case OpUpdate:
		return "update"
	case OpRemove:
		return "remove"
	case OpPriority:
		return "priority"
	}
	return fmt.Sprintf("Op(%d)", int(o))
}

// Mutation is a single atomic write.
type Mutation struct {
	Op   Op
	Path types.Path

	// Value is the new value for OpSet.
	Value any

	// Values maps relative child paths to new values for OpUpdate.
	Values map[string]any

	// Priority applies to OpPriority, and to OpSet when HasPriority is set.
	Priority    any
	HasPriority bool
}

// SetMutation replaces the value at path.
func SetMutation(path types.Path, value any) Mutation {
	return Mutation{Op: OpSet, Path: path, Value: value}
}

// SetWithPriorityMutation replaces the value at path and sets its priority.
func SetWithPriorityMutation(path types.Path, value, priority any) Mutation {
	return Mutation{Op: OpSet, Path: path, Value: value, Priority: priority, HasPriority: true}
}

// UpdateMutation sets several children of path.
func UpdateMutation(path types.Path, values map[string]any) Mutation {
	return Mutation{Op: OpUpdate, Path: path, Values: values}
}

// RemoveMutation deletes the value at path.
func RemoveMutation(path types.Path) Mutation {
	return Mutation{Op: OpRemove, Path: path}
}

// PriorityMutation sets the priority of the node at path.
func PriorityMutation(path types.Path, priority any) Mutation {
	return Mutation{Op: OpPriority, Path: path, Priority: priority, HasPriority: true}
}

// Apply performs m against root. It returns the new root and the region:
// the highest path whose stored subtree changed shape, which a persistent
// backend must rewrite. Values are normalised before they are applied; an
// error leaves root untouched.
func Apply(root any, m Mutation) (newRoot any, region types.Path, err error) {
	segs := m.Path.Segments()
	region = m.Path

	switch m.Op {
	case OpSet:
		v, err := Normalize(m.Value)
		if err != nil {
			return root, region, err
		}
		if m.HasPriority {
			prio, err := NormalizePriority(m.Priority)
			if err != nil {
				return root, region, err
			}
			v = withPriority(v, prio)
		}
		newRoot = Set(root, segs, v)
	case OpRemove:
		newRoot = Set(root, segs, nil)
	case OpUpdate:
		newRoot = root
		keys := make([]string, 0, len(m.Values))
		for k := range m.Values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			child, err := m.Path.Child(k)
			if err != nil {
				return root, region, fmt.Errorf("%w: update key %q", types.ErrInvalidData, k)
			}
			v, err := Normalize(m.Values[k])
			if err != nil {
				return root, region, err
			}
			newRoot = Set(newRoot, child.Segments(), v)
		}
	case OpPriority:
		prio, err := NormalizePriority(m.Priority)
		if err != nil {
			return root, region, err
		}
		newRoot, err = SetPriority(root, segs, prio)
		if err != nil {
			return root, region, err
		}
	default:
		return root, region, fmt.Errorf("unknown op %v", m.Op)
	}

	// Widen the region past ancestors that were leaves or were pruned.
	for cur := m.Path; ; {
		parent, ok := cur.Parent()
		if !ok {
			break
		}
		cur = parent
		old := Get(root, parent.Segments())
		if old == nil {
			continue
		}
		if _, wasInterior := interior(old); wasInterior && Get(newRoot, parent.Segments()) != nil {
			break
		}
		region = parent
	}
	return newRoot, region, nil
}
