package tree

import (
	"reflect"

	"github.com/mesh-intelligence/livedb/pkg/types"
)

// Events returns the snapshots a listener at path for class must receive
// when the value there changes from before to after (both in export form).
// Child snapshots are returned in store order and carry their previous
// sibling key as of after.
func Events(path types.Path, class types.EventClass, before, after any) []types.Snapshot {
	if class == types.ValueChanged {
		if reflect.DeepEqual(before, after) {
			return nil
		}
		return []types.Snapshot{types.NewSnapshot(path, after)}
	}

	oldChildren, _ := interior(before)
	newChildren, _ := interior(after)
	oldKeys := types.OrderedKeys(oldChildren)
	newKeys := types.OrderedKeys(newChildren)
	oldPrev := prevKeys(oldKeys)
	newPrev := prevKeys(newKeys)

	var out []types.Snapshot
	switch class {
	case types.ChildRemoved:
		for _, k := range oldKeys {
			if _, ok := newChildren[k]; !ok {
				out = append(out, childSnapshot(path, k, oldChildren[k], ""))
			}
		}
	case types.ChildAdded:
		for _, k := range newKeys {
			if _, ok := oldChildren[k]; !ok {
				out = append(out, childSnapshot(path, k, newChildren[k], newPrev[k]))
			}
		}
	case types.ChildChanged:
		for _, k := range newKeys {
			old, ok := oldChildren[k]
			if ok && !reflect.DeepEqual(old, newChildren[k]) {
				out = append(out, childSnapshot(path, k, newChildren[k], newPrev[k]))
			}
		}
	case types.ChildMoved:
		for _, k := range newKeys {
			old, ok := oldChildren[k]
			if !ok || oldPrev[k] == newPrev[k] {
				continue
			}
			if types.ComparePriorities(types.PriorityOf(old), types.PriorityOf(newChildren[k])) != 0 {
				out = append(out, childSnapshot(path, k, newChildren[k], newPrev[k]))
			}
		}
	}
	return out
}

// InitialEvents returns the snapshots a new listener receives for the
// current value: the value itself for ValueChanged (even when absent), and
// every existing child for ChildAdded.
func InitialEvents(path types.Path, class types.EventClass, current any) []types.Snapshot {
	switch class {
	case types.ValueChanged:
		return []types.Snapshot{types.NewSnapshot(path, current)}
	case types.ChildAdded:
		return Events(path, types.ChildAdded, nil, current)
	}
	return nil
}

func prevKeys(keys []string) map[string]string {
	prev := make(map[string]string, len(keys))
	p := ""
	for _, k := range keys {
		prev[k] = p
		p = k
	}
	return prev
}

func childSnapshot(path types.Path, key string, v any, prev string) types.Snapshot {
	child, err := path.Child(key)
	if err != nil {
		child = path
	}
	return types.NewSnapshot(child, v).WithPrevSiblingKey(prev)
}
