package tree

import (
	"strings"

	"github.com/mesh-intelligence/livedb/pkg/types"
)

// Flatten lists the leaves of an export-form value keyed by their
// slash-joined path relative to v. Priority annotations are leaves of their
// own (".priority", "a/.priority", "b/.value"). A scalar v yields the key "".
func Flatten(v any) map[string]any {
	out := make(map[string]any)
	flatten("", v, out)
	return out
}

func flatten(prefix string, v any, out map[string]any) {
	m, ok := v.(map[string]any)
	if !ok {
		if v != nil {
			out[prefix] = v
		}
		return
	}
	for k, child := range m {
		flatten(join(prefix, k), child, out)
	}
}

// Unflatten rebuilds an export-form value from leaves produced by Flatten.
// Keys are relative paths; the key "" is a scalar at the root.
func Unflatten(leaves map[string]any) any {
	if v, ok := leaves[""]; ok && len(leaves) == 1 {
		return v
	}
	root := make(map[string]any)
	for key, v := range leaves {
		if key == "" {
			continue
		}
		segs := strings.Split(key, "/")
		m := root
		for _, s := range segs[:len(segs)-1] {
			next, ok := m[s].(map[string]any)
			if !ok {
				next = make(map[string]any)
				m[s] = next
			}
			m = next
		}
		m[segs[len(segs)-1]] = v
	}
	if len(root) == 0 {
		return nil
	}
	return root
}

// JoinKey joins a stored path and a relative key produced by Flatten.
func JoinKey(base types.Path, rel string) string {
	if base.IsRoot() {
		return rel
	}
	return join(base.String(), rel)
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	if key == "" {
		return prefix
	}
	return prefix + "/" + key
}
