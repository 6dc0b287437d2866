package projection

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/mesh-intelligence/livedb/pkg/types"
)

// gjsonSpecial lists the characters gjson treats as path syntax.
const gjsonSpecial = `\.*?|#@!=<>%:,"[]{}()`

// jsonPath turns a "/"-separated key into an escaped gjson path.
func jsonPath(key string) string {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		var b strings.Builder
		for _, r := range seg {
			if strings.ContainsRune(gjsonSpecial, r) {
				b.WriteByte('\\')
			}
			b.WriteRune(r)
		}
		segments[i] = b.String()
	}
	return strings.Join(segments, ".")
}

// Extract projects the child of snap's mapping at key. Nested keys are
// separated by "/". A missing key or a non-scalar value yields the empty
// sentinel carrying a *MalformedDataError.
func Extract(snap types.Snapshot, key string) Field {
	malformed := func(reason string) Field {
		return Empty(key, &MalformedDataError{Path: snap.Path(), Key: key, Reason: reason})
	}
	if key == "" {
		return malformed("empty key")
	}
	if !snap.Exists() {
		return malformed("no value at path")
	}

	raw, err := snap.JSON()
	if err != nil {
		return malformed(err.Error())
	}
	if !gjson.ValidBytes(raw) {
		return malformed("invalid JSON")
	}
	r := gjson.GetBytes(raw, jsonPath(key))
	if !r.Exists() {
		return malformed("missing")
	}

	switch r.Type {
	case gjson.String:
		return Field{Key: key, Kind: KindString, Text: r.Str}
	case gjson.Number:
		return Field{Key: key, Kind: KindNumber, Number: r.Num}
	case gjson.True, gjson.False:
		return Field{Key: key, Kind: KindBool, Bool: r.Bool()}
	case gjson.Null:
		return malformed("null")
	default:
		return malformed("not a scalar")
	}
}

// ExtractAs is Extract restricted to one kind. A value of another kind
// yields the empty sentinel.
func ExtractAs(snap types.Snapshot, key string, kind Kind) Field {
	f := Extract(snap, key)
	if f.IsEmpty() || f.Kind == kind {
		return f
	}
	return Empty(key, &MalformedDataError{
		Path:   snap.Path(),
		Key:    key,
		Reason: fmt.Sprintf("want %s, got %s", kind, f.Kind),
	})
}
