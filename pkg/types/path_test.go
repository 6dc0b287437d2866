package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePath(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantSegs []string
		wantErr  bool
	}{
		{name: "empty is root", input: "", wantSegs: []string{}},
		{name: "slash is root", input: "/", wantSegs: []string{}},
		{name: "two segments", input: "doctorProfiles/42", wantSegs: []string{"doctorProfiles", "42"}},
		{name: "extra slashes ignored", input: "/a//b/", wantSegs: []string{"a", "b"}},
		{name: "dot rejected", input: "a/b.c", wantErr: true},
		{name: "hash rejected", input: "a#b", wantErr: true},
		{name: "bracket rejected", input: "a[0]", wantErr: true},
		{name: "control char rejected", input: "a\x01", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParsePath(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPath)
				assert.ErrorIs(t, err, ErrInvalidKey)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSegs, p.Segments())
		})
	}
}

func TestPathNavigation(t *testing.T) {
	p := MustParsePath("doctorStats/7")

	child, err := p.Child("dayAmountEarned")
	require.NoError(t, err)
	assert.Equal(t, "doctorStats/7/dayAmountEarned", child.String())
	assert.Equal(t, "dayAmountEarned", child.Key())

	multi, err := p.Child("a/b")
	require.NoError(t, err)
	assert.Equal(t, 4, multi.Len())

	parent, ok := child.Parent()
	require.True(t, ok)
	assert.True(t, parent.Equal(p))

	_, ok = Root().Parent()
	assert.False(t, ok)
	assert.Equal(t, "/", Root().String())
	assert.Equal(t, "", Root().Key())

	assert.True(t, p.Contains(child))
	assert.True(t, p.Contains(p))
	assert.False(t, child.Contains(p))
	assert.True(t, Root().Contains(p))

	rel, ok := p.Rel(multi)
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, rel)

	_, err = p.Child("bad.key")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestPathParentDoesNotAlias(t *testing.T) {
	p := MustParsePath("a/b/c")
	parent, _ := p.Parent()
	sibling, err := parent.Child("x")
	require.NoError(t, err)
	assert.Equal(t, "a/b/c", p.String())
	assert.Equal(t, "a/b/x", sibling.String())
}

func TestPathText(t *testing.T) {
	var p Path
	require.NoError(t, p.UnmarshalText([]byte("a/b")))
	b, err := p.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "a/b", string(b))
	assert.Error(t, p.UnmarshalText([]byte("a/$")))
}
