package projection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/livedb/pkg/stream"
	"github.com/mesh-intelligence/livedb/pkg/types"
	"github.com/mesh-intelligence/livedb/pkg/watch"
)

var errBoom = errors.New("boom")

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func collect(t *testing.T, s *stream.Stream[Field]) ([]Field, error) {
	t.Helper()
	var out []Field
	err := s.ForEach(testContext(t), func(f Field) error {
		out = append(out, f)
		return nil
	})
	return out, err
}

func stats(day, month, year any) types.Snapshot {
	return types.NewSnapshot(types.MustParsePath("doctorStats/1"), map[string]any{
		"dayAmountEarned":   day,
		"monthAmountEarned": month,
		"yearAmountEarned":  year,
	})
}

func rendered(fields []Field) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f.String()
	}
	return out
}

func TestCombineWithSelectorUsesLatestData(t *testing.T) {
	data := stream.NewSubject[types.Snapshot]()
	sel := stream.NewSubject[Selector]()
	out := CombineWithSelector(sel.Stream(), data.Stream())

	go func() {
		data.Publish(stats(1.0, 2.0, 3.0))
		sel.Publish("dayAmountEarned")
		data.Publish(stats(10.0, 20.0, 30.0))
		sel.Publish("monthAmountEarned")
		sel.Complete()
		data.Complete()
	}()

	got, err := collect(t, out)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "20"}, rendered(got))
}

func TestCombineWithSelectorBeforeData(t *testing.T) {
	data := stream.NewSubject[types.Snapshot]()
	sel := stream.NewSubject[Selector]()
	out := CombineWithSelector(sel.Stream(), data.Stream())

	go func() {
		sel.Publish("dayAmountEarned")
		sel.Complete()
		data.Complete()
	}()

	got, err := collect(t, out)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].IsEmpty())
	assert.ErrorIs(t, got[0].Err, ErrNoData)
	assert.Equal(t, "dayAmountEarned", got[0].Key)
}

func TestCombineWithSelectorPeriods(t *testing.T) {
	data := stream.NewSubject[types.Snapshot]()
	sel := stream.NewSubject[Selector]()
	out := CombineWithSelector(sel.Stream(), data.Stream())

	go func() {
		data.Publish(stats(10, 300, 3600))
		sel.Publish("dayAmountEarned")
		sel.Publish("monthAmountEarned")
		sel.Publish("yearAmountEarned")
		sel.Complete()
		data.Complete()
	}()

	got, err := collect(t, out)
	require.NoError(t, err)
	assert.Equal(t, []string{"10", "300", "3600"}, rendered(got))
}

func TestCombineWithSelectorPropagatesErrors(t *testing.T) {
	out := CombineWithSelector(stream.NewSubject[Selector]().Stream(), stream.Fail[types.Snapshot](errBoom))
	_, err := collect(t, out)
	assert.ErrorIs(t, err, errBoom)
}

// callbackStore calls listeners on the writer's goroutine and returns as
// soon as the callback has.
type callbackStore struct {
	mu     sync.Mutex
	onData types.DataFunc
}

func (c *callbackStore) AddListener(_ types.Path, _ types.EventClass, onData types.DataFunc, _ types.ErrorFunc) (types.ListenerHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onData = onData
	return "stats", nil
}

func (c *callbackStore) RemoveListener(types.ListenerHandle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onData = nil
}

func (c *callbackStore) AddSingleListener(types.Path, types.EventClass, types.DataFunc, types.ErrorFunc) error {
	return errors.New("not supported")
}

func (c *callbackStore) push(snap types.Snapshot) {
	c.mu.Lock()
	fn := c.onData
	c.mu.Unlock()
	if fn != nil {
		fn(snap)
	}
}

func TestCombineWithSelectorOverSubscription(t *testing.T) {
	path := types.MustParsePath("doctorStats/1")
	for i := 0; i < 50; i++ {
		store := &callbackStore{}
		sel := stream.NewSubject[Selector]()
		out := CombineWithSelector(sel.Stream(), watch.New(store).Subscribe(path, types.ValueChanged))

		store.push(types.NewSnapshot(path, map[string]any{"dayAmountEarned": 1, "monthAmountEarned": 2}))
		go func() {
			sel.Publish("dayAmountEarned")
			store.push(types.NewSnapshot(path, map[string]any{"monthAmountEarned": 20}))
			sel.Publish("monthAmountEarned")
			sel.Publish("dayAmountEarned")
			sel.Complete()
		}()

		got, err := stream.Take(testContext(t), out, 3)
		require.NoError(t, err, "run %d", i)
		assert.Equal(t, []string{"1", "20", ""}, rendered(got), "run %d", i)
		assert.NoError(t, got[0].Err)
		var mde *MalformedDataError
		assert.ErrorAs(t, got[2].Err, &mde)
	}
}

func TestProjectFieldMissingKeyKeepsStreaming(t *testing.T) {
	path := types.MustParsePath("doctorProfiles/1")
	src := stream.Of(
		types.NewSnapshot(path, map[string]any{"name": "Ana"}),
		types.NewSnapshot(path, map[string]any{"name": "Ana", "speciality": "Cardiology"}),
	)

	got, err := collect(t, ProjectField(src, "speciality"))
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.True(t, got[0].IsEmpty())
	assert.Equal(t, "", got[0].String())
	var mde *MalformedDataError
	require.ErrorAs(t, got[0].Err, &mde)
	assert.Equal(t, "speciality", mde.Key)
	assert.Equal(t, "doctorProfiles/1", mde.Path.String())

	assert.Equal(t, KindString, got[1].Kind)
	assert.Equal(t, "Cardiology", got[1].String())
}

func TestProjectFieldAs(t *testing.T) {
	path := types.MustParsePath("doctorStats/1")
	src := stream.Of(
		types.NewSnapshot(path, map[string]any{"dayAmountEarned": "lots"}),
		types.NewSnapshot(path, map[string]any{"dayAmountEarned": 12.5}),
	)

	got, err := collect(t, ProjectFieldAs(src, "dayAmountEarned", KindNumber))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].IsEmpty())
	assert.Equal(t, 12.5, got[1].Number)
	assert.Equal(t, "12.5", got[1].String())
}

func TestExtract(t *testing.T) {
	path := types.MustParsePath("doctors/1")
	value := map[string]any{
		"name":    "Ana",
		"active":  true,
		"rating":  4.5,
		"address": map[string]any{"city": "Lisbon"},
		"odd*key": "star",
	}
	snap := types.NewSnapshot(path, value)

	tests := []struct {
		name  string
		key   string
		kind  Kind
		want  string
		empty bool
	}{
		{name: "string", key: "name", kind: KindString, want: "Ana"},
		{name: "bool", key: "active", kind: KindBool, want: "true"},
		{name: "number", key: "rating", kind: KindNumber, want: "4.5"},
		{name: "nested", key: "address/city", kind: KindString, want: "Lisbon"},
		{name: "special characters", key: "odd*key", kind: KindString, want: "star"},
		{name: "mapping", key: "address", empty: true},
		{name: "missing", key: "speciality", empty: true},
		{name: "empty key", key: "", empty: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := Extract(snap, tt.key)
			if tt.empty {
				assert.True(t, f.IsEmpty())
				var mde *MalformedDataError
				assert.ErrorAs(t, f.Err, &mde)
				return
			}
			assert.NoError(t, f.Err)
			assert.Equal(t, tt.kind, f.Kind)
			assert.Equal(t, tt.want, f.String())
		})
	}
}

func TestExtractNoValue(t *testing.T) {
	f := Extract(types.NewSnapshot(types.MustParsePath("a"), nil), "name")
	assert.True(t, f.IsEmpty())
	assert.Error(t, f.Err)
}
