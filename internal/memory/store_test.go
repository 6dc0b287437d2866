package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/livedb/pkg/types"
)

type events struct {
	mu    sync.Mutex
	snaps []types.Snapshot
	errs  []error
	ch    chan struct{}
}

func newEvents() *events { return &events{ch: make(chan struct{}, 64)} }

func (e *events) data(s types.Snapshot) {
	e.mu.Lock()
	e.snaps = append(e.snaps, s)
	e.mu.Unlock()
	e.ch <- struct{}{}
}

func (e *events) fail(err error) {
	e.mu.Lock()
	e.errs = append(e.errs, err)
	e.mu.Unlock()
	e.ch <- struct{}{}
}

func (e *events) wait(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-e.ch:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out after %d of %d callbacks", i, n)
		}
	}
}

func attached(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s := New(opts...)
	require.NoError(t, s.Attach(types.Config{Backend: types.BackendMemory}))
	t.Cleanup(func() { _ = s.Detach() })
	return s
}

func TestStoreLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()
	p := types.MustParsePath("a")

	assert.ErrorIs(t, s.Set(ctx, p, 1), types.ErrDetached)
	_, err := s.AddListener(p, types.ValueChanged, nil, nil)
	assert.ErrorIs(t, err, types.ErrDetached)

	require.NoError(t, s.Attach(types.Config{}))
	assert.ErrorIs(t, s.Attach(types.Config{}), types.ErrAlreadyAttached)
	require.NoError(t, s.Detach())
	require.NoError(t, s.Detach())

	assert.ErrorIs(t, s.Attach(types.Config{Backend: "nope"}), types.ErrBackendUnknown)
}

func TestStoreValueListener(t *testing.T) {
	s := attached(t)
	ctx := context.Background()
	p := types.MustParsePath("doctorStats/1")

	ev := newEvents()
	_, err := s.AddListener(p, types.ValueChanged, ev.data, ev.fail)
	require.NoError(t, err)

	require.NoError(t, s.Set(ctx, p, map[string]any{"dayAmountEarned": 10}))
	require.NoError(t, s.Update(ctx, p, map[string]any{"monthAmountEarned": 300}))
	require.NoError(t, s.Set(ctx, types.MustParsePath("unrelated"), true))
	require.NoError(t, s.Remove(ctx, p))

	ev.wait(t, 4)
	ev.mu.Lock()
	defer ev.mu.Unlock()
	require.Len(t, ev.snaps, 4)
	assert.False(t, ev.snaps[0].Exists())
	assert.Equal(t, map[string]any{"dayAmountEarned": 10.0}, ev.snaps[1].Value())
	assert.Equal(t, map[string]any{"dayAmountEarned": 10.0, "monthAmountEarned": 300.0}, ev.snaps[2].Value())
	assert.False(t, ev.snaps[3].Exists())
}

func TestStoreRemoveListener(t *testing.T) {
	s := attached(t)
	p := types.MustParsePath("a")

	ev := newEvents()
	h, err := s.AddListener(p, types.ValueChanged, ev.data, ev.fail)
	require.NoError(t, err)
	ev.wait(t, 1)
	assert.Equal(t, 1, s.Listeners())

	s.RemoveListener(h)
	s.RemoveListener(h)
	assert.Equal(t, 0, s.Listeners())
	require.NoError(t, s.Set(context.Background(), p, "x"))

	// Flush the dispatcher through a fresh listener.
	second := newEvents()
	_, err = s.AddListener(p, types.ValueChanged, second.data, second.fail)
	require.NoError(t, err)
	second.wait(t, 1)

	ev.mu.Lock()
	defer ev.mu.Unlock()
	assert.Len(t, ev.snaps, 1)
}

func TestStoreSingleListener(t *testing.T) {
	s := attached(t)
	ev := newEvents()
	require.NoError(t, s.AddSingleListener(types.MustParsePath("a"), types.ValueChanged, ev.data, ev.fail))
	ev.wait(t, 1)
	require.NoError(t, s.Set(context.Background(), types.MustParsePath("a"), 1))
	require.Eventually(t, func() bool { return s.Listeners() == 0 }, time.Second, time.Millisecond)
}

func TestStoreReadRule(t *testing.T) {
	s := attached(t, WithReadRule(func(p types.Path) error {
		if p.Key() == "secret" {
			return types.ErrPermissionDenied
		}
		return nil
	}))

	ev := newEvents()
	h, err := s.AddListener(types.MustParsePath("secret"), types.ValueChanged, ev.data, ev.fail)
	require.NoError(t, err)
	assert.NotEmpty(t, h)
	ev.wait(t, 1)

	ev.mu.Lock()
	defer ev.mu.Unlock()
	assert.Empty(t, ev.snaps)
	require.Len(t, ev.errs, 1)
	assert.ErrorIs(t, ev.errs[0], types.ErrPermissionDenied)
}

func TestStoreDetachFailsListeners(t *testing.T) {
	s := New()
	require.NoError(t, s.Attach(types.Config{}))
	ev := newEvents()
	_, err := s.AddListener(types.MustParsePath("a"), types.ChildAdded, ev.data, ev.fail)
	require.NoError(t, err)
	require.NoError(t, s.Detach())

	ev.mu.Lock()
	defer ev.mu.Unlock()
	assert.Equal(t, []error{types.ErrStoreClosed}, ev.errs)
}

func TestStoreWriteErrors(t *testing.T) {
	s := attached(t)
	ctx := context.Background()

	err := s.Set(ctx, types.MustParsePath("a"), map[string]any{"bad.key": 1})
	assert.ErrorIs(t, err, types.ErrInvalidData)

	err = s.SetPriority(ctx, types.MustParsePath("missing"), 1)
	assert.ErrorIs(t, err, types.ErrNotFound)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, s.Set(cancelled, types.MustParsePath("a"), 1), context.Canceled)

	_, err = s.AddListener(types.MustParsePath("a"), types.EventClass(99), nil, nil)
	assert.ErrorIs(t, err, types.ErrUnknownEventClass)
}

func TestStoreCommitHook(t *testing.T) {
	var regions []string
	failNext := false
	s := attached(t, WithCommit(func(region types.Path, after any) error {
		if failNext {
			return errors.New("disk full")
		}
		regions = append(regions, region.String())
		return nil
	}))
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, types.MustParsePath("a/b"), 1))
	failNext = true
	assert.Error(t, s.Set(ctx, types.MustParsePath("a/c"), 2))

	snap, err := s.Read(types.MustParsePath("a"))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"b": 1.0}, snap.Value())
	assert.Equal(t, []string{"a/b"}, regions)
}

func TestStoreChildEventsWithPriority(t *testing.T) {
	s := attached(t)
	ctx := context.Background()
	list := types.MustParsePath("list")

	require.NoError(t, s.Set(ctx, list, map[string]any{"a": 1, "b": 2}))

	moved := newEvents()
	_, err := s.AddListener(list, types.ChildMoved, moved.data, moved.fail)
	require.NoError(t, err)

	require.NoError(t, s.SetPriority(ctx, types.MustParsePath("list/a"), 5))
	moved.wait(t, 1)

	moved.mu.Lock()
	defer moved.mu.Unlock()
	require.Len(t, moved.snaps, 1)
	assert.Equal(t, "a", moved.snaps[0].Key())
	assert.Equal(t, 5.0, moved.snaps[0].Priority())
	prev, ok := moved.snaps[0].PrevSiblingKey()
	assert.True(t, ok)
	assert.Equal(t, "b", prev)
}
