package watch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/livedb/internal/memory"
	"github.com/mesh-intelligence/livedb/pkg/stream"
	"github.com/mesh-intelligence/livedb/pkg/types"
)

// fakeStore records listener registrations and lets tests push to them.
type fakeStore struct {
	mu      sync.Mutex
	addErr  error
	next    int
	onData  map[types.ListenerHandle]types.DataFunc
	onError map[types.ListenerHandle]types.ErrorFunc
	adds    int
	removes int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		onData:  make(map[types.ListenerHandle]types.DataFunc),
		onError: make(map[types.ListenerHandle]types.ErrorFunc),
	}
}

func (f *fakeStore) AddListener(path types.Path, class types.EventClass, onData types.DataFunc, onError types.ErrorFunc) (types.ListenerHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return "", f.addErr
	}
	f.next++
	f.adds++
	h := types.ListenerHandle(string(rune('a' + f.next)))
	f.onData[h] = onData
	f.onError[h] = onError
	return h, nil
}

func (f *fakeStore) RemoveListener(h types.ListenerHandle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removes++
	delete(f.onData, h)
	delete(f.onError, h)
}

func (f *fakeStore) AddSingleListener(types.Path, types.EventClass, types.DataFunc, types.ErrorFunc) error {
	return errors.New("not used")
}

// push delivers snap to every live listener, as a store callback would.
func (f *fakeStore) push(snap types.Snapshot) {
	f.mu.Lock()
	var fns []types.DataFunc
	for _, fn := range f.onData {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}

func (f *fakeStore) fail(err error) {
	f.mu.Lock()
	var fns []types.ErrorFunc
	for h, fn := range f.onError {
		fns = append(fns, fn)
		delete(f.onData, h)
		delete(f.onError, h)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(err)
	}
}

func (f *fakeStore) counts() (adds, removes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.adds, f.removes
}

func snap(path string, v any) types.Snapshot {
	return types.NewSnapshot(types.MustParsePath(path), v)
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestSubscribeDeliversInPushOrder(t *testing.T) {
	store := newFakeStore()
	s := New(store).Subscribe(types.MustParsePath("doctorStats/1"), types.ValueChanged)

	for i := 1; i <= 3; i++ {
		store.push(snap("doctorStats/1", float64(i)))
	}
	got, err := stream.Take(testContext(t), s, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, g := range got {
		assert.Equal(t, float64(i+1), g.Value())
	}

	adds, removes := store.counts()
	assert.Equal(t, 1, adds)
	assert.Equal(t, 1, removes)
}

func TestCancelThenPushIsNotDelivered(t *testing.T) {
	store := newFakeStore()
	s := New(store).Subscribe(types.MustParsePath("a"), types.ValueChanged)

	s.Cancel()
	_, removes := store.counts()
	assert.Equal(t, 1, removes, "listener removed before Cancel returns")

	store.push(snap("a", 1.0))
	_, ok := <-s.C()
	assert.False(t, ok)
	assert.ErrorIs(t, s.Err(), stream.ErrCancelled)

	s.Cancel()
	_, removes = store.counts()
	assert.Equal(t, 1, removes)
}

func TestSubscribeOnceRemovesListenerOnce(t *testing.T) {
	store := newFakeStore()
	f := New(store).SubscribeOnce(types.MustParsePath("a"), types.ValueChanged)

	store.push(snap("a", "first"))
	got, err := f.Await(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, "first", got.Value())

	<-f.Done()
	store.push(snap("a", "second"))
	f.Cancel()

	adds, removes := store.counts()
	assert.Equal(t, 1, adds)
	assert.Equal(t, 1, removes)
}

func TestStoreErrorEndsStream(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "permission denied", err: types.ErrPermissionDenied},
		{name: "disconnected", err: types.ErrDisconnected},
		{name: "store closed", err: types.ErrStoreClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			s := New(store).Subscribe(types.MustParsePath("a/b"), types.ChildAdded)
			store.fail(tt.err)

			_, err := s.Recv(testContext(t))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.err)

			var lerr *ListenerError
			require.ErrorAs(t, err, &lerr)
			assert.Equal(t, "a/b", lerr.Path.String())
			assert.Equal(t, types.ChildAdded, lerr.Class)

			_, removes := store.counts()
			assert.Equal(t, 1, removes)
		})
	}
}

func TestSubscribeRegisterFailure(t *testing.T) {
	store := newFakeStore()
	store.addErr = types.ErrDetached
	s := New(store).Subscribe(types.MustParsePath("a"), types.ValueChanged)

	<-s.Done()
	var lerr *ListenerError
	require.ErrorAs(t, s.Err(), &lerr)
	assert.ErrorIs(t, lerr, types.ErrDetached)

	_, removes := store.counts()
	assert.Equal(t, 0, removes)
}

func TestGetFromMemoryStore(t *testing.T) {
	store := memory.New()
	require.NoError(t, store.Attach(types.Config{Backend: types.BackendMemory}))
	defer store.Detach()

	ctx := testContext(t)
	path := types.MustParsePath("doctorProfiles/7")
	require.NoError(t, store.Set(ctx, path, map[string]any{"name": "Ana", "speciality": "Cardiology"}))

	got, err := New(store).Get(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "Ana", "speciality": "Cardiology"}, got.Value())
	assert.Eventually(t, func() bool { return store.Listeners() == 0 }, time.Second, 5*time.Millisecond)
}
