package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/livedb/internal/memory"
	"github.com/mesh-intelligence/livedb/pkg/types"
	"github.com/mesh-intelligence/livedb/pkg/watch"
)

type published struct {
	key string
	msg amqp091.Publishing
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (f *fakePublisher) Publish(_ context.Context, key string, msg amqp091.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, published{key: key, msg: msg})
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func (f *fakePublisher) messages() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.sent...)
}

func attachedStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.New()
	require.NoError(t, store.Attach(types.Config{Backend: types.BackendMemory}))
	t.Cleanup(func() { _ = store.Detach() })
	return store
}

func TestRoutingKey(t *testing.T) {
	assert.Equal(t, "doctorStats.7", RoutingKey(types.MustParsePath("doctorStats/7")))
	assert.Equal(t, RootRoutingKey, RoutingKey(types.Root()))
}

func TestRelayPublishesSnapshots(t *testing.T) {
	store := attachedStore(t)
	pub := &fakePublisher{}
	r := New(watch.New(store), pub)
	r.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- r.Run(ctx, []types.Path{types.MustParsePath("doctorStats/7")}, types.ValueChanged)
	}()

	require.Eventually(t, func() bool { return len(pub.messages()) == 1 }, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, store.Set(context.Background(), types.MustParsePath("doctorStats/7/dayAmountEarned"), 10))
	require.Eventually(t, func() bool { return len(pub.messages()) == 2 }, 5*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 0, store.Listeners())

	msgs := pub.messages()
	assert.Equal(t, "doctorStats.7", msgs[1].key)
	assert.Equal(t, "application/json", msgs[1].msg.ContentType)
	assert.Equal(t, "value", msgs[1].msg.Type)
	assert.NotEqual(t, msgs[0].msg.MessageId, msgs[1].msg.MessageId)

	var body struct {
		Event    string `json:"event"`
		Snapshot struct {
			Path  string         `json:"path"`
			Value map[string]any `json:"value"`
		} `json:"snapshot"`
		At time.Time `json:"at"`
	}
	require.NoError(t, json.Unmarshal(msgs[1].msg.Body, &body))
	assert.Equal(t, "value", body.Event)
	assert.Equal(t, "doctorStats/7", body.Snapshot.Path)
	assert.Equal(t, map[string]any{"dayAmountEarned": 10.0}, body.Snapshot.Value)
	assert.True(t, body.At.Equal(r.now()))
}

func TestRelayPublishFailureStops(t *testing.T) {
	store := attachedStore(t)
	errBroker := errors.New("broker down")
	r := New(watch.New(store), &fakePublisher{err: errBroker})

	err := r.Run(context.Background(), []types.Path{types.MustParsePath("a"), types.MustParsePath("b")}, types.ValueChanged)
	assert.ErrorIs(t, err, errBroker)
	assert.Equal(t, 0, store.Listeners())
}

func TestRelayListenerError(t *testing.T) {
	store := memory.New(memory.WithReadRule(func(types.Path) error { return types.ErrPermissionDenied }))
	require.NoError(t, store.Attach(types.Config{Backend: types.BackendMemory}))
	defer store.Detach()

	err := New(watch.New(store), &fakePublisher{}).Run(context.Background(), []types.Path{types.MustParsePath("a")}, types.ValueChanged)
	var lerr *watch.ListenerError
	assert.ErrorAs(t, err, &lerr)
	assert.ErrorIs(t, err, types.ErrPermissionDenied)
}

func TestRelayNoPaths(t *testing.T) {
	assert.Error(t, New(nil, &fakePublisher{}).Run(context.Background(), nil, types.ValueChanged))
}
