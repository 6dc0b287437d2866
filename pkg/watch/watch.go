// Package watch adapts a store's listener API into streams of snapshots.
//
// Every stream owns exactly one store listener. The listener is registered
// when the stream is created and removed before Cancel returns, or as soon
// as the stream fails or completes. Pushes are queued without bound between
// the store callback and the consumer, so the store is never blocked and
// nothing is dropped or reordered while the stream is live.
package watch

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/mesh-intelligence/livedb/internal/logging"
	"github.com/mesh-intelligence/livedb/internal/metrics"
	"github.com/mesh-intelligence/livedb/pkg/stream"
	"github.com/mesh-intelligence/livedb/pkg/types"
)

// ListenerError terminates a stream whose store listener was refused or
// ended by the store. It wraps the store's error.
type ListenerError struct {
	Path  types.Path
	Class types.EventClass
	Err   error
}

func (e *ListenerError) Error() string {
	return fmt.Sprintf("listener %s %s: %v", e.Class, e.Path, e.Err)
}

func (e *ListenerError) Unwrap() error { return e.Err }

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(w *Watcher) { w.log = log }
}

// Watcher creates snapshot streams over a store.
type Watcher struct {
	store types.Store
	log   logrus.FieldLogger
}

// New returns a Watcher over store.
func New(store types.Store, opts ...Option) *Watcher {
	w := &Watcher{store: store}
	for _, opt := range opts {
		opt(w)
	}
	w.log = logging.Component(w.log, logging.ComponentWatch)
	return w
}

// Subscribe returns a stream of the snapshots the store pushes for path and
// class, in push order. Store errors end the stream with a *ListenerError.
// The stream never completes on its own.
func (w *Watcher) Subscribe(path types.Path, class types.EventClass) *stream.Stream[types.Snapshot] {
	log := w.log.WithFields(logrus.Fields{
		logging.FieldPath:  path.String(),
		logging.FieldClass: class.String(),
	})
	label := class.String()

	return stream.Push(func(sink stream.Sink[types.Snapshot]) (func(), error) {
		handle, err := w.store.AddListener(path, class,
			func(snap types.Snapshot) {
				metrics.SnapshotsDelivered.WithLabelValues(label).Inc()
				sink.Next(snap)
			},
			func(err error) {
				metrics.ListenerErrors.WithLabelValues(reason(err)).Inc()
				log.WithError(err).Warn("listener ended by store")
				sink.Error(&ListenerError{Path: path, Class: class, Err: err})
			},
		)
		if err != nil {
			metrics.ListenerErrors.WithLabelValues(reason(err)).Inc()
			return nil, &ListenerError{Path: path, Class: class, Err: err}
		}

		metrics.ActiveListeners.Inc()
		log.WithField(logging.FieldHandle, string(handle)).Debug("listener added")
		return func() {
			w.store.RemoveListener(handle)
			metrics.ActiveListeners.Dec()
			log.WithField(logging.FieldHandle, string(handle)).Debug("listener removed")
		}, nil
	})
}

// SubscribeOnce resolves to the first snapshot pushed for path and class.
// The listener is removed once that snapshot arrives.
func (w *Watcher) SubscribeOnce(path types.Path, class types.EventClass) *stream.Future[types.Snapshot] {
	return stream.FirstAsync(w.Subscribe(path, class))
}

// Get reads the current value at path.
func (w *Watcher) Get(ctx context.Context, path types.Path) (types.Snapshot, error) {
	f := w.SubscribeOnce(path, types.ValueChanged)
	defer f.Cancel()
	return f.Await(ctx)
}

// reason labels an error for the listener error metric.
func reason(err error) string {
	switch {
	case errors.Is(err, types.ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, types.ErrDisconnected):
		return "disconnected"
	case errors.Is(err, types.ErrStoreClosed):
		return "store_closed"
	case errors.Is(err, types.ErrDetached):
		return "detached"
	default:
		return "other"
	}
}
