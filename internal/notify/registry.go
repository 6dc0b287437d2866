// Package notify keeps the listeners of a store and delivers their events.
//
// A Registry pairs each write with the listeners it affects and queues the
// resulting callbacks on a single dispatcher goroutine, so callbacks never
// run concurrently and arrive in write order. Writers never wait for
// callbacks.
package notify

import (
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mesh-intelligence/livedb/internal/logging"
	"github.com/mesh-intelligence/livedb/internal/tree"
	"github.com/mesh-intelligence/livedb/pkg/types"
)

type listener struct {
	handle  types.ListenerHandle
	path    types.Path
	class   types.EventClass
	onData  types.DataFunc
	onError types.ErrorFunc
	once    bool

	// active listeners receive new events; removed listeners receive
	// nothing, not even deliveries already queued.
	active  bool
	removed bool

	// cbMu is held while a callback runs. Remove takes it after marking
	// the listener removed.
	cbMu sync.Mutex
}

type delivery struct {
	l    *listener
	snap types.Snapshot
	err  error
}

// Registry tracks listeners and dispatches their callbacks.
type Registry struct {
	mu        sync.Mutex
	listeners map[types.ListenerHandle]*listener
	order     []*listener
	queue     []delivery
	signal    chan struct{}
	closed    bool
	done      chan struct{}
	log       logrus.FieldLogger
}

// NewRegistry returns a registry with its dispatcher running. Close stops it.
func NewRegistry(log logrus.FieldLogger) *Registry {
	if log == nil {
		log = logging.Discard()
	}
	r := &Registry{
		listeners: make(map[types.ListenerHandle]*listener),
		signal:    make(chan struct{}, 1),
		done:      make(chan struct{}),
		log:       log,
	}
	go r.dispatch()
	return r
}

// Add registers a listener and queues its initial events computed from
// current, the value at path right now. The caller must hold the store lock
// that orders writes, so no write can slip between the read of current and
// the registration.
func (r *Registry) Add(path types.Path, class types.EventClass, onData types.DataFunc, onError types.ErrorFunc, once bool, current any) types.ListenerHandle {
	l := &listener{
		handle:  newHandle(),
		path:    path,
		class:   class,
		onData:  onData,
		onError: onError,
		once:    once,
		active:  true,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		if onError != nil {
			go onError(types.ErrStoreClosed)
		}
		return l.handle
	}
	r.listeners[l.handle] = l
	r.order = append(r.order, l)
	for _, snap := range tree.InitialEvents(path, class, current) {
		r.enqueueDataLocked(l, snap)
	}
	r.log.WithFields(logrus.Fields{
		"handle": l.handle,
		"path":   path.String(),
		"class":  class.String(),
	}).Debug("listener added")
	return l.handle
}

// Deny answers a listener request the store refuses. The returned handle is
// never active; onError receives err.
func (r *Registry) Deny(path types.Path, class types.EventClass, onError types.ErrorFunc, err error) types.ListenerHandle {
	l := &listener{handle: newHandle(), path: path, class: class, onError: onError}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		if onError != nil {
			go onError(err)
		}
		return l.handle
	}
	r.enqueueLocked(delivery{l: l, err: err})
	r.log.WithFields(logrus.Fields{
		"path":  path.String(),
		"class": class.String(),
	}).WithError(err).Debug("listener denied")
	return l.handle
}

// Remove deregisters a listener. Deliveries not yet started are discarded,
// and a callback already running is waited for, so it must not be called
// from the listener's own callback. Unknown handles are ignored.
func (r *Registry) Remove(h types.ListenerHandle) {
	r.mu.Lock()
	l, ok := r.listeners[h]
	if !ok {
		r.mu.Unlock()
		return
	}
	r.dropLocked(l)
	r.mu.Unlock()

	l.cbMu.Lock()
	l.cbMu.Unlock()
	r.log.WithField("handle", h).Debug("listener removed")
}

// Fail ends a listener with err. It receives no further events.
func (r *Registry) Fail(h types.ListenerHandle, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.listeners[h]
	if !ok || !l.active {
		return
	}
	l.active = false
	r.enqueueLocked(delivery{l: l, err: err})
}

// Notify queues the events caused by the root changing from before to
// after. The caller must hold the store lock so notifications are queued in
// write order.
func (r *Registry) Notify(before, after any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.order {
		if !l.active {
			continue
		}
		segs := l.path.Segments()
		for _, snap := range tree.Events(l.path, l.class, tree.Get(before, segs), tree.Get(after, segs)) {
			r.enqueueDataLocked(l, snap)
			if !l.active {
				break
			}
		}
	}
}

// Len returns the number of registered listeners.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.listeners)
}

// Close fails every listener with err, delivers what is queued and stops
// the dispatcher. It must not be called from a listener callback.
func (r *Registry) Close(err error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		<-r.done
		return
	}
	r.closed = true
	for _, l := range r.order {
		if l.active {
			l.active = false
			r.enqueueLocked(delivery{l: l, err: err})
		}
	}
	r.listeners = make(map[types.ListenerHandle]*listener)
	r.order = nil
	r.mu.Unlock()
	r.wake()
	<-r.done
}

func (r *Registry) enqueueDataLocked(l *listener, snap types.Snapshot) {
	r.enqueueLocked(delivery{l: l, snap: snap})
	if l.once {
		l.active = false
	}
}

func (r *Registry) enqueueLocked(d delivery) {
	r.queue = append(r.queue, d)
	r.wake()
}

func (r *Registry) dropLocked(l *listener) {
	l.active = false
	l.removed = true
	delete(r.listeners, l.handle)
	for i, o := range r.order {
		if o == l {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *Registry) wake() {
	select {
	case r.signal <- struct{}{}:
	default:
	}
}

func (r *Registry) dispatch() {
	defer close(r.done)
	for {
		r.mu.Lock()
		if len(r.queue) == 0 {
			closed := r.closed
			r.mu.Unlock()
			if closed {
				return
			}
			<-r.signal
			continue
		}
		d := r.queue[0]
		r.queue[0] = delivery{}
		r.queue = r.queue[1:]
		if d.l.removed {
			r.mu.Unlock()
			continue
		}
		terminal := d.err != nil || d.l.once
		if terminal {
			if _, ok := r.listeners[d.l.handle]; ok {
				r.dropLocked(d.l)
			} else {
				d.l.removed = true
			}
		}
		r.mu.Unlock()

		r.deliver(d, terminal)
	}
}

// deliver runs one callback under the listener's callback lock. A listener
// removed since its delivery was dequeued is skipped.
func (r *Registry) deliver(d delivery, terminal bool) {
	d.l.cbMu.Lock()
	defer d.l.cbMu.Unlock()

	if !terminal {
		r.mu.Lock()
		removed := d.l.removed
		r.mu.Unlock()
		if removed {
			return
		}
	}
	if d.err != nil {
		if d.l.onError != nil {
			d.l.onError(d.err)
		}
		return
	}
	if d.l.onData != nil {
		d.l.onData(d.snap)
	}
}

func newHandle() types.ListenerHandle {
	id, err := uuid.NewV7()
	if err != nil {
		return types.ListenerHandle(uuid.New().String())
	}
	return types.ListenerHandle(id.String())
}
