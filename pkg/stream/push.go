package stream

import (
	"context"
	"sync"
)

// Sink receives values from a callback based source. Its methods never block
// and may be called from any goroutine. Calls after Error, Complete or stream
// cancellation are ignored.
type Sink[T any] interface {
	Next(v T)
	Error(err error)
	Complete()
}

// Push adapts a callback based source into a Stream. register is called
// synchronously with the sink to feed; it returns a teardown that releases
// the source. teardown runs exactly once, on the producer goroutine, when
// the stream completes, fails or is cancelled. Values pushed after that are
// dropped. If register fails the stream terminates with its error.
//
// Values are queued without bound between the source and the consumer, so a
// slow consumer never blocks the source. The latest value the source pushed
// is also kept aside the moment Next is called, which lets WithLatestFrom
// combine with it before the consumer side has caught up.
func Push[T any](register func(sink Sink[T]) (teardown func(), err error)) *Stream[T] {
	mb := newMailbox[T]()
	teardown, err := register(mb)
	if err != nil {
		mb.close()
		if teardown != nil {
			teardown()
		}
		return Fail[T](err)
	}
	s := newStream[T]()
	s.peek = mb.latest
	s.start(func(ctx context.Context, emit func(T) bool) error {
		defer func() {
			mb.close()
			if teardown != nil {
				teardown()
			}
		}()
		for {
			items, done, err := mb.take()
			for _, v := range items {
				if !emit(v) {
					return nil
				}
			}
			if done {
				return err
			}
			if len(items) > 0 {
				continue
			}
			select {
			case <-mb.signal:
			case <-ctx.Done():
				return nil
			}
		}
	})
	return s
}

// mailbox is an unbounded FIFO between a callback source and a producer.
type mailbox[T any] struct {
	mu      sync.Mutex
	items   []T
	last    T
	hasLast bool
	done    bool
	err     error
	closed  bool
	signal  chan struct{}
}

func newMailbox[T any]() *mailbox[T] {
	return &mailbox[T]{signal: make(chan struct{}, 1)}
}

func (m *mailbox[T]) Next(v T) {
	m.mu.Lock()
	if m.closed || m.done {
		m.mu.Unlock()
		return
	}
	m.items = append(m.items, v)
	m.last, m.hasLast = v, true
	m.mu.Unlock()
	m.wake()
}

// latest returns the most recent value accepted by Next.
func (m *mailbox[T]) latest() (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last, m.hasLast
}

func (m *mailbox[T]) Error(err error) {
	m.finish(err)
}

func (m *mailbox[T]) Complete() {
	m.finish(nil)
}

func (m *mailbox[T]) finish(err error) {
	m.mu.Lock()
	if m.closed || m.done {
		m.mu.Unlock()
		return
	}
	m.done = true
	m.err = err
	m.mu.Unlock()
	m.wake()
}

func (m *mailbox[T]) wake() {
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

// take removes every queued value. done is true once Error or Complete was
// called; the returned values are then the last ones.
func (m *mailbox[T]) take() (items []T, done bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items, m.items = m.items, nil
	return items, m.done, m.err
}

// close drops queued values and rejects further ones.
func (m *mailbox[T]) close() {
	m.mu.Lock()
	m.closed = true
	m.items = nil
	m.mu.Unlock()
}
