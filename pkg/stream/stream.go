// Package stream provides a small typed stream abstraction used to present
// push-based store listeners as values a consumer can range over and cancel.
//
// A Stream is owned by a single producer goroutine and delivers values over
// an unbuffered channel, so each value is handed to the consumer before the
// next one is produced. Cancel stops the producer and waits for it to exit;
// any release work the producer defers (such as deregistering a store
// listener) has completed when Cancel returns.
package stream

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
)

// Stream termination errors.
var (
	// ErrCancelled is reported by Err when the consumer cancelled the stream.
	ErrCancelled = errors.New("stream cancelled")

	// ErrNoValue is returned by First when the stream completes empty.
	ErrNoValue = errors.New("stream completed without a value")
)

// Producer generates the values of a stream. emit blocks until the consumer
// receives the value and returns false once the stream is cancelled, after
// which the producer should return promptly. The returned error becomes the
// terminal error of the stream; nil means normal completion.
type Producer[T any] func(ctx context.Context, emit func(T) bool) error

// Stream is a cancellable sequence of values terminated by completion or an
// error. Values are read from C; Err is valid once C is closed.
type Stream[T any] struct {
	out    chan T
	ctx    context.Context
	cancel context.CancelFunc
	exited chan struct{}
	err    error

	// sendMu serialises hand-offs, so the n-th hand-off started is the n-th
	// value the consumer receives.
	sendMu sync.Mutex
	sent   uint64
	tap    atomic.Pointer[func(seq uint64)]

	// peek reports the latest value the source accepted, including values
	// still queued for the consumer. Only Push streams set it.
	peek func() (T, bool)
}

// New starts a stream driven by p.
func New[T any](p Producer[T]) *Stream[T] {
	s := newStream[T]()
	s.start(p)
	return s
}

func newStream[T any]() *Stream[T] {
	ctx, cancel := context.WithCancel(context.Background())
	return &Stream[T]{
		out:    make(chan T),
		ctx:    ctx,
		cancel: cancel,
		exited: make(chan struct{}),
	}
}

func (s *Stream[T]) start(p Producer[T]) {
	go func() {
		defer close(s.exited)
		defer close(s.out)
		err := p(s.ctx, s.emit)
		if s.ctx.Err() != nil && (err == nil || errors.Is(err, context.Canceled)) {
			err = ErrCancelled
		}
		s.err = err
	}()
}

func (s *Stream[T]) emit(v T) bool {
	return s.handoff(v)
}

// handoff passes v to the consumer. The tap, if any, runs first with the
// sequence number of this hand-off.
func (s *Stream[T]) handoff(v T) bool {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.sent++
	if tap := s.tap.Load(); tap != nil {
		(*tap)(s.sent)
	}
	select {
	case s.out <- v:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// C returns the channel values are delivered on. It is closed when the
// stream terminates.
func (s *Stream[T]) C() <-chan T { return s.out }

// Done is closed after the producer has exited and released its resources.
func (s *Stream[T]) Done() <-chan struct{} { return s.exited }

// Err returns the terminal error: nil for normal completion, ErrCancelled
// after Cancel, or the producer's error. It blocks until the stream has
// terminated, so call it once C is closed.
func (s *Stream[T]) Err() error {
	<-s.exited
	return s.err
}

// Cancel stops the stream and blocks until the producer has exited. Only the
// first call has effect; later calls return immediately. Cancel must not be
// called from inside the stream's own producer.
func (s *Stream[T]) Cancel() {
	s.cancel()
	<-s.exited
}

// Recv waits for the next value. It returns io.EOF when the stream completed
// normally, the terminal error if it failed, or ctx.Err() if ctx ends first.
func (s *Stream[T]) Recv(ctx context.Context) (T, error) {
	var zero T
	select {
	case v, ok := <-s.out:
		if !ok {
			if err := s.Err(); err != nil {
				return zero, err
			}
			return zero, io.EOF
		}
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// ForEach calls fn for every value until the stream terminates. It returns
// nil on normal completion and the terminal error otherwise. If fn returns an
// error or ctx ends, the stream is cancelled and that error is returned.
func (s *Stream[T]) ForEach(ctx context.Context, fn func(T) error) error {
	for {
		v, err := s.Recv(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			s.Cancel()
			return err
		}
		if err := fn(v); err != nil {
			s.Cancel()
			return err
		}
	}
}

// Of returns a stream that emits vs in order and completes.
func Of[T any](vs ...T) *Stream[T] {
	return New(func(_ context.Context, emit func(T) bool) error {
		for _, v := range vs {
			if !emit(v) {
				return nil
			}
		}
		return nil
	})
}

// Just returns a stream of the single value v.
func Just[T any](v T) *Stream[T] { return Of(v) }

// Empty returns a stream that completes without values.
func Empty[T any]() *Stream[T] { return Of[T]() }

// Fail returns a stream that terminates immediately with err.
func Fail[T any](err error) *Stream[T] {
	return New(func(context.Context, func(T) bool) error { return err })
}
