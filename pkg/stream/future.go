package stream

import "context"

// Future is the eventual single result of a stream.
type Future[T any] struct {
	src  *Stream[T]
	done chan struct{}
	val  T
	err  error
}

// FirstAsync resolves to the first value of s and cancels s as soon as that
// value arrives. If s terminates first the future resolves to its error, or
// ErrNoValue if it completed empty.
func FirstAsync[T any](s *Stream[T]) *Future[T] {
	f := &Future[T]{src: s, done: make(chan struct{})}
	go func() {
		defer close(f.done)
		f.val, f.err = First(context.Background(), s)
	}()
	return f
}

// Await blocks until the future resolves or ctx ends. Ending ctx does not
// cancel the future.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Done is closed once the future has resolved and its stream is released.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Cancel abandons the future. An unresolved future resolves to ErrCancelled.
func (f *Future[T]) Cancel() {
	f.src.Cancel()
	<-f.done
}
