package stream

import (
	"context"
	"errors"
	"io"
	"sync"
)

// First returns the first value of s and cancels s. It returns ErrNoValue if
// s completes without a value, and the terminal error if s fails.
func First[T any](ctx context.Context, s *Stream[T]) (T, error) {
	defer s.Cancel()
	v, err := s.Recv(ctx)
	if errors.Is(err, io.EOF) {
		return v, ErrNoValue
	}
	return v, err
}

// Take collects up to n values from s, then cancels it. A normal completion
// before n values is not an error.
func Take[T any](ctx context.Context, s *Stream[T], n int) ([]T, error) {
	defer s.Cancel()
	out := make([]T, 0, n)
	for len(out) < n {
		v, err := s.Recv(ctx)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Map applies fn to every value of src. Cancelling the result cancels src;
// a terminal error of src is passed through.
func Map[T, R any](src *Stream[T], fn func(T) R) *Stream[R] {
	return New(func(ctx context.Context, emit func(R) bool) error {
		defer src.Cancel()
		for {
			select {
			case <-ctx.Done():
				return nil
			case v, ok := <-src.C():
				if !ok {
					return src.Err()
				}
				if !emit(fn(v)) {
					return nil
				}
			}
		}
	})
}

// WithLatestFrom emits combine(a, latest, ok) for every value a of driver,
// where latest is the most recent value of data and ok reports whether data
// has produced anything yet. Values of data update the held value without
// emitting. The result fails as soon as either input fails, and completes
// once both inputs have completed. Cancelling it cancels both inputs.
//
// When data comes from Push, latest is the value its source had pushed at
// the moment a was handed over, even if data's queue has not been read up
// to it yet. A push that returns before a is published is therefore never
// missed, and one made after Publish returns is never used for a.
func WithLatestFrom[A, B, R any](driver *Stream[A], data *Stream[B], combine func(a A, latest B, ok bool) R) *Stream[R] {
	var (
		mu       sync.Mutex
		captured = make(map[uint64]held[B])
	)
	if data.peek != nil {
		tap := func(seq uint64) {
			v, ok := data.peek()
			mu.Lock()
			captured[seq] = held[B]{v: v, ok: ok}
			mu.Unlock()
		}
		driver.tap.Store(&tap)
	}

	return New(func(ctx context.Context, emit func(R) bool) error {
		defer driver.Cancel()
		defer data.Cancel()

		var (
			latest   B
			has      bool
			received uint64
		)
		dc, vc := driver.C(), data.C()
		for dc != nil || vc != nil {
			select {
			case <-ctx.Done():
				return nil
			case b, ok := <-vc:
				if !ok {
					if err := data.Err(); err != nil {
						return err
					}
					vc = nil
					continue
				}
				latest, has = b, true
			case a, ok := <-dc:
				if !ok {
					if err := driver.Err(); err != nil {
						return err
					}
					dc = nil
					continue
				}
				received++
				cur, curOK := latest, has
				if data.peek != nil {
					mu.Lock()
					c, found := captured[received]
					delete(captured, received)
					mu.Unlock()
					if found {
						cur, curOK = c.v, c.ok
					} else {
						// Handed over before the tap was installed.
						cur, curOK = data.peek()
					}
				}
				if !emit(combine(a, cur, curOK)) {
					return nil
				}
			}
		}
		return nil
	})
}

type held[T any] struct {
	v  T
	ok bool
}
