package stream

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func collect[T any](t *testing.T, s *Stream[T]) ([]T, error) {
	t.Helper()
	var out []T
	err := s.ForEach(testContext(t), func(v T) error {
		out = append(out, v)
		return nil
	})
	return out, err
}

func TestOf(t *testing.T) {
	got, err := collect(t, Of(1, 2, 3))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, got)

	got, err = collect(t, Empty[int]())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFail(t *testing.T) {
	s := Fail[int](errBoom)
	_, err := s.Recv(testContext(t))
	assert.ErrorIs(t, err, errBoom)
	assert.ErrorIs(t, s.Err(), errBoom)
}

func TestRecvEOF(t *testing.T) {
	s := Just("x")
	ctx := testContext(t)
	v, err := s.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, "x", v)
	_, err = s.Recv(ctx)
	assert.ErrorIs(t, err, io.EOF)
	assert.NoError(t, s.Err())
}

func TestCancelIdempotent(t *testing.T) {
	s := New(func(ctx context.Context, emit func(int) bool) error {
		<-ctx.Done()
		return ctx.Err()
	})
	s.Cancel()
	s.Cancel()
	assert.ErrorIs(t, s.Err(), ErrCancelled)
	_, ok := <-s.C()
	assert.False(t, ok)
}

func TestForEachStopsOnCallbackError(t *testing.T) {
	var released atomic.Bool
	s := New(func(ctx context.Context, emit func(int) bool) error {
		defer released.Store(true)
		for i := 0; ; i++ {
			if !emit(i) {
				return nil
			}
		}
	})
	err := s.ForEach(testContext(t), func(v int) error {
		if v == 3 {
			return errBoom
		}
		return nil
	})
	assert.ErrorIs(t, err, errBoom)
	assert.True(t, released.Load())
}

func TestMap(t *testing.T) {
	got, err := collect(t, Map(Of(1, 2, 3), func(v int) int { return v * 2 }))
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4, 6}, got)

	_, err = collect(t, Map(Fail[int](errBoom), func(v int) int { return v }))
	assert.ErrorIs(t, err, errBoom)
}

func TestMapCancelReleasesSource(t *testing.T) {
	var released atomic.Bool
	src := New(func(ctx context.Context, emit func(int) bool) error {
		defer released.Store(true)
		<-ctx.Done()
		return nil
	})
	m := Map(src, func(v int) string { return "" })
	m.Cancel()
	assert.True(t, released.Load())
}

func TestTake(t *testing.T) {
	got, err := Take(testContext(t), Of(1, 2, 3, 4), 2)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, got)

	got, err = Take(testContext(t), Of(1), 5)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, got)
}

func TestFirst(t *testing.T) {
	v, err := First(testContext(t), Of("a", "b"))
	require.NoError(t, err)
	assert.Equal(t, "a", v)

	_, err = First(testContext(t), Empty[string]())
	assert.ErrorIs(t, err, ErrNoValue)

	_, err = First(testContext(t), Fail[string](errBoom))
	assert.ErrorIs(t, err, errBoom)
}
