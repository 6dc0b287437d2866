package stream

import (
	"context"
	"sync"
)

// Subject is a multicast source of values. Each call to Stream registers a
// subscriber; Publish hands the value to every current subscriber and
// returns once each one has received it or has been cancelled. Publishes on
// different subjects made from one goroutine therefore reach a consumer in
// the order they were made.
//
// A replay subject additionally keeps the latest published value and emits
// it first to every new subscriber.
type Subject[T any] struct {
	mu      sync.Mutex
	subs    map[*subscriber[T]]struct{}
	replay  bool
	last    T
	hasLast bool
	done    bool
	err     error
}

// NewSubject returns a subject without replay.
func NewSubject[T any]() *Subject[T] {
	return &Subject[T]{subs: make(map[*subscriber[T]]struct{})}
}

// NewReplaySubject returns a subject that replays its latest value to new
// subscribers.
func NewReplaySubject[T any]() *Subject[T] {
	s := NewSubject[T]()
	s.replay = true
	return s
}

type subscriber[T any] struct {
	stream *Stream[T]
	ready  chan struct{}
	end    chan struct{}

	mu     sync.RWMutex
	closed bool
}

// Stream registers a new subscriber. Registration is complete when Stream
// returns, so a following Publish is delivered to it.
func (s *Subject[T]) Stream() *Stream[T] {
	sub := &subscriber[T]{
		stream: newStream[T](),
		ready:  make(chan struct{}),
		end:    make(chan struct{}),
	}

	s.mu.Lock()
	replay, hasReplay := s.last, s.replay && s.hasLast
	if s.done {
		close(sub.end)
	} else {
		s.subs[sub] = struct{}{}
	}
	s.mu.Unlock()

	sub.stream.start(func(ctx context.Context, emit func(T) bool) error {
		defer func() {
			sub.mu.Lock()
			sub.closed = true
			sub.mu.Unlock()
			s.mu.Lock()
			delete(s.subs, sub)
			s.mu.Unlock()
		}()
		if hasReplay && !emit(replay) {
			return nil
		}
		close(sub.ready)
		select {
		case <-ctx.Done():
			return nil
		case <-sub.end:
			s.mu.Lock()
			defer s.mu.Unlock()
			return s.err
		}
	})
	return sub.stream
}

// Publish delivers v to every subscriber. It blocks until each subscriber
// has taken the value or been cancelled. Publish after Complete or Fail is
// ignored.
func (s *Subject[T]) Publish(v T) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.last, s.hasLast = v, true
	subs := make([]*subscriber[T], 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.send(v)
	}
}

func (sub *subscriber[T]) send(v T) {
	ctx := sub.stream.ctx
	select {
	case <-sub.ready:
	case <-ctx.Done():
		return
	case <-sub.end:
		return
	}
	sub.mu.RLock()
	defer sub.mu.RUnlock()
	if sub.closed {
		return
	}
	sub.stream.handoff(v)
}

// Latest returns the most recently published value.
func (s *Subject[T]) Latest() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.hasLast
}

// Complete ends every subscriber stream normally.
func (s *Subject[T]) Complete() { s.finish(nil) }

// Fail ends every subscriber stream with err.
func (s *Subject[T]) Fail(err error) { s.finish(err) }

func (s *Subject[T]) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.done = true
	s.err = err
	for sub := range s.subs {
		close(sub.end)
	}
}
