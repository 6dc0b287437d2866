package types

import (
	"context"
	"errors"
)

// ListenerHandle identifies a registered listener. Handles are unique per store.
type ListenerHandle string

// DataFunc receives snapshots pushed by a store.
type DataFunc func(Snapshot)

// ErrorFunc receives the terminal error of a listener. After it is called the
// listener receives nothing further.
type ErrorFunc func(error)

// Store is the push subscription API of a path-addressed store.
// Callbacks for one listener are never invoked concurrently and arrive in
// the order the store applied the corresponding writes.
type Store interface {
	// AddListener registers interest in path for the given event class.
	// A value listener is immediately sent the current value; a child_added
	// listener is sent every existing child. A listener the store refuses
	// (for example ErrPermissionDenied) still returns a handle and is told
	// through onError.
	AddListener(path Path, class EventClass, onData DataFunc, onError ErrorFunc) (ListenerHandle, error)

	// RemoveListener deregisters a listener. Once it returns no callback
	// for the handle is running or will start: a callback already in
	// progress is waited for, so a listener must not remove itself from its
	// own callback (use AddSingleListener for that). Unknown or already
	// removed handles are ignored.
	RemoveListener(handle ListenerHandle)

	// AddSingleListener registers a listener that is removed by the store
	// after its first snapshot.
	AddSingleListener(path Path, class EventClass, onData DataFunc, onError ErrorFunc) error
}

// Writer mutates a store. Every call is applied atomically and produces at
// most one notification per affected listener.
type Writer interface {
	// Set replaces the value at path. A nil value removes it.
	Set(ctx context.Context, path Path, value any) error

	// SetWithPriority replaces the value at path and sets its priority.
	SetWithPriority(ctx context.Context, path Path, value any, priority any) error

	// Update sets each child named in values (keys may contain slashes)
	// without touching other children of path.
	Update(ctx context.Context, path Path, values map[string]any) error

	// Remove deletes the value at path and everything below it.
	Remove(ctx context.Context, path Path) error

	// SetPriority sets the ordering key of an existing node. Priorities are
	// numbers, strings or nil. Returns ErrNotFound if nothing is stored at path.
	SetPriority(ctx context.Context, path Path, priority any) error
}

// Backend is a Store and Writer with an attach/detach lifecycle.
type Backend interface {
	Store
	Writer

	// Attach connects the backend using config. Returns ErrAlreadyAttached
	// if called while attached.
	Attach(config Config) error

	// Detach releases backend resources. Remaining listeners are failed with
	// ErrStoreClosed. Idempotent.
	Detach() error
}

// Listener errors delivered through ErrorFunc.
var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrDisconnected     = errors.New("disconnected from store")
	ErrStoreClosed      = errors.New("store closed")
)

// Store operation errors.
var (
	ErrNotFound        = errors.New("no data at path")
	ErrInvalidData     = errors.New("invalid data")
	ErrInvalidPriority = errors.New("invalid priority")
)

// Backend lifecycle errors.
var (
	ErrDetached        = errors.New("backend is detached")
	ErrAlreadyAttached = errors.New("backend is already attached")
)
