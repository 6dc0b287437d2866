// Package store selects and constructs a store backend from a Config.
//
// Example:
//
//	backend, err := store.NewBackend(types.Config{
//	    Backend: types.BackendSQLite,
//	    DataDir: ".livedb-db",
//	})
//	if err != nil {
//	    return err
//	}
//	if err := backend.Attach(cfg); err != nil {
//	    return err
//	}
//	defer backend.Detach()
package store

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/mesh-intelligence/livedb/internal/memory"
	"github.com/mesh-intelligence/livedb/internal/realtime"
	"github.com/mesh-intelligence/livedb/internal/sqlite"
	"github.com/mesh-intelligence/livedb/pkg/types"
)

// ReadRule decides whether a listener may read path. It applies to the
// local backends; a realtime backend is subject to the server's rule.
type ReadRule = memory.ReadRule

// Exporter is implemented by backends that can dump and load their tree as
// JSON lines.
type Exporter interface {
	Export(w io.Writer) error
	Import(ctx context.Context, r io.Reader) error
	// ExportFile replaces the file at path atomically.
	ExportFile(path string) error
	ImportFile(ctx context.Context, path string) error
}

// Reader is implemented by local backends that can read a snapshot without
// registering a listener.
type Reader interface {
	Read(path types.Path) (types.Snapshot, error)
}

type options struct {
	log  logrus.FieldLogger
	rule ReadRule
}

// Option configures NewBackend.
type Option func(*options)

// WithLogger sets the backend logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(o *options) { o.log = log }
}

// WithReadRule installs a listener read rule on local backends.
func WithReadRule(rule ReadRule) Option {
	return func(o *options) { o.rule = rule }
}

// NewBackend returns a detached backend for config.Backend.
// Returns ErrBackendEmpty or ErrBackendUnknown for a bad backend name.
func NewBackend(config types.Config, opts ...Option) (types.Backend, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	switch config.Backend {
	case "":
		return nil, types.ErrBackendEmpty
	case types.BackendMemory:
		mopts := []memory.Option{memory.WithLogger(o.log)}
		if o.rule != nil {
			mopts = append(mopts, memory.WithReadRule(o.rule))
		}
		return memory.New(mopts...), nil
	case types.BackendSQLite:
		sopts := []sqlite.Option{sqlite.WithLogger(o.log)}
		if o.rule != nil {
			sopts = append(sopts, sqlite.WithReadRule(o.rule))
		}
		return sqlite.NewBackend(sopts...), nil
	case types.BackendRealtime:
		return realtime.NewClient(realtime.WithClientLogger(o.log)), nil
	default:
		return nil, fmt.Errorf("%w: %q", types.ErrBackendUnknown, config.Backend)
	}
}

// Open constructs and attaches a backend in one step.
func Open(config types.Config, opts ...Option) (types.Backend, error) {
	backend, err := NewBackend(config, opts...)
	if err != nil {
		return nil, err
	}
	if err := backend.Attach(config); err != nil {
		return nil, fmt.Errorf("attach %s backend: %w", config.Backend, err)
	}
	return backend, nil
}
