// Package memory implements an in-memory store backend. It is also the
// engine of the persistent backends, which plug in through WithCommit.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/mesh-intelligence/livedb/internal/logging"
	"github.com/mesh-intelligence/livedb/internal/metrics"
	"github.com/mesh-intelligence/livedb/internal/notify"
	"github.com/mesh-intelligence/livedb/internal/tree"
	"github.com/mesh-intelligence/livedb/pkg/types"
)

// ReadRule decides whether a listener may read path. A non-nil error, such
// as types.ErrPermissionDenied, refuses the listener.
type ReadRule func(path types.Path) error

// CommitFunc persists a write before it becomes visible. region is the
// subtree whose content changed and after is the new root. Returning an
// error aborts the write.
type CommitFunc func(region types.Path, after any) error

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Store) { s.log = log }
}

// WithReadRule installs a read permission check for listeners.
func WithReadRule(rule ReadRule) Option {
	return func(s *Store) { s.rule = rule }
}

// WithCommit installs a persistence hook run under the write lock.
func WithCommit(fn CommitFunc) Option {
	return func(s *Store) { s.commit = fn }
}

// WithRoot seeds the tree. The value must already be in export form.
func WithRoot(root any) Option {
	return func(s *Store) { s.root = root }
}

// Store is an in-memory types.Backend.
type Store struct {
	mu       sync.RWMutex
	attached bool
	root     any
	reg      *notify.Registry
	rule     ReadRule
	commit   CommitFunc
	log      logrus.FieldLogger
}

// New returns a detached store; call Attach before use.
func New(opts ...Option) *Store {
	s := &Store{}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logging.Component(s.log, logging.ComponentStore)
	return s
}

// Attach starts the listener dispatcher. The config is not used beyond
// validation.
func (s *Store) Attach(config types.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.attached {
		return types.ErrAlreadyAttached
	}
	if config.Backend != "" {
		if err := config.Validate(); err != nil {
			return err
		}
	}
	s.reg = notify.NewRegistry(s.log)
	s.attached = true
	return nil
}

// Detach fails every listener with types.ErrStoreClosed. Idempotent.
func (s *Store) Detach() error {
	s.mu.Lock()
	if !s.attached {
		s.mu.Unlock()
		return nil
	}
	reg := s.reg
	s.attached = false
	s.reg = nil
	s.mu.Unlock()

	reg.Close(types.ErrStoreClosed)
	return nil
}

// AddListener implements types.Store.
func (s *Store) AddListener(path types.Path, class types.EventClass, onData types.DataFunc, onError types.ErrorFunc) (types.ListenerHandle, error) {
	return s.addListener(path, class, onData, onError, false)
}

// AddSingleListener implements types.Store.
func (s *Store) AddSingleListener(path types.Path, class types.EventClass, onData types.DataFunc, onError types.ErrorFunc) error {
	_, err := s.addListener(path, class, onData, onError, true)
	return err
}

func (s *Store) addListener(path types.Path, class types.EventClass, onData types.DataFunc, onError types.ErrorFunc, once bool) (types.ListenerHandle, error) {
	if !class.Valid() {
		return "", fmt.Errorf("%w: %d", types.ErrUnknownEventClass, int(class))
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.attached {
		return "", types.ErrDetached
	}
	if s.rule != nil {
		if err := s.rule(path); err != nil {
			return s.reg.Deny(path, class, onError, err), nil
		}
	}
	return s.reg.Add(path, class, onData, onError, once, tree.Get(s.root, path.Segments())), nil
}

// RemoveListener implements types.Store.
func (s *Store) RemoveListener(handle types.ListenerHandle) {
	s.mu.RLock()
	reg := s.reg
	s.mu.RUnlock()
	if reg != nil {
		reg.Remove(handle)
	}
}

// Set implements types.Writer.
func (s *Store) Set(ctx context.Context, path types.Path, value any) error {
	return s.Apply(ctx, tree.SetMutation(path, value))
}

// SetWithPriority implements types.Writer.
func (s *Store) SetWithPriority(ctx context.Context, path types.Path, value any, priority any) error {
	return s.Apply(ctx, tree.SetWithPriorityMutation(path, value, priority))
}

// Update implements types.Writer.
func (s *Store) Update(ctx context.Context, path types.Path, values map[string]any) error {
	return s.Apply(ctx, tree.UpdateMutation(path, values))
}

// Remove implements types.Writer.
func (s *Store) Remove(ctx context.Context, path types.Path) error {
	return s.Apply(ctx, tree.RemoveMutation(path))
}

// SetPriority implements types.Writer.
func (s *Store) SetPriority(ctx context.Context, path types.Path, priority any) error {
	return s.Apply(ctx, tree.PriorityMutation(path, priority))
}

// Apply performs one mutation atomically and notifies the listeners it
// affects.
func (s *Store) Apply(ctx context.Context, m tree.Mutation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.attached {
		return types.ErrDetached
	}
	after, region, err := tree.Apply(s.root, m)
	if err != nil {
		return fmt.Errorf("%s %s: %w", m.Op, m.Path, err)
	}
	if s.commit != nil {
		if err := s.commit(region, after); err != nil {
			return fmt.Errorf("commit %s %s: %w", m.Op, region, err)
		}
	}
	before := s.root
	s.root = after
	s.reg.Notify(before, after)

	metrics.StoreWrites.WithLabelValues(m.Op.String()).Inc()
	s.log.WithFields(logrus.Fields{
		logging.FieldPath: m.Path.String(),
		"op":              m.Op.String(),
		"region":          region.String(),
	}).Debug("write applied")
	return nil
}

// Read returns the current value at path.
func (s *Store) Read(path types.Path) (types.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.attached {
		return types.Snapshot{}, types.ErrDetached
	}
	return types.NewSnapshot(path, tree.Get(s.root, path.Segments())), nil
}

// Listeners returns the number of registered listeners.
func (s *Store) Listeners() int {
	s.mu.RLock()
	reg := s.reg
	s.mu.RUnlock()
	if reg == nil {
		return 0
	}
	return reg.Len()
}
