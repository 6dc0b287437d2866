// Package sqlite implements the SQLite-persisted store backend.
//
// The tree lives in memory for reads and listener diffs; every write is
// committed to the nodes table before it becomes visible. Only the rows of
// the region a write touched are rewritten.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/livedb/internal/logging"
	"github.com/mesh-intelligence/livedb/internal/memory"
	"github.com/mesh-intelligence/livedb/internal/tree"
	"github.com/mesh-intelligence/livedb/pkg/types"
)

// DatabaseFile is the name of the database inside DataDir.
const DatabaseFile = "livedb.db"

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(b *Backend) { b.log = log }
}

// WithReadRule installs a read permission check for listeners.
func WithReadRule(rule memory.ReadRule) Option {
	return func(b *Backend) { b.rule = rule }
}

// Backend implements types.Backend on top of SQLite.
type Backend struct {
	// lifecycle serialises Attach and Detach; mu guards the fields below
	// and is never held while listeners drain.
	lifecycle sync.Mutex

	mu       sync.RWMutex
	attached bool
	config   types.Config
	db       *sql.DB
	store    *memory.Store
	rule     memory.ReadRule
	log      logrus.FieldLogger
}

// NewBackend creates a new SQLite backend instance.
// The backend is not attached; call Attach with a Config to initialize.
func NewBackend(opts ...Option) *Backend {
	b := &Backend{}
	for _, opt := range opts {
		opt(b)
	}
	b.log = logging.Component(b.log, logging.ComponentStore).WithField(logging.FieldBackend, types.BackendSQLite)
	return b
}

// Attach opens (creating if needed) the database in config.DataDir, applies
// migrations and loads the tree.
// Returns ErrAlreadyAttached if already attached.
func (b *Backend) Attach(config types.Config) error {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()

	if _, err := b.current(); err == nil {
		return types.ErrAlreadyAttached
	}
	if err := config.Validate(); err != nil {
		return err
	}

	dataDir := config.DataDir
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}

	dbPath := filepath.Join(dataDir, DatabaseFile)
	if err := runMigrations(dbPath); err != nil {
		return err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return err
	}
	// One writer; the in-memory tree serves reads.
	db.SetMaxOpenConns(1)

	root, err := loadRoot(db)
	if err != nil {
		db.Close()
		return fmt.Errorf("load nodes: %w", err)
	}

	store := memory.New(
		memory.WithLogger(b.log),
		memory.WithReadRule(b.rule),
		memory.WithRoot(root),
		memory.WithCommit(func(region types.Path, after any) error {
			return writeRegion(db, region, after)
		}),
	)
	if err := store.Attach(types.Config{}); err != nil {
		db.Close()
		return err
	}

	b.mu.Lock()
	b.db = db
	b.store = store
	b.config = config
	b.attached = true
	b.mu.Unlock()
	b.log.WithField("db", dbPath).Debug("attached")
	return nil
}

// Detach fails remaining listeners with ErrStoreClosed and closes the
// database. Detach is idempotent. Callbacks that run while it drains see a
// detached backend.
func (b *Backend) Detach() error {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()

	b.mu.Lock()
	if !b.attached {
		b.mu.Unlock()
		return nil
	}
	store, db := b.store, b.db
	b.db = nil
	b.store = nil
	b.attached = false
	b.mu.Unlock()

	if err := store.Detach(); err != nil {
		db.Close()
		return err
	}
	return db.Close()
}

func (b *Backend) current() (*memory.Store, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.attached {
		return nil, types.ErrDetached
	}
	return b.store, nil
}

// AddListener implements types.Store.
func (b *Backend) AddListener(path types.Path, class types.EventClass, onData types.DataFunc, onError types.ErrorFunc) (types.ListenerHandle, error) {
	s, err := b.current()
	if err != nil {
		return "", err
	}
	return s.AddListener(path, class, onData, onError)
}

// RemoveListener implements types.Store.
func (b *Backend) RemoveListener(handle types.ListenerHandle) {
	if s, err := b.current(); err == nil {
		s.RemoveListener(handle)
	}
}

// AddSingleListener implements types.Store.
func (b *Backend) AddSingleListener(path types.Path, class types.EventClass, onData types.DataFunc, onError types.ErrorFunc) error {
	s, err := b.current()
	if err != nil {
		return err
	}
	return s.AddSingleListener(path, class, onData, onError)
}

func (b *Backend) apply(ctx context.Context, m tree.Mutation) error {
	s, err := b.current()
	if err != nil {
		return err
	}
	return s.Apply(ctx, m)
}

// Set implements types.Writer.
func (b *Backend) Set(ctx context.Context, path types.Path, value any) error {
	return b.apply(ctx, tree.SetMutation(path, value))
}

// SetWithPriority implements types.Writer.
func (b *Backend) SetWithPriority(ctx context.Context, path types.Path, value any, priority any) error {
	return b.apply(ctx, tree.SetWithPriorityMutation(path, value, priority))
}

// Update implements types.Writer.
func (b *Backend) Update(ctx context.Context, path types.Path, values map[string]any) error {
	return b.apply(ctx, tree.UpdateMutation(path, values))
}

// Remove implements types.Writer.
func (b *Backend) Remove(ctx context.Context, path types.Path) error {
	return b.apply(ctx, tree.RemoveMutation(path))
}

// SetPriority implements types.Writer.
func (b *Backend) SetPriority(ctx context.Context, path types.Path, priority any) error {
	return b.apply(ctx, tree.PriorityMutation(path, priority))
}

// Read returns the current value at path.
func (b *Backend) Read(path types.Path) (types.Snapshot, error) {
	s, err := b.current()
	if err != nil {
		return types.Snapshot{}, err
	}
	return s.Read(path)
}
