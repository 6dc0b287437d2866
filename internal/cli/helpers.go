package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/mesh-intelligence/livedb/internal/logging"
	"github.com/mesh-intelligence/livedb/pkg/store"
	"github.com/mesh-intelligence/livedb/pkg/types"
)

// userSentinels are store errors caused by the command's input.
var userSentinels = []error{
	types.ErrInvalidPath,
	types.ErrInvalidKey,
	types.ErrInvalidData,
	types.ErrInvalidPriority,
	types.ErrUnknownEventClass,
	types.ErrNotFound,
	types.ErrPermissionDenied,
}

// classify marks err as a user or system error.
func classify(err error) error {
	if err == nil {
		return nil
	}
	for _, s := range userSentinels {
		if errors.Is(err, s) {
			return userError(err)
		}
	}
	return sysError(err)
}

// openBackend builds and attaches the configured backend. The caller must
// Detach it.
func openBackend() (types.Backend, error) {
	cfg, err := storeConfig()
	if err != nil {
		return nil, err
	}
	log := logging.Component(logger, logging.ComponentCLI).WithField(logging.FieldBackend, cfg.Backend)
	backend, err := store.Open(cfg, store.WithLogger(logger))
	if err != nil {
		if errors.Is(err, types.ErrBackendUnknown) {
			return nil, userError(err)
		}
		return nil, sysError(err)
	}
	log.Debug("backend attached")
	return backend, nil
}

// parsePath parses a path argument.
func parsePath(s string) (types.Path, error) {
	p, err := types.ParsePath(s)
	if err != nil {
		return types.Path{}, userError(fmt.Errorf("path %q: %w", s, err))
	}
	return p, nil
}

// parseValue decodes a JSON value argument. Text that is not valid JSON is
// taken as a string.
func parseValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return sysError(fmt.Errorf("marshal output: %w", err))
	}
	fmt.Fprintln(w, string(data))
	return nil
}

// printSnapshot writes the plain value, or the full snapshot with --json.
func printSnapshot(w io.Writer, snap types.Snapshot) error {
	if flags.jsonMode {
		return printJSON(w, snap)
	}
	return printJSON(w, snap.Value())
}
