package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/livedb/internal/paths"
	"github.com/mesh-intelligence/livedb/pkg/store"
	"github.com/mesh-intelligence/livedb/pkg/types"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize livedb storage",
		Long:  "Create the configuration and data directories, then initialize the SQLite store.",
		Args:  cobra.NoArgs,
		RunE:  runInit,
	}
}

func runInit(cmd *cobra.Command, args []string) error {
	configDir, err := paths.ConfigDir(flags.configDir)
	if err != nil {
		return sysError(fmt.Errorf("resolve config dir: %w", err))
	}
	dataDir, err := paths.InitDataDir(flags.dataDir, conf.GetString(keyDataDir))
	if err != nil {
		return sysError(fmt.Errorf("resolve data dir: %w", err))
	}

	// The config directory and a default config.yaml were created when the
	// configuration was loaded; record the data directory if it was chosen
	// by flag on first run.
	if flags.dataDir != "" && conf.GetString(keyDataDir) == "" {
		if err := setConfigDataDir(filepath.Join(configDir, configFileExt), dataDir); err != nil {
			return sysError(fmt.Errorf("write config: %w", err))
		}
	}

	backend, err := store.Open(types.Config{Backend: types.BackendSQLite, DataDir: dataDir}, store.WithLogger(logger))
	if err != nil {
		return sysError(fmt.Errorf("initialize storage: %w", err))
	}
	if err := backend.Detach(); err != nil {
		return sysError(fmt.Errorf("finalize storage: %w", err))
	}

	fmt.Fprintf(cmd.OutOrStdout(), "livedb initialized in %s\n", dataDir)
	return nil
}
