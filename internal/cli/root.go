// Package cli implements the livedb command-line interface.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mesh-intelligence/livedb/internal/logging"
	"github.com/mesh-intelligence/livedb/internal/paths"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// rootFlags holds global flag values accessible to all subcommands.
type rootFlags struct {
	configDir string
	dataDir   string
	jsonMode  bool
}

var flags rootFlags

// Loaded by the root command before any subcommand runs. logger discards
// until then.
var (
	conf   *viper.Viper
	logger logrus.FieldLogger = logging.Discard()
)

// flagKeys maps the persistent flags that override config keys to those
// keys.
var flagKeys = map[string]string{
	"backend":    keyBackend,
	"url":        keyURL,
	"log-level":  keyLogLevel,
	"log-format": keyLogFormat,
}

// NewRootCmd creates the top-level "livedb" command with global flags and
// all subcommands registered.
func NewRootCmd() *cobra.Command {
	flags = rootFlags{}
	root := &cobra.Command{
		Use:     "livedb",
		Short:   "Watch and edit a live, path-addressed data store",
		Long:    "livedb reads, writes and watches a hierarchical data store whose\nlisteners are pushed every change, and serves it to remote clients.",
		Version: Version,
		// Do not print usage on errors returned by subcommands.
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setup(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configDir, "config-dir", "", "configuration directory (default: platform config dir)")
	pf.StringVar(&flags.dataDir, "data-dir", "", "sqlite data directory (default: nearest "+paths.ProjectDirName+" above the working directory)")
	pf.BoolVar(&flags.jsonMode, "json", false, "output in JSON format")
	pf.String("backend", "", "store backend: sqlite, memory or realtime")
	pf.String("url", "", "realtime server URL, e.g. ws://localhost:8080/realtime")
	pf.String("log-level", "", "log level")
	pf.String("log-format", "", "log format: text or json")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newInitCmd())
	root.AddCommand(newGetCmd())
	root.AddCommand(newSetCmd())
	root.AddCommand(newUpdateCmd())
	root.AddCommand(newRemoveCmd())
	root.AddCommand(newWatchCmd())
	root.AddCommand(newDashboardCmd())
	root.AddCommand(newServeCmd())
	root.AddCommand(newRelayCmd())
	root.AddCommand(newExportCmd())
	root.AddCommand(newImportCmd())

	return root
}

// setup loads .env, the config file and the logger.
func setup(cmd *cobra.Command) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return sysError(fmt.Errorf("load .env: %w", err))
	}

	configDir, err := paths.ConfigDir(flags.configDir)
	if err != nil {
		return sysError(fmt.Errorf("resolve config dir: %w", err))
	}
	v, err := loadConfig(configDir)
	if err != nil {
		return sysError(err)
	}
	pf := cmd.Root().PersistentFlags()
	for name, key := range flagKeys {
		if err := v.BindPFlag(key, pf.Lookup(name)); err != nil {
			return sysError(err)
		}
	}

	log, err := logging.New(logging.Config{
		Level:  v.GetString(keyLogLevel),
		Format: v.GetString(keyLogFormat),
		Output: cmd.ErrOrStderr(),
	})
	if err != nil {
		return userError(err)
	}

	conf = v
	logger = log
	return nil
}

// exitError carries the process exit code of a failed command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func userError(err error) error { return &exitError{code: exitUserError, err: err} }
func sysError(err error) error  { return &exitError{code: exitSysError, err: err} }

// exitCode maps a command error to an exit code. Errors not marked by a
// command, such as flag parsing errors, are user errors.
func exitCode(err error) int {
	if err == nil {
		return exitSuccess
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitUserError
}

// run executes root with args and reports errors on stderr.
func run(root *cobra.Command, args []string, stderr io.Writer) int {
	root.SetArgs(args)
	err := root.Execute()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %s\n", err)
	}
	return exitCode(err)
}

// Execute runs the root command and exits with the appropriate code.
func Execute() {
	os.Exit(run(NewRootCmd(), os.Args[1:], os.Stderr))
}
