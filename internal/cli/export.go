package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/livedb/pkg/store"
	"github.com/mesh-intelligence/livedb/pkg/types"
)

// openExporter opens the backend and checks that it can export.
func openExporter() (types.Backend, store.Exporter, error) {
	backend, err := openBackend()
	if err != nil {
		return nil, nil, err
	}
	exp, ok := backend.(store.Exporter)
	if !ok {
		backend.Detach()
		return nil, nil, userError(fmt.Errorf("backend %q cannot export", conf.GetString(keyBackend)))
	}
	return backend, exp, nil
}

func newExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export [file]",
		Short: "Write every stored leaf as JSON lines",
		Long: `Export writes one {"path","value"} JSON line per stored leaf, ordered by
path, to the file or to stdout.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, exp, err := openExporter()
			if err != nil {
				return err
			}
			defer backend.Detach()

			if len(args) == 0 {
				if err := exp.Export(cmd.OutOrStdout()); err != nil {
					return sysError(fmt.Errorf("export: %w", err))
				}
				return nil
			}
			if err := exp.ExportFile(args[0]); err != nil {
				return sysError(fmt.Errorf("export: %w", err))
			}
			return nil
		},
	}
}

func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Replace the stored tree with a JSON lines export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(args[0]); err != nil {
				return userError(err)
			}
			backend, exp, err := openExporter()
			if err != nil {
				return err
			}
			defer backend.Detach()

			if err := exp.ImportFile(cmd.Context(), args[0]); err != nil {
				return classify(fmt.Errorf("import: %w", err))
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}
