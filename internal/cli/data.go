package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/livedb/pkg/types"
	"github.com/mesh-intelligence/livedb/pkg/watch"
)

const readTimeout = 30 * time.Second

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <path>",
		Short: "Print the value at a path",
		Long: `Get reads the current value at a path once.

Example:
  livedb get doctorProfiles/7
  livedb get --json doctorStats/7`,
		Args: cobra.ExactArgs(1),
		RunE: runGet,
	}
}

func runGet(cmd *cobra.Command, args []string) error {
	p, err := parsePath(args[0])
	if err != nil {
		return err
	}
	backend, err := openBackend()
	if err != nil {
		return err
	}
	defer backend.Detach()

	ctx, cancel := context.WithTimeout(cmd.Context(), readTimeout)
	defer cancel()
	snap, err := watch.New(backend, watch.WithLogger(logger)).Get(ctx, p)
	if err != nil {
		return classify(fmt.Errorf("get %s: %w", p, err))
	}
	return printSnapshot(cmd.OutOrStdout(), snap)
}

func newSetCmd() *cobra.Command {
	var priority string
	cmd := &cobra.Command{
		Use:   "set <path> <value>",
		Short: "Replace the value at a path",
		Long: `Set replaces the value at a path. The value is parsed as JSON; text that
is not JSON is stored as a string. Setting null removes the path.

Example:
  livedb set doctorProfiles/7 '{"name":"Ana","speciality":"Cardiology"}'
  livedb set doctorStats/7/dayAmountEarned 10
  livedb set queue/b job --priority 2`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return write(cmd, args[0], func(ctx context.Context, w types.Writer, p types.Path) error {
				value := parseValue(args[1])
				if cmd.Flags().Changed("priority") {
					return w.SetWithPriority(ctx, p, value, parseValue(priority))
				}
				return w.Set(ctx, p, value)
			})
		},
	}
	cmd.Flags().StringVar(&priority, "priority", "", "priority to store with the value (number or string)")
	return cmd
}

func newUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update <path> <json-object>",
		Short: "Replace some children of a path",
		Long: `Update replaces the named children of a path and leaves the others.

Example:
  livedb update doctorStats/7 '{"dayAmountEarned":15,"monthAmountEarned":315}'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, ok := parseValue(args[1]).(map[string]any)
			if !ok {
				return userError(errors.New("update value must be a JSON object"))
			}
			return write(cmd, args[0], func(ctx context.Context, w types.Writer, p types.Path) error {
				return w.Update(ctx, p, values)
			})
		},
	}
}

func newRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <path>",
		Aliases: []string{"rm"},
		Short:   "Remove a path and everything under it",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return write(cmd, args[0], func(ctx context.Context, w types.Writer, p types.Path) error {
				return w.Remove(ctx, p)
			})
		},
	}
}

// write opens the backend and runs one write against path.
func write(cmd *cobra.Command, path string, fn func(context.Context, types.Writer, types.Path) error) error {
	p, err := parsePath(path)
	if err != nil {
		return err
	}
	backend, err := openBackend()
	if err != nil {
		return err
	}
	defer backend.Detach()

	if err := fn(cmd.Context(), backend, p); err != nil {
		return classify(fmt.Errorf("%s %s: %w", cmd.Name(), p, err))
	}
	if flags.jsonMode {
		return printJSON(cmd.OutOrStdout(), map[string]string{"status": "ok", "path": p.String()})
	}
	fmt.Fprintln(cmd.OutOrStdout(), "ok")
	return nil
}
