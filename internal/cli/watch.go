package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/livedb/pkg/projection"
	"github.com/mesh-intelligence/livedb/pkg/stream"
	"github.com/mesh-intelligence/livedb/pkg/types"
	"github.com/mesh-intelligence/livedb/pkg/watch"
)

// signalContext ends on SIGINT or SIGTERM.
func signalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

// streamDone maps the end of a stream loop to a command result.
func streamDone(ctx context.Context, err error) error {
	if err == nil || errors.Is(err, stream.ErrCancelled) || (ctx.Err() != nil && errors.Is(err, ctx.Err())) {
		return nil
	}
	return classify(err)
}

func newWatchCmd() *cobra.Command {
	var (
		event string
		field string
	)
	cmd := &cobra.Command{
		Use:   "watch <path>",
		Short: "Print every change pushed for a path",
		Long: `Watch prints one JSON line per snapshot pushed for a path until interrupted.
With --field only that child of each snapshot is printed.

Example:
  livedb watch doctorStats/7
  livedb watch doctorProfiles --event child_added
  livedb watch doctorStats/7 --field monthAmountEarned`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parsePath(args[0])
			if err != nil {
				return err
			}
			class, err := types.ParseEventClass(event)
			if err != nil {
				return userError(err)
			}
			backend, err := openBackend()
			if err != nil {
				return err
			}
			defer backend.Detach()

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			snaps := watch.New(backend, watch.WithLogger(logger)).Subscribe(p, class)
			out := cmd.OutOrStdout()
			if field != "" {
				fields := projection.New(projection.WithLogger(logger)).ProjectField(snaps, field)
				defer fields.Cancel()
				return streamDone(ctx, fields.ForEach(ctx, func(f projection.Field) error {
					fmt.Fprintln(out, f.String())
					return nil
				}))
			}
			defer snaps.Cancel()
			return streamDone(ctx, snaps.ForEach(ctx, func(snap types.Snapshot) error {
				line, err := json.Marshal(snap)
				if err != nil {
					return sysError(err)
				}
				fmt.Fprintln(out, string(line))
				return nil
			}))
		},
	}
	cmd.Flags().StringVar(&event, "event", types.ValueChanged.String(), "event class: value, child_added, child_changed, child_removed or child_moved")
	cmd.Flags().StringVar(&field, "field", "", "print only this child field of each snapshot")
	return cmd
}
