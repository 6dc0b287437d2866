package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/livedb/internal/relay"
	"github.com/mesh-intelligence/livedb/pkg/types"
	"github.com/mesh-intelligence/livedb/pkg/watch"
)

func newRelayCmd() *cobra.Command {
	var event string
	cmd := &cobra.Command{
		Use:   "relay <path>...",
		Short: "Publish changes of paths to an AMQP exchange",
		Long: `Relay publishes every snapshot pushed for the given paths to the topic
exchange amqp_exchange at amqp_url. The routing key is the path with "/"
replaced by ".".

Example:
  livedb relay doctorStats/7 doctorProfiles/7`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			class, err := types.ParseEventClass(event)
			if err != nil {
				return userError(err)
			}
			targets := make([]types.Path, 0, len(args))
			for _, a := range args {
				p, err := parsePath(a)
				if err != nil {
					return err
				}
				targets = append(targets, p)
			}

			backend, err := openBackend()
			if err != nil {
				return err
			}
			defer backend.Detach()

			pub, err := relay.Dial(conf.GetString(keyAMQPURL), conf.GetString(keyAMQPExchange))
			if err != nil {
				return sysError(err)
			}
			defer pub.Close()

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			r := relay.New(watch.New(backend, watch.WithLogger(logger)), pub, relay.WithLogger(logger))
			if err := r.Run(ctx, targets, class); err != nil {
				return classify(fmt.Errorf("relay: %w", err))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&event, "event", types.ValueChanged.String(), "event class to relay")
	return cmd
}
