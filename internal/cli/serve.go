package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mesh-intelligence/livedb/internal/logging"
	"github.com/mesh-intelligence/livedb/internal/metrics"
	"github.com/mesh-intelligence/livedb/internal/realtime"
	"github.com/mesh-intelligence/livedb/pkg/types"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the store to realtime clients",
		Long: `Serve exposes the local store over the realtime websocket protocol at
/realtime, Prometheus metrics at /metrics and a health check at /healthz.

Example:
  livedb serve --addr :8080
  livedb --backend realtime --url ws://localhost:8080/realtime watch doctorStats/7`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if conf.GetString(keyBackend) == types.BackendRealtime {
				return userError(errors.New("serve needs a local backend (sqlite or memory)"))
			}
			if addr == "" {
				addr = conf.GetString(keyListenAddr)
			}
			backend, err := openBackend()
			if err != nil {
				return err
			}
			defer backend.Detach()

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			return serve(ctx, addr, newServeMux(backend))
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: listen_addr from config)")
	return cmd
}

// newServeMux routes the realtime, metrics and health endpoints.
func newServeMux(backend types.Backend) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/realtime", realtime.NewServer(backend, realtime.WithServerLogger(logger)))
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	return mux
}

// serve runs the HTTP server until ctx ends, then shuts it down.
func serve(ctx context.Context, addr string, handler http.Handler) error {
	log := logging.Component(logger, logging.ComponentCLI)
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("addr", addr).Info("serving")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return sysError(fmt.Errorf("listen: %w", err))
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
