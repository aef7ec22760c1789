// Package serve runs the HTTP API together with the connectivity monitor and
// the sync orchestrator.
package serve

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/tphakala/pipecounter/internal/api"
	"github.com/tphakala/pipecounter/internal/app"
	"github.com/tphakala/pipecounter/internal/conf"
	"github.com/tphakala/pipecounter/internal/errors"
	"github.com/tphakala/pipecounter/internal/logger"
)

// Command creates the serve command.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the PipeCounter API server",
		Long:  "Serve the JSON API, watch connectivity and replay queued captures whenever the network comes back.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return Run(cmd.Context(), settings)
		},
	}

	if err := setupFlags(cmd); err != nil {
		panic(err)
	}
	return cmd
}

func setupFlags(cmd *cobra.Command) error {
	cmd.Flags().String("listen", "", "Listen address of the API server")

	if err := viper.BindPFlag("webserver.listen", cmd.Flags().Lookup("listen")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}

// Run blocks until ctx is cancelled or the server fails.
func Run(ctx context.Context, settings *conf.Settings) error {
	log := logger.Global().Module("serve")

	a, err := app.New(ctx, settings)
	if err != nil {
		return err
	}
	defer a.Close()

	opts := []api.ServerOption{}
	if a.Metrics != nil {
		opts = append(opts, api.WithMetrics(a.Metrics))
	}
	srv, err := api.New(api.ConfigFromSettings(settings), api.Deps{
		Records:       a.Records,
		Sync:          a.Orchestrator,
		Queue:         a.Queue,
		Connectivity:  a.Monitor,
		Notifications: a.Notifications,
		Consent:       a.Store,
	}, opts...)
	if err != nil {
		return err
	}

	// Drain whatever an earlier run left queued when we start online.
	if a.ProbeOnce(ctx) {
		if a.Orchestrator.Trigger(ctx) {
			log.Info("cold start sync triggered")
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Monitor.Run(gctx) })
	g.Go(func() error { return srv.Run(gctx) })

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server stopped with error", logger.Error(err))
		return err
	}
	log.Info("shutdown complete")
	return nil
}
