// Package sync drains the offline queue once from the command line.
package sync

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/pipecounter/internal/app"
	"github.com/tphakala/pipecounter/internal/conf"
	"github.com/tphakala/pipecounter/internal/errors"
)

// OfflineMessage is returned when the probers report no connectivity.
const OfflineMessage = "No connectivity; queued captures stay queued."

// Command creates the sync command.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Replay queued captures through the analyzer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return Run(cmd.Context(), settings, cmd.OutOrStdout())
		},
	}

	cmd.Flags().Int("concurrency", 0, "Maximum concurrent analyses")
	if err := viper.BindPFlag("sync.concurrency", cmd.Flags().Lookup("concurrency")); err != nil {
		panic(fmt.Errorf("error binding flags: %w", err))
	}
	return cmd
}

// Run performs one pass and prints its result.
func Run(ctx context.Context, settings *conf.Settings, out io.Writer) error {
	a, err := app.New(ctx, settings)
	if err != nil {
		return err
	}
	defer a.Close()

	if !a.ProbeOnce(ctx) {
		return errors.Newf("analyzer unreachable").
			Component("sync").
			Category(errors.CategoryNetwork).
			UserMessage(OfflineMessage).
			Build()
	}

	res, err := a.Orchestrator.Run(ctx)
	if err != nil {
		return err
	}

	if res.Attempted == 0 {
		_, _ = fmt.Fprintln(out, "Queue is empty.")
		return nil
	}
	_, _ = fmt.Fprintf(out, "Synced %d of %d queued captures in %s.\n", res.Synced, res.Attempted, res.Duration.Round(time.Millisecond))
	for _, id := range res.FailedIDs {
		_, _ = fmt.Fprintf(out, "  failed: %s (will be retried)\n", id)
	}
	return nil
}
