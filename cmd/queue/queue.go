// Package queue inspects the offline queue.
package queue

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/pipecounter/internal/conf"
	"github.com/tphakala/pipecounter/internal/datastore"
	"github.com/tphakala/pipecounter/internal/model"
	queuestore "github.com/tphakala/pipecounter/internal/queue"
)

// Command creates the queue command group.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect captures waiting for connectivity",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List queued captures, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return List(cmd.Context(), settings, cmd.OutOrStdout())
		},
	})
	return cmd
}

// List prints every queued capture.
func List(ctx context.Context, settings *conf.Settings, out io.Writer) error {
	store, err := datastore.Open(ctx, datastore.OptionsFromSettings(settings))
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	items, err := queuestore.New(store.DB, nil, nil).ListAll(ctx)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		_, _ = fmt.Fprintln(out, "Queue is empty.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tCAPTURED\tBYTES\tLOCATION")
	for i := range items {
		c := &items[i]
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", c.ID, c.Timestamp.Local().Format(time.DateTime), len(c.Image), FormatLocation(c.Location))
	}
	return w.Flush()
}

// FormatLocation renders a fix as "lat,lon" or "-" when there is none.
func FormatLocation(loc *model.Location) string {
	if loc == nil || loc.Latitude == nil || loc.Longitude == nil {
		return "-"
	}
	return fmt.Sprintf("%.5f,%.5f", *loc.Latitude, *loc.Longitude)
}
