// Package capture analyzes a single image from the command line.
package capture

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/pipecounter/internal/app"
	"github.com/tphakala/pipecounter/internal/conf"
	"github.com/tphakala/pipecounter/internal/errors"
	"github.com/tphakala/pipecounter/internal/model"
)

// Options are the capture flags.
type Options struct {
	Offline   bool
	Latitude  float64
	Longitude float64
	HasFix    bool
}

// Command creates the capture command.
func Command(settings *conf.Settings) *cobra.Command {
	var opts Options
	cmd := &cobra.Command{
		Use:   "capture <image>",
		Short: "Analyze an image, or queue it when offline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.HasFix = cmd.Flags().Changed("lat") && cmd.Flags().Changed("lon")
			return Run(cmd.Context(), settings, args[0], opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&opts.Offline, "offline", false, "Queue the capture without contacting the analyzer")
	cmd.Flags().Float64Var(&opts.Latitude, "lat", 0, "Latitude of the capture")
	cmd.Flags().Float64Var(&opts.Longitude, "lon", 0, "Longitude of the capture")
	cmd.MarkFlagsRequiredTogether("lat", "lon")
	return cmd
}

// Run captures the image at path and prints the outcome to out.
func Run(ctx context.Context, settings *conf.Settings, path string, opts Options, out io.Writer) error {
	image, err := os.ReadFile(path)
	if err != nil {
		return errors.New(err).
			Component("capture").
			Category(errors.CategoryFileIO).
			Context("path", path).
			UserMessage(fmt.Sprintf("Cannot read image %s.", path)).
			Build()
	}

	a, err := app.New(ctx, settings)
	if err != nil {
		return err
	}
	defer a.Close()

	if opts.Offline {
		a.Monitor.Report(false)
	} else {
		a.ProbeOnce(ctx)
	}

	var loc *model.Location
	if opts.HasFix {
		lat, lon := opts.Latitude, opts.Longitude
		now := time.Now()
		loc = &model.Location{Latitude: &lat, Longitude: &lon, Timestamp: &now}
	}

	res, err := a.Records.Capture(ctx, image, loc)
	if err != nil {
		return err
	}

	if res.Queued {
		_, _ = fmt.Fprintf(out, "Queued %s; it will be analyzed when connectivity returns.\n", res.Record.ID)
		return nil
	}
	PrintRecord(out, &res.Record)
	return nil
}

// PrintRecord writes a one-record summary.
func PrintRecord(out io.Writer, rec *model.AnalysisRecord) {
	_, _ = fmt.Fprintf(out, "Record:     %s\n", rec.ID)
	_, _ = fmt.Fprintf(out, "Total:      %d\n", rec.Counts.Total)
	sizes := make([]string, 0, len(model.Sizes))
	for _, s := range model.Sizes {
		sizes = append(sizes, fmt.Sprintf("%s=%d", s, rec.Counts.BySize[s]))
	}
	_, _ = fmt.Fprintf(out, "By size:    %s\n", strings.Join(sizes, " "))
	_, _ = fmt.Fprintf(out, "Confidence: %.0f%%\n", rec.Confidence*100)
	_, _ = fmt.Fprintf(out, "Model:      %s\n", rec.Source.ModelVersion)
	if rec.Notes != "" {
		_, _ = fmt.Fprintf(out, "Notes:      %s\n", rec.Notes)
	}
}
