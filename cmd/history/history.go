// Package history lists, exports and clears the analysis history.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/pipecounter/internal/app"
	"github.com/tphakala/pipecounter/internal/conf"
	"github.com/tphakala/pipecounter/internal/datastore"
	"github.com/tphakala/pipecounter/internal/errors"
	historystore "github.com/tphakala/pipecounter/internal/history"
	"github.com/tphakala/pipecounter/internal/model"
)

// Export formats.
const (
	FormatYAML = "yaml"
	FormatJSON = "json"
)

// Command creates the history command group.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Work with the analysis history",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List history records, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			records, err := load(cmd.Context(), settings)
			if err != nil {
				return err
			}
			return List(cmd.OutOrStdout(), records)
		},
	})

	var format, output string
	var images bool
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export the history as YAML or JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			records, err := load(cmd.Context(), settings)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return errors.New(err).
						Component("history").
						Category(errors.CategoryFileIO).
						Context("path", output).
						Build()
				}
				defer func() { _ = f.Close() }()
				out = f
			}
			return Export(out, records, format, images)
		},
	}
	exportCmd.Flags().StringVarP(&format, "format", "f", FormatYAML, "Output format: yaml or json")
	exportCmd.Flags().StringVarP(&output, "output", "o", "", "Write to a file instead of stdout")
	exportCmd.Flags().BoolVar(&images, "images", false, "Include base64 images in JSON output")
	cmd.AddCommand(exportCmd)

	var yes bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every history record and queued capture",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.Newf("clear not confirmed").
					Component("history").
					Category(errors.CategoryValidation).
					UserMessage("Refusing to clear history without --yes.").
					Build()
			}
			return Clear(cmd.Context(), settings, cmd.OutOrStdout())
		},
	}
	clearCmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm deletion")
	cmd.AddCommand(clearCmd)

	return cmd
}

func load(ctx context.Context, settings *conf.Settings) ([]model.AnalysisRecord, error) {
	store, err := datastore.Open(ctx, datastore.OptionsFromSettings(settings))
	if err != nil {
		return nil, err
	}
	defer func() { _ = store.Close() }()

	h := historystore.New(historystore.NewGormPersister(store.DB), settings.History.Capacity, nil)
	h.Load(ctx)
	return h.List(), nil
}

// List prints one line per record.
func List(out io.Writer, records []model.AnalysisRecord) error {
	if len(records) == 0 {
		_, _ = fmt.Fprintln(out, "History is empty.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTAKEN\tSTATUS\tTOTAL\tSOURCE")
	for i := range records {
		r := &records[i]
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			r.ID, r.Timestamp.Local().Format(time.DateTime), status(r), r.Counts.Total, r.Source.ModelVersion)
	}
	return w.Flush()
}

func status(r *model.AnalysisRecord) string {
	switch {
	case r.IsPending:
		return "pending"
	case r.Verified && r.FeedbackSubmitted:
		return "verified+feedback"
	case r.Verified:
		return "verified"
	default:
		return "draft"
	}
}

// Export writes records in format. YAML never carries images.
func Export(out io.Writer, records []model.AnalysisRecord, format string, images bool) error {
	if records == nil {
		records = []model.AnalysisRecord{}
	}
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(records); err != nil {
			return exportError(err, format)
		}
		return enc.Close()
	case FormatJSON:
		if !images {
			stripped := make([]model.AnalysisRecord, len(records))
			for i := range records {
				stripped[i] = records[i].Clone()
				stripped[i].Image = nil
			}
			records = stripped
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(records); err != nil {
			return exportError(err, format)
		}
		return nil
	default:
		return errors.Newf("unsupported export format %q", format).
			Component("history").
			Category(errors.CategoryValidation).
			UserMessage("Export format must be yaml or json.").
			Build()
	}
}

func exportError(err error, format string) error {
	return errors.New(err).
		Component("history").
		Category(errors.CategoryFileIO).
		Context("format", format).
		Build()
}

// Clear removes every record and queued capture.
func Clear(ctx context.Context, settings *conf.Settings, out io.Writer) error {
	a, err := app.New(ctx, settings)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Records.ClearHistory(ctx); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(out, "History cleared successfully.")
	return nil
}
