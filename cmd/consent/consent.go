// Package consent records the data policy consent that gates AI analysis.
package consent

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tphakala/pipecounter/internal/conf"
	"github.com/tphakala/pipecounter/internal/datastore"
)

// Command creates the consent command. Without flags it prints the current
// state.
func Command(settings *conf.Settings) *cobra.Command {
	var grant, revoke bool
	cmd := &cobra.Command{
		Use:   "consent",
		Short: "Show, grant or revoke consent to the data policy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var change *bool
			switch {
			case grant:
				change = &grant
			case revoke:
				granted := false
				change = &granted
			}
			return Run(cmd.Context(), settings, change, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&grant, "grant", false, "Grant consent")
	cmd.Flags().BoolVar(&revoke, "revoke", false, "Revoke consent")
	cmd.MarkFlagsMutuallyExclusive("grant", "revoke")
	return cmd
}

// Run applies change when it is not nil and prints the resulting state.
func Run(ctx context.Context, settings *conf.Settings, change *bool, out io.Writer) error {
	store, err := datastore.Open(ctx, datastore.OptionsFromSettings(settings))
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if change != nil {
		if err := store.SetConsent(ctx, *change); err != nil {
			return err
		}
	}

	granted, err := store.ConsentGranted(ctx)
	if err != nil {
		return err
	}
	state := "not granted"
	if granted {
		state = "granted"
	}
	_, _ = fmt.Fprintf(out, "Data policy consent: %s\n", state)
	if !granted && settings.Privacy.RequireConsent {
		_, _ = fmt.Fprintln(out, "AI analysis is disabled until consent is granted.")
	}
	return nil
}
