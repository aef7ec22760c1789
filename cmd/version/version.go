// Package version prints build information.
package version

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/pipecounter/internal/buildinfo"
)

// Command creates the version command.
func Command() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			info := buildinfo.Current()
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "pipecounter %s\n", info.Version)
			_, _ = fmt.Fprintf(out, "  built:  %s\n", info.BuildDate)
			_, _ = fmt.Fprintf(out, "  commit: %s\n", info.Commit)
			_, _ = fmt.Fprintf(out, "  go:     %s\n", info.GoVersion)
		},
	}
}
