// Package config writes the annotated default configuration.
package config

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tphakala/pipecounter/internal/conf"
)

// Command creates the config command group.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	var path string
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config.yaml",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := conf.WriteDefaultConfig(path); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().StringVarP(&path, "path", "p", defaultPath(), "Destination of the config file")
	cmd.AddCommand(initCmd)
	return cmd
}

func defaultPath() string {
	paths := conf.DefaultConfigPaths()
	dir := paths[0]
	if len(paths) > 1 {
		dir = paths[1]
	}
	return filepath.Join(dir, "config.yaml")
}
