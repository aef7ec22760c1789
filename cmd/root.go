// Package cmd is the pipecounter command line.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/pipecounter/cmd/capture"
	configcmd "github.com/tphakala/pipecounter/cmd/config"
	"github.com/tphakala/pipecounter/cmd/consent"
	"github.com/tphakala/pipecounter/cmd/history"
	"github.com/tphakala/pipecounter/cmd/queue"
	"github.com/tphakala/pipecounter/cmd/serve"
	synccmd "github.com/tphakala/pipecounter/cmd/sync"
	"github.com/tphakala/pipecounter/cmd/version"
	"github.com/tphakala/pipecounter/internal/conf"
	"github.com/tphakala/pipecounter/internal/logger"
	"github.com/tphakala/pipecounter/internal/telemetry"
)

// RootCommand creates the root command. settings is filled in before any
// subcommand runs.
func RootCommand(settings *conf.Settings) *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "pipecounter",
		Short:         "PipeCounter offline-first pipe counting service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	if err := setupFlags(rootCmd, &configFile); err != nil {
		panic(err)
	}

	versionCmd := version.Command()
	configCmd := configcmd.Command()

	rootCmd.AddCommand(
		serve.Command(settings),
		capture.Command(settings),
		synccmd.Command(settings),
		history.Command(settings),
		queue.Command(settings),
		consent.Command(settings),
		configCmd,
		versionCmd,
	)

	var shutdown func()
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		// version and config init run without loading settings
		for c := cmd; c != nil; c = c.Parent() {
			if c == versionCmd || c == configCmd {
				return nil
			}
		}
		var err error
		shutdown, err = initialize(settings, configFile)
		return err
	}
	cobra.OnFinalize(func() {
		if shutdown != nil {
			shutdown()
		}
	})

	return rootCmd
}

// initialize loads settings and starts logging and error reporting.
func initialize(settings *conf.Settings, configFile string) (func(), error) {
	loaded, err := conf.Load(configFile)
	if err != nil {
		return nil, err
	}
	*settings = *loaded

	central, err := logger.NewCentralLogger(settings.LoggerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(central)

	closeTelemetry, err := telemetry.Init(settings)
	if err != nil {
		_ = central.Close()
		return nil, err
	}

	return func() {
		closeTelemetry()
		_ = central.Flush()
		_ = central.Close()
	}, nil
}

func setupFlags(rootCmd *cobra.Command, configFile *string) error {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(configFile, "config", "c", "", "Path to config.yaml (default: search ., ~/.config/pipecounter, /etc/pipecounter)")
	flags.BoolP("debug", "d", false, "Enable debug output")
	flags.String("datadir", "", "Directory for the database and logs")

	if err := viper.BindPFlag("debug", flags.Lookup("debug")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	if err := viper.BindPFlag("main.datadir", flags.Lookup("datadir")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}
