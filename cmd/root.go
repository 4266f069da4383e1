// Package cmd assembles the clipvault command line.
package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/clipvault/clipvault/cmd/ingest"
	"github.com/clipvault/clipvault/cmd/ocr"
	"github.com/clipvault/clipvault/cmd/search"
	"github.com/clipvault/clipvault/cmd/serve"
	"github.com/clipvault/clipvault/internal/app"
	"github.com/clipvault/clipvault/internal/conf"
	"github.com/clipvault/clipvault/internal/errors"
	"github.com/clipvault/clipvault/internal/logger"
)

// Version is set at build time with -ldflags.
var Version = "dev"

// RootCommand creates the root command and its subcommands.
func RootCommand(env *app.Env) *cobra.Command {
	v := viper.New()
	var (
		configFile string
		debug      bool
		flush      = func() {}
	)

	rootCmd := &cobra.Command{
		Use:          "clipvault",
		Short:        "Local clipboard image history",
		Version:      Version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			flush, err = initialize(v, env, configFile, debug)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			flush()
			if env.Logger != nil {
				_ = env.Logger.Close()
			}
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "Path to config.yaml (default: standard locations)")
	flags.String("datadir", "", "Directory holding the database, preferences and engine")
	flags.BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	if err := v.BindPFlag("datadir", flags.Lookup("datadir")); err != nil {
		panic(fmt.Sprintf("binding datadir flag: %v", err))
	}

	rootCmd.AddCommand(
		serve.Command(env),
		ingest.Command(env),
		ocr.Command(env),
		search.Command(env),
	)
	return rootCmd
}

// initialize loads .env and the configuration, then sets up logging and
// optional error telemetry. The returned function flushes telemetry.
func initialize(v *viper.Viper, env *app.Env, configFile string, debug bool) (func(), error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, errors.New(err).
			Component("cmd").
			Category(errors.CategoryConfiguration).
			Context("operation", "load-dotenv").
			Build()
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	}
	settings, err := conf.Load(v)
	if err != nil {
		return nil, err
	}
	if debug {
		settings.Logging.DefaultLevel = string(logger.LogLevelDebug)
		if settings.Logging.Console != nil {
			settings.Logging.Console.Level = string(logger.LogLevelDebug)
		}
	}

	central, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return nil, err
	}
	env.Settings = settings
	env.Logger = central

	flush := func() {}
	if settings.Telemetry.Enabled && settings.Telemetry.DSN != "" {
		flush, err = errors.InitSentry(settings.Telemetry.DSN, "clipvault@"+Version)
		if err != nil {
			central.Module("cmd").Warn("error telemetry disabled", logger.Error(err))
		}
	}
	return flush, nil
}
