package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/MiracleAig/IoT-WebUI/internal/config"
	"github.com/MiracleAig/IoT-WebUI/internal/logger"
)

// Global flag values.
var (
	flagConfig string
	flagPort   string
	flagDB     string
)

// Set by PersistentPreRunE for every subcommand.
var (
	cfg *config.Config
	log *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:           "nutrition",
	Short:         "Barcode nutrition tracker backend",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.NoArgs,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(flagConfig)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if cmd.Flags().Changed("port") {
			loaded.Server.Port = flagPort
		}
		if cmd.Flags().Changed("db") {
			loaded.Database.Path = flagDB
		}
		if err := loaded.Validate(); err != nil {
			return err
		}

		l, err := logger.New(&logger.Config{
			Level:  loaded.Log.Level,
			Format: loaded.Log.Format,
			Output: loaded.Log.Output,
		})
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}

		cfg, log = loaded, l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			_ = log.Sync()
		}
	},
	RunE: runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", config.GetConfigPath(), "path to configuration file (env NUTRITION_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&flagPort, "port", "", "HTTP port, overrides server.port")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "SQLite database path, overrides database.path")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(lookupCmd)
	rootCmd.AddCommand(versionCmd)
}
