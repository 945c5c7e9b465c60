// Command d3df drives single-PMT measurement campaigns on a CAEN DT5743
// digitizer setup: it controls the PMT high voltage over the serial HV
// module, generates the acquisition program's configuration, launches it
// per planned run, and records the results.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/bmindur/d3df-digitizer-soft/internal/config"
	"github.com/bmindur/d3df-digitizer-soft/internal/logging"
)

var (
	// Global flags
	cfgPath string
	verbose bool

	// Loaded configuration, available to every subcommand.
	cfg *config.Config

	// Logger
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "d3df",
	Short: "d3df - DT5743 single-PMT measurement campaign orchestrator",
	Long: `d3df orchestrates measurement campaigns on a CAEN DT5743 digitizer
with a single PMT: it sweeps the PMT high voltage and trigger threshold,
generates the WaveDemo_x743 configuration for each run, launches the
acquisition, follows its progress and records every run.

The HV module is driven over its serial protocol; all bus access is
serialized and retried. Campaign results are kept in a local run history
database.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		return logging.Initialize(cfg.Acquisition.DataOutput, logging.Options{
			Debug:      cfg.Logging.Debug || verbose,
			Level:      cfg.Logging.Level,
			Categories: cfg.Logging.Categories,
		})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "d3df.yaml",
		"path to the configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"enable debug logging")

	rootCmd.AddCommand(hvCmd)
	rootCmd.AddCommand(measureCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(historyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
