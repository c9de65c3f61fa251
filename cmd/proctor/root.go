package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dj-oyu/proctor-monitor/internal/config"
	"github.com/dj-oyu/proctor-monitor/internal/logger"
)

// rootOptions holds persistent flags and the resolved configuration.
type rootOptions struct {
	cfgFile  string
	logLevel string
	noColor  bool
	cfg      *config.Config
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "proctor",
		Short: "Real-time exam proctoring monitor",
		Long: `Proctor watches a candidate's camera feed, turns object and face
detections into violation events with a per-candidate cooldown, and reports
them to a scoring backend that keeps an integrity score.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()

			cfg, err := config.Load(opts.cfgFile)
			if err != nil {
				return err
			}
			if opts.logLevel != "" {
				cfg.Log.Level = opts.logLevel
			}
			if opts.noColor {
				cfg.Log.Color = false
			}

			level, err := logger.ParseLevel(cfg.Log.Level)
			if err != nil {
				return fmt.Errorf("invalid log level: %w", err)
			}
			logger.Init(level, os.Stderr, cfg.Log.Color)
			opts.cfg = cfg
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logger.Sync()
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.cfgFile, "config", "c", "", "Config file (default ./proctor.yaml if present)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error, silent)")
	cmd.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "Disable colored log output")

	cmd.AddCommand(newMonitorCmd(opts))
	cmd.AddCommand(newScoringCmd(opts))

	return cmd
}
