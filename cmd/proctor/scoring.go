package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/dj-oyu/proctor-monitor/internal/config"
	"github.com/dj-oyu/proctor-monitor/internal/logger"
	"github.com/dj-oyu/proctor-monitor/internal/recorder"
	"github.com/dj-oyu/proctor-monitor/internal/scoring"
)

func newScoringCmd(opts *rootOptions) *cobra.Command {
	var noArchive bool

	cmd := &cobra.Command{
		Use:   "scoring",
		Short: "Run the reference scoring backend",
		Long: `Runs an event sink that keeps candidates in memory, deducts points per
logged event and archives every event to a parquet file.`,
		Example: `  # Serve on the default address with stock deductions
  proctor scoring

  # Custom deductions
  PROCTOR_SCORING_DEDUCTIONS_FILE=deductions.yaml proctor scoring`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScoring(cmd.Context(), opts.cfg, !noArchive)
		},
	}

	cmd.Flags().BoolVar(&noArchive, "no-archive", false, "Do not write the parquet event archive")

	return cmd
}

func runScoring(ctx context.Context, cfg *config.Config, archive bool) error {
	policy, err := scoring.LoadPolicy(cfg.Scoring.DeductionsFile)
	if err != nil {
		return err
	}
	if cfg.Scoring.MaxScore > 0 {
		policy.MaxScore = cfg.Scoring.MaxScore
	}

	var rec *recorder.Recorder
	var archiver scoring.Archiver
	if archive {
		rec = recorder.NewRecorder(cfg.Scoring.ArchiveDir, cfg.Scoring.ArchiveBuffer)
		if err := rec.Start(); err != nil {
			return err
		}
		defer func() {
			if err := rec.Close(); err != nil {
				logger.Error("Main", "Archive close failed: %v", err)
			}
		}()
		archiver = rec
	}

	store := scoring.NewStore(policy, archiver)
	server := &http.Server{
		Addr:              cfg.Scoring.Addr,
		Handler:           scoring.NewServer(store, rec).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Main", "Scoring server listening on %s (max score %.0f)", cfg.Scoring.Addr, policy.MaxScore)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Main", "Shutting down scoring server...")
	case err := <-serverErr:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
