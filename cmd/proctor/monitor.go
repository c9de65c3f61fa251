package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/dj-oyu/proctor-monitor/internal/capture"
	"github.com/dj-oyu/proctor-monitor/internal/classifier"
	"github.com/dj-oyu/proctor-monitor/internal/config"
	"github.com/dj-oyu/proctor-monitor/internal/detector"
	"github.com/dj-oyu/proctor-monitor/internal/gateway"
	"github.com/dj-oyu/proctor-monitor/internal/health"
	"github.com/dj-oyu/proctor-monitor/internal/ingest"
	"github.com/dj-oyu/proctor-monitor/internal/logger"
	"github.com/dj-oyu/proctor-monitor/internal/metrics"
	"github.com/dj-oyu/proctor-monitor/internal/operator"
	"github.com/dj-oyu/proctor-monitor/internal/session"
	"github.com/dj-oyu/proctor-monitor/internal/sink"
	"github.com/dj-oyu/proctor-monitor/pkg/types"
)

// healthThreshold is the consecutive failure count that marks a component
// unhealthy.
const healthThreshold = 3

func newMonitorCmd(opts *rootOptions) *cobra.Command {
	var candidate string

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Run the proctoring monitor and operator surface",
		Example: `  # Monitor frames from a directory, reporting to a local scoring server
  proctor monitor --candidate 1

  # Accept detections from a browser over WebRTC
  PROCTOR_SOURCE_KIND=webrtc PROCTOR_DETECTOR_KIND=annotated proctor monitor`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMonitor(cmd.Context(), opts.cfg, candidate)
		},
	}

	cmd.Flags().StringVar(&candidate, "candidate", "", "Select this candidate on startup")

	return cmd
}

func buildSource(cfg *config.Config, m *metrics.Metrics) (capture.Source, *ingest.Server) {
	switch cfg.Source.Kind {
	case "snapshot":
		return capture.NewSnapshotSource(cfg.Source.SnapshotURL, nil, capture.SnapshotOptions{
			MaxWidth:    cfg.Source.MaxWidth,
			Interval:    cfg.Source.FrameInterval,
			MaxFailures: cfg.Source.MaxFailures,
		}), nil
	case "webrtc":
		remote := capture.NewRemoteSource()
		return remote, ingest.NewServer(remote, cfg.Operator.STUNServers, cfg.Operator.MaxIngestPeers, m)
	default:
		return capture.NewDirSource(cfg.Source.Dir, capture.DirOptions{
			Loop:     cfg.Source.Loop,
			MaxWidth: cfg.Source.MaxWidth,
			Interval: cfg.Source.FrameInterval,
		}), nil
	}
}

func buildDetectors(cfg *config.Config) (detector.ObjectDetector, detector.FaceDetector) {
	if cfg.Detector.Kind == "annotated" {
		return detector.Annotated{}, detector.Annotated{}
	}
	opts := detector.HTTPOptions{MinConfidence: cfg.Detector.MinConfidence}
	return detector.NewHTTPDetector(cfg.Detector.ObjectURL, types.DetectionObject, opts),
		detector.NewHTTPDetector(cfg.Detector.FaceURL, types.DetectionFace, opts)
}

// buildRegistry returns nil when the registry is switched off.
func buildRegistry(cfg *config.Config) (*sink.Registry, error) {
	base := cfg.Sink.RegistryURL
	switch base {
	case "off":
		return nil, nil
	case "":
		var err error
		if base, err = sink.RegistryBase(cfg.Sink.URL); err != nil {
			return nil, fmt.Errorf("candidate registry: %w", err)
		}
	}
	return sink.NewRegistry(base, nil), nil
}

func runMonitor(ctx context.Context, cfg *config.Config, candidate string) error {
	logger.Info("Main", "Proctor monitor %s starting...", version)

	m := metrics.New()
	hm := health.NewMonitor(healthThreshold)
	broadcaster := operator.NewEventBroadcaster(m)
	defer broadcaster.Close()

	source, ingestSrv := buildSource(cfg, m)
	objects, faces := buildDetectors(cfg)

	cls, err := classifier.New(classifier.Rules{
		RestrictedLabels: cfg.Monitor.RestrictedLabels,
		GazeThreshold:    cfg.Monitor.GazeThreshold,
	})
	if err != nil {
		return fmt.Errorf("classifier: %w", err)
	}

	format, err := sink.ParseFormat(cfg.Sink.Format)
	if err != nil {
		return err
	}
	sinkClient := sink.NewClient(cfg.Sink.URL, format, nil)
	gw := gateway.New(sinkClient, gateway.Options{
		Timeout:  cfg.Monitor.ReportTimeout,
		Metrics:  m,
		Observer: hm,
	})

	registry, err := buildRegistry(cfg)
	if err != nil {
		return err
	}

	var visible func() bool
	if cfg.Monitor.PauseWhenHidden {
		visible = broadcaster.Visible
	}

	ctrlCfg := session.Config{
		Source:          source,
		Objects:         objects,
		Faces:           faces,
		Classifier:      cls,
		Reporter:        gw,
		Pacer:           session.NewRefreshPacer(cfg.Monitor.RefreshHz, visible, m),
		Cooldown:        cfg.Monitor.Cooldown,
		DetectTimeout:   cfg.Monitor.DetectTimeout,
		AcquireTimeout:  cfg.Monitor.AcquireTimeout,
		RegistryTimeout: cfg.Monitor.ReportTimeout,
		PruneOnEnd:      cfg.Monitor.PruneOnEnd,
		Metrics:         m,
		Health:          hm,
		Notifier:        broadcaster,
	}
	if registry != nil {
		ctrlCfg.Registry = registry
	}
	ctrl, err := session.NewController(ctrlCfg)
	if err != nil {
		return err
	}

	var ingestHandler http.Handler
	if ingestSrv != nil {
		ingestHandler = ingestSrv
		defer ingestSrv.Close()
	}
	opSrv, err := operator.NewServer(operator.Config{
		Controller:  ctrl,
		Broadcaster: broadcaster,
		Metrics:     m,
		Health:      hm,
		Ingest:      ingestHandler,
	})
	if err != nil {
		return err
	}

	logger.Info("Main", "  Source: %s", source.Name())
	logger.Info("Main", "  Detectors: %s", cfg.Detector.Kind)
	logger.Info("Main", "  Event sink: %s (%s)", sinkClient.URL(), format)
	if registry != nil {
		logger.Info("Main", "  Candidate registry: %s", registry.URL())
	}
	logger.Info("Main", "  Cooldown: %s", cfg.Monitor.Cooldown)
	logger.Info("Main", "  Operator server: %s", cfg.Operator.Addr)

	if cfg.Metrics.Addr != "" {
		go func() {
			logger.Info("Main", "Starting metrics server on %s", cfg.Metrics.Addr)
			if err := m.StartServer(cfg.Metrics.Addr); err != nil {
				logger.Error("Main", "Metrics server error: %v", err)
			}
		}()
	}

	server := &http.Server{
		Addr:              cfg.Operator.Addr,
		Handler:           opSrv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Main", "Starting operator server on %s", cfg.Operator.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	if candidate != "" {
		if err := ctrl.Select(ctx, candidate); err != nil {
			logger.Error("Main", "Initial selection of %s failed: %v", candidate, err)
		}
	}

	select {
	case <-ctx.Done():
		logger.Info("Main", "Shutting down...")
	case err = <-serverErr:
		logger.Error("Main", "Operator server error: %v", err)
	}

	// the candidate's session stays open in the registry across restarts
	ctrl.Shutdown()
	// ends open feeds so Shutdown does not wait on them
	broadcaster.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if shutErr := server.Shutdown(shutdownCtx); shutErr != nil {
		logger.Error("Main", "Server shutdown failed: %v", shutErr)
	}
	logger.Info("Main", "Monitor stopped")
	return err
}
