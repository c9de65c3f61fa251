// Package config resolves runtime settings from defaults, an optional YAML
// file and PROCTOR_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// PROCTOR_MONITOR_COOLDOWN=3s.
const EnvPrefix = "PROCTOR"

type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Source   SourceConfig   `mapstructure:"source"`
	Detector DetectorConfig `mapstructure:"detector"`
	Sink     SinkConfig     `mapstructure:"sink"`
	Operator OperatorConfig `mapstructure:"operator"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Scoring  ScoringConfig  `mapstructure:"scoring"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	Color bool   `mapstructure:"color"`
}

type MonitorConfig struct {
	Cooldown         time.Duration `mapstructure:"cooldown"`
	RestrictedLabels []string      `mapstructure:"restricted_labels"`
	GazeThreshold    float64       `mapstructure:"gaze_threshold"`
	RefreshHz        float64       `mapstructure:"refresh_hz"`
	DetectTimeout    time.Duration `mapstructure:"detect_timeout"`
	ReportTimeout    time.Duration `mapstructure:"report_timeout"`
	AcquireTimeout   time.Duration `mapstructure:"acquire_timeout"`
	PruneOnEnd       bool          `mapstructure:"prune_on_end"`
	PauseWhenHidden  bool          `mapstructure:"pause_when_hidden"`
}

type SourceConfig struct {
	Kind          string        `mapstructure:"kind"` // dir, snapshot or webrtc
	Dir           string        `mapstructure:"dir"`
	Loop          bool          `mapstructure:"loop"`
	SnapshotURL   string        `mapstructure:"snapshot_url"`
	MaxWidth      int           `mapstructure:"max_width"`
	FrameInterval time.Duration `mapstructure:"frame_interval"`
	MaxFailures   int           `mapstructure:"max_failures"`
}

type DetectorConfig struct {
	Kind          string  `mapstructure:"kind"` // http or annotated
	ObjectURL     string  `mapstructure:"object_url"`
	FaceURL       string  `mapstructure:"face_url"`
	MinConfidence float64 `mapstructure:"min_confidence"`
}

type SinkConfig struct {
	URL    string `mapstructure:"url"`
	Format string `mapstructure:"format"` // json, form or protobuf
	// RegistryURL is the candidate registry root. Empty derives it from URL,
	// "off" disables score loading and session closing.
	RegistryURL string `mapstructure:"registry_url"`
}

type OperatorConfig struct {
	Addr           string   `mapstructure:"addr"`
	MaxIngestPeers int      `mapstructure:"max_ingest_peers"`
	STUNServers    []string `mapstructure:"stun_servers"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

type ScoringConfig struct {
	Addr           string  `mapstructure:"addr"`
	DeductionsFile string  `mapstructure:"deductions_file"`
	ArchiveDir     string  `mapstructure:"archive_dir"`
	ArchiveBuffer  int     `mapstructure:"archive_buffer"`
	MaxScore       float64 `mapstructure:"max_score"`
}

// Default returns the stock configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Color: true},
		Monitor: MonitorConfig{
			Cooldown:         5000 * time.Millisecond,
			RestrictedLabels: []string{"cell phone", "book", "laptop"},
			GazeThreshold:    0.25,
			RefreshHz:        60,
			DetectTimeout:    500 * time.Millisecond,
			ReportTimeout:    2 * time.Second,
			AcquireTimeout:   10 * time.Second,
		},
		Source: SourceConfig{
			Kind:          "dir",
			Dir:           "./frames",
			Loop:          true,
			MaxWidth:      640,
			FrameInterval: 33 * time.Millisecond,
			MaxFailures:   5,
		},
		Detector: DetectorConfig{
			Kind:          "http",
			ObjectURL:     "http://localhost:8001/detect/objects",
			FaceURL:       "http://localhost:8001/detect/faces",
			MinConfidence: 0.5,
		},
		Sink: SinkConfig{
			URL:    "http://localhost:5000/log-events",
			Format: "json",
		},
		Operator: OperatorConfig{
			Addr:           ":8080",
			MaxIngestPeers: 2,
			STUNServers:    []string{"stun:stun.l.google.com:19302"},
		},
		Metrics: MetricsConfig{Addr: ""},
		Scoring: ScoringConfig{
			Addr:          ":5000",
			ArchiveDir:    "./archive",
			ArchiveBuffer: 256,
			MaxScore:      100,
		},
	}
}

// Load layers cfgFile (optional) and environment variables over Default.
func Load(cfgFile string) (*Config, error) {
	cfg := Default()
	v := viper.New()

	setDefaults(v, cfg)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("proctor")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	return cfg, cfg.Validate()
}

// setDefaults registers every key so env overrides resolve during Unmarshal.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.color", cfg.Log.Color)

	v.SetDefault("monitor.cooldown", cfg.Monitor.Cooldown)
	v.SetDefault("monitor.restricted_labels", cfg.Monitor.RestrictedLabels)
	v.SetDefault("monitor.gaze_threshold", cfg.Monitor.GazeThreshold)
	v.SetDefault("monitor.refresh_hz", cfg.Monitor.RefreshHz)
	v.SetDefault("monitor.detect_timeout", cfg.Monitor.DetectTimeout)
	v.SetDefault("monitor.report_timeout", cfg.Monitor.ReportTimeout)
	v.SetDefault("monitor.acquire_timeout", cfg.Monitor.AcquireTimeout)
	v.SetDefault("monitor.prune_on_end", cfg.Monitor.PruneOnEnd)
	v.SetDefault("monitor.pause_when_hidden", cfg.Monitor.PauseWhenHidden)

	v.SetDefault("source.kind", cfg.Source.Kind)
	v.SetDefault("source.dir", cfg.Source.Dir)
	v.SetDefault("source.loop", cfg.Source.Loop)
	v.SetDefault("source.snapshot_url", cfg.Source.SnapshotURL)
	v.SetDefault("source.max_width", cfg.Source.MaxWidth)
	v.SetDefault("source.frame_interval", cfg.Source.FrameInterval)
	v.SetDefault("source.max_failures", cfg.Source.MaxFailures)

	v.SetDefault("detector.kind", cfg.Detector.Kind)
	v.SetDefault("detector.object_url", cfg.Detector.ObjectURL)
	v.SetDefault("detector.face_url", cfg.Detector.FaceURL)
	v.SetDefault("detector.min_confidence", cfg.Detector.MinConfidence)

	v.SetDefault("sink.url", cfg.Sink.URL)
	v.SetDefault("sink.format", cfg.Sink.Format)
	v.SetDefault("sink.registry_url", cfg.Sink.RegistryURL)

	v.SetDefault("operator.addr", cfg.Operator.Addr)
	v.SetDefault("operator.max_ingest_peers", cfg.Operator.MaxIngestPeers)
	v.SetDefault("operator.stun_servers", cfg.Operator.STUNServers)

	v.SetDefault("metrics.addr", cfg.Metrics.Addr)

	v.SetDefault("scoring.addr", cfg.Scoring.Addr)
	v.SetDefault("scoring.deductions_file", cfg.Scoring.DeductionsFile)
	v.SetDefault("scoring.archive_dir", cfg.Scoring.ArchiveDir)
	v.SetDefault("scoring.archive_buffer", cfg.Scoring.ArchiveBuffer)
	v.SetDefault("scoring.max_score", cfg.Scoring.MaxScore)
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error

	if c.Monitor.Cooldown <= 0 {
		errs = append(errs, errors.New("monitor.cooldown must be positive"))
	}
	if c.Monitor.GazeThreshold <= 0 || c.Monitor.GazeThreshold >= 0.5 {
		errs = append(errs, fmt.Errorf("monitor.gaze_threshold must be in (0, 0.5), got %v", c.Monitor.GazeThreshold))
	}
	if c.Monitor.RefreshHz <= 0 || c.Monitor.RefreshHz > 240 {
		errs = append(errs, fmt.Errorf("monitor.refresh_hz must be in (0, 240], got %v", c.Monitor.RefreshHz))
	}
	if c.Monitor.DetectTimeout <= 0 || c.Monitor.ReportTimeout <= 0 {
		errs = append(errs, errors.New("monitor timeouts must be positive"))
	}
	if len(c.Monitor.RestrictedLabels) == 0 {
		errs = append(errs, errors.New("monitor.restricted_labels must not be empty"))
	}

	switch c.Source.Kind {
	case "dir":
		if c.Source.Dir == "" {
			errs = append(errs, errors.New("source.dir is required for dir source"))
		}
	case "snapshot":
		if c.Source.SnapshotURL == "" {
			errs = append(errs, errors.New("source.snapshot_url is required for snapshot source"))
		}
	case "webrtc":
	default:
		errs = append(errs, fmt.Errorf("unknown source.kind %q", c.Source.Kind))
	}

	switch c.Detector.Kind {
	case "http":
		if c.Detector.ObjectURL == "" || c.Detector.FaceURL == "" {
			errs = append(errs, errors.New("detector.object_url and detector.face_url are required for http detectors"))
		}
	case "annotated":
		if c.Source.Kind != "webrtc" {
			errs = append(errs, errors.New("annotated detectors require source.kind=webrtc"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown detector.kind %q", c.Detector.Kind))
	}
	if c.Detector.MinConfidence < 0 || c.Detector.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("detector.min_confidence must be in [0, 1], got %v", c.Detector.MinConfidence))
	}

	switch c.Sink.Format {
	case "json", "form", "protobuf":
	default:
		errs = append(errs, fmt.Errorf("unknown sink.format %q", c.Sink.Format))
	}

	if c.Scoring.MaxScore <= 0 {
		errs = append(errs, errors.New("scoring.max_score must be positive"))
	}

	return errors.Join(errs...)
}
