// Package config loads and validates host configuration for the filesplit
// binary from config file, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/dustin/go-humanize"
)

// Config is the top-level configuration struct for filesplit.
// Field tags use mapstructure for viper unmarshalling.
type Config struct {
	Source        SourceConfig        `mapstructure:"source"`
	Checkpoint    CheckpointConfig    `mapstructure:"checkpoint"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Output        OutputConfig        `mapstructure:"output"`
}

// SourceConfig holds discovery, splitting, and windowing knobs. Durations are
// Go duration strings; the block size uses humanize format (e.g. "64KB",
// "1MiB").
//
// Roots may be left empty in the config file and supplied on the command
// line; the operator itself rejects an empty root set at startup.
type SourceConfig struct {
	Roots           string `mapstructure:"roots"`
	Pattern         string `mapstructure:"pattern"`
	ScanInterval    string `mapstructure:"scan_interval"`
	BlockSize       string `mapstructure:"block_size"`
	BlocksThreshold int    `mapstructure:"blocks_threshold"`
	Windows         int64  `mapstructure:"windows"`
	WindowInterval  string `mapstructure:"window_interval"`
	EmitsPerWindow  int    `mapstructure:"emits_per_window"`
}

// CheckpointConfig selects the cycle store backing replay.
type CheckpointConfig struct {
	Backend string `mapstructure:"backend"`
	Dir     string `mapstructure:"dir"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	OTLPHeaders  string  `mapstructure:"otlp_headers"`
	OTLPInsecure bool    `mapstructure:"otlp_insecure"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
	Environment  string  `mapstructure:"environment"`
	LogLevel     string  `mapstructure:"log_level"`
	LogJSON      bool    `mapstructure:"log_json"`
	MetricsAddr  string  `mapstructure:"metrics_addr"`
}

// OutputConfig controls how the run report is rendered.
type OutputConfig struct {
	Format  string `mapstructure:"format"`
	NoColor bool   `mapstructure:"no_color"`
	Quiet   bool   `mapstructure:"quiet"`
}

// Checkpoint backends.
const (
	BackendFS     = "fs"
	BackendSQLite = "sqlite"
	BackendNone   = "none"
)

// Output formats.
const (
	FormatTable = "table"
	FormatYAML  = "yaml"
	FormatJSONL = "jsonl"
)

// maxInt64 bounds humanized sizes to what the splitter can address.
const maxInt64 = int64(^uint64(0) >> 1)

// Sentinel errors for configuration validation.
var (
	// ErrInvalidScanInterval indicates the scan interval is malformed or not positive.
	ErrInvalidScanInterval = errors.New("source.scan_interval must be a positive duration")
	// ErrInvalidBlockSize indicates the block size is malformed or not positive.
	ErrInvalidBlockSize = errors.New("source.block_size must be a positive size")
	// ErrInvalidThreshold indicates the per-cycle block budget is negative.
	ErrInvalidThreshold = errors.New("source.blocks_threshold must be non-negative")
	// ErrInvalidWindows indicates the window count is not positive.
	ErrInvalidWindows = errors.New("source.windows must be positive")
	// ErrInvalidWindowInterval indicates the window interval is malformed or negative.
	ErrInvalidWindowInterval = errors.New("source.window_interval must be a non-negative duration")
	// ErrInvalidEmitsPerWindow indicates the emit count is negative.
	ErrInvalidEmitsPerWindow = errors.New("source.emits_per_window must be non-negative")
	// ErrInvalidPattern indicates the file name pattern does not compile.
	ErrInvalidPattern = errors.New("source.pattern must be a valid RE2 expression")
	// ErrInvalidBackend indicates an unknown checkpoint backend.
	ErrInvalidBackend = errors.New("checkpoint.backend must be fs, sqlite, or none")
	// ErrInvalidSampleRatio indicates the trace sample ratio is out of range.
	ErrInvalidSampleRatio = errors.New("observability.sample_ratio must be between 0 and 1")
	// ErrInvalidLogLevel indicates an unknown slog level name.
	ErrInvalidLogLevel = errors.New("observability.log_level must be a valid slog level")
	// ErrInvalidOutputFormat indicates an unknown report format.
	ErrInvalidOutputFormat = errors.New("output.format must be table, yaml, or jsonl")
)

// Validate checks all sections for malformed values.
func (c *Config) Validate() error {
	if validateErr := c.Source.validate(); validateErr != nil {
		return validateErr
	}

	if validateErr := c.Checkpoint.validate(); validateErr != nil {
		return validateErr
	}

	if validateErr := c.Observability.validate(); validateErr != nil {
		return validateErr
	}

	return c.Output.validate()
}

func (s SourceConfig) validate() error {
	if _, intervalErr := s.ScanIntervalDuration(); intervalErr != nil {
		return intervalErr
	}

	if _, sizeErr := s.BlockSizeBytes(); sizeErr != nil {
		return sizeErr
	}

	if s.BlocksThreshold < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidThreshold, s.BlocksThreshold)
	}

	if s.Windows <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidWindows, s.Windows)
	}

	if _, intervalErr := s.WindowIntervalDuration(); intervalErr != nil {
		return intervalErr
	}

	if s.EmitsPerWindow < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidEmitsPerWindow, s.EmitsPerWindow)
	}

	if s.Pattern != "" {
		if _, compileErr := regexp.Compile(s.Pattern); compileErr != nil {
			return fmt.Errorf("%w: %q", ErrInvalidPattern, s.Pattern)
		}
	}

	return nil
}

// ScanIntervalDuration parses the delay between discovery passes.
func (s SourceConfig) ScanIntervalDuration() (time.Duration, error) {
	interval, parseErr := time.ParseDuration(s.ScanInterval)
	if parseErr != nil || interval <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidScanInterval, s.ScanInterval)
	}

	return interval, nil
}

// WindowIntervalDuration parses the pause between windows. Empty or zero runs
// windows back to back.
func (s SourceConfig) WindowIntervalDuration() (time.Duration, error) {
	if s.WindowInterval == "" {
		return 0, nil
	}

	interval, parseErr := time.ParseDuration(s.WindowInterval)
	if parseErr != nil || interval < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidWindowInterval, s.WindowInterval)
	}

	return interval, nil
}

// BlockSizeBytes parses the humanized block size into bytes.
func (s SourceConfig) BlockSizeBytes() (int64, error) {
	size, parseErr := humanize.ParseBytes(s.BlockSize)
	if parseErr != nil || size == 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidBlockSize, s.BlockSize)
	}

	if size > uint64(maxInt64) {
		return 0, fmt.Errorf("%w: %q overflows", ErrInvalidBlockSize, s.BlockSize)
	}

	return int64(size), nil
}

func (c CheckpointConfig) validate() error {
	switch c.Backend {
	case BackendFS, BackendSQLite, BackendNone:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidBackend, c.Backend)
	}
}

func (o ObservabilityConfig) validate() error {
	if o.SampleRatio < 0 || o.SampleRatio > 1 {
		return fmt.Errorf("%w: %g", ErrInvalidSampleRatio, o.SampleRatio)
	}

	_, levelErr := o.SlogLevel()

	return levelErr
}

// SlogLevel parses the configured log level name ("debug", "info", "warn",
// "error", optionally with an offset like "info+2").
func (o ObservabilityConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level

	unmarshalErr := level.UnmarshalText([]byte(o.LogLevel))
	if unmarshalErr != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidLogLevel, o.LogLevel)
	}

	return level, nil
}

func (o OutputConfig) validate() error {
	switch o.Format {
	case FormatTable, FormatYAML, FormatJSONL:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidOutputFormat, o.Format)
	}
}
