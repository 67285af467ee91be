// Package commands implements CLI command handlers for filesplit.
package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel/metric"

	"github.com/Sumatoshi-tech/filesplit/internal/config"
	"github.com/Sumatoshi-tech/filesplit/pkg/observability"
	"github.com/Sumatoshi-tech/filesplit/pkg/operator"
	"github.com/Sumatoshi-tech/filesplit/pkg/source"
	"github.com/Sumatoshi-tech/filesplit/pkg/split"
	"github.com/Sumatoshi-tech/filesplit/pkg/version"
	"github.com/Sumatoshi-tech/filesplit/pkg/wal"
)

// sqliteFilename is the database file created under the checkpoint dir.
const sqliteFilename = "cycles.db"

// metricsReadHeaderTimeout bounds slow-header clients on the scrape endpoint.
const metricsReadHeaderTimeout = 5 * time.Second

// ErrNoRoots is returned when neither the config file nor the command line
// names a discovery root.
var ErrNoRoots = errors.New("no discovery roots; set --roots or source.roots")

// RunCommand holds configuration and dependencies for the run command.
type RunCommand struct {
	configPath string

	roots           string
	pattern         string
	scanInterval    string
	blockSize       string
	blocksThreshold int
	windows         int64
	windowInterval  string
	emitsPerWindow  int

	backend       string
	checkpointDir string

	otlpEndpoint string
	metricsAddr  string
	logLevel     string
	logJSON      bool

	format  string
	noColor bool
	quiet   bool

	out io.Writer
}

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	return newRunCommand(os.Stdout)
}

func newRunCommand(out io.Writer) *cobra.Command {
	rc := &RunCommand{out: out}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Discover and split files across processing windows",
		Long: "Run the splitting source for a fixed number of windows, " +
			"persisting each completed cycle for replay on restart.",
		Args: cobra.NoArgs,
		RunE: rc.run,
	}

	cmd.Flags().StringVarP(&rc.configPath, "config", "c", "", "Config file path (default: .filesplit.yaml in CWD or $HOME)")

	cmd.Flags().StringVarP(&rc.roots, "roots", "r", "", "Comma-separated files or directories to watch")
	cmd.Flags().StringVar(&rc.pattern, "pattern", "", "File name filter (RE2 syntax, directories bypass it)")
	cmd.Flags().StringVar(&rc.scanInterval, "scan-interval", config.DefaultScanInterval, "Delay between discovery passes")
	cmd.Flags().StringVar(&rc.blockSize, "block-size", config.DefaultBlockSize, "Block range size (e.g. '64KB', '1MiB')")
	cmd.Flags().IntVar(&rc.blocksThreshold, "blocks-threshold", config.DefaultBlocksThreshold,
		"Max blocks emitted per window across all files (0 = unbounded)")
	cmd.Flags().Int64Var(&rc.windows, "windows", config.DefaultWindows, "Number of processing windows to run")
	cmd.Flags().StringVar(&rc.windowInterval, "window-interval", config.DefaultWindowInterval, "Pause between windows")
	cmd.Flags().IntVar(&rc.emitsPerWindow, "emits-per-window", config.DefaultEmitsPerWindow, "Emit calls per window")

	cmd.Flags().StringVar(&rc.backend, "checkpoint-backend", config.DefaultCheckpointBackend,
		"Cycle store backend: fs, sqlite, none")
	cmd.Flags().StringVar(&rc.checkpointDir, "checkpoint-dir", config.DefaultCheckpointDir, "Cycle store directory")

	cmd.Flags().StringVar(&rc.otlpEndpoint, "otlp-endpoint", "", "OTLP gRPC collector address (empty = no export)")
	cmd.Flags().StringVar(&rc.metricsAddr, "metrics-addr", "", "Prometheus scrape listen address (empty = disabled)")
	cmd.Flags().StringVar(&rc.logLevel, "log-level", config.DefaultLogLevel, "Minimum log severity")
	cmd.Flags().BoolVar(&rc.logJSON, "log-json", false, "Emit JSON-formatted logs")

	cmd.Flags().StringVar(&rc.format, "format", config.DefaultOutputFormat, "Report format: table, yaml, jsonl")
	cmd.Flags().BoolVar(&rc.noColor, "no-color", false, "Disable colored progress output")
	cmd.Flags().BoolVarP(&rc.quiet, "quiet", "q", false, "Suppress progress output")

	return cmd
}

func (rc *RunCommand) run(cmd *cobra.Command, _ []string) error {
	cfg, loadErr := config.LoadConfig(rc.configPath)
	if loadErr != nil {
		return loadErr
	}

	rc.applyFlags(cmd.Flags(), cfg)

	validateErr := cfg.Validate()
	if validateErr != nil {
		return validateErr
	}

	if cfg.Source.Roots == "" {
		return ErrNoRoots
	}

	if cfg.Output.NoColor {
		color.NoColor = true //nolint:reassign // intentional override of library global
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return rc.execute(ctx, cfg)
}

// applyFlags overlays explicitly set command-line flags onto the loaded
// config, so the precedence is flags > env > file > defaults.
func (rc *RunCommand) applyFlags(flags *pflag.FlagSet, cfg *config.Config) {
	set := map[string]func(){
		"roots":            func() { cfg.Source.Roots = rc.roots },
		"pattern":          func() { cfg.Source.Pattern = rc.pattern },
		"scan-interval":    func() { cfg.Source.ScanInterval = rc.scanInterval },
		"block-size":       func() { cfg.Source.BlockSize = rc.blockSize },
		"blocks-threshold": func() { cfg.Source.BlocksThreshold = rc.blocksThreshold },
		"windows":          func() { cfg.Source.Windows = rc.windows },
		"window-interval":  func() { cfg.Source.WindowInterval = rc.windowInterval },
		"emits-per-window": func() { cfg.Source.EmitsPerWindow = rc.emitsPerWindow },

		"checkpoint-backend": func() { cfg.Checkpoint.Backend = rc.backend },
		"checkpoint-dir":     func() { cfg.Checkpoint.Dir = rc.checkpointDir },

		"otlp-endpoint": func() { cfg.Observability.OTLPEndpoint = rc.otlpEndpoint },
		"metrics-addr":  func() { cfg.Observability.MetricsAddr = rc.metricsAddr },
		"log-level":     func() { cfg.Observability.LogLevel = rc.logLevel },
		"log-json":      func() { cfg.Observability.LogJSON = rc.logJSON },

		"format":   func() { cfg.Output.Format = rc.format },
		"no-color": func() { cfg.Output.NoColor = rc.noColor },
		"quiet":    func() { cfg.Output.Quiet = rc.quiet },
	}

	for name, apply := range set {
		if flags.Changed(name) {
			apply()
		}
	}
}

func (rc *RunCommand) execute(ctx context.Context, cfg *config.Config) error {
	providers, initErr := initObservability(cfg.Observability)
	if initErr != nil {
		return initErr
	}

	defer func() {
		if shutdownErr := providers.Shutdown(context.Background()); shutdownErr != nil {
			providers.Logger.Warn("telemetry shutdown failed", "error", shutdownErr)
		}
	}()

	meter := providers.Meter

	if cfg.Observability.MetricsAddr != "" {
		promMeter, stopMetrics, serveErr := serveMetrics(cfg.Observability.MetricsAddr, providers)
		if serveErr != nil {
			return serveErr
		}

		defer stopMetrics()

		meter = promMeter
	}

	metrics, metricsErr := observability.NewSourceMetrics(meter)
	if metricsErr != nil {
		return fmt.Errorf("create source metrics: %w", metricsErr)
	}

	store, storeErr := openStore(cfg.Checkpoint)
	if storeErr != nil {
		return storeErr
	}

	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			providers.Logger.Warn("cycle store close failed", "error", closeErr)
		}
	}()

	files := operator.NewCollector[split.FileMetadata]()
	blocks := operator.NewCollector[split.BlockMetadata]()

	src, harness, buildErr := rc.buildPipeline(cfg, store, files, blocks, metrics, providers)
	if buildErr != nil {
		return buildErr
	}

	rc.progressf(cfg.Output, "filesplit %s: splitting %s over %d windows\n",
		version.Version, cfg.Source.Roots, cfg.Source.Windows)

	stats, runErr := harness.Run(ctx)

	filesEmitted, blocksEmitted := src.Counters()
	report := buildReport(stats, filesEmitted, blocksEmitted, files.Tuples(), blocks.Tuples())

	renderErr := renderReport(rc.out, cfg.Output, report)

	return errors.Join(runErr, renderErr)
}

// buildPipeline assembles the source operator and the harness that drives it.
func (rc *RunCommand) buildPipeline(
	cfg *config.Config,
	store wal.Store,
	files *operator.Collector[split.FileMetadata],
	blocks *operator.Collector[split.BlockMetadata],
	metrics *observability.SourceMetrics,
	providers observability.Providers,
) (*source.Source, *operator.Harness, error) {
	scanInterval, _ := cfg.Source.ScanIntervalDuration()
	windowInterval, _ := cfg.Source.WindowIntervalDuration()

	blockSize, sizeErr := cfg.Source.BlockSizeBytes()
	if sizeErr != nil {
		return nil, nil, sizeErr
	}

	src, srcErr := source.New(source.Config{
		Roots:           cfg.Source.Roots,
		Pattern:         cfg.Source.Pattern,
		ScanInterval:    scanInterval,
		BlockSize:       blockSize,
		BlocksThreshold: cfg.Source.BlocksThreshold,
		Store:           store,
		Files:           files,
		Blocks:          blocks,
		Logger:          providers.Logger,
		Metrics:         metrics,
	})
	if srcErr != nil {
		return nil, nil, fmt.Errorf("create source: %w", srcErr)
	}

	harness, harnessErr := operator.NewHarness(operator.HarnessConfig{
		Operator:       src,
		Windows:        cfg.Source.Windows,
		WindowInterval: windowInterval,
		EmitsPerWindow: cfg.Source.EmitsPerWindow,
		Logger:         providers.Logger,
	})
	if harnessErr != nil {
		return nil, nil, fmt.Errorf("create harness: %w", harnessErr)
	}

	return src, harness, nil
}

// initObservability translates the config section into OTel providers.
func initObservability(cfg config.ObservabilityConfig) (observability.Providers, error) {
	level, levelErr := cfg.SlogLevel()
	if levelErr != nil {
		return observability.Providers{}, levelErr
	}

	obsCfg := observability.DefaultConfig()
	obsCfg.ServiceVersion = version.Version
	obsCfg.Environment = cfg.Environment
	obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
	obsCfg.OTLPHeaders = observability.ParseOTLPHeaders(cfg.OTLPHeaders)
	obsCfg.OTLPInsecure = cfg.OTLPInsecure
	obsCfg.SampleRatio = cfg.SampleRatio
	obsCfg.LogLevel = level
	obsCfg.LogJSON = cfg.LogJSON

	providers, initErr := observability.Init(obsCfg)
	if initErr != nil {
		return observability.Providers{}, fmt.Errorf("init observability: %w", initErr)
	}

	return providers, nil
}

// serveMetrics starts the Prometheus scrape endpoint and returns the meter
// whose instruments it exposes.
func serveMetrics(
	addr string, providers observability.Providers,
) (metric.Meter, func(), error) {
	handler, provider, handlerErr := observability.PrometheusHandler()
	if handlerErr != nil {
		return nil, nil, handlerErr
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: metricsReadHeaderTimeout,
	}

	go func() {
		if serveErr := server.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			providers.Logger.Warn("metrics endpoint failed", "addr", addr, "error", serveErr)
		}
	}()

	stop := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsReadHeaderTimeout)
		defer cancel()

		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			providers.Logger.Warn("metrics endpoint shutdown failed", "error", shutdownErr)
		}

		if providerErr := provider.Shutdown(shutdownCtx); providerErr != nil {
			providers.Logger.Warn("prometheus provider shutdown failed", "error", providerErr)
		}
	}

	return provider.Meter("filesplit"), stop, nil
}

// openStore creates the cycle store named by the checkpoint section.
func openStore(cfg config.CheckpointConfig) (wal.Store, error) {
	switch cfg.Backend {
	case config.BackendFS:
		store, storeErr := wal.NewFSStore(cfg.Dir)
		if storeErr != nil {
			return nil, fmt.Errorf("open fs cycle store: %w", storeErr)
		}

		return store, nil
	case config.BackendSQLite:
		if mkdirErr := os.MkdirAll(cfg.Dir, 0o750); mkdirErr != nil {
			return nil, fmt.Errorf("create checkpoint dir: %w", mkdirErr)
		}

		store, storeErr := wal.NewSQLiteStore(filepath.Join(cfg.Dir, sqliteFilename))
		if storeErr != nil {
			return nil, fmt.Errorf("open sqlite cycle store: %w", storeErr)
		}

		return store, nil
	case config.BackendNone:
		return wal.NewNopStore(), nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidBackend, cfg.Backend)
	}
}

// progressf prints colored progress output unless quiet is set.
func (rc *RunCommand) progressf(out config.OutputConfig, format string, args ...any) {
	if out.Quiet {
		return
	}

	color.New(color.FgCyan).Fprintf(rc.out, format, args...)
}
