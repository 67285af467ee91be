package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricScanIterations = "filesplit.scan.iterations.total"
	metricScanDiscovered = "filesplit.scan.discovered.total"
	metricScanErrors     = "filesplit.scan.errors.total"
	metricScanDuration   = "filesplit.scan.duration.seconds"
	metricFilesEmitted   = "filesplit.files.emitted.total"
	metricBlocksEmitted  = "filesplit.blocks.emitted.total"
	metricWindowsTotal   = "filesplit.windows.total"
	metricWindowDuration = "filesplit.window.duration.seconds"

	attrMode = "mode"
)

// durationBucketBoundaries covers 1ms to 60s: scan passes over small trees
// finish in milliseconds while deep walks and replay-heavy windows can take
// tens of seconds.
var durationBucketBoundaries = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// SourceMetrics holds the OTel instruments for the splitting source.
// All record methods are safe to call on a nil receiver (no-op), so wiring
// metrics stays optional for library embedders.
type SourceMetrics struct {
	scanIterations metric.Int64Counter
	scanDiscovered metric.Int64Counter
	scanErrors     metric.Int64Counter
	scanDuration   metric.Float64Histogram
	filesEmitted   metric.Int64Counter
	blocksEmitted  metric.Int64Counter
	windowsTotal   metric.Int64Counter
	windowDuration metric.Float64Histogram
}

// NewSourceMetrics creates the source metric instruments from the given meter.
func NewSourceMetrics(mt metric.Meter) (*SourceMetrics, error) {
	iterations, err := mt.Int64Counter(metricScanIterations,
		metric.WithDescription("Completed scan passes"),
		metric.WithUnit("{iteration}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricScanIterations, err)
	}

	discovered, err := mt.Int64Counter(metricScanDiscovered,
		metric.WithDescription("Entries discovered by the scanner"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricScanDiscovered, err)
	}

	scanErrs, err := mt.Int64Counter(metricScanErrors,
		metric.WithDescription("Unreadable paths skipped during scanning"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricScanErrors, err)
	}

	scanDur, err := mt.Float64Histogram(metricScanDuration,
		metric.WithDescription("Scan pass duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBucketBoundaries...),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricScanDuration, err)
	}

	files, err := mt.Int64Counter(metricFilesEmitted,
		metric.WithDescription("FileMetadata records emitted"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricFilesEmitted, err)
	}

	blocks, err := mt.Int64Counter(metricBlocksEmitted,
		metric.WithDescription("BlockMetadata records emitted"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricBlocksEmitted, err)
	}

	windows, err := mt.Int64Counter(metricWindowsTotal,
		metric.WithDescription("Processing windows by mode (live or replay)"),
		metric.WithUnit("{window}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricWindowsTotal, err)
	}

	windowDur, err := mt.Float64Histogram(metricWindowDuration,
		metric.WithDescription("Window duration in seconds by mode"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBucketBoundaries...),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricWindowDuration, err)
	}

	return &SourceMetrics{
		scanIterations: iterations,
		scanDiscovered: discovered,
		scanErrors:     scanErrs,
		scanDuration:   scanDur,
		filesEmitted:   files,
		blocksEmitted:  blocks,
		windowsTotal:   windows,
		windowDuration: windowDur,
	}, nil
}

// RecordScanIteration records one completed scan pass.
func (sm *SourceMetrics) RecordScanIteration(ctx context.Context, duration time.Duration, discovered int) {
	if sm == nil {
		return
	}

	sm.scanIterations.Add(ctx, 1)
	sm.scanDiscovered.Add(ctx, int64(discovered))
	sm.scanDuration.Record(ctx, duration.Seconds())
}

// RecordScanError records one skipped unreadable path.
func (sm *SourceMetrics) RecordScanError(ctx context.Context) {
	if sm == nil {
		return
	}

	sm.scanErrors.Add(ctx, 1)
}

// RecordEmitted records file and block records emitted by a window.
func (sm *SourceMetrics) RecordEmitted(ctx context.Context, files, blocks int) {
	if sm == nil {
		return
	}

	sm.filesEmitted.Add(ctx, int64(files))
	sm.blocksEmitted.Add(ctx, int64(blocks))
}

// RecordWindow records one completed window with its mode ("live" or "replay").
func (sm *SourceMetrics) RecordWindow(ctx context.Context, mode string, duration time.Duration) {
	if sm == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String(attrMode, mode))

	sm.windowsTotal.Add(ctx, 1, attrs)
	sm.windowDuration.Record(ctx, duration.Seconds(), attrs)
}
