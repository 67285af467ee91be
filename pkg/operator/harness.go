package operator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName identifies harness spans.
const tracerName = "filesplit/operator"

// defaultEmitsPerWindow is how many EmitTuples calls a window gets when the
// config leaves it zero.
const defaultEmitsPerWindow = 1

// Sentinel errors for harness validation.
var (
	// ErrNilOperator indicates a missing operator.
	ErrNilOperator = errors.New("operator must not be nil")
	// ErrBadWindowCount indicates a non-positive window count.
	ErrBadWindowCount = errors.New("window count must be positive")
)

// HarnessConfig holds configuration for driving an input operator.
type HarnessConfig struct {
	// Operator is the input operator to drive.
	Operator InputOperator
	// Windows is the number of processing cycles to run.
	Windows int64
	// WindowInterval paces consecutive windows. Zero runs them back to back.
	WindowInterval time.Duration
	// EmitsPerWindow is the number of EmitTuples calls per window.
	// Zero means one call.
	EmitsPerWindow int

	// Logger is the structured logger for window progress.
	// When nil, a discard logger is used.
	Logger *slog.Logger
}

// logger returns the configured logger, or a discard logger if nil.
func (c HarnessConfig) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}

	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// RunStats aggregates timing across the windows a run completed.
type RunStats struct {
	// WindowsRun is the number of windows fully completed.
	WindowsRun int64
	// Elapsed is the wall time across all completed windows.
	Elapsed time.Duration

	// Slowest window details.
	SlowestWindowID int64
	SlowestWindowMS int64
}

// record updates stats with a completed window's duration.
func (s *RunStats) record(windowID int64, dur time.Duration) {
	s.WindowsRun++
	s.Elapsed += dur

	if ms := dur.Milliseconds(); ms >= s.SlowestWindowMS {
		s.SlowestWindowMS = ms
		s.SlowestWindowID = windowID
	}
}

// Harness drives an InputOperator through numbered windows the way the
// runtime would: Setup, then BeginWindow / EmitTuples / EndWindow per cycle,
// Teardown at the end. Teardown runs even when a window fails.
type Harness struct {
	op       InputOperator
	windows  int64
	interval time.Duration
	emits    int
	logger   *slog.Logger
}

// NewHarness validates the config and creates a harness.
func NewHarness(cfg HarnessConfig) (*Harness, error) {
	if cfg.Operator == nil {
		return nil, ErrNilOperator
	}

	if cfg.Windows <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrBadWindowCount, cfg.Windows)
	}

	emits := cfg.EmitsPerWindow
	if emits <= 0 {
		emits = defaultEmitsPerWindow
	}

	return &Harness{
		op:       cfg.Operator,
		windows:  cfg.Windows,
		interval: cfg.WindowInterval,
		emits:    emits,
		logger:   cfg.logger(),
	}, nil
}

// Run executes the full lifecycle. It stops early when the context is
// canceled, completing the teardown either way. The returned stats cover the
// windows that fully completed.
func (h *Harness) Run(ctx context.Context) (RunStats, error) {
	tr := otel.Tracer(tracerName)

	ctx, runSpan := tr.Start(ctx, "filesplit.run",
		trace.WithAttributes(attribute.Int64("run.windows", h.windows)))
	defer runSpan.End()

	setupErr := h.op.Setup(ctx)
	if setupErr != nil {
		return RunStats{}, fmt.Errorf("setup: %w", setupErr)
	}

	stats, windowsErr := h.runWindows(ctx, tr)

	teardownErr := h.op.Teardown(ctx)

	runSpan.SetAttributes(attribute.Int64("run.windows_completed", stats.WindowsRun))

	if windowsErr != nil {
		if teardownErr != nil {
			h.logger.WarnContext(ctx, "teardown failed after window error", "error", teardownErr)
		}

		return stats, windowsErr
	}

	if teardownErr != nil {
		return stats, fmt.Errorf("teardown: %w", teardownErr)
	}

	return stats, nil
}

// runWindows executes the configured number of windows, pacing between them.
func (h *Harness) runWindows(ctx context.Context, tr trace.Tracer) (RunStats, error) {
	var stats RunStats

	for windowID := int64(1); windowID <= h.windows; windowID++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return stats, ctxErr
		}

		start := time.Now()

		windowErr := h.runWindow(ctx, tr, windowID)
		if windowErr != nil {
			return stats, windowErr
		}

		stats.record(windowID, time.Since(start))

		h.logger.DebugContext(ctx, "window complete",
			"window", windowID, "total", h.windows, "duration_ms", time.Since(start).Milliseconds())

		if windowID < h.windows {
			if pauseErr := pause(ctx, h.interval); pauseErr != nil {
				return stats, pauseErr
			}
		}
	}

	return stats, nil
}

// runWindow executes one begin / emit / end cycle under its own span.
func (h *Harness) runWindow(ctx context.Context, tr trace.Tracer, windowID int64) error {
	ctx, span := tr.Start(ctx, "filesplit.window",
		trace.WithAttributes(attribute.Int64("window.id", windowID)))
	defer span.End()

	beginErr := h.op.BeginWindow(ctx, windowID)
	if beginErr != nil {
		return fmt.Errorf("begin window %d: %w", windowID, beginErr)
	}

	for range h.emits {
		emitErr := h.op.EmitTuples(ctx)
		if emitErr != nil {
			return fmt.Errorf("emit tuples in window %d: %w", windowID, emitErr)
		}
	}

	endErr := h.op.EndWindow(ctx)
	if endErr != nil {
		return fmt.Errorf("end window %d: %w", windowID, endErr)
	}

	return nil
}

// pause waits for the window interval or context cancellation.
func pause(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}

	timer := time.NewTimer(interval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
