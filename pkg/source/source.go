// Package source implements the fault-tolerant file splitting input operator.
// A background scanner discovers files under configured roots; the processing
// cycle emits one FileMetadata per sighting and a budgeted stream of
// BlockMetadata ranges, persists every completed cycle, and replays committed
// cycles verbatim after a restart.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"regexp"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/filesplit/pkg/observability"
	"github.com/Sumatoshi-tech/filesplit/pkg/operator"
	"github.com/Sumatoshi-tech/filesplit/pkg/scan"
	"github.com/Sumatoshi-tech/filesplit/pkg/split"
	"github.com/Sumatoshi-tech/filesplit/pkg/wal"
)

// Sentinel errors for configuration and lifecycle validation.
var (
	// ErrBadBlockSize is returned when the block size is not positive.
	ErrBadBlockSize = errors.New("block size must be positive")

	// ErrBadThreshold is returned when the per-cycle block budget is
	// negative.
	ErrBadThreshold = errors.New("blocks threshold must not be negative")

	// ErrWindowOrder is returned when window ids do not strictly increase.
	ErrWindowOrder = errors.New("window ids must be strictly increasing")
)

// Mode is the per-cycle lifecycle state of the source.
type Mode string

// Cycle modes. Every window starts pending, runs as either a replay of a
// committed cycle or a live cycle, and ends complete.
const (
	ModePending   Mode = "pending"
	ModeReplaying Mode = "replay"
	ModeLive      Mode = "live"
	ModeComplete  Mode = "complete"
)

// Config holds the operator configuration.
type Config struct {
	// Roots is the comma-separated list of file or directory paths to watch.
	Roots string

	// Pattern optionally filters discovered files by base name (RE2 syntax).
	// Directories bypass the filter. Empty matches everything.
	Pattern string

	// ScanInterval is the delay between discovery passes.
	ScanInterval time.Duration

	// BlockSize is the byte size of emitted block ranges. Only the final
	// block of a file may be shorter.
	BlockSize int64

	// BlocksThreshold caps how many blocks one cycle may emit, counted
	// across all files the cycle touches. Zero means unbounded. File
	// sightings are not budgeted; every drained entry announces its
	// FileMetadata in the cycle that drained it.
	BlocksThreshold int

	// Store persists per-cycle batches for replay. Nil disables fault
	// tolerance. The caller retains ownership and closes it after Teardown.
	Store wal.Store

	// Files receives one FileMetadata per sighting. Nil discards them.
	Files operator.Port[split.FileMetadata]

	// Blocks receives the block ranges. Nil discards them.
	Blocks operator.Port[split.BlockMetadata]

	// Logger is the structured logger for cycle progress.
	// When nil, a discard logger is used.
	Logger *slog.Logger

	// Metrics records source OTel metrics. Nil-safe: when nil, no metrics
	// are recorded.
	Metrics *observability.SourceMetrics

	// OnScanIterationDone, when set, receives the entry count of every
	// completed discovery pass.
	OnScanIterationDone func(discovered int)
}

// Validate checks the configuration, failing fast on malformed values.
func (c Config) Validate() error {
	if len(scan.SplitRoots(c.Roots)) == 0 {
		return scan.ErrNoRoots
	}

	if c.ScanInterval <= 0 {
		return scan.ErrBadInterval
	}

	if c.BlockSize <= 0 {
		return fmt.Errorf("%w: %d", ErrBadBlockSize, c.BlockSize)
	}

	if c.BlocksThreshold < 0 {
		return fmt.Errorf("%w: %d", ErrBadThreshold, c.BlocksThreshold)
	}

	if c.Pattern != "" {
		if _, compileErr := regexp.Compile(c.Pattern); compileErr != nil {
			return fmt.Errorf("compile name pattern %q: %w", c.Pattern, compileErr)
		}
	}

	return nil
}

// logger returns the configured logger, or a discard logger if nil.
func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}

	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// store returns the configured store, or a no-op store if nil.
func (c Config) store() wal.Store {
	if c.Store != nil {
		return c.Store
	}

	return wal.NewNopStore()
}

// Source is the input operator. All lifecycle methods run on the cycle
// goroutine; Trigger and Counters are safe from any goroutine.
type Source struct {
	roots     []string
	blockSize int64
	threshold int

	files  operator.Port[split.FileMetadata]
	blocks operator.Port[split.BlockMetadata]

	store   wal.Store
	logger  *slog.Logger
	metrics *observability.SourceMetrics

	scanner *scan.Scanner

	// Cycle state, owned by the cycle goroutine. pending holds files whose
	// FileMetadata went out but whose blocks have not started; current is
	// the one file mid-split.
	boundary        int64
	windowID        int64
	mode            Mode
	windowStart     time.Time
	pending         []split.FileMetadata
	current         *split.Cursor
	blocksThisCycle int
	batch           wal.Batch

	filesEmitted  atomic.Int64
	blocksEmitted atomic.Int64

	started  bool
	tornDown bool
}

// New validates the configuration and builds the operator.
func New(cfg Config) (*Source, error) {
	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, validateErr
	}

	roots := scan.SplitRoots(cfg.Roots)

	threshold := cfg.BlocksThreshold
	if threshold == 0 {
		threshold = math.MaxInt
	}

	scanner, scanErr := scan.New(scan.Config{
		Roots:           roots,
		Pattern:         cfg.Pattern,
		Interval:        cfg.ScanInterval,
		Logger:          cfg.logger(),
		Metrics:         cfg.Metrics,
		OnIterationDone: cfg.OnScanIterationDone,
	})
	if scanErr != nil {
		return nil, fmt.Errorf("build scanner: %w", scanErr)
	}

	return &Source{
		roots:     roots,
		blockSize: cfg.BlockSize,
		threshold: threshold,
		files:     cfg.Files,
		blocks:    cfg.Blocks,
		store:     cfg.store(),
		logger:    cfg.logger(),
		metrics:   cfg.Metrics,
		scanner:   scanner,
		mode:      ModePending,
	}, nil
}

// Setup recovers committed state from the store and then starts discovery.
// Recovery runs first so replayed sightings are registered before the scanner
// can rediscover them. The context must stay valid for the life of the
// source; canceling it stops discovery.
func (s *Source) Setup(ctx context.Context) error {
	if s.started {
		s.logger.WarnContext(ctx, "source already set up")

		return nil
	}

	boundary, boundaryErr := s.store.CommittedBoundary(ctx)
	if boundaryErr != nil {
		return fmt.Errorf("read committed boundary: %w", boundaryErr)
	}

	s.boundary = boundary

	if boundary > 0 {
		if recoverErr := s.recover(ctx, boundary); recoverErr != nil {
			return fmt.Errorf("recover committed cycles: %w", recoverErr)
		}
	}

	s.scanner.Start(ctx)
	s.started = true

	return nil
}

// recover folds every committed cycle into scanner signatures, the pending
// file queue, and (when a split was interrupted mid-file) the resumed cursor.
func (s *Source) recover(ctx context.Context, boundary int64) error {
	recovered, recoverErr := recoverCommitted(ctx, s.store, boundary)
	if recoverErr != nil {
		return recoverErr
	}

	s.scanner.SeedSignatures(recovered.signatures...)

	resumePath := ""

	for i, pos := range recovered.resume {
		if i == 0 && pos.emitted > 0 {
			s.current = split.ResumeCursor(pos.meta, s.blockSize, pos.nextOffset, pos.emitted)
			resumePath = pos.meta.FilePath

			continue
		}

		s.pending = append(s.pending, pos.meta)
	}

	s.logger.InfoContext(ctx, "recovered committed state",
		"boundary", boundary,
		"files", recovered.files,
		"blocks", recovered.blocks,
		"unfinished", len(recovered.resume),
		"resume_path", resumePath)

	trace.SpanFromContext(ctx).AddEvent("recovery.complete", trace.WithAttributes(
		attribute.Int64("recovery.boundary", boundary),
		attribute.Int("recovery.files", recovered.files),
		attribute.Int("recovery.unfinished", len(recovered.resume)),
	))

	return nil
}

// BeginWindow opens a cycle and fixes its mode once: windows at or below the
// committed boundary replay the stored batch here and emit nothing later;
// windows above it run live.
func (s *Source) BeginWindow(ctx context.Context, windowID int64) error {
	if windowID <= s.windowID {
		return fmt.Errorf("%w: window %d after %d", ErrWindowOrder, windowID, s.windowID)
	}

	s.windowID = windowID
	s.windowStart = time.Now()
	s.blocksThisCycle = 0
	s.batch = wal.Batch{Cycle: windowID}

	if windowID <= s.boundary {
		s.mode = ModeReplaying

		return s.replay(ctx, windowID)
	}

	s.mode = ModeLive
	s.verifyCurrent(ctx)

	return nil
}

// replay re-emits the committed batch for the window: file metadata first,
// then blocks, each stream in its original order. The filesystem is not
// consulted.
func (s *Source) replay(ctx context.Context, windowID int64) error {
	batch, readErr := s.store.ReadBack(ctx, windowID)
	if readErr != nil {
		return fmt.Errorf("replay cycle %d: %w", windowID, readErr)
	}

	for _, meta := range batch.Files {
		if s.files != nil {
			s.files.Emit(meta)
		}

		s.filesEmitted.Add(1)
	}

	for _, block := range batch.Blocks {
		if s.blocks != nil {
			s.blocks.Emit(block)
		}

		s.blocksEmitted.Add(1)
	}

	s.metrics.RecordEmitted(ctx, len(batch.Files), len(batch.Blocks))

	if len(batch.Files) > 0 || len(batch.Blocks) > 0 {
		s.logger.InfoContext(ctx, "replaying committed cycle",
			"cycle", windowID, "files", len(batch.Files), "blocks", len(batch.Blocks))
	}

	trace.SpanFromContext(ctx).AddEvent("cycle.replayed", trace.WithAttributes(
		attribute.Int64("cycle", windowID),
		attribute.Int("files", len(batch.Files)),
		attribute.Int("blocks", len(batch.Blocks)),
	))

	return nil
}

// verifyCurrent drops the in-flight cursor when its file is gone. Checked
// once per live cycle; block arithmetic itself never touches the filesystem.
func (s *Source) verifyCurrent(ctx context.Context) {
	if s.current == nil {
		return
	}

	path := s.current.Meta().FilePath

	if _, statErr := os.Stat(path); statErr != nil {
		s.logger.DebugContext(ctx, "file vanished mid-split, treating as exhausted",
			"path", path, "error", statErr)

		s.current = nil
	}
}

// EmitTuples performs the window's live work in two phases. The sighting
// phase announces every newly drained entry with a FileMetadata, unbudgeted,
// and queues non-empty files for splitting. The block phase then produces
// blocks in discovery order until the cycle budget is spent: the started file
// finishes before the next one begins. During replay windows both phases are
// no-ops.
func (s *Source) EmitTuples(ctx context.Context) error {
	if s.mode != ModeLive {
		return nil
	}

	for _, entry := range s.scanner.Drain() {
		s.sightEntry(ctx, entry)
	}

	for s.blocksThisCycle < s.threshold {
		if s.current == nil && !s.promoteNext(ctx) {
			return nil
		}

		block, ok := s.current.Next()
		if !ok {
			s.current = nil

			continue
		}

		s.emitBlock(ctx, block)
	}

	return nil
}

// sightEntry emits the FileMetadata for a drained entry and queues non-empty
// files for the block phase. An entry whose file vanished between discovery
// and now is dropped silently; it was never announced downstream.
func (s *Source) sightEntry(ctx context.Context, entry scan.Entry) {
	root := s.rootOf(entry)

	if entry.IsDir {
		s.emitFile(ctx, split.NewFileMetadata(entry, root, 0, s.blockSize))

		return
	}

	info, statErr := os.Stat(entry.Path)
	if statErr != nil {
		s.logger.DebugContext(ctx, "discovered file vanished before sighting",
			"path", entry.Path, "error", statErr)

		return
	}

	meta := split.NewFileMetadata(entry, root, info.Size(), s.blockSize)

	s.emitFile(ctx, meta)

	if meta.NumberOfBlocks > 0 {
		s.pending = append(s.pending, meta)
	}
}

// promoteNext installs the next pending file as the split target. A file
// that vanished while waiting is exhausted silently: its metadata already
// went out, no blocks follow.
func (s *Source) promoteNext(ctx context.Context) bool {
	for len(s.pending) > 0 {
		meta := s.pending[0]
		s.pending = s.pending[1:]

		if _, statErr := os.Stat(meta.FilePath); statErr != nil {
			s.logger.DebugContext(ctx, "pending file vanished, treating as exhausted",
				"path", meta.FilePath, "error", statErr)

			continue
		}

		s.current = split.NewCursor(meta, s.blockSize)

		return true
	}

	return false
}

func (s *Source) emitFile(ctx context.Context, meta split.FileMetadata) {
	if s.files != nil {
		s.files.Emit(meta)
	}

	s.batch.Files = append(s.batch.Files, meta)
	s.filesEmitted.Add(1)
	s.metrics.RecordEmitted(ctx, 1, 0)
}

func (s *Source) emitBlock(ctx context.Context, block split.BlockMetadata) {
	if s.blocks != nil {
		s.blocks.Emit(block)
	}

	s.batch.Blocks = append(s.batch.Blocks, block)
	s.blocksThisCycle++
	s.blocksEmitted.Add(1)
	s.metrics.RecordEmitted(ctx, 0, 1)
}

// rootOf resolves the configured root an entry was discovered under.
func (s *Source) rootOf(entry scan.Entry) string {
	if entry.RootID < 0 || entry.RootID >= len(s.roots) {
		return ""
	}

	return s.roots[entry.RootID]
}

// EndWindow closes the cycle. Live cycles commit their batch to the store
// before completing; a commit failure is surfaced and fails the operator.
// Replay cycles have nothing to commit. Empty live cycles are committed too,
// so the boundary advances through quiet periods.
func (s *Source) EndWindow(ctx context.Context) error {
	switch s.mode {
	case ModeReplaying:
		s.metrics.RecordWindow(ctx, string(ModeReplaying), time.Since(s.windowStart))
		s.mode = ModeComplete

		return nil

	case ModeLive:
		appendErr := s.store.Append(ctx, s.batch)
		if appendErr != nil {
			return fmt.Errorf("commit cycle %d: %w", s.windowID, appendErr)
		}

		s.metrics.RecordWindow(ctx, string(ModeLive), time.Since(s.windowStart))

		s.logger.DebugContext(ctx, "cycle committed",
			"cycle", s.windowID,
			"files", len(s.batch.Files),
			"blocks", len(s.batch.Blocks),
			"pending", len(s.pending))

		s.mode = ModeComplete

		return nil

	default:
		return nil
	}
}

// Teardown stops the scanner with a bounded wait. Entries still queued or
// pending are discarded; their signatures were registered at discovery, so a
// later incarnation replays what was committed and rediscovers the rest.
func (s *Source) Teardown(ctx context.Context) error {
	if s.tornDown || !s.started {
		s.tornDown = true

		return nil
	}

	s.tornDown = true

	stopErr := s.scanner.Stop()
	if stopErr != nil {
		return fmt.Errorf("stop scanner: %w", stopErr)
	}

	files, blocks := s.Counters()

	s.logger.InfoContext(ctx, "source torn down",
		"files_emitted", files, "blocks_emitted", blocks)

	return nil
}

// Trigger requests one extra discovery pass regardless of the scan interval.
// The request clears once serviced. Safe from any goroutine.
func (s *Source) Trigger() {
	s.scanner.Trigger()
}

// Counters returns the cumulative number of file and block tuples emitted,
// replayed ones included. Safe from any goroutine.
func (s *Source) Counters() (files, blocks int64) {
	return s.filesEmitted.Load(), s.blocksEmitted.Load()
}

// Mode returns the state of the current (or just-finished) cycle.
func (s *Source) Mode() Mode {
	return s.mode
}

// Boundary returns the committed boundary read at setup. Cycles at or below
// it replay; cycles above it run live.
func (s *Source) Boundary() int64 {
	return s.boundary
}
