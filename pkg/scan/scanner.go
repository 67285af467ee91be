// Package scan implements the deduplicating directory scanner: a background
// loop that walks configured roots, filters candidates by name, and hands
// newly-seen entries to the processing cycle exactly once per distinct
// (path, mtime) signature.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/filesplit/pkg/observability"
)

// Sentinel errors for scanner construction and teardown.
var (
	// ErrNoRoots is returned when no root paths are configured.
	ErrNoRoots = errors.New("at least one root path must be configured")

	// ErrBadInterval is returned when the scan interval is not positive.
	ErrBadInterval = errors.New("scan interval must be positive")

	// ErrStopTimeout is returned when the scanner loop does not exit within
	// the join timeout.
	ErrStopTimeout = errors.New("scanner did not stop within the join timeout")
)

// stopJoinTimeout bounds the wait for the scanner goroutine on teardown.
const stopJoinTimeout = 5 * time.Second

// Config configures the scanner.
type Config struct {
	// Roots are the file or directory paths to watch.
	Roots []string

	// Pattern optionally filters discovered files by base name. Directories
	// bypass it. Empty matches everything.
	Pattern string

	// Interval is the minimum delay between scan iterations.
	Interval time.Duration

	// Logger defaults to slog.Default when nil.
	Logger *slog.Logger

	// Metrics records iteration counters when set.
	Metrics *observability.SourceMetrics

	// OnIterationDone, when set, is invoked after every completed pass with
	// the number of entries discovered by that pass.
	OnIterationDone func(discovered int)
}

// Scanner is the background discovery loop. It is the single producer into
// the handoff queue; the cycle thread drains the queue and never blocks on
// the scanner. Recorded signatures are never evicted.
type Scanner struct {
	roots    []string
	pattern  *regexp.Regexp
	interval time.Duration
	logger   *slog.Logger
	metrics  *observability.SourceMetrics
	onDone   func(int)

	queue *Queue

	mu   sync.Mutex
	seen map[string]struct{}

	trigger  chan struct{}
	stop     chan struct{}
	done     chan struct{}
	started  bool
	lastPass atomic.Int64
}

// New validates the configuration and builds a scanner. The name filter is
// compiled here so malformed patterns fail before any scanning begins.
func New(cfg Config) (*Scanner, error) {
	if len(cfg.Roots) == 0 {
		return nil, ErrNoRoots
	}

	if cfg.Interval <= 0 {
		return nil, ErrBadInterval
	}

	var pattern *regexp.Regexp

	if cfg.Pattern != "" {
		compiled, compileErr := regexp.Compile(cfg.Pattern)
		if compileErr != nil {
			return nil, fmt.Errorf("compile name pattern %q: %w", cfg.Pattern, compileErr)
		}

		pattern = compiled
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scanner{
		roots:    slices.Clone(cfg.Roots),
		pattern:  pattern,
		interval: cfg.Interval,
		logger:   logger,
		metrics:  cfg.Metrics,
		onDone:   cfg.OnIterationDone,
		queue:    NewQueue(),
		seen:     make(map[string]struct{}),
		trigger:  make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Start launches the background loop. The first pass runs immediately;
// subsequent passes run every interval or on Trigger. Calling Start twice is
// a no-op.
func (s *Scanner) Start(ctx context.Context) {
	if s.started {
		s.logger.WarnContext(ctx, "scanner already started")

		return
	}

	s.started = true

	go s.loop(ctx)
}

// Stop signals the loop and joins it with a bounded wait. Entries already
// recorded as seen stay recorded; queued entries are left to the caller to
// discard.
func (s *Scanner) Stop() error {
	if !s.started {
		return nil
	}

	close(s.stop)

	select {
	case <-s.done:
		return nil
	case <-time.After(stopJoinTimeout):
		return ErrStopTimeout
	}
}

// Trigger requests one extra pass regardless of the interval. The request is
// cleared once serviced; setting it repeatedly before servicing coalesces
// into a single extra pass.
func (s *Scanner) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Drain hands off everything discovered so far, in discovery order.
func (s *Scanner) Drain() []Entry {
	return s.queue.Drain()
}

// DiscoveredLastPass reports how many entries the most recent pass found.
func (s *Scanner) DiscoveredLastPass() int {
	return int(s.lastPass.Load())
}

// SeedSignatures pre-registers signatures recovered from persisted cycles.
// Call before Start so the first pass does not rediscover replayed files.
func (s *Scanner) SeedSignatures(sigs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sig := range sigs {
		s.seen[sig] = struct{}{}
	}
}

// Signatures returns a sorted copy of every recorded signature.
func (s *Scanner) Signatures() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Sorted(maps.Keys(s.seen))
}

func (s *Scanner) loop(ctx context.Context) {
	defer close(s.done)

	// Zero so the first pass fires immediately.
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-s.trigger:
			s.iterate(ctx)
			timer.Reset(s.interval)
		case <-timer.C:
			s.iterate(ctx)
			timer.Reset(s.interval)
		}
	}
}

// iterate walks every root once. The signature set is consulted as it stood
// at the start of the pass and updated only after all roots finish, so the
// same physical path reachable through two roots is reported once per root
// within a single pass.
func (s *Scanner) iterate(ctx context.Context) {
	tracer := otel.Tracer("filesplit/scan")

	ctx, span := tracer.Start(ctx, "scan.iterate",
		trace.WithAttributes(attribute.Int("roots", len(s.roots))))
	defer span.End()

	start := time.Now()
	found := make(map[string]struct{})
	discovered := 0

	for rootID, root := range s.roots {
		discovered += s.scanRoot(ctx, rootID, root, found)
	}

	s.mu.Lock()
	maps.Copy(s.seen, found)
	s.mu.Unlock()

	s.lastPass.Store(int64(discovered))
	s.metrics.RecordScanIteration(ctx, time.Since(start), discovered)
	span.SetAttributes(attribute.Int("discovered", discovered))

	if discovered > 0 {
		s.logger.InfoContext(ctx, "scan pass complete",
			"discovered", discovered,
			"duration", time.Since(start))
	}

	if s.onDone != nil {
		s.onDone(discovered)
	}
}

// scanRoot reports a root that is a plain file directly and walks a root
// that is a directory. Roots that cannot be stat'ed are skipped for this
// pass and retried on the next one.
func (s *Scanner) scanRoot(ctx context.Context, rootID int, root string, found map[string]struct{}) int {
	info, statErr := os.Stat(root)
	if statErr != nil {
		s.skip(ctx, root, statErr)

		return 0
	}

	if !info.IsDir() {
		if !s.matches(info.Name()) {
			return 0
		}

		return s.enqueueNew(Entry{
			Path:    root,
			ModTime: info.ModTime(),
			RootID:  rootID,
		}, found)
	}

	return s.walkDir(ctx, rootID, root, found)
}

// walkDir recurses through dir. An empty directory is itself reported as an
// entry; non-empty directories are only traversed. Unreadable subtrees are
// skipped without aborting the pass.
func (s *Scanner) walkDir(ctx context.Context, rootID int, dir string, found map[string]struct{}) int {
	children, readErr := os.ReadDir(dir)
	if readErr != nil {
		s.skip(ctx, dir, readErr)

		return 0
	}

	if len(children) == 0 {
		info, statErr := os.Stat(dir)
		if statErr != nil {
			s.skip(ctx, dir, statErr)

			return 0
		}

		return s.enqueueNew(Entry{
			Path:    dir,
			ModTime: info.ModTime(),
			IsDir:   true,
			RootID:  rootID,
		}, found)
	}

	discovered := 0

	for _, child := range children {
		path := filepath.Join(dir, child.Name())

		if child.IsDir() {
			discovered += s.walkDir(ctx, rootID, path, found)

			continue
		}

		if !s.matches(child.Name()) {
			continue
		}

		info, infoErr := child.Info()
		if infoErr != nil {
			s.skip(ctx, path, infoErr)

			continue
		}

		discovered += s.enqueueNew(Entry{
			Path:    path,
			ModTime: info.ModTime(),
			RootID:  rootID,
		}, found)
	}

	return discovered
}

// enqueueNew records and hands off an entry unless its signature was already
// seen before this pass started.
func (s *Scanner) enqueueNew(entry Entry, found map[string]struct{}) int {
	sig := entry.Signature()

	if s.alreadySeen(sig) {
		return 0
	}

	found[sig] = struct{}{}
	s.queue.Push(entry)

	return 1
}

func (s *Scanner) alreadySeen(sig string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.seen[sig]

	return ok
}

func (s *Scanner) matches(name string) bool {
	return s.pattern == nil || s.pattern.MatchString(name)
}

func (s *Scanner) skip(ctx context.Context, path string, cause error) {
	s.metrics.RecordScanError(ctx)
	s.logger.WarnContext(ctx, "skipping unreadable path", "path", path, "error", cause)
}
