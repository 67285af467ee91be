package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/filesplit/pkg/operator"
	"github.com/Sumatoshi-tech/filesplit/pkg/scan"
	"github.com/Sumatoshi-tech/filesplit/pkg/split"
	"github.com/Sumatoshi-tech/filesplit/pkg/wal"
)

// passTimeout bounds waits for a scan pass in tests.
const passTimeout = 5 * time.Second

// longInterval keeps the scan timer from firing on its own so tests control
// every pass through Trigger.
const longInterval = time.Hour

// fixture wires a Source to collectors and a pass-completion channel.
type fixture struct {
	t      *testing.T
	src    *Source
	files  *operator.Collector[split.FileMetadata]
	blocks *operator.Collector[split.BlockMetadata]
	passes chan int
	window int64
}

// newFixture builds a source around the config, filling in collectors, the
// iteration callback and a non-firing interval unless the test set its own.
func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	f := &fixture{
		t:      t,
		files:  operator.NewCollector[split.FileMetadata](),
		blocks: operator.NewCollector[split.BlockMetadata](),
		passes: make(chan int, 16),
	}

	cfg.Files = f.files
	cfg.Blocks = f.blocks
	cfg.OnScanIterationDone = func(discovered int) { f.passes <- discovered }

	if cfg.ScanInterval == 0 {
		cfg.ScanInterval = longInterval
	}

	src, err := New(cfg)

	require.NoError(t, err)

	f.src = src

	t.Cleanup(func() {
		require.NoError(t, src.Teardown(context.Background()))
	})

	return f
}

// setup runs Setup and waits for the scanner's immediate first pass.
func (f *fixture) setup() int {
	f.t.Helper()

	require.NoError(f.t, f.src.Setup(context.Background()))

	return f.awaitPass()
}

// awaitPass blocks until the next scan pass completes and returns its count.
func (f *fixture) awaitPass() int {
	f.t.Helper()

	select {
	case discovered := <-f.passes:
		return discovered
	case <-time.After(passTimeout):
		f.t.Fatal("timed out waiting for a scan pass")

		return 0
	}
}

// runWindow drives one full live-or-replay cycle with the next window id.
func (f *fixture) runWindow() {
	f.t.Helper()

	f.window++

	ctx := context.Background()

	require.NoError(f.t, f.src.BeginWindow(ctx, f.window))
	require.NoError(f.t, f.src.EmitTuples(ctx))
	require.NoError(f.t, f.src.EndWindow(ctx))
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	valid := Config{Roots: "/data", ScanInterval: time.Second, BlockSize: 4, BlocksThreshold: 10}

	require.NoError(t, valid.Validate())

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{name: "no roots", mutate: func(c *Config) { c.Roots = " , " }, wantErr: scan.ErrNoRoots},
		{name: "bad interval", mutate: func(c *Config) { c.ScanInterval = 0 }, wantErr: scan.ErrBadInterval},
		{name: "zero block size", mutate: func(c *Config) { c.BlockSize = 0 }, wantErr: ErrBadBlockSize},
		{name: "negative block size", mutate: func(c *Config) { c.BlockSize = -1 }, wantErr: ErrBadBlockSize},
		{name: "negative threshold", mutate: func(c *Config) { c.BlocksThreshold = -1 }, wantErr: ErrBadThreshold},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := valid

			tt.mutate(&cfg)

			assert.ErrorIs(t, cfg.Validate(), tt.wantErr)
		})
	}

	t.Run("bad pattern", func(t *testing.T) {
		t.Parallel()

		cfg := valid
		cfg.Pattern = "["

		assert.Error(t, cfg.Validate())
	})
}

// TestSource_TwelveFilesThresholdTen is the canonical throttling scenario:
// 12 files of 9 bytes each at block size 2 mean 5 blocks per file, 60 total.
// The first window announces all 12 files but only 10 blocks; the following
// windows drain 10 blocks each, in file-then-offset order.
func TestSource_TwelveFilesThresholdTen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	for i := range 12 {
		writeFile(t, dir, fmt.Sprintf("file-%02d.txt", i), "12345678\n")
	}

	f := newFixture(t, Config{
		Roots:           dir,
		Pattern:         `.*[.]txt$`,
		BlockSize:       2,
		BlocksThreshold: 10,
	})

	require.Equal(t, 12, f.setup())

	f.runWindow()

	assert.Equal(t, 12, f.files.Len())
	assert.Equal(t, 10, f.blocks.Len())

	for window := 2; window <= 6; window++ {
		before := f.blocks.Len()

		f.runWindow()

		assert.Equal(t, before+10, f.blocks.Len(), "window %d", window)
	}

	// Everything is drained; a further window emits nothing new.
	f.runWindow()

	assert.Equal(t, 12, f.files.Len())
	assert.Equal(t, 60, f.blocks.Len())

	assertCompleteSplit(t, f.files.Tuples(), f.blocks.Tuples(), 2)
}

// assertCompleteSplit checks the completeness and ordering invariants: every
// file's blocks are contiguous in the output, in offset order, with lengths
// summing to the file size and ceil(size/blockSize) blocks in total.
func assertCompleteSplit(t *testing.T, files []split.FileMetadata, blocks []split.BlockMetadata, blockSize int64) {
	t.Helper()

	next := 0

	for _, meta := range files {
		if meta.NumberOfBlocks == 0 {
			continue
		}

		var total int64

		for i := range meta.NumberOfBlocks {
			require.Less(t, next, len(blocks), "ran out of blocks at %s", meta.FilePath)

			block := blocks[next]
			next++

			assert.Equal(t, meta.FilePath, block.FilePath)
			assert.Equal(t, int64(i), block.BlockID)
			assert.Equal(t, total, block.Offset)
			assert.Equal(t, i == meta.NumberOfBlocks-1, block.IsLastBlock)
			assert.LessOrEqual(t, block.Length, blockSize)

			total += block.Length
		}

		assert.Equal(t, meta.FileLength, total, "lengths must sum to the file size for %s", meta.FilePath)
	}

	assert.Equal(t, len(blocks), next, "unexpected extra blocks")
}

func TestSource_ZeroThresholdIsUnbounded(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	for i := range 4 {
		writeFile(t, dir, fmt.Sprintf("f%d.txt", i), "0123456789abcdef")
	}

	f := newFixture(t, Config{Roots: dir, BlockSize: 4})

	require.Equal(t, 4, f.setup())

	f.runWindow()

	assert.Equal(t, 4, f.files.Len())
	assert.Equal(t, 16, f.blocks.Len())
}

func TestSource_EmptyFileAndEmptyDirectory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	writeFile(t, dir, "empty.txt", "")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "emptydir"), 0o750))

	f := newFixture(t, Config{Roots: dir, BlockSize: 2, BlocksThreshold: 10})

	require.Equal(t, 2, f.setup())

	f.runWindow()

	files := f.files.Tuples()

	require.Len(t, files, 2)
	assert.Zero(t, f.blocks.Len())

	for _, meta := range files {
		assert.Zero(t, meta.FileLength)
		assert.Zero(t, meta.NumberOfBlocks)
	}
}

func TestSource_MultiRootDuplicateSightings(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	path := writeFile(t, dir, filepath.Join("sub", "a.txt"), "abcd")

	f := newFixture(t, Config{
		Roots:           dir + "," + sub,
		BlockSize:       2,
		BlocksThreshold: 10,
	})

	require.Equal(t, 2, f.setup())

	f.runWindow()

	files := f.files.Tuples()

	require.Len(t, files, 2)
	assert.Equal(t, path, files[0].FilePath)
	assert.Equal(t, path, files[1].FilePath)
	assert.NotEqual(t, files[0].RelativePath, files[1].RelativePath)

	// Both sightings split independently.
	assert.Equal(t, 4, f.blocks.Len())
}

func TestSource_WindowIDsMustIncrease(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{Roots: t.TempDir(), BlockSize: 2, BlocksThreshold: 1})

	f.setup()

	ctx := context.Background()

	require.NoError(t, f.src.BeginWindow(ctx, 5))
	require.NoError(t, f.src.EndWindow(ctx))

	assert.ErrorIs(t, f.src.BeginWindow(ctx, 5), ErrWindowOrder)
	assert.ErrorIs(t, f.src.BeginWindow(ctx, 4), ErrWindowOrder)
}

func TestSource_VanishedBeforeSighting(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeFile(t, dir, "gone.txt", "abcd")

	f := newFixture(t, Config{Roots: dir, BlockSize: 2, BlocksThreshold: 10})

	require.Equal(t, 1, f.setup())

	// Discovered but deleted before the cycle drains it: never announced.
	require.NoError(t, os.Remove(path))

	f.runWindow()

	assert.Zero(t, f.files.Len())
	assert.Zero(t, f.blocks.Len())
}

func TestSource_VanishedWhilePending(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	writeFile(t, dir, "a.txt", "12345678")
	pathB := writeFile(t, dir, "b.txt", "12345678")

	f := newFixture(t, Config{Roots: dir, BlockSize: 2, BlocksThreshold: 4})

	require.Equal(t, 2, f.setup())

	// Window 1 spends its whole budget on a.txt; b.txt is announced but
	// still pending.
	f.runWindow()

	assert.Equal(t, 2, f.files.Len())
	assert.Equal(t, 4, f.blocks.Len())

	require.NoError(t, os.Remove(pathB))

	// The vanished pending file is exhausted silently: no blocks, no error.
	f.runWindow()

	assert.Equal(t, 4, f.blocks.Len())

	for _, block := range f.blocks.Tuples() {
		assert.NotEqual(t, pathB, block.FilePath)
	}
}

func TestSource_TriggerForcesDiscoveryMidInterval(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "first.txt", "ab")

	f := newFixture(t, Config{Roots: dir, BlockSize: 2, BlocksThreshold: 10})

	require.Equal(t, 1, f.setup())

	f.runWindow()

	require.Equal(t, 1, f.files.Len())

	// A file added mid-interval is picked up by the triggered pass, hours
	// before the timer would fire.
	writeFile(t, dir, "second.txt", "cd")
	f.src.Trigger()

	require.Equal(t, 1, f.awaitPass())

	f.runWindow()

	assert.Equal(t, 2, f.files.Len())

	files, blocks := f.src.Counters()

	assert.Equal(t, int64(2), files)
	assert.Equal(t, int64(2), blocks)
}

// TestSource_ReplayMatchesOriginalAfterRestart checks the replay guarantee:
// a restarted source re-emits committed windows record-for-record inside
// BeginWindow, without EmitTuples and regardless of filesystem mutations.
func TestSource_ReplayMatchesOriginalAfterRestart(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	storeDir := filepath.Join(t.TempDir(), "wal")

	pathA := writeFile(t, dir, "a.txt", "123456")
	pathB := writeFile(t, dir, "b.txt", "123456")

	cfg := Config{Roots: dir, BlockSize: 2, BlocksThreshold: 4}

	// First incarnation: two live windows.
	store, storeErr := wal.NewFSStore(storeDir)

	require.NoError(t, storeErr)

	cfg.Store = store
	first := newFixture(t, cfg)

	require.Equal(t, 2, first.setup())

	first.runWindow()
	first.runWindow()

	require.Equal(t, 2, first.files.Len())
	require.Equal(t, 6, first.blocks.Len())
	require.NoError(t, first.src.Teardown(context.Background()))
	require.NoError(t, store.Close())

	wantFiles := first.files.Tuples()
	wantBlocks := first.blocks.Tuples()

	// The filesystem changes out from under the replay.
	require.NoError(t, os.Remove(pathA))
	require.NoError(t, os.Remove(pathB))

	// Second incarnation over the same store.
	reopened, reopenErr := wal.NewFSStore(storeDir)

	require.NoError(t, reopenErr)

	t.Cleanup(func() { require.NoError(t, reopened.Close()) })

	cfg.Store = reopened
	second := newFixture(t, cfg)

	second.setup()

	assert.Equal(t, int64(2), second.src.Boundary())

	ctx := context.Background()

	// BeginWindow alone re-emits the committed batch.
	require.NoError(t, second.src.BeginWindow(ctx, 1))

	assert.Equal(t, ModeReplaying, second.src.Mode())
	assert.Equal(t, 2, second.files.Len())
	assert.Equal(t, 4, second.blocks.Len())

	// EmitTuples during replay is a no-op.
	require.NoError(t, second.src.EmitTuples(ctx))
	require.NoError(t, second.src.EndWindow(ctx))

	assert.Equal(t, 4, second.blocks.Len())

	require.NoError(t, second.src.BeginWindow(ctx, 2))
	require.NoError(t, second.src.EndWindow(ctx))

	assert.Equal(t, wantFiles, second.files.Tuples())
	assert.Equal(t, wantBlocks, second.blocks.Tuples())
}

// TestSource_ResumesInterruptedFileAtExactOffset checks partial-file
// recovery: a file interrupted mid-split at the boundary resumes from the
// exact next byte offset, never from zero and never skipping blocks.
func TestSource_ResumesInterruptedFileAtExactOffset(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	storeDir := filepath.Join(t.TempDir(), "wal")

	writeFile(t, dir, "big.txt", "0123456789") // 5 blocks at size 2

	cfg := Config{Roots: dir, BlockSize: 2, BlocksThreshold: 2}

	store, storeErr := wal.NewFSStore(storeDir)

	require.NoError(t, storeErr)

	cfg.Store = store
	first := newFixture(t, cfg)

	require.Equal(t, 1, first.setup())

	first.runWindow()

	require.Equal(t, 1, first.files.Len())
	require.Equal(t, 2, first.blocks.Len())
	require.NoError(t, first.src.Teardown(context.Background()))
	require.NoError(t, store.Close())

	reopened, reopenErr := wal.NewFSStore(storeDir)

	require.NoError(t, reopenErr)

	t.Cleanup(func() { require.NoError(t, reopened.Close()) })

	cfg.Store = reopened
	second := newFixture(t, cfg)

	// The seeded signature keeps the running scanner from rediscovering
	// the half-split file.
	require.Zero(t, second.setup())

	ctx := context.Background()

	require.NoError(t, second.src.BeginWindow(ctx, 1))
	require.NoError(t, second.src.EndWindow(ctx))

	require.Equal(t, 2, second.blocks.Len())

	second.window = 1
	second.runWindow()
	second.runWindow()

	blocks := second.blocks.Tuples()

	require.Len(t, blocks, 5)

	for i, block := range blocks {
		assert.Equal(t, int64(i), block.BlockID)
		assert.Equal(t, int64(i*2), block.Offset)
	}

	assert.True(t, blocks[4].IsLastBlock)
	assert.Equal(t, 1, second.files.Len(), "the file is announced once, not re-sighted")
}

// stubStore fails on demand to exercise the fatal-error paths.
type stubStore struct {
	boundary    int64
	boundaryErr error
	appendErr   error
	readErr     error

	batches map[int64]wal.Batch
}

func newStubStore() *stubStore {
	return &stubStore{batches: make(map[int64]wal.Batch)}
}

func (s *stubStore) Append(_ context.Context, batch wal.Batch) error {
	if s.appendErr != nil {
		return s.appendErr
	}

	s.batches[batch.Cycle] = batch

	if batch.Cycle > s.boundary {
		s.boundary = batch.Cycle
	}

	return nil
}

func (s *stubStore) ReadBack(_ context.Context, cycle int64) (*wal.Batch, error) {
	if s.readErr != nil {
		return nil, s.readErr
	}

	batch, ok := s.batches[cycle]
	if !ok {
		return nil, fmt.Errorf("cycle %d: %w", cycle, wal.ErrNoBatch)
	}

	return &batch, nil
}

func (s *stubStore) CommittedBoundary(_ context.Context) (int64, error) {
	if s.boundaryErr != nil {
		return 0, s.boundaryErr
	}

	return s.boundary, nil
}

func (s *stubStore) Close() error {
	return nil
}

var errStore = errors.New("store down")

func TestSource_SetupFailsWhenBoundaryUnavailable(t *testing.T) {
	t.Parallel()

	store := newStubStore()
	store.boundaryErr = errStore

	f := newFixture(t, Config{
		Roots:           t.TempDir(),
		BlockSize:       2,
		BlocksThreshold: 1,
		Store:           store,
	})

	assert.ErrorIs(t, f.src.Setup(context.Background()), errStore)
}

func TestSource_SetupFailsWhenRecoveryReadFails(t *testing.T) {
	t.Parallel()

	store := newStubStore()
	store.boundary = 3
	store.readErr = errStore

	f := newFixture(t, Config{
		Roots:           t.TempDir(),
		BlockSize:       2,
		BlocksThreshold: 1,
		Store:           store,
	})

	assert.ErrorIs(t, f.src.Setup(context.Background()), errStore)
}

func TestSource_EndWindowFailsWhenAppendFails(t *testing.T) {
	t.Parallel()

	store := newStubStore()
	store.appendErr = errStore

	f := newFixture(t, Config{
		Roots:           t.TempDir(),
		BlockSize:       2,
		BlocksThreshold: 1,
		Store:           store,
	})

	f.setup()

	ctx := context.Background()

	require.NoError(t, f.src.BeginWindow(ctx, 1))
	require.NoError(t, f.src.EmitTuples(ctx))
	assert.ErrorIs(t, f.src.EndWindow(ctx), errStore)
}

func TestSource_SQLiteBackedReplay(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dbPath := filepath.Join(t.TempDir(), "cycles.db")

	writeFile(t, dir, "a.txt", "abcd")

	cfg := Config{Roots: dir, BlockSize: 2, BlocksThreshold: 10}

	store, storeErr := wal.NewSQLiteStore(dbPath)

	require.NoError(t, storeErr)

	cfg.Store = store
	first := newFixture(t, cfg)

	require.Equal(t, 1, first.setup())

	first.runWindow()

	require.NoError(t, first.src.Teardown(context.Background()))
	require.NoError(t, store.Close())

	reopened, reopenErr := wal.NewSQLiteStore(dbPath)

	require.NoError(t, reopenErr)

	t.Cleanup(func() { require.NoError(t, reopened.Close()) })

	cfg.Store = reopened
	second := newFixture(t, cfg)

	require.Zero(t, second.setup())

	ctx := context.Background()

	require.NoError(t, second.src.BeginWindow(ctx, 1))
	require.NoError(t, second.src.EndWindow(ctx))

	assert.Equal(t, first.files.Tuples(), second.files.Tuples())
	assert.Equal(t, first.blocks.Tuples(), second.blocks.Tuples())
}

// TestSource_HarnessDrivenRun exercises the source under the operator
// harness, the way the host binary embeds it.
func TestSource_HarnessDrivenRun(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	writeFile(t, dir, "a.txt", "123456")
	writeFile(t, dir, "b.txt", "1234")

	f := newFixture(t, Config{
		Roots:           dir,
		BlockSize:       2,
		BlocksThreshold: 2,
	})

	// Set up ahead of the harness (its own Setup call becomes a no-op) so
	// the first window is guaranteed to see the completed discovery pass.
	require.Equal(t, 2, f.setup())

	harness, harnessErr := operator.NewHarness(operator.HarnessConfig{
		Operator: f.src,
		Windows:  4,
	})

	require.NoError(t, harnessErr)

	stats, runErr := harness.Run(context.Background())

	require.NoError(t, runErr)
	assert.Equal(t, int64(4), stats.WindowsRun)
	assert.Equal(t, 2, f.files.Len())
	assert.Equal(t, 5, f.blocks.Len())
}
