package config

// Default values applied when neither the config file, environment, nor
// command line sets a key.
const (
	// DefaultScanInterval is the delay between discovery passes.
	DefaultScanInterval = "5s"
	// DefaultBlockSize is the humanized block size.
	DefaultBlockSize = "1MiB"
	// DefaultBlocksThreshold is the per-cycle block budget; zero is unbounded.
	DefaultBlocksThreshold = 0
	// DefaultWindows is the number of processing cycles a run executes.
	DefaultWindows = 10
	// DefaultWindowInterval is the pause between windows.
	DefaultWindowInterval = "1s"
	// DefaultEmitsPerWindow is the number of emit calls per window.
	DefaultEmitsPerWindow = 1

	// DefaultCheckpointBackend selects the segment-file cycle store.
	DefaultCheckpointBackend = BackendFS
	// DefaultCheckpointDir is where cycle batches are persisted.
	DefaultCheckpointDir = ".filesplit-checkpoints"

	// DefaultLogLevel is the minimum slog severity.
	DefaultLogLevel = "info"
	// DefaultSampleRatio of zero keeps the SDK's parent-based sampler.
	DefaultSampleRatio = 0.0

	// DefaultOutputFormat renders the run report as a table.
	DefaultOutputFormat = FormatTable
)
