// Package split defines the file and block descriptors produced by the
// splitting source, plus the cursor arithmetic that slices a file into
// fixed-size byte ranges for downstream parallel readers.
package split

import (
	"path/filepath"
	"time"

	"github.com/Sumatoshi-tech/filesplit/pkg/scan"
)

// FileMetadata describes one discovered file or directory.
//
// The same physical path reachable through two configured roots produces two
// independent FileMetadata values, one per root, with different relative
// paths. Directories and empty files carry zero blocks.
type FileMetadata struct {
	// FilePath is the absolute path of the entry.
	FilePath string

	// FileName is the base name of the entry.
	FileName string

	// RelativePath is the path relative to the discovery root. A root that
	// is itself a file yields its base name.
	RelativePath string

	// FileLength is the size in bytes at sighting time, 0 for directories.
	FileLength int64

	// IsDirectory marks directory entries (empty directories are reported).
	IsDirectory bool

	// ModTime is the last-modified time captured at discovery. Together
	// with FilePath it forms the discovery signature, so persisted records
	// are sufficient to rebuild the dedup state without touching the
	// filesystem.
	ModTime time.Time

	// DiscoveredTime is when the splitter first sighted the entry.
	DiscoveredTime time.Time

	// NumberOfBlocks is ceil(FileLength/blockSize), 0 for directories and
	// empty files.
	NumberOfBlocks int
}

// BlockMetadata describes one contiguous byte range of a file.
type BlockMetadata struct {
	// BlockID is the 0-based emission index, monotonic within the file.
	BlockID int64

	// FilePath is the absolute path of the file the range belongs to.
	FilePath string

	// Offset is the first byte of the range.
	Offset int64

	// Length is the range size in bytes. Only the final block of a file may
	// be shorter than the configured block size.
	Length int64

	// IsLastBlock marks the final range of the file.
	IsLastBlock bool
}

// NewFileMetadata builds the descriptor for a sighted entry.
//
// Length is the size observed at sighting time and is ignored for
// directories. The relative path is computed against the entry's discovery
// root.
func NewFileMetadata(entry scan.Entry, root string, length int64, blockSize int64) FileMetadata {
	// UTC drops the monotonic clock reading so the value survives a codec
	// round trip unchanged.
	meta := FileMetadata{
		FilePath:       entry.Path,
		FileName:       filepath.Base(entry.Path),
		RelativePath:   relativeTo(root, entry.Path),
		IsDirectory:    entry.IsDir,
		ModTime:        entry.ModTime,
		DiscoveredTime: time.Now().UTC(),
	}

	if !entry.IsDir {
		meta.FileLength = length
		meta.NumberOfBlocks = BlockCount(length, blockSize)
	}

	return meta
}

// relativeTo resolves path against root, falling back to the base name when
// the two do not share a prefix or when the root is the path itself.
func relativeTo(root, path string) string {
	if root == "" || root == path {
		return filepath.Base(path)
	}

	rel, relErr := filepath.Rel(root, path)
	if relErr != nil || rel == "." {
		return filepath.Base(path)
	}

	return rel
}
