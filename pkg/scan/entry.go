package scan

import (
	"strconv"
	"strings"
	"time"
)

// Entry is one discovered path, produced by the scanner and consumed exactly
// once by the splitter. Immutable once created.
type Entry struct {
	// Path is the absolute path of the discovered file or directory.
	Path string

	// ModTime is the last-modified time observed at discovery.
	ModTime time.Time

	// IsDir marks directory entries. Only empty directories are reported.
	IsDir bool

	// RootID identifies which configured root produced the sighting.
	RootID int
}

// Signature returns the entry's dedup key.
func (e Entry) Signature() string {
	return Signature(e.Path, e.ModTime)
}

// Signature returns the dedup key for a path and its last-modified time.
// Content changes that do not update the modification time produce the same
// signature and stay invisible to discovery.
func Signature(path string, modTime time.Time) string {
	return path + "@" + strconv.FormatInt(modTime.UnixNano(), 10)
}

// SplitRoots parses the comma-separated root list used in configuration.
// Blank elements are dropped.
func SplitRoots(list string) []string {
	var roots []string

	for part := range strings.SplitSeq(list, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			roots = append(roots, part)
		}
	}

	return roots
}
