package wal

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/zeebo/xxh3"

	"github.com/Sumatoshi-tech/filesplit/pkg/persist"
)

// Segment file naming. The zero-padded cycle keeps lexical and numeric order
// aligned, and the temp prefix keeps in-flight writes out of the boundary scan.
const (
	segmentPrefix = "cycle-"
	segmentSuffix = ".wal"
	segmentDigits = 20
	tmpPattern    = "inflight-*"
)

// segmentMagic identifies a segment file and its format revision.
const segmentMagic = "FSPWAL01"

// segmentHeaderSize is the magic, the cycle id and the payload checksum.
const segmentHeaderSize = len(segmentMagic) + 8 + 8

// Directory permissions for created store directories.
const storeDirPerm = 0o750

// FSStore keeps one segment file per committed cycle in a flat directory.
// Batches are gob-encoded, LZ4-compressed and guarded by an XXH3 checksum.
// Appends go through a temporary file renamed into place, so a crash mid-write
// never produces a segment the boundary scan would count.
type FSStore struct {
	dir   string
	codec persist.Codec
}

// NewFSStore opens (or creates) a segment directory.
func NewFSStore(dir string) (*FSStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, ErrNoPath
	}

	mkdirErr := os.MkdirAll(dir, storeDirPerm)
	if mkdirErr != nil {
		return nil, fmt.Errorf("create store directory: %w", mkdirErr)
	}

	return &FSStore{
		dir:   dir,
		codec: persist.NewLZ4Codec(),
	}, nil
}

// Append implements Store.Append with an atomic write-then-rename.
func (s *FSStore) Append(ctx context.Context, batch Batch) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	if batch.Cycle <= 0 {
		return fmt.Errorf("%w: %d", ErrBadCycle, batch.Cycle)
	}

	var buf bytes.Buffer

	encodeErr := s.codec.Encode(&buf, batch)
	if encodeErr != nil {
		return fmt.Errorf("encode batch for cycle %d: %w", batch.Cycle, encodeErr)
	}

	payload := buf.Bytes()

	header := make([]byte, segmentHeaderSize)
	copy(header, segmentMagic)
	binary.LittleEndian.PutUint64(header[len(segmentMagic):], uint64(batch.Cycle))
	binary.LittleEndian.PutUint64(header[len(segmentMagic)+8:], xxh3.Hash(payload))

	tmp, createErr := os.CreateTemp(s.dir, tmpPattern)
	if createErr != nil {
		return fmt.Errorf("create segment file: %w", createErr)
	}

	writeErr := writeAll(tmp, header, payload)
	if writeErr == nil {
		writeErr = tmp.Sync()
	}

	closeErr := tmp.Close()

	if writeErr != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("write segment for cycle %d: %w", batch.Cycle, writeErr)
	}

	if closeErr != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("close segment for cycle %d: %w", batch.Cycle, closeErr)
	}

	renameErr := os.Rename(tmp.Name(), s.segmentPath(batch.Cycle))
	if renameErr != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("publish segment for cycle %d: %w", batch.Cycle, renameErr)
	}

	return nil
}

// ReadBack implements Store.ReadBack, verifying the segment before decoding.
func (s *FSStore) ReadBack(ctx context.Context, cycle int64) (*Batch, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	data, readErr := os.ReadFile(s.segmentPath(cycle))
	if errors.Is(readErr, fs.ErrNotExist) {
		return nil, fmt.Errorf("cycle %d: %w", cycle, ErrNoBatch)
	}

	if readErr != nil {
		return nil, fmt.Errorf("read segment for cycle %d: %w", cycle, readErr)
	}

	if len(data) < segmentHeaderSize {
		return nil, fmt.Errorf("%w: segment for cycle %d truncated", ErrCorrupt, cycle)
	}

	if string(data[:len(segmentMagic)]) != segmentMagic {
		return nil, fmt.Errorf("%w: segment for cycle %d has bad magic", ErrCorrupt, cycle)
	}

	storedCycle := int64(binary.LittleEndian.Uint64(data[len(segmentMagic):]))
	if storedCycle != cycle {
		return nil, fmt.Errorf("%w: segment named for cycle %d records cycle %d", ErrCorrupt, cycle, storedCycle)
	}

	storedSum := binary.LittleEndian.Uint64(data[len(segmentMagic)+8:])
	payload := data[segmentHeaderSize:]

	if xxh3.Hash(payload) != storedSum {
		return nil, fmt.Errorf("%w: checksum mismatch for cycle %d", ErrCorrupt, cycle)
	}

	var batch Batch

	decodeErr := s.codec.Decode(bytes.NewReader(payload), &batch)
	if decodeErr != nil {
		return nil, fmt.Errorf("decode batch for cycle %d: %w", cycle, decodeErr)
	}

	return &batch, nil
}

// CommittedBoundary implements Store.CommittedBoundary by scanning segment
// names. Temp files and foreign files are ignored.
func (s *FSStore) CommittedBoundary(ctx context.Context) (int64, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return 0, ctxErr
	}

	entries, readErr := os.ReadDir(s.dir)
	if readErr != nil {
		return 0, fmt.Errorf("scan store directory: %w", readErr)
	}

	var boundary int64

	for _, entry := range entries {
		cycle, ok := parseSegmentName(entry.Name())
		if ok && cycle > boundary {
			boundary = cycle
		}
	}

	return boundary, nil
}

// Close implements Store.Close. FSStore holds no open handles between calls.
func (s *FSStore) Close() error {
	return nil
}

// Dir returns the segment directory.
func (s *FSStore) Dir() string {
	return s.dir
}

func (s *FSStore) segmentPath(cycle int64) string {
	name := fmt.Sprintf("%s%0*d%s", segmentPrefix, segmentDigits, cycle, segmentSuffix)

	return filepath.Join(s.dir, name)
}

// parseSegmentName extracts the cycle id from a segment file name.
func parseSegmentName(name string) (int64, bool) {
	trimmed, hasPrefix := strings.CutPrefix(name, segmentPrefix)
	if !hasPrefix {
		return 0, false
	}

	trimmed, hasSuffix := strings.CutSuffix(trimmed, segmentSuffix)
	if !hasSuffix || len(trimmed) != segmentDigits {
		return 0, false
	}

	cycle, parseErr := strconv.ParseInt(trimmed, 10, 64)
	if parseErr != nil || cycle <= 0 {
		return 0, false
	}

	return cycle, true
}

// writeAll writes each chunk fully to the file.
func writeAll(file *os.File, chunks ...[]byte) error {
	for _, chunk := range chunks {
		if _, err := file.Write(chunk); err != nil {
			return err
		}
	}

	return nil
}
