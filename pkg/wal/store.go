// Package wal persists the tuples emitted in each processing cycle so that a
// restarted source can replay committed cycles bit-for-bit instead of
// re-reading the filesystem.
package wal

import (
	"context"
	"errors"
	"fmt"

	"github.com/Sumatoshi-tech/filesplit/pkg/split"
)

// Sentinel errors for store operations.
var (
	// ErrNoBatch indicates that no batch was recorded for the requested cycle.
	ErrNoBatch = errors.New("no batch recorded for cycle")
	// ErrBadCycle indicates a non-positive cycle identifier.
	ErrBadCycle = errors.New("cycle identifier must be positive")
	// ErrNoPath indicates an empty store path.
	ErrNoPath = errors.New("store path must not be empty")
	// ErrCorrupt indicates a segment that failed integrity verification.
	ErrCorrupt = errors.New("checkpoint segment corrupt")
)

// Batch is the complete emission record of one processing cycle: the file
// metadata and block metadata tuples in their original emission order.
type Batch struct {
	// Cycle is the 1-based identifier of the processing cycle.
	Cycle int64
	// Files holds the file metadata emitted during the cycle, in order.
	Files []split.FileMetadata
	// Blocks holds the block metadata emitted during the cycle, in order.
	Blocks []split.BlockMetadata
}

// Store records one batch per committed cycle and serves them back on replay.
// Append must be atomic: a batch is either fully committed or absent, so the
// committed boundary never names a partially written cycle.
type Store interface {
	// Append durably records the batch for its cycle. Re-appending a cycle
	// replaces the previous record.
	Append(ctx context.Context, batch Batch) error
	// ReadBack returns the batch recorded for the cycle, or ErrNoBatch.
	ReadBack(ctx context.Context, cycle int64) (*Batch, error)
	// CommittedBoundary returns the highest committed cycle, or zero when
	// nothing has been committed.
	CommittedBoundary(ctx context.Context) (int64, error)
	// Close releases the store's resources.
	Close() error
}

// NopStore is a Store that records nothing. It disables fault tolerance:
// every run starts cold and no cycle is ever replayed.
type NopStore struct{}

// NewNopStore creates a store that discards all batches.
func NewNopStore() *NopStore {
	return &NopStore{}
}

// Append implements Store.Append by discarding the batch.
func (s *NopStore) Append(_ context.Context, _ Batch) error {
	return nil
}

// ReadBack implements Store.ReadBack; it never has a batch to return.
func (s *NopStore) ReadBack(_ context.Context, cycle int64) (*Batch, error) {
	return nil, fmt.Errorf("cycle %d: %w", cycle, ErrNoBatch)
}

// CommittedBoundary implements Store.CommittedBoundary; it is always zero.
func (s *NopStore) CommittedBoundary(_ context.Context) (int64, error) {
	return 0, nil
}

// Close implements Store.Close.
func (s *NopStore) Close() error {
	return nil
}
