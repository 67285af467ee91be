package source

import (
	"context"
	"fmt"

	"github.com/Sumatoshi-tech/filesplit/pkg/scan"
	"github.com/Sumatoshi-tech/filesplit/pkg/split"
	"github.com/Sumatoshi-tech/filesplit/pkg/wal"
)

// cursorPos is a split position reconstructed from committed blocks.
type cursorPos struct {
	meta       split.FileMetadata
	nextOffset int64
	emitted    int
}

// recoveredState is everything Setup needs from the committed cycles: the
// signatures to re-register so the scanner does not rediscover replayed
// files, and the unfinished sightings in order. At most the first of those
// can have committed blocks; the budget discipline finishes a started file
// before touching the next one.
type recoveredState struct {
	signatures []string
	resume     []cursorPos

	files  int
	blocks int
}

// sighting tracks block progress for one announced FileMetadata. The same
// path announced through two roots, or announced again after a modification,
// yields one sighting per FileMetadata, each owed its own full block
// sequence.
type sighting struct {
	meta       split.FileMetadata
	emitted    int
	nextOffset int64
}

func (s *sighting) done() bool {
	return s.emitted >= s.meta.NumberOfBlocks
}

// recoverCommitted reads every committed cycle in order and rebuilds split
// progress per sighting, not per path. Sightings of one path are split in
// announcement order and block ids restart at zero for each of them, so a
// block belongs to the path's earliest sighting that is still unfinished,
// advancing when a zero id opens the next sequence. Any read failure is
// fatal; a gap below the boundary means the store lost a committed cycle.
func recoverCommitted(ctx context.Context, store wal.Store, boundary int64) (recoveredState, error) {
	var (
		state     recoveredState
		sightings []*sighting
	)

	byPath := make(map[string][]*sighting)
	at := make(map[string]int)

	for cycle := int64(1); cycle <= boundary; cycle++ {
		batch, readErr := store.ReadBack(ctx, cycle)
		if readErr != nil {
			return recoveredState{}, fmt.Errorf("read cycle %d: %w", cycle, readErr)
		}

		for _, meta := range batch.Files {
			state.signatures = append(state.signatures, scan.Signature(meta.FilePath, meta.ModTime))
			state.files++

			s := &sighting{meta: meta}
			sightings = append(sightings, s)
			byPath[meta.FilePath] = append(byPath[meta.FilePath], s)
		}

		for _, block := range batch.Blocks {
			state.blocks++

			row := byPath[block.FilePath]
			if len(row) == 0 {
				continue
			}

			i := at[block.FilePath]

			for i+1 < len(row) && (row[i].done() || (block.BlockID == 0 && row[i].emitted > 0)) {
				i++
			}

			at[block.FilePath] = i
			row[i].emitted++
			row[i].nextOffset = block.Offset + block.Length
		}
	}

	state.resume = unfinished(sightings)

	return state, nil
}

// unfinished collects the sightings whose committed blocks fall short of
// their totals, preserving announcement order so the mid-split sighting (if
// any) comes first and the rest re-enter the pending queue in discovery
// order.
func unfinished(sightings []*sighting) []cursorPos {
	var resume []cursorPos

	for _, s := range sightings {
		if s.meta.IsDirectory || s.done() {
			continue
		}

		resume = append(resume, cursorPos{
			meta:       s.meta,
			nextOffset: s.nextOffset,
			emitted:    s.emitted,
		})
	}

	return resume
}
