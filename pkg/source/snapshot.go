package source

import (
	"fmt"
	"slices"

	"github.com/Sumatoshi-tech/filesplit/pkg/persist"
	"github.com/Sumatoshi-tech/filesplit/pkg/split"
)

// snapshotBasename names the relocation state file.
const snapshotBasename = "source-state"

// snapshotState is the relocatable part of the operator: dedup signatures,
// files sighted but not yet fully split, the in-flight split position, and
// the cumulative counters.
type snapshotState struct {
	Signatures    []string
	Pending       []split.FileMetadata
	Resume        *resumePoint
	FilesEmitted  int64
	BlocksEmitted int64
}

// resumePoint is the serialized form of an in-flight cursor.
type resumePoint struct {
	Meta       split.FileMetadata
	NextOffset int64
	Emitted    int
}

// snapshotPersister returns the codec-bound persister for relocation state.
func snapshotPersister() *persist.Persister[snapshotState] {
	return persist.NewPersister[snapshotState](snapshotBasename, persist.NewLZ4Codec())
}

// Snapshot writes the operator's relocatable state to dir. It exists for
// host runtimes that move an operator between processes without a shared
// checkpoint store; with a store configured, replay remains authoritative.
// Call it between windows, on the cycle goroutine.
func (s *Source) Snapshot(dir string) error {
	state := snapshotState{
		Signatures:    s.scanner.Signatures(),
		Pending:       slices.Clone(s.pending),
		FilesEmitted:  s.filesEmitted.Load(),
		BlocksEmitted: s.blocksEmitted.Load(),
	}

	if s.current != nil {
		state.Resume = &resumePoint{
			Meta:       s.current.Meta(),
			NextOffset: s.current.NextOffset(),
			Emitted:    s.current.Emitted(),
		}
	}

	saveErr := snapshotPersister().Save(dir, &state)
	if saveErr != nil {
		return fmt.Errorf("snapshot source state: %w", saveErr)
	}

	return nil
}

// RestoreSnapshot applies a previously written snapshot to this incarnation.
// Call it after New and before Setup, so restored signatures are registered
// before the scanner's first pass can rediscover the same files. Restored
// pending files queue behind anything already recovered.
func (s *Source) RestoreSnapshot(dir string) error {
	state, loadErr := snapshotPersister().Load(dir)
	if loadErr != nil {
		return fmt.Errorf("restore source state: %w", loadErr)
	}

	s.scanner.SeedSignatures(state.Signatures...)
	s.pending = append(s.pending, state.Pending...)
	s.filesEmitted.Store(state.FilesEmitted)
	s.blocksEmitted.Store(state.BlocksEmitted)

	if state.Resume != nil && s.current == nil {
		s.current = split.ResumeCursor(
			state.Resume.Meta, s.blockSize,
			state.Resume.NextOffset, state.Resume.Emitted,
		)
	}

	return nil
}
