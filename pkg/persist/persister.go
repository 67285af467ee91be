package persist

import (
	"os"
	"path/filepath"
)

// Persister binds one state type to its file basename and wire codec, so
// callers save and load typed values without repeating either.
type Persister[T any] struct {
	basename string
	codec    Codec
}

// NewPersister creates a persister for T stored as basename plus the codec's
// extension.
func NewPersister[T any](basename string, codec Codec) *Persister[T] {
	return &Persister[T]{
		basename: basename,
		codec:    codec,
	}
}

// Path returns the state file location under dir.
func (p *Persister[T]) Path(dir string) string {
	return filepath.Join(dir, p.basename+p.codec.Extension())
}

// Exists reports whether dir holds a state file for this persister.
func (p *Persister[T]) Exists(dir string) bool {
	_, statErr := os.Stat(p.Path(dir))

	return statErr == nil
}

// Save writes the state under dir, replacing any previous state file.
func (p *Persister[T]) Save(dir string, state *T) error {
	return SaveState(dir, p.basename, p.codec, state)
}

// Load reads the state file under dir into a fresh T. A missing file is
// reported via fs.ErrNotExist so callers can treat it as a cold start.
func (p *Persister[T]) Load(dir string) (*T, error) {
	state := new(T)

	loadErr := LoadState(dir, p.basename, p.codec, state)
	if loadErr != nil {
		return nil, loadErr
	}

	return state, nil
}
