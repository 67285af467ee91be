package persist

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// persisterState is a struct for persister round-trip testing.
type persisterState struct {
	Label string `json:"label"`
	Value int    `json:"value"`
}

func TestPersister_RoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		codec Codec
	}{
		{name: "json", codec: NewJSONCodec()},
		{name: "gob", codec: NewGobCodec()},
		{name: "lz4", codec: NewLZ4Codec()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			p := NewPersister[persisterState]("mystate", tt.codec)
			original := persisterState{Label: tt.name, Value: 42}

			require.NoError(t, p.Save(dir, &original))

			restored, err := p.Load(dir)

			require.NoError(t, err)
			assert.Equal(t, original, *restored)
		})
	}
}

func TestPersister_Exists(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := NewPersister[persisterState]("state", NewJSONCodec())

	assert.False(t, p.Exists(dir))

	require.NoError(t, p.Save(dir, &persisterState{Label: "x"}))

	assert.True(t, p.Exists(dir))
	assert.FileExists(t, p.Path(dir))
}

func TestPersister_LoadMissingFile(t *testing.T) {
	t.Parallel()

	p := NewPersister[persisterState]("missing", NewJSONCodec())

	_, err := p.Load(t.TempDir())

	require.Error(t, err)
	// Callers distinguish a cold start from a broken state file.
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestPersister_SaveBlockedDir(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	blocker := filepath.Join(base, "blocker")

	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	p := NewPersister[persisterState]("state", NewJSONCodec())

	err := p.Save(blocker, &persisterState{Label: "x"})

	assert.Error(t, err)
}
