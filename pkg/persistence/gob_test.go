package persistence

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type snapshot struct {
	Name   string
	Counts map[string]int
}

func TestSaveLoadGob(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "model.gob")
	in := snapshot{Name: "ngram", Counts: map[string]int{"a": 1}}

	require.NoError(t, SaveGob(path, in))

	var out snapshot
	require.NoError(t, LoadGob(path, &out))
	assert.Equal(t, in, out)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file should be renamed away")
}

func TestLoadGobMissing(t *testing.T) {
	var out snapshot
	err := LoadGob(filepath.Join(t.TempDir(), "missing.gob"), &out)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadGobCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.gob")
	require.NoError(t, os.WriteFile(path, []byte("not gob"), 0644))

	var out snapshot
	err := LoadGob(path, &out)
	require.Error(t, err)
	assert.NotErrorIs(t, err, os.ErrNotExist)
}
