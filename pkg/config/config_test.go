package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
corpus:
  dir: /data/books
  author: Jules Verne
model:
  level: char
`)

	m := NewManager(path)
	require.NoError(t, m.LoadConfig())
	cfg := m.GetConfig()

	assert.Equal(t, "/data/books", cfg.Corpus.Dir)
	assert.Equal(t, "Jules Verne", cfg.Corpus.Author)
	assert.Equal(t, LevelChar, cfg.Model.Level)
	assert.Equal(t, 40, cfg.Model.MaxLen)
	assert.Equal(t, 3, cfg.Model.Step)
	assert.Equal(t, 4000000, cfg.Corpus.MaxChars)
	assert.Equal(t, "gru_char_rnn.gob", cfg.Model.Checkpoint)
	assert.Equal(t, []float64{1.2, 1.4, 1.6, 1.8}, cfg.Training.SampleDiversities)
	assert.Equal(t, 30, cfg.Generation.BeamWidth)
	assert.Equal(t, path, m.ConfigPath())
}

func TestLoadConfigWordDefaults(t *testing.T) {
	var cfg Config
	ApplyDefaults(&cfg)

	assert.Equal(t, LevelWord, cfg.Model.Level)
	assert.Equal(t, 20, cfg.Model.MaxLen)
	assert.Equal(t, 12000, cfg.Model.VocabSize)
	assert.Equal(t, 2000000, cfg.Corpus.MaxChars)
	assert.Equal(t, 1.2, cfg.Generation.Diversity)
	assert.Equal(t, "generated_words.md", cfg.Generation.Output)
}

func TestLoadConfigExplicitMissingFile(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "nope.yaml"))
	err := m.LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown level", "model:\n  level: byte\n", "unknown model level"},
		{"unknown backend", "model:\n  backend: torch\n", "unknown model backend"},
		{"subprocess without script", "model:\n  backend: subprocess\n", "model.script is required"},
		{"bad val split", "training:\n  val_split: 1.5\n", "val_split"},
		{"negative diversity", "generation:\n  diversity: -1\n", "diversity must be greater than 0"},
		{"negative sample diversity", "training:\n  sample_diversities: [1.0, 0]\n", "sample diversities"},
		{"negative beam", "generation:\n  beam_width: -2\n", "beam_width"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(writeConfig(t, tt.body))
			err := m.LoadConfig()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadConfigMalformedYAML(t *testing.T) {
	m := NewManager(writeConfig(t, "model: [unclosed"))
	err := m.LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestLoadConfigOverrideBeforeDefaults(t *testing.T) {
	path := writeConfig(t, "model:\n  level: word\n")

	m := NewManager(path)
	m.Override = func(c *Config) { c.Model.Level = LevelChar }
	require.NoError(t, m.LoadConfig())

	cfg := m.GetConfig()
	assert.Equal(t, LevelChar, cfg.Model.Level)
	assert.Equal(t, 40, cfg.Model.MaxLen)
	assert.Equal(t, "gru_char_rnn.gob", cfg.Model.Checkpoint)
}
