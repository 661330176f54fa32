package model

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"github.com/samogod/bookrnn/pkg/config"
	"github.com/samogod/bookrnn/pkg/dataset"
)

func trainOn(t *testing.T, m Model, tokens []int, maxlen int) float64 {
	t.Helper()
	c := dataset.NewChunker(tokens, maxlen, 1, 64)
	loss, err := m.Fit(context.Background(), c.Next())
	require.NoError(t, err)
	return loss
}

func TestNGramUntrainedIsUniform(t *testing.T) {
	m := NewNGram(3, 4)

	preds, err := m.Predict(context.Background(), [][]int{{0, 1}})
	require.NoError(t, err)
	require.Len(t, preds, 1)
	for _, p := range preds[0] {
		assert.InDelta(t, 0.25, p, 1e-12)
	}
}

func TestNGramDistributionsSumToOne(t *testing.T) {
	m := NewNGram(3, 5)
	tokens := []int{0, 1, 2, 0, 1, 2, 0, 1, 3, 4, 0, 1, 2}
	trainOn(t, m, tokens, 2)

	preds, err := m.Predict(context.Background(), [][]int{{0, 1}, {4, 4}, {2, 0}, {}})
	require.NoError(t, err)
	for _, p := range preds {
		assert.InDelta(t, 1.0, floats.Sum(p), 1e-9)
		for _, v := range p {
			assert.Greater(t, v, 0.0)
		}
	}
}

func TestNGramLearnsSequence(t *testing.T) {
	m := NewNGram(3, 4)
	var tokens []int
	for i := 0; i < 30; i++ {
		tokens = append(tokens, 0, 1, 2, 3)
	}

	first := trainOn(t, m, tokens, 2)
	second := trainOn(t, m, tokens, 2)
	assert.Less(t, second, first, "loss should drop once counts exist")

	preds, err := m.Predict(context.Background(), [][]int{{0, 1}})
	require.NoError(t, err)
	assert.Equal(t, 2, floats.MaxIdx(preds[0]))
}

func TestNGramFitRejectsBadTarget(t *testing.T) {
	m := NewNGram(2, 3)
	_, err := m.Fit(context.Background(), dataset.Batch{Contexts: [][]int{{0}}, Targets: []int{7}})
	require.Error(t, err)
}

func TestNGramSaveLoad(t *testing.T) {
	m := NewNGram(3, 4)
	trainOn(t, m, []int{0, 1, 2, 3, 0, 1, 2, 3, 0, 1}, 2)

	path := filepath.Join(t.TempDir(), "gru_word_rnn.gob")
	require.NoError(t, m.Save(path))

	cfg := config.Model{Backend: config.BackendNGram, Order: 3}
	loaded, err := Load(cfg, Options{VocabSize: 4}, path)
	require.NoError(t, err)

	ctx := context.Background()
	want, err := m.Predict(ctx, [][]int{{0, 1}})
	require.NoError(t, err)
	got, err := loaded.Predict(ctx, [][]int{{0, 1}})
	require.NoError(t, err)
	assert.InDeltaSlice(t, want[0], got[0], 1e-12)
}

func TestLoadVocabMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.gob")
	require.NoError(t, NewNGram(2, 4).Save(path))

	_, err := Load(config.Model{Backend: config.BackendNGram}, Options{VocabSize: 5}, path)
	require.Error(t, err)
}

func TestLoadMissingCheckpoint(t *testing.T) {
	_, err := Load(config.Model{Backend: config.BackendNGram}, Options{}, filepath.Join(t.TempDir(), "none.gob"))
	assert.ErrorIs(t, err, ErrNoCheckpoint)
}

func TestCrossEntropy(t *testing.T) {
	preds := [][]float64{{0.5, 0.5}, {1, 0}}
	assert.InDelta(t, 0.34657359, CrossEntropy(preds, []int{0, 0}), 1e-6)
	assert.Equal(t, 0.0, CrossEntropy(nil, nil))
}
