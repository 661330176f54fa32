package trainer

import (
	"context"
	"errors"
	"io"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samogod/bookrnn/pkg/model"
)

// countingModel records checkpoint saves.
type countingModel struct {
	*model.NGram
	saves []string
}

func (m *countingModel) Save(path string) error {
	m.saves = append(m.saves, path)
	return m.NGram.Save(path)
}

func cycle(n, vocab int) []int {
	tokens := make([]int, n)
	for i := range tokens {
		tokens[i] = i % vocab
	}
	return tokens
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func testConfig(dir string) Config {
	return Config{
		Iterations:        3,
		BatchSize:         16,
		MaxLen:            3,
		Step:              1,
		ValSplit:          0.1,
		SampleDiversities: []float64{1.2, 1.6},
		SampleLength:      5,
		BeamWidth:         3,
		CheckpointPath:    filepath.Join(dir, "ngram.gob"),
		CheckpointEvery:   2,
	}
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	m := &countingModel{NGram: model.NewNGram(3, 5)}
	tr := New(m, testConfig(dir), quietLogger(), rand.NewPCG(1, 2))

	var seen []Sample
	tr.OnSample = func(s Sample) error {
		seen = append(seen, s)
		return nil
	}

	results, err := tr.Run(context.Background(), cycle(1000, 5))
	require.NoError(t, err)
	require.Len(t, results, 3)

	for i, res := range results {
		assert.Equal(t, i+1, res.Iteration)
		assert.False(t, math.IsNaN(res.ValLoss))
		require.Len(t, res.Samples, 2)
		assert.Equal(t, 1.2, res.Samples[0].Diversity)
		assert.Equal(t, 1.6, res.Samples[1].Diversity)
		for _, s := range res.Samples {
			assert.Len(t, s.Tokens, 8)
			assert.Equal(t, 3, s.SeedLen)
		}
	}
	assert.Less(t, results[2].TrainLoss, results[0].TrainLoss)
	assert.Less(t, results[2].ValLoss, math.Log(5))

	assert.Len(t, seen, 6)
	assert.Equal(t, []string{testConfig(dir).CheckpointPath, testConfig(dir).CheckpointPath}, m.saves)

	_, err = os.Stat(testConfig(dir).CheckpointPath)
	assert.NoError(t, err)
}

func TestRunWithoutValidationWindow(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.Iterations = 1
	cfg.ValSplit = 0
	cfg.CheckpointPath = ""

	m := &countingModel{NGram: model.NewNGram(2, 5)}
	results, err := New(m, cfg, quietLogger(), rand.NewPCG(3, 4)).Run(context.Background(), cycle(200, 5))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, math.IsNaN(results[0].ValLoss))
	assert.Empty(t, m.saves)
}

func TestRunCorpusTooShort(t *testing.T) {
	tr := New(model.NewNGram(2, 5), testConfig(t.TempDir()), quietLogger(), nil)
	_, err := tr.Run(context.Background(), []int{0, 1, 2})
	assert.ErrorIs(t, err, ErrCorpusTooShort)
}

func TestRunInvalidConfig(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.BatchSize = 0
	_, err := New(model.NewNGram(2, 5), cfg, quietLogger(), nil).Run(context.Background(), cycle(100, 5))
	assert.Error(t, err)
}

func TestRunStopsOnSampleError(t *testing.T) {
	stop := errors.New("disk full")
	tr := New(model.NewNGram(2, 5), testConfig(t.TempDir()), quietLogger(), rand.NewPCG(5, 6))
	tr.OnSample = func(Sample) error { return stop }

	results, err := tr.Run(context.Background(), cycle(500, 5))
	assert.ErrorIs(t, err, stop)
	assert.Empty(t, results)
}

func TestRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(model.NewNGram(2, 5), testConfig(t.TempDir()), quietLogger(), nil).Run(ctx, cycle(500, 5))
	assert.ErrorIs(t, err, context.Canceled)
}
