// Package model defines the next-token predictor the generator and trainer
// drive, and the two backends that implement it.
package model

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/samogod/bookrnn/pkg/config"
	"github.com/samogod/bookrnn/pkg/dataset"
)

var DebugLog func(string, ...interface{})

// ErrNoCheckpoint is returned by Load when the checkpoint file is missing.
var ErrNoCheckpoint = errors.New("checkpoint not found")

// Predictor returns, for every fixed-width context window, a probability
// distribution over the whole vocabulary.
type Predictor interface {
	Predict(ctx context.Context, contexts [][]int) ([][]float64, error)
}

// Model is a trainable Predictor.
type Model interface {
	Predictor

	VocabSize() int

	// Fit updates the model on one batch and returns the batch's mean
	// cross-entropy as measured before the update.
	Fit(ctx context.Context, batch dataset.Batch) (float64, error)

	Save(path string) error
	Close() error
}

type Options struct {
	VocabSize int
	MaxLen    int

	// EmbeddingPath is a (vocab+1) x dim matrix file handed to backends that
	// initialize an embedding layer from pretrained vectors.
	EmbeddingPath string

	// WordCharsPath lists every word id spelled as padded character ids,
	// one word per line, for character-aware word models.
	WordCharsPath string
}

// New builds an untrained model for the configured backend.
func New(cfg config.Model, opts Options) (Model, error) {
	switch cfg.Backend {
	case config.BackendNGram:
		return NewNGram(cfg.Order, opts.VocabSize), nil
	case config.BackendSubprocess:
		return StartSubprocess(SubprocessConfig{Script: cfg.Script}, opts, "")
	default:
		return nil, fmt.Errorf("unknown model backend: %s", cfg.Backend)
	}
}

// Load restores a model from path and checks it was trained on a
// vocabulary of the expected size.
func Load(cfg config.Model, opts Options, path string) (Model, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNoCheckpoint, path)
	}

	if DebugLog != nil {
		DebugLog("loading %s checkpoint from %s", cfg.Backend, path)
	}

	switch cfg.Backend {
	case config.BackendNGram:
		m, err := LoadNGram(path)
		if err != nil {
			return nil, err
		}
		if opts.VocabSize != 0 && m.VocabSize() != opts.VocabSize {
			return nil, fmt.Errorf("checkpoint vocabulary has %d tokens, corpus has %d", m.VocabSize(), opts.VocabSize)
		}
		return m, nil
	case config.BackendSubprocess:
		return StartSubprocess(SubprocessConfig{Script: cfg.Script}, opts, path)
	default:
		return nil, fmt.Errorf("unknown model backend: %s", cfg.Backend)
	}
}

// CrossEntropy is the mean negative log-likelihood of targets under preds.
func CrossEntropy(preds [][]float64, targets []int) float64 {
	if len(targets) == 0 {
		return 0
	}

	const floor = 1e-12
	total := 0.0
	for i, target := range targets {
		p := floor
		if target >= 0 && target < len(preds[i]) && preds[i][target] > floor {
			p = preds[i][target]
		}
		total -= math.Log(p)
	}
	return total / float64(len(targets))
}

// Evaluate returns the mean cross-entropy of a batch without updating p.
func Evaluate(ctx context.Context, p Predictor, batch dataset.Batch) (float64, error) {
	if batch.Len() == 0 {
		return 0, nil
	}
	preds, err := p.Predict(ctx, batch.Contexts)
	if err != nil {
		return 0, err
	}
	if len(preds) != batch.Len() {
		return 0, fmt.Errorf("predictor returned %d rows for %d contexts", len(preds), batch.Len())
	}
	return CrossEntropy(preds, batch.Targets), nil
}
