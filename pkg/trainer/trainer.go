// Package trainer drives iterative fitting of a model on a token stream,
// reporting validation loss and beam search samples after every iteration.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/samogod/bookrnn/pkg/beam"
	"github.com/samogod/bookrnn/pkg/dataset"
	"github.com/samogod/bookrnn/pkg/model"
)

var DebugLog func(string, ...interface{})

// ErrCorpusTooShort means the training split holds no complete window.
var ErrCorpusTooShort = errors.New("corpus too short for the configured window")

type Config struct {
	Iterations int
	BatchSize  int
	MaxLen     int
	Step       int
	ValSplit   float64

	SampleDiversities []float64
	SampleLength      int
	BeamWidth         int

	// CheckpointPath is saved every CheckpointEvery iterations and after the
	// last one. Empty disables checkpoints.
	CheckpointPath  string
	CheckpointEvery int
}

// Sample is one beam search result drawn after an iteration.
type Sample struct {
	Iteration int
	Diversity float64
	Tokens    []int
	SeedLen   int
	Prob      float64
}

type IterationResult struct {
	Iteration int
	TrainLoss float64
	// ValLoss is NaN when the validation split is too short for a window.
	ValLoss  float64
	Duration time.Duration
	Samples  []Sample
}

type Trainer struct {
	Model  model.Model
	Config Config
	Logger *logrus.Logger
	Rand   rand.Source

	// OnSample receives every sample as soon as it is generated. A non-nil
	// error stops training.
	OnSample func(Sample) error
}

func New(m model.Model, cfg Config, logger *logrus.Logger, rng rand.Source) *Trainer {
	if logger == nil {
		logger = logrus.New()
	}
	if rng == nil {
		rng = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &Trainer{
		Model:  m,
		Config: cfg,
		Logger: logger,
		Rand:   rng,
	}
}

// Run trains on tokens for Config.Iterations iterations. Seeds for the
// samples are drawn from the whole stream.
func (t *Trainer) Run(ctx context.Context, tokens []int) ([]IterationResult, error) {
	cfg := t.Config
	if cfg.BatchSize < 1 || cfg.MaxLen < 1 || cfg.Step < 1 {
		return nil, fmt.Errorf("invalid trainer config: batch %d, maxlen %d, step %d", cfg.BatchSize, cfg.MaxLen, cfg.Step)
	}

	train, val := dataset.Split(tokens, cfg.ValSplit)
	trainSamples := dataset.TotalSamples(len(train), cfg.MaxLen, cfg.Step)
	if trainSamples == 0 {
		return nil, fmt.Errorf("%w: %d training tokens, window %d", ErrCorpusTooShort, len(train), cfg.MaxLen)
	}

	steps := dataset.StepsPerEpoch(len(train), cfg.MaxLen, cfg.Step, cfg.BatchSize)
	valSamples := dataset.TotalSamples(len(val), cfg.MaxLen, cfg.Step)
	valSteps := 0
	if valSamples > 0 {
		valSteps = dataset.StepsPerEpoch(len(val), cfg.MaxLen, cfg.Step, cfg.BatchSize)
	}

	t.Logger.Infof("Training on %d samples (%d batches per iteration), validating on %d", trainSamples, steps, valSamples)

	trainChunks := dataset.NewChunker(train, cfg.MaxLen, cfg.Step, cfg.BatchSize)
	valChunks := dataset.NewChunker(val, cfg.MaxLen, cfg.Step, cfg.BatchSize)

	gen := beam.NewGenerator(t.Model, cfg.MaxLen, t.Rand)
	if DebugLog != nil {
		gen.Progress = func(step, total, beams int) {
			DebugLog("beam step %d/%d, %d beams", step, total, beams)
		}
	}

	var results []IterationResult
	for it := 1; it <= cfg.Iterations; it++ {
		start := time.Now()
		t.Logger.Infof("Iteration %d/%d", it, cfg.Iterations)

		trainLoss, err := t.fit(ctx, trainChunks, steps)
		if err != nil {
			return results, fmt.Errorf("iteration %d: %w", it, err)
		}

		valLoss := math.NaN()
		if valSteps > 0 {
			valLoss, err = t.validate(ctx, valChunks, valSteps)
			if err != nil {
				return results, fmt.Errorf("iteration %d validation: %w", it, err)
			}
		}

		res := IterationResult{
			Iteration: it,
			TrainLoss: trainLoss,
			ValLoss:   valLoss,
		}

		if math.IsNaN(valLoss) {
			t.Logger.Infof("loss: %.4f", trainLoss)
		} else {
			t.Logger.Infof("loss: %.4f - val_loss: %.4f", trainLoss, valLoss)
		}

		samples, err := t.sample(ctx, gen, tokens, it)
		if err != nil {
			return results, fmt.Errorf("iteration %d sampling: %w", it, err)
		}
		res.Samples = samples

		if t.shouldCheckpoint(it) {
			if err := t.Model.Save(cfg.CheckpointPath); err != nil {
				return results, fmt.Errorf("iteration %d checkpoint: %w", it, err)
			}
			t.Logger.Infof("Saved checkpoint to %s", cfg.CheckpointPath)
		}

		res.Duration = time.Since(start)
		results = append(results, res)
	}

	return results, nil
}

func (t *Trainer) fit(ctx context.Context, chunks *dataset.Chunker, steps int) (float64, error) {
	total := 0.0
	for s := 0; s < steps; s++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		loss, err := t.Model.Fit(ctx, chunks.Next())
		if err != nil {
			return 0, err
		}
		total += loss

		if DebugLog != nil {
			DebugLog("batch %d/%d loss %.4f", s+1, steps, loss)
		}
	}
	return total / float64(steps), nil
}

func (t *Trainer) validate(ctx context.Context, chunks *dataset.Chunker, steps int) (float64, error) {
	total := 0.0
	for s := 0; s < steps; s++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		loss, err := model.Evaluate(ctx, t.Model, chunks.Next())
		if err != nil {
			return 0, err
		}
		total += loss
	}
	return total / float64(steps), nil
}

func (t *Trainer) sample(ctx context.Context, gen *beam.Generator, tokens []int, it int) ([]Sample, error) {
	cfg := t.Config
	if cfg.SampleLength <= 0 || len(cfg.SampleDiversities) == 0 {
		return nil, nil
	}

	samples := make([]Sample, 0, len(cfg.SampleDiversities))
	for _, diversity := range cfg.SampleDiversities {
		seed, err := beam.RandomSeed(tokens, cfg.MaxLen, t.Rand)
		if err != nil {
			return samples, err
		}

		t.Logger.Infof("----- diversity: %.1f", diversity)
		result, err := gen.Search(ctx, seed, beam.Options{
			Length:    cfg.SampleLength,
			BeamWidth: cfg.BeamWidth,
			Diversity: diversity,
		})
		if err != nil {
			return samples, err
		}

		s := Sample{
			Iteration: it,
			Diversity: diversity,
			Tokens:    result.Tokens,
			SeedLen:   result.SeedLen,
			Prob:      result.Prob,
		}
		samples = append(samples, s)

		if t.OnSample != nil {
			if err := t.OnSample(s); err != nil {
				return samples, err
			}
		}
	}
	return samples, nil
}

func (t *Trainer) shouldCheckpoint(it int) bool {
	if t.Config.CheckpointPath == "" {
		return false
	}
	if it == t.Config.Iterations {
		return true
	}
	return t.Config.CheckpointEvery > 0 && it%t.Config.CheckpointEvery == 0
}
