package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/samogod/bookrnn/pkg/beam"
	"github.com/samogod/bookrnn/pkg/database"
	"github.com/samogod/bookrnn/pkg/elastic"
	"github.com/samogod/bookrnn/pkg/model"
)

// GenerateOptions are the per request knobs of a Service. Zero values fall
// back to the generation section of the configuration.
type GenerateOptions struct {
	Words     int
	Diversity float64
	BeamWidth int
	Seed      uint64
}

// Service keeps a restored model in memory and answers generation requests
// with it. Requests are serialized because the predictor is not safe for
// concurrent use.
type Service struct {
	o      *Orchestrator
	corpus *Corpus
	model  model.Model
	rng    rand.Source

	mu sync.Mutex
}

// OpenService loads the corpus, vocabulary and checkpoint once.
func (o *Orchestrator) OpenService(ctx context.Context) (*Service, error) {
	c, err := o.LoadCorpus(ctx, true)
	if err != nil {
		return nil, err
	}

	rng := o.newRand(0)
	m, err := o.BuildModel(c, true, rng)
	if err != nil {
		if errors.Is(err, model.ErrNoCheckpoint) {
			return nil, fmt.Errorf("%w; train a model first with --mode train", err)
		}
		return nil, fmt.Errorf("failed to load model: %w", err)
	}

	return &Service{o: o, corpus: c, model: m, rng: rng}, nil
}

// Generate runs one beam search and records it like a generate run.
func (s *Service) Generate(ctx context.Context, opts GenerateOptions) (*RunResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o := s.o
	res := o.newResult(ModeGenerate)
	status := database.StatusFailed
	defer func() { o.finish(res, status) }()

	length, diversity, beamWidth, output := o.generation(RunOptions{
		Words:     opts.Words,
		Diversity: opts.Diversity,
		BeamWidth: opts.BeamWidth,
	})

	rng := s.rng
	if opts.Seed != 0 {
		rng = rand.NewPCG(opts.Seed, opts.Seed)
	}

	result, text, err := o.search(ctx, s.corpus, s.model, rng, beam.Options{
		Length:    length,
		BeamWidth: beamWidth,
		Diversity: diversity,
	})
	if err != nil {
		return res, err
	}

	doc := o.record(res, 0, diversity, beamWidth, result.Prob, s.corpus, result.Tokens[:result.SeedLen], text)
	o.index(ctx, output, []elastic.SampleDocument{doc})

	res.Text = text
	res.Prob = result.Prob
	status = database.StatusDone
	return res, nil
}

func (s *Service) Close() error {
	return s.model.Close()
}
