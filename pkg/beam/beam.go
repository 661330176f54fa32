// Package beam generates token sequences from a next-token predictor with
// temperature-scaled stochastic beam search.
package beam

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/samogod/bookrnn/pkg/model"
)

var (
	// ErrEmptyDistribution means a predictor returned a distribution with no
	// positive entry, so no continuation can be sampled.
	ErrEmptyDistribution = errors.New("distribution has no nonzero probabilities")

	ErrInvalidOptions = errors.New("invalid beam search options")
)

// Beam is a candidate sequence: the seed followed by generated tokens.
type Beam struct {
	Tokens []int
	Prob   float64
}

type Options struct {
	Length    int
	BeamWidth int
	Diversity float64
}

func (o Options) validate() error {
	if o.Length < 0 {
		return fmt.Errorf("%w: length must not be negative", ErrInvalidOptions)
	}
	if o.BeamWidth < 1 {
		return fmt.Errorf("%w: beam width must be at least 1", ErrInvalidOptions)
	}
	if o.Diversity <= 0 {
		return fmt.Errorf("%w: diversity must be greater than 0", ErrInvalidOptions)
	}
	return nil
}

// Result is the best beam after the last step.
type Result struct {
	Tokens  []int
	Prob    float64
	SeedLen int
}

// Generated returns the tokens produced after the seed.
func (r *Result) Generated() []int {
	return r.Tokens[r.SeedLen:]
}

// Progress is called after every completed step.
type Progress func(step, total, beams int)

// Generator runs beam search against a predictor whose input is a window
// of MaxLen tokens.
type Generator struct {
	Predictor model.Predictor
	MaxLen    int
	Rand      rand.Source
	Progress  Progress
}

// NewGenerator returns a generator drawing from rng, or from a randomly
// seeded source when rng is nil.
func NewGenerator(p model.Predictor, maxlen int, rng rand.Source) *Generator {
	if rng == nil {
		rng = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &Generator{
		Predictor: p,
		MaxLen:    maxlen,
		Rand:      rng,
	}
}

func (g *Generator) window(tokens []int) []int {
	return tokens[len(tokens)-g.MaxLen:]
}

// Search grows beams from seed for opts.Length steps. Each step asks the
// predictor for every live beam's next-token distribution in one batch,
// scales it by opts.Diversity, samples up to BeamWidth distinct
// continuations per beam, and keeps the BeamWidth most probable children
// with their probabilities renormalized to sum to one.
func (g *Generator) Search(ctx context.Context, seed []int, opts Options) (*Result, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if len(seed) < g.MaxLen {
		return nil, fmt.Errorf("%w: seed has %d tokens, window needs %d", ErrInvalidOptions, len(seed), g.MaxLen)
	}

	initial := make([]int, len(seed))
	copy(initial, seed)
	beams := []Beam{{Tokens: initial, Prob: 1.0}}

	for step := 0; step < opts.Length; step++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		next, err := g.expand(ctx, beams, opts)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", step+1, err)
		}
		beams = next

		if g.Progress != nil {
			g.Progress(step+1, opts.Length, len(beams))
		}
	}

	best := beams[0]
	return &Result{Tokens: best.Tokens, Prob: best.Prob, SeedLen: len(seed)}, nil
}

func (g *Generator) expand(ctx context.Context, beams []Beam, opts Options) ([]Beam, error) {
	contexts := make([][]int, len(beams))
	for i, b := range beams {
		contexts[i] = g.window(b.Tokens)
	}

	preds, err := g.Predictor.Predict(ctx, contexts)
	if err != nil {
		return nil, fmt.Errorf("prediction failed: %w", err)
	}
	if len(preds) != len(beams) {
		return nil, fmt.Errorf("predictor returned %d distributions for %d beams", len(preds), len(beams))
	}

	candidates := make([]Beam, 0, len(beams)*opts.BeamWidth)
	for i, b := range beams {
		p := ScalePrediction(preds[i], opts.Diversity)

		picked := sampleWithoutReplacement(p, opts.BeamWidth, g.Rand)
		if len(picked) == 0 {
			return nil, ErrEmptyDistribution
		}

		for _, idx := range picked {
			tokens := make([]int, len(b.Tokens)+1)
			copy(tokens, b.Tokens)
			tokens[len(b.Tokens)] = idx
			candidates = append(candidates, Beam{Tokens: tokens, Prob: b.Prob * p[idx]})
		}
	}

	return prune(candidates, opts.BeamWidth), nil
}

// prune keeps the width most probable beams and rescales their
// probabilities to sum to one so products do not vanish over many steps.
func prune(candidates []Beam, width int) []Beam {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Prob > candidates[j].Prob
	})
	if len(candidates) > width {
		candidates = candidates[:width]
	}

	sum := 0.0
	for _, b := range candidates {
		sum += b.Prob
	}
	if sum > 0 {
		for i := range candidates {
			candidates[i].Prob /= sum
		}
	} else {
		for i := range candidates {
			candidates[i].Prob = 1 / float64(len(candidates))
		}
	}
	return candidates
}

// RandomSeed picks a window of maxlen consecutive tokens starting at a
// uniform index in [0, len(tokens)-maxlen-1].
func RandomSeed(tokens []int, maxlen int, rng rand.Source) ([]int, error) {
	if len(tokens) <= maxlen {
		return nil, fmt.Errorf("%w: need more than %d tokens to seed, have %d", ErrInvalidOptions, maxlen, len(tokens))
	}
	var start int
	if rng == nil {
		start = rand.IntN(len(tokens) - maxlen)
	} else {
		start = rand.New(rng).IntN(len(tokens) - maxlen)
	}
	seed := make([]int, maxlen)
	copy(seed, tokens[start:start+maxlen])
	return seed, nil
}

// Stream samples n tokens one at a time without beams and hands each to
// emit as soon as it is chosen.
func (g *Generator) Stream(ctx context.Context, seed []int, n int, diversity float64, emit func(int) error) ([]int, error) {
	if diversity <= 0 {
		return nil, fmt.Errorf("%w: diversity must be greater than 0", ErrInvalidOptions)
	}
	if len(seed) < g.MaxLen {
		return nil, fmt.Errorf("%w: seed has %d tokens, window needs %d", ErrInvalidOptions, len(seed), g.MaxLen)
	}

	tokens := append(make([]int, 0, len(seed)+n), seed...)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		preds, err := g.Predictor.Predict(ctx, [][]int{g.window(tokens)})
		if err != nil {
			return nil, fmt.Errorf("prediction failed: %w", err)
		}
		if len(preds) != 1 {
			return nil, fmt.Errorf("predictor returned %d distributions for 1 context", len(preds))
		}

		next := Sample(preds[0], diversity, g.Rand)
		if next < 0 {
			return nil, ErrEmptyDistribution
		}
		tokens = append(tokens, next)

		if emit != nil {
			if err := emit(next); err != nil {
				return nil, err
			}
		}
	}
	return tokens, nil
}
