package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/samogod/bookrnn/pkg/beam"
	"github.com/samogod/bookrnn/pkg/config"
	"github.com/samogod/bookrnn/pkg/database"
	"github.com/samogod/bookrnn/pkg/elastic"
	"github.com/samogod/bookrnn/pkg/model"
	"github.com/samogod/bookrnn/pkg/trainer"
)

// RunTrain fits a fresh (or, with opts.Load, a restored) model, prints
// samples after every iteration and finally writes one long beam search
// sample to the output file.
func (o *Orchestrator) RunTrain(ctx context.Context, opts RunOptions) (*RunResult, error) {
	res := o.newResult(ModeTrain)
	status := database.StatusFailed
	defer func() { o.finish(res, status) }()

	c, err := o.LoadCorpus(ctx, opts.Load)
	if err != nil {
		return res, err
	}

	rng := o.newRand(opts.Seed)
	m, err := o.BuildModel(c, opts.Load, rng)
	if err != nil {
		return res, fmt.Errorf("failed to build model: %w", err)
	}
	defer m.Close()

	if err := o.saveVocab(c); err != nil {
		return res, fmt.Errorf("failed to save vocabulary: %w", err)
	}

	cfg := o.config
	length, diversity, beamWidth, output := o.generation(opts)
	iterations := cfg.Training.Iterations
	if opts.Iterations > 0 {
		iterations = opts.Iterations
	}
	sampleLength := cfg.Training.SampleLength
	if opts.Words > 0 {
		sampleLength = length
	}

	tr := trainer.New(m, trainer.Config{
		Iterations:        iterations,
		BatchSize:         cfg.Training.BatchSize,
		MaxLen:            cfg.Model.MaxLen,
		Step:              cfg.Model.Step,
		ValSplit:          cfg.Training.ValSplit,
		SampleDiversities: cfg.Training.SampleDiversities,
		SampleLength:      sampleLength,
		BeamWidth:         beamWidth,
		CheckpointPath:    cfg.Model.Checkpoint,
		CheckpointEvery:   cfg.Training.CheckpointEvery,
	}, o.logger, rng)

	var docs []elastic.SampleDocument
	tr.OnSample = func(s trainer.Sample) error {
		text, err := o.detokenize(ctx, c, s.Tokens)
		if err != nil {
			return err
		}
		fmt.Fprintln(o.out, text)
		fmt.Fprintln(o.out)

		docs = append(docs, o.record(res, s.Iteration, s.Diversity, beamWidth, s.Prob, c, s.Tokens[:s.SeedLen], text))
		return nil
	}

	res.Iterations, err = tr.Run(ctx, c.IDs)
	if err != nil {
		o.index(ctx, output, docs)
		return res, err
	}

	o.logger.Infof("Generating %d tokens into %s", cfg.Training.FinalLength, output)
	result, text, err := o.search(ctx, c, m, rng, beam.Options{
		Length:    cfg.Training.FinalLength,
		BeamWidth: beamWidth,
		Diversity: diversity,
	})
	if err != nil {
		o.index(ctx, output, docs)
		return res, err
	}
	docs = append(docs, o.record(res, len(res.Iterations)+1, diversity, beamWidth, result.Prob, c, result.Tokens[:result.SeedLen], text))
	o.index(ctx, output, docs)

	if err := writeOutput(output, text); err != nil {
		return res, err
	}

	res.Text = text
	res.Prob = result.Prob
	res.OutputFile = output
	status = database.StatusDone
	return res, nil
}

// RunGenerate restores the checkpoint and writes one sample to the output
// file.
func (o *Orchestrator) RunGenerate(ctx context.Context, opts RunOptions) (*RunResult, error) {
	res := o.newResult(ModeGenerate)
	status := database.StatusFailed
	defer func() { o.finish(res, status) }()

	c, err := o.LoadCorpus(ctx, true)
	if err != nil {
		return res, err
	}

	rng := o.newRand(opts.Seed)
	m, err := o.BuildModel(c, true, rng)
	if err != nil {
		if errors.Is(err, model.ErrNoCheckpoint) {
			return res, fmt.Errorf("%w; train a model first with --mode train", err)
		}
		return res, fmt.Errorf("failed to load model: %w", err)
	}
	defer m.Close()

	length, diversity, beamWidth, output := o.generation(opts)

	var (
		tokens  []int
		seedLen int
		text    string
		prob    = 1.0
	)
	if opts.Stream {
		beamWidth = 1
		tokens, seedLen, err = o.stream(ctx, c, m, rng, length, diversity)
		if err == nil {
			text, err = o.detokenize(ctx, c, tokens)
		}
	} else {
		var result *beam.Result
		result, text, err = o.search(ctx, c, m, rng, beam.Options{
			Length:    length,
			BeamWidth: beamWidth,
			Diversity: diversity,
		})
		if err == nil {
			tokens, seedLen, prob = result.Tokens, result.SeedLen, result.Prob
			fmt.Fprintln(o.out, text)
		}
	}
	if err != nil {
		return res, err
	}

	o.index(ctx, output, []elastic.SampleDocument{o.record(res, 0, diversity, beamWidth, prob, c, tokens[:seedLen], text)})

	if err := writeOutput(output, text); err != nil {
		return res, err
	}
	o.logger.Infof("Wrote %d tokens to %s", len(tokens)-seedLen, output)

	res.Text = text
	res.Prob = prob
	res.OutputFile = output
	status = database.StatusDone
	return res, nil
}

func (o *Orchestrator) newResult(mode string) *RunResult {
	res := &RunResult{
		RunID:     uuid.NewString(),
		Mode:      mode,
		Level:     o.config.Model.Level,
		StartTime: time.Now(),
	}

	if DebugLog != nil {
		DebugLog("starting %s run %s", mode, res.RunID)
	}
	if o.db != nil && o.db.IsEnabled() {
		if err := o.db.StartRun(res.RunID, mode, res.Level, o.config.Model.Backend); err != nil {
			o.logger.Warnf("Failed to track run in database: %v", err)
		}
	}
	return res
}

func (o *Orchestrator) finish(res *RunResult, status string) {
	res.EndTime = time.Now()
	res.Duration = res.EndTime.Sub(res.StartTime)

	if o.db != nil && o.db.IsEnabled() {
		if err := o.db.FinishRun(res.RunID, status); err != nil {
			o.logger.Warnf("Failed to update run in database: %v", err)
		}
	}
}

// record stores one sample in the database and returns its search document.
func (o *Orchestrator) record(res *RunResult, iteration int, diversity float64, beamWidth int, prob float64, c *Corpus, seed []int, text string) elastic.SampleDocument {
	res.Samples++

	if o.db != nil && o.db.IsEnabled() {
		err := o.db.TrackSamples(res.RunID, []database.SampleRecord{{
			Iteration: iteration,
			Diversity: diversity,
			Prob:      prob,
			Text:      text,
		}})
		if err != nil {
			o.logger.Warnf("Failed to track sample in database: %v", err)
		}
	}

	return elastic.SampleDocument{
		ID:        fmt.Sprintf("%s-%d", res.RunID, res.Samples),
		RunID:     res.RunID,
		Level:     res.Level,
		Iteration: iteration,
		Diversity: diversity,
		BeamWidth: beamWidth,
		Prob:      prob,
		Seed:      strings.Join(c.Vocab.Decode(seed), separator(c.Level)),
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
}

// index appends docs to the samples log beside output and indexes them
// when Elasticsearch is enabled. The log can be replayed with IndexFile.
func (o *Orchestrator) index(ctx context.Context, output string, docs []elastic.SampleDocument) {
	if len(docs) == 0 {
		return
	}

	if err := elastic.WriteJSONLines(SamplesLogPath(output), docs); err != nil {
		o.logger.Warnf("Failed to write samples log: %v", err)
	}

	if o.es == nil {
		return
	}
	if err := o.es.IndexSamples(ctx, docs); err != nil {
		o.logger.Warnf("Failed to index samples in elasticsearch: %v", err)
		return
	}
	if DebugLog != nil {
		DebugLog("indexed %d samples into %s", len(docs), o.es.Index())
	}
}

// SamplesLogPath is the JSON lines file samples for output are logged to.
func SamplesLogPath(output string) string {
	return strings.TrimSuffix(output, filepath.Ext(output)) + "_samples.jsonl"
}

// IndexFile bulk indexes a samples log into Elasticsearch.
func (o *Orchestrator) IndexFile(ctx context.Context, path string) error {
	if o.es == nil {
		return errors.New("elasticsearch is not enabled")
	}
	return o.es.IndexJSONLinesFile(ctx, path)
}

func (o *Orchestrator) search(ctx context.Context, c *Corpus, p model.Predictor, rng rand.Source, opts beam.Options) (*beam.Result, string, error) {
	seed, err := beam.RandomSeed(c.IDs, o.config.Model.MaxLen, rng)
	if err != nil {
		return nil, "", err
	}

	gen := beam.NewGenerator(p, o.config.Model.MaxLen, rng)
	gen.Progress = func(step, total, beams int) {
		o.logger.Debugf("beam search %d/%d (%d beams)", step, total, beams)
	}

	o.logger.Infof("Generating with beam search (width %d, diversity %.2f)...", opts.BeamWidth, opts.Diversity)
	result, err := gen.Search(ctx, seed, opts)
	if err != nil {
		return nil, "", fmt.Errorf("beam search failed: %w", err)
	}

	text, err := o.detokenize(ctx, c, result.Tokens)
	if err != nil {
		return nil, "", err
	}
	return result, text, nil
}

func (o *Orchestrator) stream(ctx context.Context, c *Corpus, p model.Predictor, rng rand.Source, length int, diversity float64) ([]int, int, error) {
	seed, err := beam.RandomSeed(c.IDs, o.config.Model.MaxLen, rng)
	if err != nil {
		return nil, 0, err
	}

	sep := separator(c.Level)
	fmt.Fprint(o.out, strings.Join(c.Vocab.Decode(seed), sep))

	gen := beam.NewGenerator(p, o.config.Model.MaxLen, rng)
	tokens, err := gen.Stream(ctx, seed, length, diversity, func(id int) error {
		_, err := fmt.Fprint(o.out, sep+c.Vocab.Token(id))
		return err
	})
	fmt.Fprintln(o.out)
	if err != nil {
		return nil, 0, fmt.Errorf("sampling failed: %w", err)
	}
	return tokens, len(seed), nil
}

func (o *Orchestrator) detokenize(ctx context.Context, c *Corpus, ids []int) (string, error) {
	text, err := c.Tokenizer.Detokenize(ctx, c.Vocab.Decode(ids))
	if err != nil {
		return "", fmt.Errorf("failed to detokenize: %w", err)
	}
	return text, nil
}

func separator(level string) string {
	if level == config.LevelChar {
		return ""
	}
	return " "
}

func writeOutput(path, text string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
