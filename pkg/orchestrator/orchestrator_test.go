package orchestrator

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samogod/bookrnn/pkg/config"
	"github.com/samogod/bookrnn/pkg/model"
)

const book = "The boy ran to the river and the dog ran after the boy.\n" +
	"By sheer pluck the lad held the line until the men came.\n"

func testOrchestrator(t *testing.T, level string) (*Orchestrator, *bytes.Buffer) {
	t.Helper()

	books := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(books, "George Alfred Henty - Pluck.txt"), []byte(strings.Repeat(book, 30)), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(books, "Jules Verne - Elsewhere.txt"), []byte("zzz"), 0644))

	work := t.TempDir()
	cfg := &config.Config{}
	cfg.Corpus.Dir = books
	cfg.Model.Level = level
	cfg.Model.Checkpoint = filepath.Join(work, "model.gob")
	cfg.Generation.Output = filepath.Join(work, "generated.md")
	config.ApplyDefaults(cfg)

	cfg.Model.MaxLen = 4
	cfg.Model.Step = 1
	cfg.Training.Iterations = 2
	cfg.Training.BatchSize = 32
	cfg.Training.SampleLength = 6
	cfg.Training.FinalLength = 12
	cfg.Generation.Length = 8
	cfg.Generation.BeamWidth = 3

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	o := New(cfg, logger)
	out := &bytes.Buffer{}
	o.SetOutput(out)
	return o, out
}

func countLines(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	n := 0
	s := bufio.NewScanner(f)
	for s.Scan() {
		n++
	}
	return n
}

func TestTrainThenGenerateChars(t *testing.T) {
	o, out := testOrchestrator(t, config.LevelChar)
	ctx := context.Background()

	res, err := o.Run(ctx, RunOptions{Mode: ModeTrain, Seed: 7})
	require.NoError(t, err)
	assert.Len(t, res.Iterations, 2)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, 4*2+1, res.Samples)
	assert.Equal(t, 4+12, utf8.RuneCountInString(res.Text))
	assert.NotEmpty(t, out.String())

	written, err := os.ReadFile(o.GetConfig().Generation.Output)
	require.NoError(t, err)
	assert.Equal(t, strings.TrimSuffix(res.Text, "\n"), strings.TrimSuffix(string(written), "\n"))

	_, err = os.Stat(o.GetConfig().Model.Checkpoint)
	require.NoError(t, err)
	_, err = os.Stat(vocabPath(o.GetConfig().Model.Checkpoint))
	require.NoError(t, err)

	gen, err := o.Run(ctx, RunOptions{Mode: ModeGenerate, Words: 10, Seed: 3})
	require.NoError(t, err)
	assert.Equal(t, 4+10, utf8.RuneCountInString(gen.Text))
	assert.Equal(t, 1, gen.Samples)

	assert.Equal(t, 4*2+1+1, countLines(t, SamplesLogPath(o.GetConfig().Generation.Output)))
}

func TestGenerateIsReproducibleWithSeed(t *testing.T) {
	o, _ := testOrchestrator(t, config.LevelWord)
	ctx := context.Background()

	_, err := o.Run(ctx, RunOptions{Mode: ModeTrain, Iterations: 1, Seed: 1})
	require.NoError(t, err)

	first, err := o.Run(ctx, RunOptions{Mode: ModeGenerate, Seed: 42})
	require.NoError(t, err)
	second, err := o.Run(ctx, RunOptions{Mode: ModeGenerate, Seed: 42})
	require.NoError(t, err)

	assert.Equal(t, first.Text, second.Text)
	assert.NotEmpty(t, strings.TrimSpace(first.Text))
}

func TestGenerateStream(t *testing.T) {
	o, out := testOrchestrator(t, config.LevelChar)
	ctx := context.Background()

	_, err := o.Run(ctx, RunOptions{Mode: ModeTrain, Iterations: 1})
	require.NoError(t, err)
	out.Reset()

	res, err := o.Run(ctx, RunOptions{Mode: ModeGenerate, Stream: true, Words: 9})
	require.NoError(t, err)
	assert.Equal(t, res.Text+"\n", out.String())
	assert.Equal(t, 4+9, utf8.RuneCountInString(res.Text))
}

func TestGenerateWithoutCheckpoint(t *testing.T) {
	o, _ := testOrchestrator(t, config.LevelChar)

	_, err := o.Run(context.Background(), RunOptions{Mode: ModeGenerate})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrNoCheckpoint)
}

func TestUnknownMode(t *testing.T) {
	o, _ := testOrchestrator(t, config.LevelChar)

	_, err := o.Run(context.Background(), RunOptions{Mode: "evaluate"})
	assert.ErrorIs(t, err, ErrUnknownMode)
}

func TestMissingCorpus(t *testing.T) {
	o, _ := testOrchestrator(t, config.LevelChar)
	o.GetConfig().Corpus.Author = "Nobody"

	_, err := o.Run(context.Background(), RunOptions{Mode: ModeTrain})
	assert.Error(t, err)
}

func TestIndexFileRequiresElastic(t *testing.T) {
	o, _ := testOrchestrator(t, config.LevelChar)
	assert.Error(t, o.IndexFile(context.Background(), "samples.jsonl"))
}

func TestCustomFormatter(t *testing.T) {
	f := &customFormatter{}
	for level, want := range map[logrus.Level]string{
		logrus.InfoLevel:  "[INF] hello\n",
		logrus.WarnLevel:  "[WARN] hello\n",
		logrus.ErrorLevel: "[ERR] hello\n",
		logrus.DebugLevel: "[DBG] hello\n",
		logrus.TraceLevel: "[???] hello\n",
	} {
		got, err := f.Format(&logrus.Entry{Level: level, Message: "hello"})
		require.NoError(t, err)
		assert.Equal(t, want, string(got))
	}
}

func TestServiceGenerate(t *testing.T) {
	o, _ := testOrchestrator(t, config.LevelChar)
	ctx := context.Background()

	_, err := o.Run(ctx, RunOptions{Mode: ModeTrain, Iterations: 1})
	require.NoError(t, err)

	svc, err := o.OpenService(ctx)
	require.NoError(t, err)
	defer svc.Close()

	first, err := svc.Generate(ctx, GenerateOptions{Words: 5, Seed: 11})
	require.NoError(t, err)
	assert.Equal(t, 4+5, utf8.RuneCountInString(first.Text))
	assert.Equal(t, 1, first.Samples)

	second, err := svc.Generate(ctx, GenerateOptions{Words: 5, Seed: 11})
	require.NoError(t, err)
	assert.Equal(t, first.Text, second.Text)
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestOpenServiceWithoutCheckpoint(t *testing.T) {
	o, _ := testOrchestrator(t, config.LevelChar)

	_, err := o.OpenService(context.Background())
	assert.ErrorIs(t, err, model.ErrNoCheckpoint)
}
