package orchestrator

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/samogod/bookrnn/pkg/config"
	"github.com/samogod/bookrnn/pkg/corpus"
	"github.com/samogod/bookrnn/pkg/embedding"
	"github.com/samogod/bookrnn/pkg/model"
	"github.com/samogod/bookrnn/pkg/persistence"
	"github.com/samogod/bookrnn/pkg/session"
	"github.com/samogod/bookrnn/pkg/tokenizer"
	"github.com/samogod/bookrnn/pkg/vocab"
)

// Corpus is the tokenized training text with the vocabulary it was
// encoded with.
type Corpus struct {
	Level     string
	Tokenizer tokenizer.Tokenizer
	Vocab     *vocab.Vocabulary
	IDs       []int
}

// savedVocab is stored next to a checkpoint so generation decodes with the
// ids the model was trained on.
type savedVocab struct {
	Level     string
	Tokens    []string
	UnknownID int
}

func vocabPath(checkpoint string) string {
	return checkpoint + ".vocab"
}

// LoadCorpus reads the configured author's books and encodes them. When
// reuseVocab is set and a vocabulary was saved beside the checkpoint it is
// used instead of a fresh one.
func (o *Orchestrator) LoadCorpus(ctx context.Context, reuseVocab bool) (*Corpus, error) {
	cfg := o.config
	level := cfg.Model.Level

	lib := corpus.New(cfg.Corpus.Dir)
	text, err := lib.Load(cfg.Corpus.Author, cfg.Corpus.MaxChars)
	if err != nil {
		return nil, fmt.Errorf("failed to load corpus: %w", err)
	}
	o.logger.Infof("Loaded %d characters of %s from %s", len([]rune(text)), cfg.Corpus.Author, cfg.Corpus.Dir)

	tok := tokenizer.New(level, cfg.Tokenizer)
	o.logger.Info("Tokenizing...")
	tokens, err := tok.Tokenize(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to tokenize corpus: %w", err)
	}

	var v *vocab.Vocabulary
	if reuseVocab {
		v, err = o.loadVocab(level)
		if err != nil {
			return nil, err
		}
	}
	if v == nil {
		if level == config.LevelChar {
			v = vocab.NewChars(text)
		} else {
			v = vocab.NewWords(tokens, cfg.Model.VocabSize)
		}
	}

	ids, err := v.Encode(tokens)
	if err != nil {
		return nil, fmt.Errorf("failed to encode corpus: %w", err)
	}

	o.logger.Infof("%d tokens, vocabulary of %d", len(ids), v.Size())

	return &Corpus{
		Level:     level,
		Tokenizer: tok,
		Vocab:     v,
		IDs:       ids,
	}, nil
}

func (o *Orchestrator) loadVocab(level string) (*vocab.Vocabulary, error) {
	var saved savedVocab
	path := vocabPath(o.config.Model.Checkpoint)
	if err := persistence.LoadGob(path, &saved); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if DebugLog != nil {
				DebugLog("no saved vocabulary at %s, rebuilding from corpus", path)
			}
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load vocabulary: %w", err)
	}
	if saved.Level != level {
		return nil, fmt.Errorf("vocabulary at %s is %s level, expected %s", path, saved.Level, level)
	}
	return vocab.Restore(saved.Tokens, saved.UnknownID), nil
}

func (o *Orchestrator) saveVocab(c *Corpus) error {
	return persistence.SaveGob(vocabPath(o.config.Model.Checkpoint), savedVocab{
		Level:     c.Level,
		Tokens:    c.Vocab.Tokens,
		UnknownID: c.Vocab.UnknownID,
	})
}

// BuildModel creates or restores the configured backend for c.
func (o *Orchestrator) BuildModel(c *Corpus, load bool, rng rand.Source) (model.Model, error) {
	cfg := o.config
	opts := model.Options{
		VocabSize: c.Vocab.Size(),
		MaxLen:    cfg.Model.MaxLen,
	}

	if cfg.Model.Backend == config.BackendSubprocess && c.Level == config.LevelWord {
		if err := o.prepareWordInputs(c, &opts, rng); err != nil {
			return nil, err
		}
	}

	if load {
		o.logger.Infof("Loading model from %s", cfg.Model.Checkpoint)
		return model.Load(cfg.Model, opts, cfg.Model.Checkpoint)
	}

	o.logger.Infof("Building %s model...", cfg.Model.Backend)
	return model.New(cfg.Model, opts)
}

// prepareWordInputs writes the files word-level backends initialize their
// input layers from: the pretrained embedding matrix and the character
// spelling of each word.
func (o *Orchestrator) prepareWordInputs(c *Corpus, opts *model.Options, rng rand.Source) error {
	dir := config.GetCacheDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	chars := vocab.NewChars(strings.Join(c.Vocab.Tokens, ""))
	spellings, err := vocab.PadWords(c.Vocab.Tokens, chars, o.config.Model.MaxWordLen)
	if err != nil {
		return fmt.Errorf("failed to spell vocabulary: %w", err)
	}
	opts.WordCharsPath = filepath.Join(dir, "word_chars.txt")
	if err := writeIntRows(opts.WordCharsPath, spellings); err != nil {
		return err
	}

	if !o.config.Embedding.Enabled {
		return nil
	}

	d := embedding.NewDownloader("", session.New(o.config))
	tablePath, err := embedding.Resolve(o.config.Embedding, d)
	if err != nil {
		return fmt.Errorf("failed to locate embedding table: %w", err)
	}

	wanted := make(map[string]bool, c.Vocab.Size())
	for _, tok := range c.Vocab.Tokens {
		wanted[strings.ToLower(tok)] = true
	}
	o.logger.Infof("Reading word vectors from %s", tablePath)
	table, err := embedding.LoadTable(tablePath, func(w string) bool { return wanted[w] })
	if err != nil {
		return err
	}

	m, found := embedding.Matrix(c.Vocab, table, o.config.Embedding.Dim, rng)
	o.logger.Infof("Found %d word vectors for %d tokens", found, c.Vocab.Size())

	opts.EmbeddingPath = filepath.Join(dir, "embedding_matrix.txt")
	return embedding.WriteMatrix(opts.EmbeddingPath, m)
}

func writeIntRows(path string, rows [][]int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	w := bufio.NewWriter(f)
	for _, row := range rows {
		for j, v := range row {
			if j > 0 {
				w.WriteByte(' ')
			}
			w.WriteString(strconv.Itoa(v))
		}
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
