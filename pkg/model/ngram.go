package model

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"

	"github.com/samogod/bookrnn/pkg/dataset"
	"github.com/samogod/bookrnn/pkg/persistence"
)

const ngramKind = "ngram"

// interpolationKappa controls how quickly a history's own counts outweigh
// the shorter history it backs off to: a history seen n times gets weight
// n/(n+kappa).
const interpolationKappa = 2.0

// NGram is an interpolated count model. The probability of w after history
// h of length k is
//
//	P_k(w|h) = l*c(h,w)/c(h) + (1-l)*P_{k-1}(w|h'),  l = c(h)/(c(h)+kappa)
//
// bottoming out in add-one smoothed unigram frequencies, so every token
// always has nonzero probability.
type NGram struct {
	Kind      string
	Order     int
	Vocab     int
	Unigrams  []float64
	Total     float64
	Histories map[string]map[int]float64
	Totals    map[string]float64
	Batches   int
}

func NewNGram(order, vocabSize int) *NGram {
	if order < 1 {
		order = 1
	}
	return &NGram{
		Kind:      ngramKind,
		Order:     order,
		Vocab:     vocabSize,
		Unigrams:  make([]float64, vocabSize),
		Histories: make(map[string]map[int]float64),
		Totals:    make(map[string]float64),
	}
}

func LoadNGram(path string) (*NGram, error) {
	var m NGram
	if err := persistence.LoadGob(path, &m); err != nil {
		return nil, err
	}
	if m.Kind != ngramKind {
		return nil, fmt.Errorf("%s is not an ngram checkpoint", path)
	}
	if m.Histories == nil {
		m.Histories = make(map[string]map[int]float64)
	}
	if m.Totals == nil {
		m.Totals = make(map[string]float64)
	}
	return &m, nil
}

func (m *NGram) VocabSize() int {
	return m.Vocab
}

func historyKey(h []int) string {
	var sb strings.Builder
	for i, id := range h {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Itoa(id))
	}
	return sb.String()
}

// distribution writes P(.|context) into dst.
func (m *NGram) distribution(context []int, dst []float64) {
	denom := m.Total + float64(m.Vocab)
	for w := range dst {
		dst[w] = (m.Unigrams[w] + 1) / denom
	}

	for k := 1; k < m.Order && k <= len(context); k++ {
		key := historyKey(context[len(context)-k:])
		total := m.Totals[key]
		if total == 0 {
			// Longer histories extend this one, so they are unseen too.
			break
		}

		lambda := total / (total + interpolationKappa)
		floats.Scale(1-lambda, dst)
		for w, c := range m.Histories[key] {
			dst[w] += lambda * c / total
		}
	}
}

func (m *NGram) Predict(ctx context.Context, contexts [][]int) ([][]float64, error) {
	out := make([][]float64, len(contexts))
	for i, c := range contexts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = make([]float64, m.Vocab)
		m.distribution(c, out[i])
	}
	return out, nil
}

func (m *NGram) Fit(ctx context.Context, batch dataset.Batch) (float64, error) {
	preds, err := m.Predict(ctx, batch.Contexts)
	if err != nil {
		return 0, err
	}
	loss := CrossEntropy(preds, batch.Targets)

	for i, target := range batch.Targets {
		if target < 0 || target >= m.Vocab {
			return 0, fmt.Errorf("target %d outside vocabulary of %d", target, m.Vocab)
		}
		m.observe(batch.Contexts[i], target)
	}
	m.Batches++

	return loss, nil
}

func (m *NGram) observe(context []int, target int) {
	m.Unigrams[target]++
	m.Total++

	for k := 1; k < m.Order && k <= len(context); k++ {
		key := historyKey(context[len(context)-k:])
		counts, ok := m.Histories[key]
		if !ok {
			counts = make(map[int]float64)
			m.Histories[key] = counts
		}
		counts[target]++
		m.Totals[key]++
	}
}

func (m *NGram) Save(path string) error {
	return persistence.SaveGob(path, m)
}

func (m *NGram) Close() error {
	return nil
}
