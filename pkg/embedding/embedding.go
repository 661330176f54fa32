// Package embedding reads pretrained word vectors and turns them into the
// weight matrix handed to word-level backends.
package embedding

import (
	"bufio"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/samogod/bookrnn/pkg/vocab"
)

var DebugLog func(string, ...interface{})

// Table maps words to vectors of length Dim.
type Table struct {
	Dim     int
	Vectors map[string][]float64
}

// LoadTable reads a GloVe style text file: one word per line followed by
// its space separated components. When keep is non-nil only words it
// accepts are stored.
func LoadTable(path string, keep func(string) bool) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open embedding table: %w", err)
	}
	defer f.Close()

	return ReadTable(f, keep)
}

func ReadTable(r io.Reader, keep func(string) bool) (*Table, error) {
	t := &Table{Vectors: make(map[string][]float64)}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}

		word := fields[0]
		if keep != nil && !keep(word) {
			continue
		}

		if t.Dim == 0 {
			t.Dim = len(fields) - 1
		} else if len(fields)-1 != t.Dim {
			return nil, fmt.Errorf("line %d: vector for %q has %d components, expected %d", lineNo, word, len(fields)-1, t.Dim)
		}

		vec := make([]float64, t.Dim)
		for i, s := range fields[1:] {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			vec[i] = v
		}
		t.Vectors[word] = vec
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read embedding table: %w", err)
	}

	if DebugLog != nil {
		DebugLog("loaded %d word vectors of dimension %d", len(t.Vectors), t.Dim)
	}
	return t, nil
}

// Matrix builds a (Size()+1) x dim weight matrix. Row i holds the vector
// of token i looked up in lower case; the last row is padding. Rows with
// no pretrained vector are drawn from a standard normal.
func Matrix(v *vocab.Vocabulary, t *Table, dim int, rng rand.Source) (*mat.Dense, int) {
	rows := v.Size() + 1
	normal := distuv.Normal{Mu: 0, Sigma: 1, Src: rng}

	data := make([]float64, rows*dim)
	for i := range data {
		data[i] = normal.Rand()
	}
	m := mat.NewDense(rows, dim, data)

	found := 0
	if t != nil && t.Dim == dim {
		for id, tok := range v.Tokens {
			vec, ok := t.Vectors[strings.ToLower(tok)]
			if !ok {
				continue
			}
			m.SetRow(id, vec)
			found++
		}
	}

	if DebugLog != nil {
		DebugLog("embedding matrix %dx%d, %d of %d tokens pretrained", rows, dim, found, v.Size())
	}
	return m, found
}

// WriteMatrix stores m as whitespace separated text, one row per line.
func WriteMatrix(path string, m mat.Matrix) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create matrix file: %w", err)
	}

	w := bufio.NewWriter(f)
	rows, cols := m.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if j > 0 {
				w.WriteByte(' ')
			}
			w.WriteString(strconv.FormatFloat(m.At(i, j), 'g', -1, 64))
		}
		w.WriteByte('\n')
	}

	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write matrix file: %w", err)
	}
	return f.Close()
}
