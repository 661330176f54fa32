// Package dataset cuts a token stream into semi-redundant training windows.
package dataset

// Example is a context window and the token that follows it.
type Example struct {
	Context []int
	Target  int
}

// Batch is a group of examples fitted together.
type Batch struct {
	Contexts [][]int
	Targets  []int
}

func (b Batch) Len() int {
	return len(b.Targets)
}

// TotalSamples is the number of windows Windows produces for n tokens.
func TotalSamples(n, maxlen, step int) int {
	if n <= maxlen || step < 1 {
		return 0
	}
	return (n-maxlen-1)/step + 1
}

// Windows returns every maxlen-wide window starting at multiples of step,
// paired with the token right after it. Contexts share memory with tokens.
func Windows(tokens []int, maxlen, step int) []Example {
	examples := make([]Example, 0, TotalSamples(len(tokens), maxlen, step))
	for i := 0; i+maxlen < len(tokens); i += step {
		examples = append(examples, Example{
			Context: tokens[i : i+maxlen],
			Target:  tokens[i+maxlen],
		})
	}
	return examples
}

// Split divides tokens into a leading training part and a trailing
// validation part holding valSplit of the stream.
func Split(tokens []int, valSplit float64) (train, val []int) {
	cut := int((1 - valSplit) * float64(len(tokens)))
	if cut < 0 {
		cut = 0
	}
	if cut > len(tokens) {
		cut = len(tokens)
	}
	return tokens[:cut], tokens[cut:]
}

// Chunker yields batches from consecutive slices of the stream and wraps
// around to the start once the next slice would run past the end.
type Chunker struct {
	data      []int
	maxlen    int
	step      int
	batchSize int
	idx       int
}

func NewChunker(data []int, maxlen, step, batchSize int) *Chunker {
	return &Chunker{
		data:      data,
		maxlen:    maxlen,
		step:      step,
		batchSize: batchSize,
	}
}

// TokensPerBatch is the stream length one full batch of windows spans.
func (c *Chunker) TokensPerBatch() int {
	return (c.batchSize-1)*c.step + c.maxlen + 1
}

// Next returns the next batch. When the stream is shorter than one chunk it
// returns every window the whole stream holds.
func (c *Chunker) Next() Batch {
	tpb := c.TokensPerBatch()

	var chunk []int
	if tpb >= len(c.data) {
		chunk = c.data
	} else {
		if (c.idx+1)*tpb >= len(c.data) {
			c.idx = 0
		}
		chunk = c.data[c.idx*tpb : (c.idx+1)*tpb]
		c.idx++
	}

	examples := Windows(chunk, c.maxlen, c.step)
	batch := Batch{
		Contexts: make([][]int, len(examples)),
		Targets:  make([]int, len(examples)),
	}
	for i, ex := range examples {
		batch.Contexts[i] = ex.Context
		batch.Targets[i] = ex.Target
	}
	return batch
}

// StepsPerEpoch mirrors the fit_generator step count: the number of full
// batches in the stream, never less than one.
func StepsPerEpoch(n, maxlen, step, batchSize int) int {
	steps := TotalSamples(n, maxlen, step) / batchSize
	if steps < 1 {
		return 1
	}
	return steps
}
