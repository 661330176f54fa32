package beam

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/sampleuv"
)

// nonzero counts entries with positive probability.
func nonzero(p []float64) int {
	n := 0
	for _, v := range p {
		if v > 0 {
			n++
		}
	}
	return n
}

// sampleWithoutReplacement draws up to k distinct indices of p, each draw
// weighted by the remaining probability mass. It never returns more indices
// than p has nonzero entries.
func sampleWithoutReplacement(p []float64, k int, rng rand.Source) []int {
	if n := nonzero(p); k > n {
		k = n
	}
	if k <= 0 {
		return nil
	}

	weights := make([]float64, len(p))
	for i, v := range p {
		if v > 0 {
			weights[i] = v
		}
	}

	w := sampleuv.NewWeighted(weights, rng)
	picked := make([]int, 0, k)
	for len(picked) < k {
		idx, ok := w.Take()
		if !ok {
			break
		}
		picked = append(picked, idx)
	}
	return picked
}

// Sample draws one index from p after temperature scaling. It returns -1
// when p has no positive entries.
func Sample(p []float64, temperature float64, rng rand.Source) int {
	picked := sampleWithoutReplacement(ScalePrediction(p, temperature), 1, rng)
	if len(picked) == 0 {
		return -1
	}
	return picked[0]
}
