package beam

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// ScalePrediction sharpens (T < 1) or flattens (T > 1) a distribution:
// log-probabilities are divided by T and renormalized in log space so tiny
// probabilities do not underflow before normalization. T == 1 returns preds
// itself. Zero entries stay zero.
func ScalePrediction(preds []float64, temperature float64) []float64 {
	if temperature == 1.0 {
		return preds
	}

	scaled := make([]float64, len(preds))
	for i, p := range preds {
		scaled[i] = math.Log(p) / temperature
	}

	norm := floats.LogSumExp(scaled)
	if math.IsInf(norm, -1) || math.IsNaN(norm) {
		// Nothing to renormalize; leave an all-zero distribution.
		for i := range scaled {
			scaled[i] = 0
		}
		return scaled
	}

	for i, s := range scaled {
		scaled[i] = math.Exp(s - norm)
	}

	sum := floats.Sum(scaled)
	if sum > 0 {
		floats.Scale(1/sum, scaled)
	}
	return scaled
}
