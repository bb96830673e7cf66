package reinforcement

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
)

// MaskBias is added to the logits of illegal mutations. exp(MaskBias) underflows to exactly
// zero, so masked entries carry no probability mass and no gradient.
const MaskBias = -1e9

// logSoftmax writes the log-probabilities of logits into dst and returns it.
func logSoftmax(dst, logits []float64) []float64 {
	lse := floats.LogSumExp(logits)
	for i, z := range logits {
		dst[i] = z - lse
	}
	return dst
}

// maskLogits copies logits into dst, biasing every index at or beyond valid.
func maskLogits(dst, logits []float64, valid int) []float64 {
	for i, z := range logits {
		if i >= valid {
			z += MaskBias
		}
		dst[i] = z
	}
	return dst
}

// sampleIndex draws from the distribution given by logProbs. It never returns an index whose
// probability is zero.
func sampleIndex(logProbs []float64, rng *rand.Rand) int {
	u := rng.Float64()
	cumulative := 0.0
	last := 0
	for i, lp := range logProbs {
		p := math.Exp(lp)
		if p == 0 {
			continue
		}
		last = i
		cumulative += p
		if u < cumulative {
			return i
		}
	}
	// rounding left u beyond the accumulated mass
	return last
}

// entropy is -sum(p*log p); zero-probability entries contribute nothing.
func entropy(logProbs []float64) (h float64) {
	for _, lp := range logProbs {
		if p := math.Exp(lp); p > 0 {
			h -= p * lp
		}
	}
	return
}

// addLogProbGrad accumulates scale * d(log p[chosen])/d(logits) into grad.
func addLogProbGrad(grad, logProbs []float64, chosen int, scale float64) {
	for i, lp := range logProbs {
		g := -math.Exp(lp)
		if i == chosen {
			g += 1
		}
		grad[i] += scale * g
	}
}

// addEntropyGrad accumulates scale * dH/d(logits) into grad, where dH/dz_i = -p_i(log p_i + H).
func addEntropyGrad(grad, logProbs []float64, h, scale float64) {
	for i, lp := range logProbs {
		if p := math.Exp(lp); p > 0 {
			grad[i] -= scale * p * (lp + h)
		}
	}
}
