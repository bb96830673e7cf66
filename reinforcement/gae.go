package reinforcement

import (
	"math"

	"rlmutator/models"

	"gonum.org/v1/gonum/stat"
)

const advantageEpsilon = 1e-8

// ComputeGAE returns generalized advantage estimates and value targets, walking the trajectory
// backwards. A done transition bootstraps from nothing: both the running estimate and the next
// value reset before its own delta is computed.
func ComputeGAE(transitions []models.Transition, gamma, lambda float64) (advantages, returns []float64) {
	advantages = make([]float64, len(transitions))
	returns = make([]float64, len(transitions))

	gae, nextValue := 0.0, 0.0
	for t := len(transitions) - 1; t >= 0; t-- {
		tr := &transitions[t]
		if tr.Done {
			gae, nextValue = 0, 0
		}
		delta := tr.Reward + gamma*nextValue - tr.Value
		gae = delta + gamma*lambda*gae
		advantages[t] = gae
		returns[t] = gae + tr.Value
		nextValue = tr.Value
	}
	return
}

// StandardizeAdvantages shifts advantages to zero mean and scales them by (std + 1e-8), in place.
func StandardizeAdvantages(advantages []float64) []float64 {
	if len(advantages) == 0 {
		return advantages
	}
	mean, std := stat.MeanStdDev(advantages, nil)
	if len(advantages) < 2 || math.IsNaN(std) {
		std = 0
	}
	for i := range advantages {
		advantages[i] = (advantages[i] - mean) / (std + advantageEpsilon)
	}
	return advantages
}

// ClipAdvantages bounds every advantage to [-bound, bound], in place.
func ClipAdvantages(advantages []float64, bound float64) []float64 {
	for i, a := range advantages {
		advantages[i] = math.Max(-bound, math.Min(bound, a))
	}
	return advantages
}
