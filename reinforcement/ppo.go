package reinforcement

import (
	"fmt"
	"math"
	"math/rand"

	"rlmutator/models"

	"gonum.org/v1/gonum/mat"
)

// UpdateResult reports the mean losses over every minibatch of an update.
type UpdateResult struct {
	ActorLoss   float64
	CriticLoss  float64
	Minibatches int
}

// PPO runs clipped-surrogate updates over a trajectory buffer. Each minibatch takes one actor
// step and one critic step, on independent optimizers.
type PPO struct {
	hp       Hyper
	model    Approximator
	selector *Selector
	rng      *rand.Rand
}

func NewPPO(hp Hyper, model Approximator, selector *Selector, rng *rand.Rand) *PPO {
	return &PPO{
		hp:       hp,
		model:    model,
		selector: selector,
		rng:      rng,
	}
}

// Update trains on the buffer when it holds at least one batch. It reports false, and leaves the
// buffer as is, when there is too little data. The buffer is cleared only after a successful update.
func (ppo *PPO) Update(buf *TrajectoryBuffer) (res UpdateResult, performed bool, err error) {
	n := buf.Len()
	if n < ppo.hp.BatchSize {
		return res, false, nil
	}

	transitions := buf.Transitions()
	advantages, returns := ComputeGAE(transitions, ppo.hp.Gamma, ppo.hp.Lambda)
	ClipAdvantages(StandardizeAdvantages(advantages), ppo.hp.AdvantageClip)

	var actorTotal, criticTotal float64
	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	for epoch := 0; epoch < ppo.hp.Epochs; epoch++ {
		ppo.rng.Shuffle(n, func(i, j int) { indices[i], indices[j] = indices[j], indices[i] })

		for start := 0; start < n; start += ppo.hp.BatchSize {
			batch := indices[start:min(start+ppo.hp.BatchSize, n)]
			states := stateMatrix(transitions, batch)

			actorLoss, err := ppo.model.StepActor(states, ppo.actorLoss(transitions, batch, advantages))
			if err != nil {
				return res, false, fmt.Errorf("epoch %d: %w", epoch, err)
			}
			criticLoss, err := ppo.model.StepCritic(states, criticLoss(batch, returns))
			if err != nil {
				return res, false, fmt.Errorf("epoch %d: %w", epoch, err)
			}

			actorTotal += actorLoss
			criticTotal += criticLoss
			res.Minibatches++
		}
	}

	res.ActorLoss = actorTotal / float64(res.Minibatches)
	res.CriticLoss = criticTotal / float64(res.Minibatches)
	buf.Clear()
	return res, true, nil
}

// actorLoss is -mean(min(r*A, clip(r)*A)) - c*mean(entropy), r = exp(logp - stored logp).
func (ppo *PPO) actorLoss(transitions []models.Transition, batch []int, advantages []float64) LossFunc {
	return func(logits *mat.Dense) (float64, *mat.Dense) {
		rows, cols := logits.Dims()
		grad := mat.NewDense(rows, cols, nil)
		scale := 1 / float64(rows)
		lo, hi := 1-ppo.hp.ClipEpsilon, 1+ppo.hp.ClipEpsilon

		loss := 0.0
		for row, idx := range batch {
			tr := &transitions[idx]
			ev := ppo.selector.Evaluate(logits.RawRowView(row), tr.Actions)
			ratio := math.Exp(ev.LogProb - tr.LogProb)
			adv := advantages[idx]

			unclipped := ratio * adv
			clipped := math.Max(lo, math.Min(hi, ratio)) * adv
			surrogate := clipped
			// the clipped branch is constant in the parameters
			gLogProb := 0.0
			if unclipped <= clipped {
				surrogate = unclipped
				gLogProb = -unclipped * scale
			}

			loss -= scale * (surrogate + ppo.hp.EntropyCoef*ev.Entropy)
			ev.backward(ppo.selector.Space(), gLogProb, -ppo.hp.EntropyCoef*scale, grad.RawRowView(row))
		}
		return loss, grad
	}
}

// criticLoss is mean((v - R)^2).
func criticLoss(batch []int, returns []float64) LossFunc {
	return func(values *mat.Dense) (float64, *mat.Dense) {
		rows, _ := values.Dims()
		grad := mat.NewDense(rows, 1, nil)
		scale := 1 / float64(rows)

		loss := 0.0
		for row, idx := range batch {
			diff := values.At(row, 0) - returns[idx]
			loss += scale * diff * diff
			grad.Set(row, 0, 2*scale*diff)
		}
		return loss, grad
	}
}

func stateMatrix(transitions []models.Transition, batch []int) *mat.Dense {
	cols := len(transitions[batch[0]].State)
	states := mat.NewDense(len(batch), cols, nil)
	for row, idx := range batch {
		states.SetRow(row, transitions[idx].State)
	}
	return states
}
