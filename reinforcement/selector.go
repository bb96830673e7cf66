package reinforcement

import (
	"math/rand"

	"rlmutator/models"
)

// Selection is one sampled action vector with the policy's view of it.
type Selection struct {
	// Actions holds a (tier, mutation) pair per slot.
	Actions []int
	// LogProb is the joint log-probability, the sum over slots.
	LogProb float64
	// Value is the critic's estimate for the state.
	Value float64
	// Entropy is the mean over slots of H(tier) + H(mutation | sampled tier).
	Entropy float64
}

// Selector samples hierarchical masked actions from the policy's flat logit vector. Each slot's
// head is laid out as Tiers() tier logits followed by MaxMutations() mutation logits; a slot
// first draws a tier and then a mutation among that tier's legal ones.
type Selector struct {
	space models.ActionSpace
	// explore is the per-slot probability of replacing the sample with a uniform legal choice.
	// The reported log-prob stays the policy's, so these steps are slightly off-policy.
	explore float64
	rng     *rand.Rand
}

func NewSelector(space models.ActionSpace, explore float64, rng *rand.Rand) *Selector {
	return &Selector{
		space:   space,
		explore: explore,
		rng:     rng,
	}
}

func (sel *Selector) Space() models.ActionSpace {
	return sel.space
}

// Select samples an action vector from logits.
func (sel *Selector) Select(logits []float64, value float64) Selection {
	tiers := sel.space.Tiers()
	headSize := sel.space.HeadSize()
	tierLP := make([]float64, tiers)
	masked := make([]float64, sel.space.MaxMutations())
	mutLP := make([]float64, len(masked))

	selection := Selection{
		Actions: make([]int, 0, sel.space.ActionLen()),
		Value:   value,
	}
	for slot := 0; slot < sel.space.Slots; slot++ {
		head := logits[slot*headSize : (slot+1)*headSize]
		logSoftmax(tierLP, head[:tiers])
		tier := sampleIndex(tierLP, sel.rng)
		logSoftmax(mutLP, maskLogits(masked, head[tiers:], sel.space.MutationCounts[tier]))
		mutation := sampleIndex(mutLP, sel.rng)

		if sel.explore > 0 && sel.rng.Float64() < sel.explore {
			tier = sel.rng.Intn(tiers)
			logSoftmax(mutLP, maskLogits(masked, head[tiers:], sel.space.MutationCounts[tier]))
			mutation = sel.rng.Intn(sel.space.MutationCounts[tier])
		}

		selection.Actions = append(selection.Actions, tier, mutation)
		selection.LogProb += tierLP[tier] + mutLP[mutation]
		selection.Entropy += entropy(tierLP) + entropy(mutLP)
	}
	selection.Entropy /= float64(sel.space.Slots)
	return selection
}

// Evaluation holds the per-slot distributions of stored actions under fresh logits.
type Evaluation struct {
	actions []int
	tierLPs [][]float64
	mutLPs  [][]float64
	tierHs  []float64
	mutHs   []float64
	LogProb float64
	Entropy float64
}

// Evaluate recomputes the joint log-prob and entropy estimate of stored actions, masking each
// slot's mutations by its stored tier.
func (sel *Selector) Evaluate(logits []float64, actions []int) *Evaluation {
	tiers := sel.space.Tiers()
	headSize := sel.space.HeadSize()
	slots := sel.space.Slots
	masked := make([]float64, sel.space.MaxMutations())

	ev := &Evaluation{
		actions: actions,
		tierLPs: make([][]float64, slots),
		mutLPs:  make([][]float64, slots),
		tierHs:  make([]float64, slots),
		mutHs:   make([]float64, slots),
	}
	for slot := 0; slot < slots; slot++ {
		head := logits[slot*headSize : (slot+1)*headSize]
		tier, mutation := actions[2*slot], actions[2*slot+1]

		ev.tierLPs[slot] = logSoftmax(make([]float64, tiers), head[:tiers])
		maskLogits(masked, head[tiers:], sel.space.MutationCounts[tier])
		ev.mutLPs[slot] = logSoftmax(make([]float64, len(masked)), masked)
		ev.tierHs[slot] = entropy(ev.tierLPs[slot])
		ev.mutHs[slot] = entropy(ev.mutLPs[slot])

		ev.LogProb += ev.tierLPs[slot][tier] + ev.mutLPs[slot][mutation]
		ev.Entropy += ev.tierHs[slot] + ev.mutHs[slot]
	}
	ev.Entropy /= float64(slots)
	return ev
}

// backward accumulates dLoss/dLogits into grad, given dLoss/dLogProb and dLoss/dEntropy.
func (ev *Evaluation) backward(space models.ActionSpace, gLogProb, gEntropy float64, grad []float64) {
	tiers := space.Tiers()
	headSize := space.HeadSize()
	perSlotEntropy := gEntropy / float64(space.Slots)
	for slot := range ev.tierLPs {
		head := grad[slot*headSize : (slot+1)*headSize]
		tier, mutation := ev.actions[2*slot], ev.actions[2*slot+1]

		addLogProbGrad(head[:tiers], ev.tierLPs[slot], tier, gLogProb)
		addLogProbGrad(head[tiers:], ev.mutLPs[slot], mutation, gLogProb)
		addEntropyGrad(head[:tiers], ev.tierLPs[slot], ev.tierHs[slot], perSlotEntropy)
		addEntropyGrad(head[tiers:], ev.mutLPs[slot], ev.mutHs[slot], perSlotEntropy)
	}
}
