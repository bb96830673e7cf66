package reinforcement

import (
	"fmt"
	"math/rand"

	"rlmutator/models"

	"gonum.org/v1/gonum/mat"
)

// Approximator is the capability the training loop needs from its function approximators:
// inference for a single state, one gradient step for each of the policy and the critic under
// a caller-supplied loss, and persistence.
type Approximator interface {
	// Predict returns the flat policy logits, laid out per slot as in Selector, and the value.
	Predict(state []float64) (logits []float64, value float64)
	// StepActor applies one policy update; loss receives the batch logits, one row per state.
	StepActor(states mat.Matrix, loss LossFunc) (float64, error)
	// StepCritic applies one value update; loss receives an n x 1 matrix of values.
	StepCritic(states mat.Matrix, loss LossFunc) (float64, error)
	Save(path string) error
	// Load restores a saved snapshot, reporting false if none exists at path.
	Load(path string) (bool, error)
}

// ActorCritic is a pair of independent networks with their own optimizers.
type ActorCritic struct {
	actor  *Network
	critic *Network
	meta   checkpointMeta
}

// actorOutScale keeps the initial policy close to uniform.
const actorOutScale = 0.01

func NewActorCritic(space models.ActionSpace, hp Hyper, rng *rand.Rand) *ActorCritic {
	hidden := hp.HiddenSize
	return &ActorCritic{
		actor: NewNetwork(
			[]int{hp.StateDim, hidden, hidden, space.OutputSize()},
			actorOutScale, hp.ActorLR, hp.MaxGradNorm, rng),
		critic: NewNetwork(
			[]int{hp.StateDim, hidden, hidden, 1},
			1, hp.CriticLR, hp.MaxGradNorm, rng),
	}
}

func (ac *ActorCritic) Predict(state []float64) ([]float64, float64) {
	x := mat.NewDense(1, len(state), state)
	logits := ac.actor.Forward(x).RawRowView(0)
	value := ac.critic.Forward(x).At(0, 0)
	return append([]float64(nil), logits...), value
}

func (ac *ActorCritic) StepActor(states mat.Matrix, loss LossFunc) (float64, error) {
	value, err := ac.actor.Step(states, loss)
	if err != nil {
		return value, fmt.Errorf("actor step: %w", err)
	}
	return value, nil
}

func (ac *ActorCritic) StepCritic(states mat.Matrix, loss LossFunc) (float64, error) {
	value, err := ac.critic.Step(states, loss)
	if err != nil {
		return value, fmt.Errorf("critic step: %w", err)
	}
	return value, nil
}

// Tag records who is writing the snapshot; it is stored alongside the parameters.
func (ac *ActorCritic) Tag(sessionID string, steps int) {
	ac.meta.SessionID = sessionID
	ac.meta.Steps = steps
}
