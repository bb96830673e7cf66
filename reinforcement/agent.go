package reinforcement

import (
	"math/rand"
	"time"

	"rlmutator/models"
)

// Agent bundles the approximator with action selection, the trajectory buffer, and the update
// engine. It is not safe for concurrent use; the session drives it from a single goroutine.
type Agent struct {
	hp       Hyper
	model    Approximator
	selector *Selector
	buffer   *TrajectoryBuffer
	ppo      *PPO
}

// NewAgent builds an agent around a fresh ActorCritic. A zero seed seeds from the clock.
func NewAgent(space models.ActionSpace, hp Hyper) *Agent {
	seed := hp.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	return NewAgentWithModel(space, hp, NewActorCritic(space, hp, rng), rng)
}

func NewAgentWithModel(space models.ActionSpace, hp Hyper, model Approximator, rng *rand.Rand) *Agent {
	selector := NewSelector(space, hp.ExploreEpsilon, rng)
	return &Agent{
		hp:       hp,
		model:    model,
		selector: selector,
		buffer:   NewTrajectoryBuffer(hp.UpdateInterval),
		ppo:      NewPPO(hp, model, selector, rng),
	}
}

// SelectAction samples an action for an already normalized state.
func (agent *Agent) SelectAction(state []float64) Selection {
	logits, value := agent.model.Predict(state)
	return agent.selector.Select(logits, value)
}

func (agent *Agent) Store(tr models.Transition) {
	agent.buffer.Store(tr)
}

func (agent *Agent) BufferLen() int {
	return agent.buffer.Len()
}

// Update runs PPO over the buffer; see PPO.Update.
func (agent *Agent) Update() (UpdateResult, bool, error) {
	return agent.ppo.Update(agent.buffer)
}

func (agent *Agent) Model() Approximator {
	return agent.model
}

func (agent *Agent) Save(path string) error {
	return agent.model.Save(path)
}

func (agent *Agent) Load(path string) (bool, error) {
	return agent.model.Load(path)
}

// Tag stamps the next checkpoint with the session and its step count, for models that record them.
func (agent *Agent) Tag(sessionID string, steps int) {
	if tagger, ok := agent.model.(interface{ Tag(string, int) }); ok {
		tagger.Tag(sessionID, steps)
	}
}
