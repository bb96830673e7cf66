package models

// Transition is one step of experience: the normalized state the policy saw, the action it
// sent, and the reward the fuzzer reported for it. Transitions are not modified once stored.
type Transition struct {
	State   []float64
	Actions []int
	Reward  float64
	// LogProb is the joint log-probability of Actions under the policy that selected them.
	LogProb float64
	// Value is the critic's estimate for State at selection time.
	Value float64
	// Done marks the end of an update interval, which also bounds GAE.
	Done bool
}

// Progress is a snapshot of training published for telemetry.
type Progress struct {
	SessionID     string
	Step          int
	Episodes      int
	EpisodeReward float64
	MovingAverage float64
	ActorLoss     float64
	CriticLoss    float64
	Updates       int
	BufferLen     int
}
