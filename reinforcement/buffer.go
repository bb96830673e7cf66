package reinforcement

import "rlmutator/models"

// TrajectoryBuffer holds transitions in arrival order until an update consumes them.
type TrajectoryBuffer struct {
	transitions []models.Transition
}

func NewTrajectoryBuffer(capacity int) *TrajectoryBuffer {
	return &TrajectoryBuffer{
		transitions: make([]models.Transition, 0, capacity),
	}
}

func (buf *TrajectoryBuffer) Store(tr models.Transition) {
	buf.transitions = append(buf.transitions, tr)
}

func (buf *TrajectoryBuffer) Len() int {
	return len(buf.transitions)
}

// Transitions returns the stored transitions; callers must not modify them.
func (buf *TrajectoryBuffer) Transitions() []models.Transition {
	return buf.transitions
}

// Clear drops every transition while keeping the allocation.
func (buf *TrajectoryBuffer) Clear() {
	clear(buf.transitions)
	buf.transitions = buf.transitions[:0]
}
