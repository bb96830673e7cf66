package session

// RewardWindowSize is the number of completed episodes kept for the moving average.
const RewardWindowSize = 100

// RewardWindow keeps the most recent episode rewards in a ring.
type RewardWindow struct {
	values []float64
	next   int
	full   bool
}

func NewRewardWindow(size int) *RewardWindow {
	return &RewardWindow{values: make([]float64, size)}
}

func (rw *RewardWindow) Push(reward float64) {
	rw.values[rw.next] = reward
	rw.next = (rw.next + 1) % len(rw.values)
	if rw.next == 0 {
		rw.full = true
	}
}

func (rw *RewardWindow) Len() int {
	if rw.full {
		return len(rw.values)
	}
	return rw.next
}

// Mean is the average of the retained rewards, or zero when empty.
func (rw *RewardWindow) Mean() float64 {
	n := rw.Len()
	if n == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range rw.values[:n] {
		sum += v
	}
	return sum / float64(n)
}
