package reinforcement

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// NormalizationPolicy selects the final scaling step of the normalizer.
type NormalizationPolicy string

const (
	// PolicyClip only clips into [-bound, bound].
	PolicyClip NormalizationPolicy = "clip"
	// PolicyMaxAbs clips, then divides by the largest magnitude when it exceeds one, so that
	// every output lies in [-1, 1].
	PolicyMaxAbs NormalizationPolicy = "maxabs"
)

const DefaultBound = 1e6

// Normalizer turns raw fuzzer observations into finite, bounded feature vectors of a fixed size.
type Normalizer struct {
	dim    int
	policy NormalizationPolicy
	bound  float64
}

func NewNormalizer(dim int, policy NormalizationPolicy, bound float64) (*Normalizer, error) {
	if dim < 1 {
		return nil, fmt.Errorf("%w: normalizer dim %d", ErrInvalidConfig, dim)
	}
	if !(bound > 0) || math.IsInf(bound, 0) {
		return nil, fmt.Errorf("%w: normalizer bound %v", ErrInvalidConfig, bound)
	}
	switch policy {
	case PolicyClip, PolicyMaxAbs:
	default:
		return nil, fmt.Errorf("%w: normalization policy %q", ErrInvalidConfig, policy)
	}
	return &Normalizer{dim: dim, policy: policy, bound: bound}, nil
}

func (n *Normalizer) Dim() int {
	return n.dim
}

// Range returns the interval every normalized component lies in.
func (n *Normalizer) Range() (lo, hi float64) {
	if n.policy == PolicyMaxAbs {
		return -1, 1
	}
	return -n.bound, n.bound
}

// Normalize returns a new vector of exactly Dim components. Missing trailing components are zero
// and extra ones are dropped. NaN becomes 0 and infinities become the bound of their sign.
func (n *Normalizer) Normalize(raw []float32) []float64 {
	out := make([]float64, n.dim)
	for i := 0; i < n.dim && i < len(raw); i++ {
		v := float64(raw[i])
		switch {
		case math.IsNaN(v):
			v = 0
		case v > n.bound:
			v = n.bound
		case v < -n.bound:
			v = -n.bound
		}
		out[i] = v
	}

	if n.policy == PolicyMaxAbs {
		if peak := math.Max(floats.Max(out), -floats.Min(out)); peak > 1 {
			for i := range out {
				out[i] /= peak
			}
		}
	}
	return out
}
