package reinforcement

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ErrNonFinite is returned when a loss or gradient is NaN or infinite; the parameters are left
// untouched so the last good state can still be saved.
var ErrNonFinite = errors.New("non-finite loss or gradient")

// LossFunc maps a batch of network outputs (one row per sample) to the scalar loss and its
// gradient with respect to those outputs.
type LossFunc func(outputs *mat.Dense) (loss float64, grad *mat.Dense)

const (
	adamBeta1   = 0.9
	adamBeta2   = 0.999
	adamEpsilon = 1e-8
)

// Network is a fully connected tanh network with a linear output layer, trained with Adam.
type Network struct {
	sizes []int
	// params alternates weights (in x out) and biases (1 x out) per layer.
	params      []*mat.Dense
	moments     []adamMoments
	step        int
	lr          float64
	maxGradNorm float64
}

type adamMoments struct {
	m, v []float64
}

// NewNetwork builds a network through the given layer sizes, input first. The output layer's
// initial weights are multiplied by outScale.
func NewNetwork(sizes []int, outScale, lr, maxGradNorm float64, rng *rand.Rand) *Network {
	net := &Network{
		sizes:       append([]int(nil), sizes...),
		lr:          lr,
		maxGradNorm: maxGradNorm,
	}
	for l := 0; l+1 < len(sizes); l++ {
		in, out := sizes[l], sizes[l+1]
		scale := math.Sqrt(1 / float64(in))
		if l+2 == len(sizes) {
			scale *= outScale
		}
		weights := make([]float64, in*out)
		for i := range weights {
			weights[i] = rng.NormFloat64() * scale
		}
		net.params = append(net.params, mat.NewDense(in, out, weights), mat.NewDense(1, out, nil))
		net.moments = append(net.moments,
			adamMoments{m: make([]float64, in*out), v: make([]float64, in*out)},
			adamMoments{m: make([]float64, out), v: make([]float64, out)})
	}
	return net
}

func (net *Network) OutputSize() int {
	return net.sizes[len(net.sizes)-1]
}

func (net *Network) layers() int {
	return len(net.params) / 2
}

// Forward evaluates a batch, one sample per row.
func (net *Network) Forward(x mat.Matrix) *mat.Dense {
	activations := net.forward(x)
	return activations[len(activations)-1]
}

// forward returns the input followed by every layer's output.
func (net *Network) forward(x mat.Matrix) []*mat.Dense {
	rows, _ := x.Dims()
	activations := make([]*mat.Dense, 0, net.layers()+1)
	activations = append(activations, mat.DenseCopyOf(x))

	for l := 0; l < net.layers(); l++ {
		weights, bias := net.params[2*l], net.params[2*l+1]
		_, out := weights.Dims()
		z := mat.NewDense(rows, out, nil)
		z.Mul(activations[l], weights)
		hidden := l+1 < net.layers()
		z.Apply(func(_, j int, v float64) float64 {
			v += bias.At(0, j)
			if hidden {
				return math.Tanh(v)
			}
			return v
		}, z)
		activations = append(activations, z)
	}
	return activations
}

// backward returns the parameter gradients, aligned with params, for dOut = dLoss/dOutputs.
func (net *Network) backward(activations []*mat.Dense, dOut *mat.Dense) []*mat.Dense {
	grads := make([]*mat.Dense, len(net.params))
	delta := mat.DenseCopyOf(dOut)

	for l := net.layers() - 1; l >= 0; l-- {
		if l+1 < net.layers() {
			out := activations[l+1]
			delta.Apply(func(i, j int, v float64) float64 {
				a := out.At(i, j)
				return v * (1 - a*a)
			}, delta)
		}

		rows, cols := delta.Dims()
		gw := &mat.Dense{}
		gw.Mul(activations[l].T(), delta)
		gb := make([]float64, cols)
		for i := 0; i < rows; i++ {
			floats.Add(gb, delta.RawRowView(i))
		}
		grads[2*l], grads[2*l+1] = gw, mat.NewDense(1, cols, gb)

		if l > 0 {
			next := &mat.Dense{}
			next.Mul(delta, net.params[2*l].T())
			delta = next
		}
	}
	return grads
}

// Step runs one optimizer step on the batch x under loss and returns the loss before the step.
func (net *Network) Step(x mat.Matrix, loss LossFunc) (float64, error) {
	activations := net.forward(x)
	value, dOut := loss(activations[len(activations)-1])
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return value, fmt.Errorf("%w: loss %v", ErrNonFinite, value)
	}

	grads := net.backward(activations, dOut)
	norm := 0.0
	for _, g := range grads {
		raw := g.RawMatrix().Data
		norm += floats.Dot(raw, raw)
	}
	norm = math.Sqrt(norm)
	if math.IsNaN(norm) || math.IsInf(norm, 0) {
		return value, fmt.Errorf("%w: gradient norm %v", ErrNonFinite, norm)
	}
	if norm > net.maxGradNorm {
		for _, g := range grads {
			g.Scale(net.maxGradNorm/(norm+1e-6), g)
		}
	}

	net.adam(grads)
	return value, nil
}

func (net *Network) adam(grads []*mat.Dense) {
	net.step++
	correct1 := 1 - math.Pow(adamBeta1, float64(net.step))
	correct2 := 1 - math.Pow(adamBeta2, float64(net.step))

	for k, param := range net.params {
		data := param.RawMatrix().Data
		grad := grads[k].RawMatrix().Data
		mom := net.moments[k]
		for i, g := range grad {
			mom.m[i] = adamBeta1*mom.m[i] + (1-adamBeta1)*g
			mom.v[i] = adamBeta2*mom.v[i] + (1-adamBeta2)*g*g
			mHat := mom.m[i] / correct1
			vHat := mom.v[i] / correct2
			data[i] -= net.lr * mHat / (math.Sqrt(vHat) + adamEpsilon)
		}
	}
}

// NetworkState is the serializable form of a network: parameters and optimizer moments.
type NetworkState struct {
	Sizes  []int       `cbor:"sizes"`
	Params [][]float64 `cbor:"params"`
	M      [][]float64 `cbor:"m"`
	V      [][]float64 `cbor:"v"`
	Step   int         `cbor:"step"`
}

// ErrShapeMismatch is returned when restoring a state built for a different architecture.
var ErrShapeMismatch = errors.New("network shape mismatch")

func (net *Network) State() NetworkState {
	state := NetworkState{
		Sizes: append([]int(nil), net.sizes...),
		Step:  net.step,
	}
	for k, param := range net.params {
		state.Params = append(state.Params, append([]float64(nil), param.RawMatrix().Data...))
		state.M = append(state.M, append([]float64(nil), net.moments[k].m...))
		state.V = append(state.V, append([]float64(nil), net.moments[k].v...))
	}
	return state
}

func (net *Network) Restore(state NetworkState) error {
	if !slices.Equal(state.Sizes, net.sizes) {
		return fmt.Errorf("%w: stored %v, configured %v", ErrShapeMismatch, state.Sizes, net.sizes)
	}
	if len(state.Params) != len(net.params) || len(state.M) != len(net.params) || len(state.V) != len(net.params) {
		return fmt.Errorf("%w: stored %d parameter blocks, configured %d", ErrShapeMismatch, len(state.Params), len(net.params))
	}
	for k, param := range net.params {
		data := param.RawMatrix().Data
		if len(state.Params[k]) != len(data) || len(state.M[k]) != len(data) || len(state.V[k]) != len(data) {
			return fmt.Errorf("%w: block %d", ErrShapeMismatch, k)
		}
	}

	for k, param := range net.params {
		copy(param.RawMatrix().Data, state.Params[k])
		copy(net.moments[k].m, state.M[k])
		copy(net.moments[k].v, state.V[k])
	}
	net.step = state.Step
	return nil
}
