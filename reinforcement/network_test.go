package reinforcement

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"gonum.org/v1/gonum/mat"
)

// squaredError regresses outputs toward target with loss mean(sum((y - t)^2)).
func squaredError(target *mat.Dense) LossFunc {
	return func(out *mat.Dense) (float64, *mat.Dense) {
		rows, cols := out.Dims()
		grad := mat.NewDense(rows, cols, nil)
		loss := 0.0
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				diff := out.At(i, j) - target.At(i, j)
				loss += diff * diff / float64(rows)
				grad.Set(i, j, 2*diff/float64(rows))
			}
		}
		return loss, grad
	}
}

func TestNetworkGradient(t *testing.T) {
	Convey("Given a small network and a regression batch", t, func() {
		rng := rand.New(rand.NewSource(9))
		net := NewNetwork([]int{3, 5, 4, 2}, 1, 0.01, 1e9, rng)
		x := mat.NewDense(4, 3, randomLogits(rng, 12, 1))
		target := mat.NewDense(4, 2, randomLogits(rng, 8, 1))
		loss := squaredError(target)

		objective := func() float64 {
			value, _ := loss(net.Forward(x))
			return value
		}

		Convey("Backpropagated gradients match central differences", func() {
			activations := net.forward(x)
			_, dOut := loss(activations[len(activations)-1])
			grads := net.backward(activations, dOut)

			const h = 1e-6
			for k, param := range net.params {
				data := param.RawMatrix().Data
				analytic := grads[k].RawMatrix().Data
				for i := range data {
					orig := data[i]
					data[i] = orig + h
					up := objective()
					data[i] = orig - h
					down := objective()
					data[i] = orig
					So(analytic[i], ShouldAlmostEqual, (up-down)/(2*h), 1e-5)
				}
			}
		})

		Convey("Repeated steps reduce the loss", func() {
			first, err := net.Step(x, loss)
			So(err, ShouldBeNil)
			for i := 0; i < 300; i++ {
				_, err = net.Step(x, loss)
				So(err, ShouldBeNil)
			}
			So(objective(), ShouldBeLessThan, first/2)
		})

		Convey("A non-finite loss is refused without touching parameters", func() {
			before := net.State()
			_, err := net.Step(x, func(out *mat.Dense) (float64, *mat.Dense) {
				rows, cols := out.Dims()
				return math.NaN(), mat.NewDense(rows, cols, nil)
			})
			So(errors.Is(err, ErrNonFinite), ShouldBeTrue)
			So(net.State(), ShouldResemble, before)
		})
	})

	Convey("Gradient clipping bounds the step of the first Adam update", t, func() {
		rng := rand.New(rand.NewSource(10))
		net := NewNetwork([]int{2, 1}, 1, 0.1, 0.5, rng)
		x := mat.NewDense(1, 2, []float64{1, 1})
		before := net.State()

		_, err := net.Step(x, squaredError(mat.NewDense(1, 1, []float64{1e6})))
		So(err, ShouldBeNil)
		after := net.State()
		for k := range after.Params {
			for i := range after.Params[k] {
				// Adam's first step moves each weight by about lr regardless of scale
				So(math.Abs(after.Params[k][i]-before.Params[k][i]), ShouldBeLessThanOrEqualTo, 0.1+1e-9)
			}
		}
	})
}

func TestNetworkState(t *testing.T) {
	Convey("Given a trained network", t, func() {
		rng := rand.New(rand.NewSource(12))
		net := NewNetwork([]int{3, 4, 2}, 1, 0.01, 1, rng)
		x := mat.NewDense(2, 3, randomLogits(rng, 6, 1))
		_, err := net.Step(x, squaredError(mat.NewDense(2, 2, []float64{1, 2, 3, 4})))
		So(err, ShouldBeNil)

		Convey("Its state restores into a fresh network of the same shape", func() {
			other := NewNetwork([]int{3, 4, 2}, 1, 0.01, 1, rand.New(rand.NewSource(99)))
			So(other.Restore(net.State()), ShouldBeNil)
			So(other.State(), ShouldResemble, net.State())
			So(mat.Equal(other.Forward(x), net.Forward(x)), ShouldBeTrue)
		})

		Convey("A differently shaped network refuses it", func() {
			other := NewNetwork([]int{3, 5, 2}, 1, 0.01, 1, rng)
			So(errors.Is(other.Restore(net.State()), ErrShapeMismatch), ShouldBeTrue)
		})
	})
}
