package reinforcement

import (
	"math"
	"math/rand"
	"testing"

	"rlmutator/models"

	. "github.com/smartystreets/goconvey/convey"
)

func randomLogits(rng *rand.Rand, n int, scale float64) []float64 {
	logits := make([]float64, n)
	for i := range logits {
		logits[i] = rng.NormFloat64() * scale
	}
	return logits
}

func TestSelector(t *testing.T) {
	space := models.DefaultActionSpace

	Convey("Given a selector over the default action space", t, func() {
		rng := rand.New(rand.NewSource(7))
		sel := NewSelector(space, 0, rng)

		Convey("When tier 1 is forced, no mutation at or beyond its count is ever drawn", func() {
			logits := make([]float64, space.OutputSize())
			for slot := 0; slot < space.Slots; slot++ {
				head := logits[slot*space.HeadSize():]
				head[0], head[1], head[2] = -50, 50, -50
				// favour the masked mutations as strongly as possible
				for m := 5; m < space.MaxMutations(); m++ {
					head[space.Tiers()+m] = 100
				}
			}

			otherTiers, illegal := 0, 0
			for i := 0; i < 10000; i++ {
				selection := sel.Select(logits, 0)
				for slot := 0; slot < space.Slots; slot++ {
					if selection.Actions[2*slot] != 1 {
						otherTiers++
					}
					if selection.Actions[2*slot+1] >= 5 {
						illegal++
					}
				}
			}
			So(otherTiers, ShouldEqual, 0)
			So(illegal, ShouldEqual, 0)
		})

		Convey("Random logits always produce legal actions", func() {
			bad := 0
			for i := 0; i < 2000; i++ {
				selection := sel.Select(randomLogits(rng, space.OutputSize(), 3), 1.5)
				if !space.Contains(selection.Actions) || selection.LogProb > 0 || selection.Entropy < 0 {
					bad++
				}
			}
			So(bad, ShouldEqual, 0)
		})

		Convey("The reported log-prob and entropy match a re-evaluation", func() {
			logits := randomLogits(rng, space.OutputSize(), 1)
			selection := sel.Select(logits, 0)
			ev := sel.Evaluate(logits, selection.Actions)
			So(ev.LogProb, ShouldAlmostEqual, selection.LogProb, 1e-12)
			So(ev.Entropy, ShouldAlmostEqual, selection.Entropy, 1e-12)
		})

		Convey("Uniform logits give the analytic entropy", func() {
			ev := sel.Evaluate(make([]float64, space.OutputSize()), []int{0, 0, 1, 0, 2, 0})
			// every slot: log 3 for the tier, plus log of the legal count for its tier
			want := (3*math.Log(3) + math.Log(10) + math.Log(5) + math.Log(15)) / 3
			So(ev.Entropy, ShouldAlmostEqual, want, 1e-9)
			want = -3*math.Log(3) - math.Log(10) - math.Log(5) - math.Log(15)
			So(ev.LogProb, ShouldAlmostEqual, want, 1e-9)
		})
	})

	Convey("Given a selector that always explores", t, func() {
		rng := rand.New(rand.NewSource(11))
		sel := NewSelector(space, 1, rng)

		Convey("Overridden actions are legal and carry the policy's log-prob", func() {
			for i := 0; i < 500; i++ {
				logits := randomLogits(rng, space.OutputSize(), 2)
				selection := sel.Select(logits, 0)
				So(space.Contains(selection.Actions), ShouldBeTrue)
				So(selection.LogProb, ShouldAlmostEqual, sel.Evaluate(logits, selection.Actions).LogProb, 1e-9)
			}
		})
	})
}

func TestEvaluationGradient(t *testing.T) {
	space := models.DefaultActionSpace

	Convey("Given stored actions and random logits", t, func() {
		rng := rand.New(rand.NewSource(3))
		sel := NewSelector(space, 0, rng)
		logits := randomLogits(rng, space.OutputSize(), 1)
		actions := sel.Select(logits, 0).Actions
		const gLogProb, gEntropy = -0.7, 0.3

		objective := func(z []float64) float64 {
			ev := sel.Evaluate(z, actions)
			return gLogProb*ev.LogProb + gEntropy*ev.Entropy
		}

		Convey("The analytic gradient matches central differences", func() {
			grad := make([]float64, len(logits))
			sel.Evaluate(logits, actions).backward(space, gLogProb, gEntropy, grad)

			const h = 1e-6
			for i := range logits {
				z := append([]float64(nil), logits...)
				z[i] += h
				up := objective(z)
				z[i] -= 2 * h
				down := objective(z)
				So(grad[i], ShouldAlmostEqual, (up-down)/(2*h), 1e-5)
			}
		})
	})
}

func TestSampleIndex(t *testing.T) {
	Convey("When all mass sits on one entry", t, func() {
		rng := rand.New(rand.NewSource(1))
		logProbs := logSoftmax(make([]float64, 4), maskLogits(make([]float64, 4), []float64{0, 0, 0, 0}, 1))
		for i := 0; i < 100; i++ {
			So(sampleIndex(logProbs, rng), ShouldEqual, 0)
		}
	})

	Convey("Empirical frequencies follow the distribution", t, func() {
		rng := rand.New(rand.NewSource(2))
		logProbs := []float64{math.Log(0.2), math.Log(0.5), math.Log(0.3)}
		counts := make([]float64, 3)
		const n = 20000
		for i := 0; i < n; i++ {
			counts[sampleIndex(logProbs, rng)]++
		}
		So(counts[0]/n, ShouldAlmostEqual, 0.2, 0.02)
		So(counts[1]/n, ShouldAlmostEqual, 0.5, 0.02)
		So(counts[2]/n, ShouldAlmostEqual, 0.3, 0.02)
	})
}
