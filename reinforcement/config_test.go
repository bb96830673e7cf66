package reinforcement

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

const testConfig = `
kind: ppo
def:
  hyperParams:
    - key: gamma
      val: 0.9
    - key: batchSize
      val: 32
    - key: stateDim
      val: 100
  actionSpace:
    slots: 2
    mutationCounts: [4, 8]
  session:
    socketPath: /tmp/fuzz.sock
    checkpointPath: model.ckpt
    logInterval: 50
    readTimeout: 30s
  normalization:
    policy: clip
    bound: 100
  trainingDeadline:
    duration: 1h
`

func writeConfig(t *testing.T, body string) string {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFromYaml(t *testing.T) {
	Convey("Given a ppo config file", t, func() {
		cfg, err := FromYaml(writeConfig(t, testConfig))
		So(err, ShouldBeNil)

		Convey("Listed hyper-parameters override the defaults", func() {
			hp, err := cfg.Hyper()
			So(err, ShouldBeNil)
			So(hp.Gamma, ShouldEqual, 0.9)
			So(hp.BatchSize, ShouldEqual, 32)
			So(hp.StateDim, ShouldEqual, 100)
			So(hp.Lambda, ShouldEqual, 0.95)
			So(hp.UpdateInterval, ShouldEqual, 128)
		})

		Convey("The nested sections are decoded", func() {
			space, err := cfg.Space()
			So(err, ShouldBeNil)
			So(space.Slots, ShouldEqual, 2)
			So(space.MutationCounts, ShouldResemble, []int{4, 8})

			socket, err := cfg.SocketPath()
			So(err, ShouldBeNil)
			So(socket, ShouldEqual, "/tmp/fuzz.sock")
			So(cfg.LogInterval(), ShouldEqual, 50)
			timeout, err := cfg.ReadTimeout()
			So(err, ShouldBeNil)
			So(timeout, ShouldEqual, 30*time.Second)

			norm, err := cfg.Normalizer(4)
			So(err, ShouldBeNil)
			lo, hi := norm.Range()
			So(lo, ShouldEqual, -100)
			So(hi, ShouldEqual, 100)
		})

		Convey("The training deadline bounds the context", func() {
			ctx, cancel, err := cfg.WithTrainingDeadline(context.Background())
			So(err, ShouldBeNil)
			defer cancel()
			deadline, ok := ctx.Deadline()
			So(ok, ShouldBeTrue)
			So(time.Until(deadline), ShouldBeGreaterThan, 59*time.Minute)
		})
	})

	Convey("Given an empty config", t, func() {
		cfg := DefaultConfig()

		Convey("The fuzzer's defaults apply", func() {
			hp, err := cfg.Hyper()
			So(err, ShouldBeNil)
			So(hp.StateDim, ShouldEqual, 95)
			So(hp.UpdateInterval, ShouldEqual, 128)
			So(hp.BatchSize, ShouldEqual, 64)
			So(hp.Epochs, ShouldEqual, 10)
			So(hp.ClipEpsilon, ShouldEqual, 0.2)
			So(hp.ExploreEpsilon, ShouldEqual, 0)

			space, err := cfg.Space()
			So(err, ShouldBeNil)
			So(space.MutationCounts, ShouldResemble, []int{10, 5, 15})

			socket, err := cfg.SocketPath()
			So(err, ShouldBeNil)
			home, _ := os.UserHomeDir()
			So(socket, ShouldEqual, filepath.Join(home, "testing.sock"))

			ctx, cancel, err := cfg.WithTrainingDeadline(context.Background())
			So(err, ShouldBeNil)
			defer cancel()
			_, ok := ctx.Deadline()
			So(ok, ShouldBeFalse)
		})

		Convey("Overridden values are validated", func() {
			cfg.SetHyperParam("batchSize", 0)
			cfg.SetHyperParam("gamma", 1.5)
			_, err := cfg.Hyper()
			So(errors.Is(err, ErrInvalidConfig), ShouldBeTrue)
		})
	})

	Convey("A config of another kind is rejected", t, func() {
		_, err := FromYaml(writeConfig(t, "kind: montecarlo\ndef: {}\n"))
		So(errors.Is(err, ErrInvalidConfig), ShouldBeTrue)
	})
}
