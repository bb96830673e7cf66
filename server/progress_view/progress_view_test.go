package progress_view

import (
	"bytes"
	"context"
	"html/template"
	"strings"
	"testing"
	"time"

	"rlmutator/models"
	"rlmutator/server/fastview"

	. "github.com/smartystreets/goconvey/convey"
)

func sampleProgress(episodes int, average float64) models.Progress {
	return models.Progress{
		SessionID:     "s-1",
		Step:          episodes * 128,
		Episodes:      episodes,
		EpisodeReward: 2.5,
		MovingAverage: average,
		ActorLoss:     -0.125,
		CriticLoss:    0.5,
		Updates:       episodes,
		BufferLen:     17,
	}
}

func TestGauges(t *testing.T) {
	Convey("Gauges return the last observed progress", t, func() {
		g := &Gauges{}
		So(g.Snapshot(), ShouldResemble, models.Progress{})

		p := sampleProgress(3, 1.25)
		So(g.Observe(p), ShouldResemble, p)
		So(g.Snapshot(), ShouldResemble, p)

		Convey("Loss averages count each update once", func() {
			g := &Gauges{}
			first := sampleProgress(1, 1)
			first.Updates, first.ActorLoss, first.CriticLoss = 4, -1, 3
			g.Observe(first)
			// a progress line between updates repeats the last losses
			g.Observe(first)

			second := first
			second.Updates, second.ActorLoss, second.CriticLoss = 5, -3, 1
			g.Observe(second)

			stats := g.Stats()
			So(stats.ObservedUpdates, ShouldEqual, 2)
			So(stats.MeanActorLoss, ShouldEqual, -2)
			So(stats.MeanCriticLoss, ShouldEqual, 2)
			So(stats.Progress, ShouldResemble, second)
		})
	})

	Convey("Gauges with no updates report zero averages", t, func() {
		g := &Gauges{}
		g.Observe(models.Progress{Step: 10})
		So(g.Stats().ObservedUpdates, ShouldEqual, 0)
		So(g.Stats().MeanActorLoss, ShouldEqual, 0)
	})
}

func TestStatsView(t *testing.T) {
	Convey("Given a stats view", t, func() {
		sv := NewStatsView(nil, make(chan models.Progress))

		Convey("Updates address every row by id", func() {
			updates := sv.onUpdate(sampleProgress(2, 1))
			byID := map[string]string{}
			for _, update := range updates {
				byID[update.EleId] = update.Ops[0].Value
			}
			So(byID["stats-step"], ShouldEqual, "256")
			So(byID["stats-session"], ShouldEqual, "s-1")
			So(byID["stats-actor-loss"], ShouldEqual, "-0.125")
			So(byID["stats-buffer"], ShouldEqual, "17")
		})

		Convey("The template renders the rows with the same ids", func() {
			tpl := template.New("test")
			name, err := sv.Parse(tpl)
			So(err, ShouldBeNil)

			var out bytes.Buffer
			So(tpl.ExecuteTemplate(&out, name, sampleProgress(2, 1)), ShouldBeNil)
			So(out.String(), ShouldContainSubstring, `id="stats-critic-loss">0.500<`)
			So(out.String(), ShouldContainSubstring, `id="stats-episodes">2<`)
		})
	})
}

func TestRewardView(t *testing.T) {
	Convey("Given a reward chart", t, func() {
		rv := NewRewardView(nil, make(chan models.Progress))
		So(rv.Points(), ShouldEqual, "")

		Convey("A point is added only when an episode finishes", func() {
			So(rv.onUpdate(sampleProgress(0, 0)), ShouldBeEmpty)
			So(len(rv.onUpdate(sampleProgress(1, 1))), ShouldEqual, 3)
			So(rv.onUpdate(sampleProgress(1, 5)), ShouldBeEmpty)
			So(len(rv.onUpdate(sampleProgress(2, 3))), ShouldEqual, 3)

			So(rv.Points(), ShouldEqual, "0.0,150.0 4.0,0.0")
		})

		Convey("Old points fall off the chart", func() {
			for i := 1; i <= chartPoints+10; i++ {
				rv.onUpdate(sampleProgress(i, float64(i)))
			}
			So(len(rv.averages), ShouldEqual, chartPoints)
			So(rv.averages[0], ShouldEqual, 11)
		})
	})
}

func TestPage(t *testing.T) {
	Convey("Given a page fed by a progress channel", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		progress := make(chan models.Progress)
		page, err := NewPage(ctx, progress)
		So(err, ShouldBeNil)

		Convey("Progress is consumed even with no browser attached", func() {
			for i := 1; i <= 5; i++ {
				select {
				case progress <- sampleProgress(i, 1):
				case <-time.After(5 * time.Second):
				}
			}
			deadline := time.Now().Add(5 * time.Second)
			for page.Gauges().Snapshot().Episodes != 5 && time.Now().Before(deadline) {
				time.Sleep(5 * time.Millisecond)
			}
			So(page.Gauges().Snapshot().Episodes, ShouldEqual, 5)
		})

		Convey("The main page contains the bootstrap and every view", func() {
			tpl := template.New("index")
			name, err := page.Parse(tpl)
			So(err, ShouldBeNil)
			So(name, ShouldEqual, "mainpage")

			var out bytes.Buffer
			So(tpl.ExecuteTemplate(&out, name, sampleProgress(1, 1)), ShouldBeNil)
			html := out.String()
			So(html, ShouldContainSubstring, "new WebSocket")
			So(html, ShouldContainSubstring, `id="stats"`)
			So(html, ShouldContainSubstring, `id="rewardchart-line"`)
			So(strings.Count(html, "<html>"), ShouldEqual, 1)
		})

		Convey("A browser receives element updates", func() {
			var batch []fastview.EleUpdate
			timeout := time.After(5 * time.Second)
			ticker := time.NewTicker(10 * time.Millisecond)
			defer ticker.Stop()
		loop:
			for i := 1; ; i++ {
				select {
				case batch = <-page.Updates():
					break loop
				case <-ticker.C:
					select {
					case progress <- sampleProgress(i, float64(i)):
					case <-timeout:
						break loop
					}
				case <-timeout:
					break loop
				}
			}
			So(batch, ShouldNotBeEmpty)
		})
	})
}
