// Package progress_view renders live training progress: a stats table and a reward chart,
// updated in the browser over a websocket.
package progress_view

import (
	"context"
	"html/template"
	"time"

	"rlmutator/models"
	"rlmutator/server/fastview"
)

const batchRate = 50 * time.Millisecond

// Page is the index page containing every progress view.
type Page struct {
	views   []fastview.ViewComponent
	updates <-chan []fastview.EleUpdate
	gauges  *Gauges
}

// NewPage builds the views over progress. The page owns the channel's consumer: progress is
// drained until ctx ends even when no browser is connected.
func NewPage(
	ctx context.Context,
	progress <-chan models.Progress,
) (*Page, error) {
	gauges := &Gauges{}
	views, err := fastview.NewViewBuilder[models.Progress, models.Progress]().
		WithContext(ctx).
		WithModel(progress, gauges.Observe).
		WithView(func(done <-chan struct{}, vm <-chan models.Progress) fastview.ViewComponent {
			return NewStatsView(done, vm)
		}).
		WithView(func(done <-chan struct{}, vm <-chan models.Progress) fastview.ViewComponent {
			return NewRewardView(done, vm)
		}).
		Build()
	if err != nil {
		return nil, err
	}

	return &Page{
		views:   views,
		updates: fastview.FanIn(ctx.Done(), views, batchRate),
		gauges:  gauges,
	}, nil
}

// Updates returns the batched updates of all the views.
func (pg *Page) Updates() <-chan []fastview.EleUpdate {
	return pg.updates
}

// Gauges returns the latest progress seen by the page.
func (pg *Page) Gauges() *Gauges {
	return pg.gauges
}

// Parse defines the main page, with the websocket bootstrap, and returns its name.
func (pg *Page) Parse(parent *template.Template) (name string, err error) {
	var body string
	for _, vc := range pg.views {
		tname, parseErr := vc.Parse(parent)
		if parseErr != nil {
			return "", parseErr
		}
		body += `{{ template "` + tname + `" . }}`
	}

	name = "mainpage"
	_, err = parent.Parse(`
	{{ define "` + name + `" }}
	<!DOCTYPE html>
	<html>
		<head>
			<link rel="icon" href="data:,">
			<title>rlmutator</title>
			<script>
				const scheme = location.protocol === "https:" ? "wss://" : "ws://";
				const ws = new WebSocket(scheme + location.host + "/ws");
				ws.onerror = function (event) {
					console.log('WebSocket error: ', event);
				};

				// Each message is a list of element updates; apply them by id.
				ws.onmessage = function (event) {
					const items = JSON.parse(event.data);
					for (const update of items) {
						const ele = document.getElementById(update.EleId);
						if (ele === null) {
							continue;
						}
						for (const op of update.Ops) {
							if (op.Key === "textContent") {
								ele.textContent = op.Value;
							} else {
								ele.setAttribute(op.Key, op.Value);
							}
						}
					}
				};
			</script>
		</head>
		<body>
		` + body + `
		</body>
	</html>
	{{ end }}`)
	return
}
