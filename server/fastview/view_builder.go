package fastview

import (
	"context"
	"errors"
	"time"

	channerics "github.com/niceyeti/channerics/channels"
)

// ViewBuilder wires one data source to several views sharing a view-model.
// The conversion to the view-model runs once and its output is broadcast, so each view only
// deals with the shape it renders and never with the raw progress reports. Build delays all the
// channel plumbing until every view is known, which is what lets Broadcast size its outputs.
// It is a bit of ceremony for two views, but adding a third is one more WithView call.
type ViewBuilder[DataModel any, ViewModel any] struct {
	source      <-chan DataModel
	viewModelFn func(DataModel) ViewModel
	builderFns  []ViewBuilderFunc[ViewModel]
	done        <-chan struct{} // nil means never
}

// ViewBuilderFunc builds a view from a done channel and its view-model channel.
type ViewBuilderFunc[ViewModel any] func(<-chan struct{}, <-chan ViewModel) ViewComponent

// NewViewBuilder returns a builder for a given data-model and view-model.
func NewViewBuilder[DataModel any, ViewModel any]() *ViewBuilder[DataModel, ViewModel] {
	return &ViewBuilder[DataModel, ViewModel]{}
}

// WithModel sets the source and the function converting each item into the view-model.
func (vb *ViewBuilder[DataModel, ViewModel]) WithModel(
	input <-chan DataModel,
	convert func(DataModel) ViewModel,
) *ViewBuilder[DataModel, ViewModel] {
	vb.source = input
	vb.viewModelFn = convert
	return vb
}

// WithView adds a view. Views are returned by Build in the order added.
func (vb *ViewBuilder[DataModel, ViewModel]) WithView(
	builderFn ViewBuilderFunc[ViewModel],
) *ViewBuilder[DataModel, ViewModel] {
	vb.builderFns = append(vb.builderFns, builderFn)
	return vb
}

// WithContext closes every downstream channel when ctx ends.
func (vb *ViewBuilder[DataModel, ViewModel]) WithContext(
	ctx context.Context,
) *ViewBuilder[DataModel, ViewModel] {
	vb.done = ctx.Done()
	return vb
}

// ErrNoViews is returned when Build() is called before the caller has added any views.
var ErrNoViews = errors.New("no views to build: WithView must be called")

// ErrNoModel is returned when Build() is called before WithModel() has been called.
var ErrNoModel = errors.New("no model specified: WithModel must be called")

// Build converts the source once and broadcasts the view-model to every view.
func (vb *ViewBuilder[DataModel, ViewModel]) Build() (views []ViewComponent, err error) {
	if len(vb.builderFns) == 0 {
		return nil, ErrNoViews
	}
	if vb.viewModelFn == nil || vb.source == nil {
		return nil, ErrNoModel
	}

	vmChan := channerics.Convert(vb.done, vb.source, vb.viewModelFn)
	vmChans := channerics.Broadcast(vb.done, vmChan, len(vb.builderFns))
	for i, build := range vb.builderFns {
		views = append(views, build(vb.done, vmChans[i]))
	}
	return
}

// FanIn merges the views' update channels and batches the result at the given rate.
func FanIn(
	done <-chan struct{},
	views []ViewComponent,
	rate time.Duration,
) <-chan []EleUpdate {
	inputs := make([]<-chan []EleUpdate, len(views))
	for i, view := range views {
		inputs[i] = view.Updates()
	}
	return Batchify(done, channerics.Merge(done, inputs...), rate)
}

// Batchify collects updates for at least rate before sending, keeping only the latest update
// per element id. When nobody is receiving the batch keeps accumulating, so the source is
// always drained. That matters more than it looks: the whole view pipeline is unbuffered, and a
// blocked send here would back up through every view into the progress channel, freezing the
// gauges behind /stats whenever no browser happens to be open.
func Batchify(
	done <-chan struct{},
	source <-chan []EleUpdate,
	rate time.Duration,
) <-chan []EleUpdate {
	output := make(chan []EleUpdate)

	go func() {
		defer close(output)

		pending := map[string]EleUpdate{}
		order := []string{}
		last := time.Time{}
		for updates := range channerics.OrDone(done, source) {
			for _, update := range updates {
				if _, seen := pending[update.EleId]; !seen {
					order = append(order, update.EleId)
				}
				pending[update.EleId] = update
			}

			if len(pending) == 0 || time.Since(last) < rate {
				continue
			}
			batch := make([]EleUpdate, 0, len(order))
			for _, id := range order {
				batch = append(batch, pending[id])
			}
			select {
			case output <- batch:
				pending = map[string]EleUpdate{}
				order = order[:0]
				last = time.Now()
			case <-done:
				return
			default:
			}
		}
	}()

	return output
}
