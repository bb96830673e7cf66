package progress_view

import (
	"html/template"
	"strconv"
	"strings"
	"sync"

	"rlmutator/models"
	"rlmutator/server/fastview"

	channerics "github.com/niceyeti/channerics/channels"
	"gonum.org/v1/gonum/floats"
)

const (
	chartWidth  = 400.0
	chartHeight = 150.0
	chartPoints = 100
)

// RewardView charts the moving-average episode reward, one point per finished episode.
type RewardView struct {
	id      string
	updates <-chan []fastview.EleUpdate

	mu       sync.Mutex
	episodes int
	averages []float64
}

func NewRewardView(
	done <-chan struct{},
	progress <-chan models.Progress,
) *RewardView {
	rv := &RewardView{id: "rewardchart"}
	rv.updates = channerics.Convert(done, progress, rv.onUpdate)
	return rv
}

func (rv *RewardView) Updates() <-chan []fastview.EleUpdate {
	return rv.updates
}

// onUpdate emits nothing until another episode has finished.
func (rv *RewardView) onUpdate(p models.Progress) []fastview.EleUpdate {
	rv.mu.Lock()
	defer rv.mu.Unlock()

	if p.Episodes <= rv.episodes {
		return nil
	}
	rv.episodes = p.Episodes
	rv.averages = append(rv.averages, p.MovingAverage)
	if len(rv.averages) > chartPoints {
		rv.averages = rv.averages[len(rv.averages)-chartPoints:]
	}

	lo, hi := bounds(rv.averages)
	return []fastview.EleUpdate{
		{
			EleId: rv.id + "-line",
			Ops:   []fastview.Op{{Key: "points", Value: polyline(rv.averages, lo, hi)}},
		},
		fastview.TextUpdate(rv.id+"-max", formatFloat(hi)),
		fastview.TextUpdate(rv.id+"-min", formatFloat(lo)),
	}
}

// Points returns the current polyline, for the initial render.
func (rv *RewardView) Points() string {
	rv.mu.Lock()
	defer rv.mu.Unlock()
	lo, hi := bounds(rv.averages)
	return polyline(rv.averages, lo, hi)
}

func bounds(vals []float64) (lo, hi float64) {
	if len(vals) == 0 {
		return 0, 0
	}
	return floats.Min(vals), floats.Max(vals)
}

// polyline maps vals onto the chart, oldest at the left and hi at the top.
func polyline(vals []float64, lo, hi float64) string {
	if len(vals) == 0 {
		return ""
	}
	span := hi - lo
	if span == 0 {
		span = 1
	}
	step := chartWidth / float64(chartPoints-1)

	var sb strings.Builder
	for i, v := range vals {
		if i > 0 {
			sb.WriteByte(' ')
		}
		x := float64(i) * step
		y := chartHeight - (v-lo)/span*chartHeight
		sb.WriteString(strconv.FormatFloat(x, 'f', 1, 64))
		sb.WriteByte(',')
		sb.WriteString(strconv.FormatFloat(y, 'f', 1, 64))
	}
	return sb.String()
}

func (rv *RewardView) Parse(t *template.Template) (string, error) {
	name := rv.id
	t.Funcs(template.FuncMap{
		"rewardPoints": rv.Points,
	})
	_, err := t.Parse(`{{ define "` + name + `" }}
	<div>
		<div>max <span id="` + rv.id + `-max"></span></div>
		<svg id="` + rv.id + `" width="` + ftoa(chartWidth) + `px" height="` + ftoa(chartHeight) + `px">
			<rect width="100%" height="100%" fill="none" stroke="black" stroke-width="1px"/>
			<polyline id="` + rv.id + `-line" points="{{ rewardPoints }}" fill="none" stroke="blue" stroke-width="2px"/>
		</svg>
		<div>min <span id="` + rv.id + `-min"></span></div>
	</div>
	{{ end }}`)
	return name, err
}

func ftoa(f float64) string {
	return strconv.FormatFloat(f, 'f', 0, 64)
}
