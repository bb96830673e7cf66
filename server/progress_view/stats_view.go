package progress_view

import (
	"html/template"
	"strconv"

	"rlmutator/models"
	"rlmutator/server/fastview"

	channerics "github.com/niceyeti/channerics/channels"
)

// StatsView is a table of the session's counters and losses.
type StatsView struct {
	id      string
	updates <-chan []fastview.EleUpdate
}

func NewStatsView(
	done <-chan struct{},
	progress <-chan models.Progress,
) *StatsView {
	sv := &StatsView{id: "stats"}
	sv.updates = channerics.Convert(done, progress, sv.onUpdate)
	return sv
}

func (sv *StatsView) Updates() <-chan []fastview.EleUpdate {
	return sv.updates
}

func (sv *StatsView) eleID(field string) string {
	return sv.id + "-" + field
}

func (sv *StatsView) onUpdate(p models.Progress) []fastview.EleUpdate {
	return []fastview.EleUpdate{
		fastview.TextUpdate(sv.eleID("session"), p.SessionID),
		fastview.TextUpdate(sv.eleID("step"), strconv.Itoa(p.Step)),
		fastview.TextUpdate(sv.eleID("episodes"), strconv.Itoa(p.Episodes)),
		fastview.TextUpdate(sv.eleID("updates"), strconv.Itoa(p.Updates)),
		fastview.TextUpdate(sv.eleID("buffer"), strconv.Itoa(p.BufferLen)),
		fastview.TextUpdate(sv.eleID("episode-reward"), formatFloat(p.EpisodeReward)),
		fastview.TextUpdate(sv.eleID("moving-average"), formatFloat(p.MovingAverage)),
		fastview.TextUpdate(sv.eleID("actor-loss"), formatFloat(p.ActorLoss)),
		fastview.TextUpdate(sv.eleID("critic-loss"), formatFloat(p.CriticLoss)),
	}
}

// Parse defines the table template. It expects a models.Progress as its data.
func (sv *StatsView) Parse(t *template.Template) (string, error) {
	name := sv.id
	_, err := t.Parse(`{{ define "` + name + `" }}
	<table id="` + sv.id + `">
		<tr><th>session</th><td id="` + sv.eleID("session") + `">{{ .SessionID }}</td></tr>
		<tr><th>step</th><td id="` + sv.eleID("step") + `">{{ .Step }}</td></tr>
		<tr><th>episodes</th><td id="` + sv.eleID("episodes") + `">{{ .Episodes }}</td></tr>
		<tr><th>updates</th><td id="` + sv.eleID("updates") + `">{{ .Updates }}</td></tr>
		<tr><th>buffered</th><td id="` + sv.eleID("buffer") + `">{{ .BufferLen }}</td></tr>
		<tr><th>episode reward</th><td id="` + sv.eleID("episode-reward") + `">{{ printf "%.3f" .EpisodeReward }}</td></tr>
		<tr><th>moving average</th><td id="` + sv.eleID("moving-average") + `">{{ printf "%.3f" .MovingAverage }}</td></tr>
		<tr><th>actor loss</th><td id="` + sv.eleID("actor-loss") + `">{{ printf "%.3f" .ActorLoss }}</td></tr>
		<tr><th>critic loss</th><td id="` + sv.eleID("critic-loss") + `">{{ printf "%.3f" .CriticLoss }}</td></tr>
	</table>
	{{ end }}`)
	return name, err
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 3, 64)
}
