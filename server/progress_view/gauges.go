package progress_view

import (
	"sync/atomic"

	"rlmutator/atomic_float"
	"rlmutator/models"
)

// Stats is what /stats reports: the latest progress plus loss averages over the updates
// this dashboard has seen.
type Stats struct {
	models.Progress
	// Snapshots are sent without blocking the session, so an update can be missed; these are
	// means over the observed updates, not necessarily all of them.
	ObservedUpdates int
	MeanActorLoss   float64
	MeanCriticLoss  float64
}

// Gauges hold the latest training progress for readers on other goroutines, e.g. http handlers.
// Observe is called from a single goroutine; any number of readers may Snapshot concurrently.
type Gauges struct {
	sessionID     atomic.Value
	step          atomic.Int64
	episodes      atomic.Int64
	updates       atomic.Int64
	bufferLen     atomic.Int64
	episodeReward atomic_float.AtomicFloat64
	movingAverage atomic_float.AtomicFloat64
	actorLoss     atomic_float.AtomicFloat64
	criticLoss    atomic_float.AtomicFloat64

	observedUpdates atomic.Int64
	actorLossSum    atomic_float.AtomicFloat64
	criticLossSum   atomic_float.AtomicFloat64
}

// Observe records p and returns it unchanged, so it can sit in a conversion pipeline.
// Losses are accumulated only when p carries a new update; progress lines between updates
// repeat the last losses and must not be counted twice.
func (g *Gauges) Observe(p models.Progress) models.Progress {
	if int64(p.Updates) > g.updates.Load() {
		g.actorLossSum.Add(p.ActorLoss)
		g.criticLossSum.Add(p.CriticLoss)
		g.observedUpdates.Add(1)
	}

	g.sessionID.Store(p.SessionID)
	g.step.Store(int64(p.Step))
	g.episodes.Store(int64(p.Episodes))
	g.updates.Store(int64(p.Updates))
	g.bufferLen.Store(int64(p.BufferLen))
	g.episodeReward.AtomicSet(p.EpisodeReward)
	g.movingAverage.AtomicSet(p.MovingAverage)
	g.actorLoss.AtomicSet(p.ActorLoss)
	g.criticLoss.AtomicSet(p.CriticLoss)
	return p
}

// Snapshot returns the last observed progress. Fields are read individually, so a snapshot
// taken during Observe may mix two reports.
func (g *Gauges) Snapshot() models.Progress {
	id, _ := g.sessionID.Load().(string)
	return models.Progress{
		SessionID:     id,
		Step:          int(g.step.Load()),
		Episodes:      int(g.episodes.Load()),
		Updates:       int(g.updates.Load()),
		BufferLen:     int(g.bufferLen.Load()),
		EpisodeReward: g.episodeReward.AtomicRead(),
		MovingAverage: g.movingAverage.AtomicRead(),
		ActorLoss:     g.actorLoss.AtomicRead(),
		CriticLoss:    g.criticLoss.AtomicRead(),
	}
}

// Stats returns the snapshot with the loss averages.
func (g *Gauges) Stats() Stats {
	stats := Stats{
		Progress:        g.Snapshot(),
		ObservedUpdates: int(g.observedUpdates.Load()),
	}
	if stats.ObservedUpdates > 0 {
		n := float64(stats.ObservedUpdates)
		stats.MeanActorLoss = g.actorLossSum.AtomicRead() / n
		stats.MeanCriticLoss = g.criticLossSum.AtomicRead() / n
	}
	return stats
}
