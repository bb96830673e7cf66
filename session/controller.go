// Package session drives one training session with the fuzzer: every state is answered with an
// action immediately, every reward completes a transition, and every update interval triggers a
// policy update. Everything runs on the caller's goroutine.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"time"

	"rlmutator/models"
	"rlmutator/reinforcement"
	"rlmutator/transport"

	"github.com/rs/zerolog"
)

type Options struct {
	SessionID string
	// UpdateInterval is the number of transitions between updates; the last one is marked done.
	UpdateInterval int
	// LogInterval is the number of transitions between progress lines.
	LogInterval int
	// ReadTimeout bounds the wait for each frame; zero waits until the peer or the context ends it.
	ReadTimeout    time.Duration
	CheckpointPath string
	// Progress, if set, receives a snapshot after each update and progress line. Sends never block.
	Progress chan<- models.Progress
}

type pendingSelection struct {
	state     []float64
	selection reinforcement.Selection
}

// Controller owns all mutable session state.
// Everything runs on the goroutine that calls Serve, including the multi-epoch update, so the
// fuzzer simply waits for its next action while the policy trains. There is no locking because
// nothing else touches these fields; the dashboard only ever sees copies sent over Progress.
type Controller struct {
	opts       Options
	agent      *reinforcement.Agent
	normalizer *reinforcement.Normalizer
	logger     zerolog.Logger

	pending       *pendingSelection
	steps         int
	episodes      int
	updates       int
	episodeReward float64
	history       *RewardWindow
	totalReward   float64
	lastUpdate    reinforcement.UpdateResult
}

func NewController(
	agent *reinforcement.Agent,
	normalizer *reinforcement.Normalizer,
	opts Options,
	logger zerolog.Logger,
) *Controller {
	if opts.UpdateInterval <= 0 {
		opts.UpdateInterval = 1
	}
	if opts.LogInterval <= 0 {
		opts.LogInterval = reinforcement.DefaultLogInterval
	}
	return &Controller{
		opts:       opts,
		agent:      agent,
		normalizer: normalizer,
		logger:     logger.With().Str("component", "session").Logger(),
		history: NewRewardWindow(RewardWindowSize),
	}
}

// Serve reads frames from conn until the peer disconnects or ctx is cancelled, both of which
// return nil. Other errors come from the approximator and end the session.
func (ctrl *Controller) Serve(ctx context.Context, conn net.Conn) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			// unblocks the pending read
			_ = conn.SetReadDeadline(time.Now())
		case <-stop:
		}
	}()

	dec := transport.NewDecoder(conn)
	for {
		// The idle deadline is set before checking ctx. A cancellation after the check runs the
		// watcher's immediate deadline after ours, so the read below cannot outlive the interrupt
		// by a full timeout; checking first would let our deadline overwrite the watcher's.
		if ctrl.opts.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(ctrl.opts.ReadTimeout))
		}
		if ctx.Err() != nil {
			ctrl.logger.Info().Int("step", ctrl.steps).Msg("interrupted")
			return nil
		}

		msg, err := dec.ReadMessage()
		if err == nil {
			switch msg.Kind {
			case transport.KindState:
				err = ctrl.HandleState(conn, msg.State)
			case transport.KindReward:
				err = ctrl.HandleReward(float64(msg.Reward))
			}
		}

		switch {
		case err == nil:
		case ctx.Err() != nil:
			ctrl.logger.Info().Int("step", ctrl.steps).Msg("interrupted")
			return nil
		case errors.Is(err, transport.ErrDisconnect):
			ctrl.logger.Info().Err(err).Int("step", ctrl.steps).Msg("fuzzer disconnected")
			return nil
		default:
			return err
		}
	}
}

// HandleState normalizes the observation, sends the selected action to w, and remembers the
// selection for the next reward.
func (ctrl *Controller) HandleState(w io.Writer, raw []float32) error {
	if len(raw) != ctrl.normalizer.Dim() {
		ctrl.logger.Debug().
			Int("got", len(raw)).
			Int("want", ctrl.normalizer.Dim()).
			Msg("state dimension mismatch")
	}
	state := ctrl.normalizer.Normalize(raw)
	selection := ctrl.agent.SelectAction(state)

	if err := transport.WriteAction(w, selection.Actions); err != nil {
		return fmt.Errorf("%w: %v", transport.ErrDisconnect, err)
	}
	ctrl.pending = &pendingSelection{state: state, selection: selection}
	return nil
}

// HandleReward completes the pending transition. A reward with nothing pending is dropped.
func (ctrl *Controller) HandleReward(reward float64) error {
	if ctrl.pending == nil {
		ctrl.logger.Debug().Float64("reward", reward).Msg("reward without a pending action dropped")
		return nil
	}
	if math.IsNaN(reward) || math.IsInf(reward, 0) {
		ctrl.logger.Warn().Float64("reward", reward).Msg("non-finite reward replaced with zero")
		reward = 0
	}

	done := (ctrl.steps+1)%ctrl.opts.UpdateInterval == 0
	ctrl.agent.Store(models.Transition{
		State:   ctrl.pending.state,
		Actions: ctrl.pending.selection.Actions,
		Reward:  reward,
		LogProb: ctrl.pending.selection.LogProb,
		Value:   ctrl.pending.selection.Value,
		Done:    done,
	})
	ctrl.pending = nil
	ctrl.steps++
	ctrl.episodeReward += reward

	if ctrl.steps%ctrl.opts.LogInterval == 0 {
		ctrl.logger.Info().
			Int("step", ctrl.steps).
			Float64("moving_avg_reward", ctrl.history.Mean()).
			Int("episodes", ctrl.episodes).
			Msg("progress")
		ctrl.publish()
	}

	if done {
		return ctrl.endEpisode()
	}
	return nil
}

func (ctrl *Controller) endEpisode() error {
	res, performed, err := ctrl.agent.Update()
	if err != nil {
		return fmt.Errorf("update at step %d: %w", ctrl.steps, err)
	}

	ctrl.history.Push(ctrl.episodeReward)
	ctrl.totalReward += ctrl.episodeReward
	ctrl.episodes++
	event := ctrl.logger.Info().
		Int("step", ctrl.steps).
		Float64("episode_reward", ctrl.episodeReward).
		Float64("moving_avg_reward", ctrl.history.Mean())
	if performed {
		ctrl.updates++
		ctrl.lastUpdate = res
		event.
			Float64("actor_loss", res.ActorLoss).
			Float64("critic_loss", res.CriticLoss).
			Int("minibatches", res.Minibatches).
			Msg("policy updated")
	} else {
		event.Int("buffered", ctrl.agent.BufferLen()).Msg("no update")
	}

	ctrl.episodeReward = 0
	ctrl.publish()
	return nil
}

// MeanEpisodeReward is the average reward over every finished episode of the session, unlike
// the moving average which only covers the last RewardWindowSize.
func (ctrl *Controller) MeanEpisodeReward() float64 {
	if ctrl.episodes == 0 {
		return 0
	}
	return ctrl.totalReward / float64(ctrl.episodes)
}

// Snapshot reports the current progress.
func (ctrl *Controller) Snapshot() models.Progress {
	return models.Progress{
		SessionID:     ctrl.opts.SessionID,
		Step:          ctrl.steps,
		Episodes:      ctrl.episodes,
		EpisodeReward: ctrl.episodeReward,
		MovingAverage: ctrl.history.Mean(),
		ActorLoss:     ctrl.lastUpdate.ActorLoss,
		CriticLoss:    ctrl.lastUpdate.CriticLoss,
		Updates:       ctrl.updates,
		BufferLen:     ctrl.agent.BufferLen(),
	}
}

func (ctrl *Controller) publish() {
	if ctrl.opts.Progress == nil {
		return
	}
	select {
	case ctrl.opts.Progress <- ctrl.Snapshot():
	default:
	}
}

// Checkpoint saves both approximators to the configured path.
func (ctrl *Controller) Checkpoint() error {
	if ctrl.opts.CheckpointPath == "" {
		return nil
	}
	ctrl.agent.Tag(ctrl.opts.SessionID, ctrl.steps)
	if err := ctrl.agent.Save(ctrl.opts.CheckpointPath); err != nil {
		ctrl.logger.Error().Err(err).Str("path", ctrl.opts.CheckpointPath).Msg("checkpoint failed")
		return fmt.Errorf("checkpoint: %w", err)
	}
	ctrl.logger.Info().
		Str("path", ctrl.opts.CheckpointPath).
		Int("step", ctrl.steps).
		Msg("checkpoint saved")
	return nil
}
