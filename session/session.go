package session

import (
	"context"
	"errors"
	"net"

	"rlmutator/transport"
)

// Run listens on socketPath, serves the first fuzzer to connect, and shuts down when it leaves or
// ctx ends. Shutdown always saves a checkpoint, closes the connection, and removes the socket,
// in that order, whatever ended the session.
func Run(ctx context.Context, socketPath string, ctrl *Controller) (err error) {
	rv, err := transport.Listen(socketPath)
	if err != nil {
		return err
	}

	var conn net.Conn
	defer func() {
		err = errors.Join(err, ctrl.shutdown(conn, rv))
	}()

	ctrl.logger.Info().Str("socket", rv.Path()).Msg("waiting for fuzzer")
	if conn, err = rv.Accept(ctx); err != nil {
		if ctx.Err() != nil {
			ctrl.logger.Info().Msg("interrupted before the fuzzer connected")
			return nil
		}
		return err
	}
	ctrl.logger.Info().Msg("fuzzer connected")

	return ctrl.Serve(ctx, conn)
}

func (ctrl *Controller) shutdown(conn net.Conn, rv *transport.Rendezvous) error {
	ctrl.logger.Info().
		Int("step", ctrl.steps).
		Int("episodes", ctrl.episodes).
		Float64("mean_episode_reward", ctrl.MeanEpisodeReward()).
		Float64("moving_avg_reward", ctrl.history.Mean()).
		Msg("session summary")
	saveErr := ctrl.Checkpoint()
	if conn != nil {
		_ = conn.Close()
	}
	closeErr := rv.Close()
	if closeErr != nil {
		ctrl.logger.Warn().Err(closeErr).Msg("removing socket failed")
	}
	return errors.Join(saveErr, closeErr)
}
