/*
rlmutator is an online reinforcement learning server for a fuzzer's mutation scheduler. The fuzzer
connects over a unix socket, sends its coverage state, and receives which mutations to apply; the
reward it reports back trains a PPO actor-critic while the campaign runs. Training progress is
served as a small live dashboard.
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rlmutator/models"
	"rlmutator/reinforcement"
	"rlmutator/server"
	"rlmutator/session"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

const progressBuffer = 16

type appOptions struct {
	configPath string
	socketPath string
	checkpoint string
	httpAddr   string
	debug      bool
	seed       int64
}

func newFlagSet(opts *appOptions) *pflag.FlagSet {
	flags := pflag.NewFlagSet("rlmutator", pflag.ContinueOnError)
	flags.StringVar(&opts.configPath, "config", "./config.yaml", "training config")
	flags.StringVar(&opts.socketPath, "socket", "", "unix socket the fuzzer connects to (overrides config)")
	flags.StringVar(&opts.checkpoint, "checkpoint", "", "model checkpoint path (overrides config)")
	flags.StringVar(&opts.httpAddr, "http", "localhost:8080", "dashboard address, empty to disable")
	flags.BoolVar(&opts.debug, "debug", false, "debug logging to the console")
	flags.Int64Var(&opts.seed, "seed", 0, "random seed, 0 seeds from the clock (overrides config)")
	return flags
}

// loadConfig reads the config file. A missing file is an error only when it was asked for.
func loadConfig(path string, explicit bool) (*reinforcement.TrainingConfig, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) && !explicit {
		return reinforcement.DefaultConfig(), nil
	}
	return reinforcement.FromYaml(path)
}

// applyFlags overrides config values with the flags the user set.
func (opts *appOptions) applyFlags(cfg *reinforcement.TrainingConfig, flags *pflag.FlagSet) {
	if flags.Changed("socket") {
		cfg.Session.SocketPath = opts.socketPath
	}
	if flags.Changed("checkpoint") {
		cfg.Session.CheckpointPath = opts.checkpoint
	}
	if flags.Changed("seed") {
		cfg.SetHyperParam("seed", float64(opts.seed))
	}
}

func newLogger(w io.Writer, debug bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
		level = zerolog.DebugLevel
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

func runApp(ctx context.Context, opts *appOptions, flags *pflag.FlagSet) (err error) {
	var cfg *reinforcement.TrainingConfig
	if cfg, err = loadConfig(opts.configPath, flags.Changed("config")); err != nil {
		return
	}
	opts.applyFlags(cfg, flags)

	hp, err := cfg.Hyper()
	if err != nil {
		return err
	}
	space, err := cfg.Space()
	if err != nil {
		return err
	}
	normalizer, err := cfg.Normalizer(hp.StateDim)
	if err != nil {
		return err
	}
	socketPath, err := cfg.SocketPath()
	if err != nil {
		return err
	}
	checkpointPath, err := cfg.CheckpointPath()
	if err != nil {
		return err
	}
	readTimeout, err := cfg.ReadTimeout()
	if err != nil {
		return err
	}

	sessionID := uuid.NewString()
	logger := newLogger(os.Stderr, opts.debug).With().Str("session_id", sessionID).Logger()

	agent := reinforcement.NewAgent(space, hp)
	resumed, err := agent.Load(checkpointPath)
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	logger.Info().
		Bool("resumed", resumed).
		Str("checkpoint", checkpointPath).
		Int("state_dim", hp.StateDim).
		Ints("mutation_counts", space.MutationCounts).
		Msg("model ready")

	trainingCtx, cancelTraining, err := cfg.WithTrainingDeadline(ctx)
	if err != nil {
		return fmt.Errorf("training deadline: %w", err)
	}
	defer cancelTraining()

	group, groupCtx := errgroup.WithContext(trainingCtx)

	var progress chan models.Progress
	if opts.httpAddr != "" {
		progress = make(chan models.Progress, progressBuffer)
		srv, srvErr := server.NewServer(groupCtx, opts.httpAddr, progress, logger)
		if srvErr != nil {
			return srvErr
		}
		// The dashboard is optional: if it cannot serve (say the port is taken) training
		// carries on without it rather than taking the session down with it.
		group.Go(func() error {
			if err := srv.Serve(groupCtx); err != nil {
				logger.Warn().Err(err).Str("addr", opts.httpAddr).Msg("dashboard unavailable, training continues")
			}
			return nil
		})
	}

	ctrl := session.NewController(agent, normalizer, session.Options{
		SessionID:      sessionID,
		UpdateInterval: hp.UpdateInterval,
		LogInterval:    cfg.LogInterval(),
		ReadTimeout:    readTimeout,
		CheckpointPath: checkpointPath,
		Progress:       progress,
	}, logger)

	group.Go(func() error {
		// the dashboard goes down with the session
		defer cancelTraining()
		return session.Run(groupCtx, socketPath, ctrl)
	})

	return group.Wait()
}

func main() {
	opts := &appOptions{}
	flags := newFlagSet(opts)
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runApp(ctx, opts, flags); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
