package reinforcement

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"rlmutator/models"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type OuterConfig struct {
	Kind string      `mapstructure:"kind"`
	Def  interface{} `mapstructure:"def"`
}

// TrainingConfig holds the PPO hyper-parameters and the session settings. Hyper-parameters are a
// flat key/val list so that new ones can be added without touching the schema.
// Tags are lowercase since viper folds the keys of the def document before it is re-decoded.
type TrainingConfig struct {
	// HyperParams is a key-val pair of param names and their value.
	HyperParams   []HyperParameter    `yaml:"hyperparams"`
	ActionSpace   *models.ActionSpace `yaml:"actionspace"`
	Session       SessionConfig       `yaml:"session"`
	Normalization NormalizationConfig `yaml:"normalization"`
	// TrainingDeadline is a fixed duration after which the session shuts down.
	TrainingDeadline map[string]string `yaml:"trainingdeadline"`
}

type HyperParameter struct {
	Key string  `yaml:"key"`
	Val float64 `yaml:"val"`
}

type SessionConfig struct {
	SocketPath     string `yaml:"socketpath"`
	CheckpointPath string `yaml:"checkpointpath"`
	LogInterval    int    `yaml:"loginterval"`
	// ReadTimeout bounds the wait for each inbound frame; empty or zero waits forever.
	ReadTimeout string `yaml:"readtimeout"`
}

type NormalizationConfig struct {
	Policy string  `yaml:"policy"`
	Bound  float64 `yaml:"bound"`
}

const (
	DefaultSocketPath     = "~/testing.sock"
	DefaultCheckpointPath = "ppo_model.ckpt"
	DefaultLogInterval    = 1000
)

// Hyper is the typed view of the hyper-parameter list.
type Hyper struct {
	StateDim       int
	Gamma          float64
	Lambda         float64
	ClipEpsilon    float64
	Epochs         int
	BatchSize      int
	UpdateInterval int
	ActorLR        float64
	CriticLR       float64
	EntropyCoef    float64
	MaxGradNorm    float64
	AdvantageClip  float64
	ExploreEpsilon float64
	HiddenSize     int
	Seed           int64
}

var ErrInvalidConfig = errors.New("invalid config")

func (cfg *TrainingConfig) GetHyperParamOrDefault(param string, defaultVal float64) float64 {
	for _, kvp := range cfg.HyperParams {
		if kvp.Key == param {
			return kvp.Val
		}
	}
	return defaultVal
}

// SetHyperParam overwrites or appends a hyper-parameter.
func (cfg *TrainingConfig) SetHyperParam(param string, val float64) {
	for i := range cfg.HyperParams {
		if cfg.HyperParams[i].Key == param {
			cfg.HyperParams[i].Val = val
			return
		}
	}
	cfg.HyperParams = append(cfg.HyperParams, HyperParameter{Key: param, Val: val})
}

// Hyper reads every hyper-parameter, falling back to the defaults the fuzzer was tuned with.
func (cfg *TrainingConfig) Hyper() (Hyper, error) {
	hp := Hyper{
		StateDim:       int(cfg.GetHyperParamOrDefault("stateDim", 95)),
		Gamma:          cfg.GetHyperParamOrDefault("gamma", 0.99),
		Lambda:         cfg.GetHyperParamOrDefault("lambda", 0.95),
		ClipEpsilon:    cfg.GetHyperParamOrDefault("clipEpsilon", 0.2),
		Epochs:         int(cfg.GetHyperParamOrDefault("epochs", 10)),
		BatchSize:      int(cfg.GetHyperParamOrDefault("batchSize", 64)),
		UpdateInterval: int(cfg.GetHyperParamOrDefault("updateInterval", 128)),
		ActorLR:        cfg.GetHyperParamOrDefault("actorLR", 3e-4),
		CriticLR:       cfg.GetHyperParamOrDefault("criticLR", 1e-3),
		EntropyCoef:    cfg.GetHyperParamOrDefault("entropyCoef", 0.01),
		MaxGradNorm:    cfg.GetHyperParamOrDefault("maxGradNorm", 0.5),
		AdvantageClip:  cfg.GetHyperParamOrDefault("advantageClip", 5),
		ExploreEpsilon: cfg.GetHyperParamOrDefault("exploreEpsilon", 0),
		HiddenSize:     int(cfg.GetHyperParamOrDefault("hiddenSize", 64)),
		Seed:           int64(cfg.GetHyperParamOrDefault("seed", 0)),
	}
	return hp, hp.Validate()
}

func (hp Hyper) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]interface{}{ErrInvalidConfig}, args...)...))
		}
	}
	check(hp.StateDim > 0, "stateDim %d", hp.StateDim)
	check(hp.Gamma >= 0 && hp.Gamma <= 1, "gamma %v", hp.Gamma)
	check(hp.Lambda >= 0 && hp.Lambda <= 1, "lambda %v", hp.Lambda)
	check(hp.ClipEpsilon > 0, "clipEpsilon %v", hp.ClipEpsilon)
	check(hp.Epochs > 0, "epochs %d", hp.Epochs)
	check(hp.BatchSize > 0, "batchSize %d", hp.BatchSize)
	check(hp.UpdateInterval > 0, "updateInterval %d", hp.UpdateInterval)
	check(hp.ActorLR > 0, "actorLR %v", hp.ActorLR)
	check(hp.CriticLR > 0, "criticLR %v", hp.CriticLR)
	check(hp.EntropyCoef >= 0, "entropyCoef %v", hp.EntropyCoef)
	check(hp.MaxGradNorm > 0, "maxGradNorm %v", hp.MaxGradNorm)
	check(hp.AdvantageClip > 0, "advantageClip %v", hp.AdvantageClip)
	check(hp.ExploreEpsilon >= 0 && hp.ExploreEpsilon <= 1, "exploreEpsilon %v", hp.ExploreEpsilon)
	check(hp.HiddenSize > 0, "hiddenSize %d", hp.HiddenSize)
	return errors.Join(errs...)
}

// Space returns the configured action space, or the fuzzer's default layout.
func (cfg *TrainingConfig) Space() (models.ActionSpace, error) {
	space := models.DefaultActionSpace
	if cfg.ActionSpace != nil {
		space = *cfg.ActionSpace
	}
	return space, space.Validate()
}

// Normalizer builds the state normalizer for the configured dimension and policy.
func (cfg *TrainingConfig) Normalizer(dim int) (*Normalizer, error) {
	policy := NormalizationPolicy(cfg.Normalization.Policy)
	if policy == "" {
		policy = PolicyMaxAbs
	}
	bound := cfg.Normalization.Bound
	if bound == 0 {
		bound = DefaultBound
	}
	return NewNormalizer(dim, policy, bound)
}

// SocketPath returns the rendezvous path with a leading ~ expanded.
func (cfg *TrainingConfig) SocketPath() (string, error) {
	path := cfg.Session.SocketPath
	if path == "" {
		path = DefaultSocketPath
	}
	return expandHome(path)
}

func (cfg *TrainingConfig) CheckpointPath() (string, error) {
	path := cfg.Session.CheckpointPath
	if path == "" {
		path = DefaultCheckpointPath
	}
	return expandHome(path)
}

func (cfg *TrainingConfig) LogInterval() int {
	if cfg.Session.LogInterval <= 0 {
		return DefaultLogInterval
	}
	return cfg.Session.LogInterval
}

func (cfg *TrainingConfig) ReadTimeout() (time.Duration, error) {
	if cfg.Session.ReadTimeout == "" {
		return 0, nil
	}
	timeout, err := time.ParseDuration(cfg.Session.ReadTimeout)
	if err != nil {
		return 0, fmt.Errorf("%w: readTimeout: %v", ErrInvalidConfig, err)
	}
	return timeout, nil
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expand %s: %w", path, err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// WithTrainingDeadline returns a context extended by the training deadline, if one is specified.
func (cfg *TrainingConfig) WithTrainingDeadline(
	ctx context.Context,
) (context.Context, context.CancelFunc, error) {
	if val, ok := cfg.TrainingDeadline["duration"]; ok {
		if duration, err := time.ParseDuration(val); err != nil {
			return nil, nil, err
		} else {
			innerCtx, cancel := context.WithTimeout(ctx, duration)
			return innerCtx, cancel, nil
		}
	}
	defaultCtx, cancel := context.WithCancel(ctx)
	return defaultCtx, cancel, nil
}

// DefaultConfig is used when no config file is given.
func DefaultConfig() *TrainingConfig {
	return &TrainingConfig{}
}

// FromYaml reads a config document of the form {kind: ppo, def: <TrainingConfig>}.
func FromYaml(path string) (*TrainingConfig, error) {
	vp := viper.New()
	vp.SetConfigFile(path)
	vp.SetConfigType("yaml")
	vp.AddConfigPath(filepath.Dir(path))
	var err error
	if err = vp.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	outerConfig := &OuterConfig{}
	if err = vp.Unmarshal(outerConfig); err != nil {
		return nil, err
	}
	if outerConfig.Kind != "" && outerConfig.Kind != "ppo" {
		return nil, fmt.Errorf("%w: unsupported kind %q", ErrInvalidConfig, outerConfig.Kind)
	}

	var spec []byte
	if spec, err = yaml.Marshal(outerConfig.Def); err != nil {
		return nil, err
	}

	innerConfig := &TrainingConfig{}
	if err = yaml.Unmarshal(spec, innerConfig); err != nil {
		return nil, err
	}

	return innerConfig, nil
}
