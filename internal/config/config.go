// Package config resolves a training run configuration from defaults, an
// optional JSON file and GRADUS_* environment variables.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"gradus/internal/engine"
	"gradus/internal/nn"
	"gradus/internal/storage"
)

const envPrefix = "GRADUS_"

type Config struct {
	RunID      string `json:"run_id,omitempty"`
	Kind       string `json:"kind"`
	Scape      string `json:"scape"`
	Seed       uint64 `json:"seed"`
	Iterations int    `json:"iterations"`

	NetDim       int     `json:"net_dim"`
	Activation   string  `json:"activation,omitempty"`
	Optimizer    string  `json:"optimizer"`
	LearningRate float64 `json:"learning_rate"`
	Gamma        float64 `json:"gamma"`
	RewardScale  float64 `json:"reward_scale"`
	BatchSize    int     `json:"batch_size"`
	RepeatTimes  int     `json:"repeat_times"`

	// MaxMemo is the replay capacity for off-policy kinds and the rollout
	// length for on-policy kinds.
	MaxMemo int `json:"max_memo"`
	// MaxStep is the number of environment steps collected per iteration by
	// off-policy kinds; it also scales their update count.
	MaxStep      int `json:"max_step"`
	InitialSteps int `json:"initial_steps"`

	EvalEpisodes    int `json:"eval_episodes"`
	EvalEvery       int `json:"eval_every"`
	CheckpointEvery int `json:"checkpoint_every"`

	Store         string `json:"store"`
	StoreLocation string `json:"store_location,omitempty"`
	ArtifactsDir  string `json:"artifacts_dir,omitempty"`
	LogLevel      string `json:"log_level"`

	Constants engine.Constants `json:"constants"`
}

// Default returns the configuration used when nothing overrides it. Only
// the learning rate depends on the kind.
func Default(kind engine.AlgorithmKind) Config {
	return Config{
		Kind:            kind.String(),
		Scape:           defaultScape(kind),
		Seed:            1,
		Iterations:      50,
		NetDim:          1 << 5,
		Activation:      "relu",
		Optimizer:       "adam",
		LearningRate:    defaultLearningRate(kind),
		Gamma:           0.99,
		RewardScale:     1,
		BatchSize:       1 << 7,
		RepeatTimes:     1,
		MaxMemo:         1 << 14,
		MaxStep:         1 << 8,
		InitialSteps:    1 << 10,
		EvalEpisodes:    4,
		EvalEvery:       1,
		CheckpointEvery: 10,
		Store:           "memory",
		LogLevel:        "info",
		Constants:       engine.DefaultConstants(),
	}
}

func defaultLearningRate(kind engine.AlgorithmKind) float64 {
	switch kind {
	case engine.DDPG, engine.TD3:
		return 2e-4
	default:
		return 1e-4
	}
}

func defaultScape(kind engine.AlgorithmKind) string {
	if kind.Discrete() {
		return "cart-pole-discrete"
	}
	return "cart-pole"
}

// Load reads a JSON file on top of the kind's defaults. The kind is taken
// from the file first so the defaults match it.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var head struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	kind := engine.SAC
	if head.Kind != "" {
		if kind, err = engine.ParseKind(head.Kind); err != nil {
			return Config{}, err
		}
	}

	cfg := Default(kind)
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// LoadDotEnv loads .env style files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// ApplyEnv overlays GRADUS_* variables read through lookup, which is
// os.LookupEnv outside tests.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := lookup(envPrefix + name); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	integer := func(name string, dst *int) {
		if v, ok := lookup(envPrefix + name); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	float := func(name string, dst *float64) {
		if v, ok := lookup(envPrefix + name); ok {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*dst = f
		}
	}

	str("RUN_ID", &c.RunID)
	str("KIND", &c.Kind)
	str("SCAPE", &c.Scape)
	if v, ok := lookup(envPrefix + "SEED"); ok {
		seed, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sSEED: %w", envPrefix, err))
		} else {
			c.Seed = seed
		}
	}
	integer("ITERATIONS", &c.Iterations)
	integer("NET_DIM", &c.NetDim)
	str("ACTIVATION", &c.Activation)
	str("OPTIMIZER", &c.Optimizer)
	float("LEARNING_RATE", &c.LearningRate)
	float("GAMMA", &c.Gamma)
	float("REWARD_SCALE", &c.RewardScale)
	integer("BATCH_SIZE", &c.BatchSize)
	integer("REPEAT_TIMES", &c.RepeatTimes)
	integer("MAX_MEMO", &c.MaxMemo)
	integer("MAX_STEP", &c.MaxStep)
	integer("INITIAL_STEPS", &c.InitialSteps)
	integer("EVAL_EPISODES", &c.EvalEpisodes)
	integer("EVAL_EVERY", &c.EvalEvery)
	integer("CHECKPOINT_EVERY", &c.CheckpointEvery)
	str("STORE", &c.Store)
	str("STORE_LOCATION", &c.StoreLocation)
	str("ARTIFACTS_DIR", &c.ArtifactsDir)
	str("LOG_LEVEL", &c.LogLevel)
	return errors.Join(errs...)
}

// AlgorithmKind parses the configured kind.
func (c Config) AlgorithmKind() (engine.AlgorithmKind, error) {
	return engine.ParseKind(c.Kind)
}

// Level parses the configured log level.
func (c Config) Level() (logrus.Level, error) {
	return logrus.ParseLevel(c.LogLevel)
}

func (c Config) Validate() error {
	var errs []error
	if _, err := c.AlgorithmKind(); err != nil {
		errs = append(errs, err)
	}
	if c.Scape == "" {
		errs = append(errs, errors.New("scape is required"))
	}
	if c.Iterations <= 0 {
		errs = append(errs, errors.New("iterations must be > 0"))
	}
	if c.NetDim <= 0 {
		errs = append(errs, errors.New("net dim must be > 0"))
	}
	if c.LearningRate <= 0 {
		errs = append(errs, errors.New("learning rate must be > 0"))
	}
	if c.Gamma <= 0 || c.Gamma > 1 {
		errs = append(errs, fmt.Errorf("gamma must be in (0, 1], got %g", c.Gamma))
	}
	if c.RewardScale <= 0 {
		errs = append(errs, errors.New("reward scale must be > 0"))
	}
	if c.BatchSize <= 0 {
		errs = append(errs, errors.New("batch size must be > 0"))
	}
	if c.RepeatTimes <= 0 {
		errs = append(errs, errors.New("repeat times must be > 0"))
	}
	if c.MaxMemo <= 0 {
		errs = append(errs, errors.New("max memo must be > 0"))
	}
	if c.MaxStep <= 0 {
		errs = append(errs, errors.New("max step must be > 0"))
	}
	if c.InitialSteps < 0 || c.EvalEpisodes < 0 || c.EvalEvery < 0 || c.CheckpointEvery < 0 {
		errs = append(errs, errors.New("initial steps, eval and checkpoint cadences must be >= 0"))
	}
	if c.Activation != "" && !slices.Contains(nn.ListActivations(), c.Activation) {
		errs = append(errs, fmt.Errorf("unknown activation %q, have %s", c.Activation, strings.Join(nn.ListActivations(), ", ")))
	}
	if !slices.Contains([]string{"adam", "perturbation"}, c.Optimizer) {
		errs = append(errs, fmt.Errorf("unknown optimizer %q", c.Optimizer))
	}
	if !slices.Contains(storage.Kinds(), c.Store) {
		errs = append(errs, fmt.Errorf("unknown store %q", c.Store))
	}
	if c.Store != "memory" && c.StoreLocation == "" {
		errs = append(errs, fmt.Errorf("store %s needs a location", c.Store))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Constants.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
