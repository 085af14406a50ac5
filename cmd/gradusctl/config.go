package main

import (
	"flag"
	"os"
	"strings"

	"gradus/internal/config"
	"gradus/internal/engine"
	"gradus/internal/storage"
)

type trainFlags struct {
	runID           *string
	kind            *string
	scape           *string
	seed            *uint64
	iterations      *int
	netDim          *int
	activation      *string
	optimizer       *string
	learningRate    *float64
	gamma           *float64
	rewardScale     *float64
	batchSize       *int
	repeatTimes     *int
	maxMemo         *int
	maxStep         *int
	initialSteps    *int
	evalEpisodes    *int
	evalEvery       *int
	checkpointEvery *int
	store           *string
	storeLocation   *string
	artifactsDir    *string
	logLevel        *string
}

func registerTrainFlags(fs *flag.FlagSet) trainFlags {
	return trainFlags{
		runID:           fs.String("run-id", "", "run id, generated when empty"),
		kind:            fs.String("kind", engine.SAC.String(), "algorithm kind"),
		scape:           fs.String("scape", "", "environment name, defaults by kind"),
		seed:            fs.Uint64("seed", 1, "random seed"),
		iterations:      fs.Int("iterations", 0, "update passes"),
		netDim:          fs.Int("net-dim", 0, "hidden layer width"),
		activation:      fs.String("activation", "", "hidden activation"),
		optimizer:       fs.String("optimizer", "", "optimizer: adam|perturbation"),
		learningRate:    fs.Float64("lr", 0, "learning rate"),
		gamma:           fs.Float64("gamma", 0, "discount factor"),
		rewardScale:     fs.Float64("reward-scale", 0, "reward scale applied before storing"),
		batchSize:       fs.Int("batch", 0, "batch size"),
		repeatTimes:     fs.Int("repeat", 0, "update repeat times"),
		maxMemo:         fs.Int("max-memo", 0, "replay capacity or rollout length"),
		maxStep:         fs.Int("max-step", 0, "environment steps per iteration"),
		initialSteps:    fs.Int("initial-steps", 0, "random exploration steps before training"),
		evalEpisodes:    fs.Int("eval-episodes", 0, "greedy episodes per evaluation"),
		evalEvery:       fs.Int("eval-every", 0, "evaluate every n iterations"),
		checkpointEvery: fs.Int("checkpoint-every", 0, "checkpoint every n iterations"),
		store:           fs.String("store", storage.DefaultStoreKind(), "store backend: "+strings.Join(storage.Kinds(), "|")),
		storeLocation:   fs.String("store-location", "", "store directory, database path, redis address or postgres dsn"),
		artifactsDir:    fs.String("artifacts-dir", artifactsDir, "run artifacts directory"),
		logLevel:        fs.String("log-level", "", "log level"),
	}
}

// resolveTrainConfig layers the run config: kind defaults, the optional JSON
// file, the dotenv file and process environment, then explicitly set flags.
func resolveTrainConfig(configPath, envFile string, flags trainFlags, set map[string]bool) (config.Config, error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		return config.Config{}, err
	}

	var cfg config.Config
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	} else {
		name := *flags.kind
		if v, ok := os.LookupEnv("GRADUS_KIND"); ok && !set["kind"] {
			name = strings.TrimSpace(v)
		}
		kind, err := engine.ParseKind(name)
		if err != nil {
			return config.Config{}, err
		}
		cfg = config.Default(kind)
	}
	if err := cfg.ApplyEnv(nil); err != nil {
		return config.Config{}, err
	}
	overrideFromFlags(&cfg, flags, set)
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func overrideFromFlags(cfg *config.Config, flags trainFlags, set map[string]bool) {
	str := func(name string, dst *string, v *string) {
		if set[name] {
			*dst = *v
		}
	}
	integer := func(name string, dst *int, v *int) {
		if set[name] {
			*dst = *v
		}
	}
	float := func(name string, dst *float64, v *float64) {
		if set[name] {
			*dst = *v
		}
	}

	str("run-id", &cfg.RunID, flags.runID)
	str("kind", &cfg.Kind, flags.kind)
	str("scape", &cfg.Scape, flags.scape)
	if set["seed"] {
		cfg.Seed = *flags.seed
	}
	integer("iterations", &cfg.Iterations, flags.iterations)
	integer("net-dim", &cfg.NetDim, flags.netDim)
	str("activation", &cfg.Activation, flags.activation)
	str("optimizer", &cfg.Optimizer, flags.optimizer)
	float("lr", &cfg.LearningRate, flags.learningRate)
	float("gamma", &cfg.Gamma, flags.gamma)
	float("reward-scale", &cfg.RewardScale, flags.rewardScale)
	integer("batch", &cfg.BatchSize, flags.batchSize)
	integer("repeat", &cfg.RepeatTimes, flags.repeatTimes)
	integer("max-memo", &cfg.MaxMemo, flags.maxMemo)
	integer("max-step", &cfg.MaxStep, flags.maxStep)
	integer("initial-steps", &cfg.InitialSteps, flags.initialSteps)
	integer("eval-episodes", &cfg.EvalEpisodes, flags.evalEpisodes)
	integer("eval-every", &cfg.EvalEvery, flags.evalEvery)
	integer("checkpoint-every", &cfg.CheckpointEvery, flags.checkpointEvery)
	str("store", &cfg.Store, flags.store)
	str("store-location", &cfg.StoreLocation, flags.storeLocation)
	str("artifacts-dir", &cfg.ArtifactsDir, flags.artifactsDir)
	str("log-level", &cfg.LogLevel, flags.logLevel)
	if cfg.ArtifactsDir == "" {
		cfg.ArtifactsDir = *flags.artifactsDir
	}
}
