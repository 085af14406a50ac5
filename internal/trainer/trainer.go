// Package trainer runs the sequential training loop of one algorithm kind
// on one environment: collect experience, update the engine, evaluate,
// checkpoint and record the run.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"gradus/internal/agent"
	"gradus/internal/config"
	"gradus/internal/engine"
	"gradus/internal/model"
	"gradus/internal/nn"
	"gradus/internal/replay"
	"gradus/internal/scape"
	"gradus/internal/stats"
	"gradus/internal/storage"
)

// Result is what a finished run leaves behind.
type Result struct {
	RunID         string
	Summary       model.RunSummary
	ReturnHistory []float64
	Diagnostics   []model.UpdateDiagnostics
	Benchmark     *stats.BenchmarkSummary
	// ArtifactsDir is the run's artifact directory, empty when none was
	// configured.
	ArtifactsDir string
}

type Trainer struct {
	store storage.Store
	log   *logrus.Entry
}

// New returns a trainer persisting into store. The store must already be
// initialized. A nil log uses the standard logger.
func New(store storage.Store, log *logrus.Entry) (*Trainer, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Trainer{store: store, log: log.WithField("component", "trainer")}, nil
}

// NewRand returns the PCG source a run with seed draws from.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b9))
}

// run is the state of one training run.
type run struct {
	cfg       config.Config
	id        string
	kind      engine.AlgorithmKind
	spec      scape.Spec
	engine    *engine.Engine
	collector *agent.Collector
	evaluator *agent.Collector
	log       *logrus.Entry

	summary     model.RunSummary
	history     []float64
	diagnostics []model.UpdateDiagnostics
}

// Run trains cfg.Iterations update passes and persists the run. Cancelling
// ctx stops collection at the next environment step; nothing is persisted
// for a cancelled run beyond checkpoints already written.
func (t *Trainer) Run(ctx context.Context, cfg config.Config) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, fmt.Errorf("invalid config: %w", err)
	}
	r, err := t.newRun(cfg)
	if err != nil {
		return Result{}, err
	}

	if r.kind.OnPolicy() {
		err = t.trainOnPolicy(ctx, r)
	} else {
		err = t.trainOffPolicy(ctx, r)
	}
	if err != nil {
		return Result{}, err
	}
	if err := t.saveCheckpoints(ctx, r); err != nil {
		return Result{}, err
	}
	return t.finish(ctx, r)
}

func (t *Trainer) newRun(cfg config.Config) (*run, error) {
	kind, err := cfg.AlgorithmKind()
	if err != nil {
		return nil, err
	}
	runID := cfg.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	rng := NewRand(cfg.Seed)

	env, err := scape.New(cfg.Scape, rng)
	if err != nil {
		return nil, err
	}
	evalEnv, err := scape.New(cfg.Scape, rng)
	if err != nil {
		return nil, err
	}
	spec := env.Spec()
	if spec.Discrete != kind.Discrete() {
		return nil, fmt.Errorf("%s cannot drive %s: discrete action mismatch", kind, spec.Name)
	}

	log := t.log.WithFields(logrus.Fields{"run_id": runID, "kind": kind.String()})
	e, err := buildEngine(kind, spec, cfg, rng, log)
	if err != nil {
		return nil, err
	}

	agentCfg := agent.Config{Gamma: cfg.Gamma, RewardScale: cfg.RewardScale}
	collector, err := agent.NewCollector(runID, env, e, agentCfg)
	if err != nil {
		return nil, err
	}
	evaluator, err := agent.NewCollector(runID+":eval", evalEnv, e, agentCfg)
	if err != nil {
		return nil, err
	}

	return &run{
		cfg:       cfg,
		id:        runID,
		kind:      kind,
		spec:      spec,
		engine:    e,
		collector: collector,
		evaluator: evaluator,
		log:       log,
		summary: model.RunSummary{
			VersionedRecord: storage.CurrentVersion(),
			RunID:           runID,
			Kind:            kind.String(),
			Scape:           spec.Name,
			Seed:            cfg.Seed,
			NetDim:          cfg.NetDim,
			Activation:      cfg.Activation,
			BestReturn:      math.Inf(-1),
		},
	}, nil
}

func buildEngine(kind engine.AlgorithmKind, spec scape.Spec, cfg config.Config, rng *rand.Rand, log *logrus.Entry) (*engine.Engine, error) {
	nets, err := engine.DefaultNetworks(kind, nn.HeadConfig{
		StateDim:   spec.StateDim,
		ActionDim:  spec.ActionDim,
		NetDim:     cfg.NetDim,
		Activation: cfg.Activation,
	}, rng)
	if err != nil {
		return nil, err
	}
	opts := engine.Options{
		Kind:         kind,
		StateDim:     spec.StateDim,
		ActionDim:    spec.ActionDim,
		BatchSize:    cfg.BatchSize,
		RepeatTimes:  cfg.RepeatTimes,
		LearningRate: cfg.LearningRate,
		Constants:    cfg.Constants,
		Rand:         rng,
		Logger:       log,
	}
	if cfg.Optimizer == "perturbation" {
		opts.Optimizer = engine.PerturbationFactory(rng)
	}
	return engine.New(opts, nets)
}

func (t *Trainer) trainOffPolicy(ctx context.Context, r *run) error {
	layout := model.Layout{StateDim: r.spec.StateDim, ActionDim: r.spec.ActionDim}
	if r.spec.Discrete {
		layout.ActionDim = 1
	}
	buf, err := replay.NewBuffer(r.cfg.MaxMemo, layout)
	if err != nil {
		return err
	}
	r.log.WithFields(logrus.Fields{
		"capacity":  buf.Cap(),
		"footprint": humanize.Bytes(buf.SizeBytes()),
	}).Info("replay buffer ready")

	if r.cfg.InitialSteps > 0 {
		seed, err := r.collector.InitialExploration(ctx, buf, r.cfg.InitialSteps)
		if err != nil {
			return fmt.Errorf("initial exploration: %w", err)
		}
		r.summary.TotalSteps += seed.Steps
		r.summary.Episodes += seed.Episodes
	}

	for i := 1; i <= r.cfg.Iterations; i++ {
		collected, err := r.collector.Explore(ctx, buf, r.cfg.MaxStep, false)
		if err != nil {
			return fmt.Errorf("iteration %d explore: %w", i, err)
		}
		diag, err := r.engine.Update(buf, r.cfg.MaxStep)
		if err != nil {
			return fmt.Errorf("iteration %d update: %w", i, err)
		}
		if err := t.record(ctx, r, i, diag, collected); err != nil {
			return err
		}
	}
	return nil
}

func (t *Trainer) trainOnPolicy(ctx context.Context, r *run) error {
	buf, err := replay.NewOnlineBuffer(r.cfg.MaxMemo)
	if err != nil {
		return err
	}
	for i := 1; i <= r.cfg.Iterations; i++ {
		buf.Clear()
		collected, err := r.collector.Rollout(ctx, buf, r.cfg.MaxMemo)
		if err != nil {
			return fmt.Errorf("iteration %d rollout: %w", i, err)
		}
		diag, err := r.engine.Update(buf, collected.Steps)
		if err != nil {
			return fmt.Errorf("iteration %d update: %w", i, err)
		}
		if err := t.record(ctx, r, i, diag, collected); err != nil {
			return err
		}
	}
	return nil
}

// record books one finished iteration: diagnostics, evaluation and the
// periodic checkpoint.
func (t *Trainer) record(ctx context.Context, r *run, iteration int, diag model.UpdateDiagnostics, collected agent.Stats) error {
	diag.Episodes = collected.Episodes
	diag.AvgReturn = collected.AvgReturn()
	r.diagnostics = append(r.diagnostics, diag)
	r.summary.Iterations = iteration
	r.summary.TotalSteps += collected.Steps
	r.summary.Episodes += collected.Episodes

	fields := logrus.Fields{
		"iteration":   iteration,
		"kind":        r.kind.String(),
		"critic_loss": diag.CriticLoss,
		"actor_loss":  diag.ActorLoss,
		"rho":         diag.Rho,
		"alpha":       diag.Alpha,
		"buffer_len":  diag.BufferLen,
		"episodes":    diag.Episodes,
		"avg_return":  diag.AvgReturn,
	}

	if r.cfg.EvalEpisodes > 0 && r.cfg.EvalEvery > 0 && iteration%r.cfg.EvalEvery == 0 {
		eval, err := r.evaluator.Evaluate(ctx, r.cfg.EvalEpisodes)
		if err != nil {
			return fmt.Errorf("iteration %d evaluate: %w", iteration, err)
		}
		ret := eval.AvgReturn()
		r.history = append(r.history, ret)
		r.summary.FinalReturn = ret
		r.summary.BestReturn = math.Max(r.summary.BestReturn, ret)
		fields["eval_return"] = ret
	}
	r.log.WithFields(fields).Info("iteration done")

	if r.cfg.CheckpointEvery > 0 && iteration%r.cfg.CheckpointEvery == 0 {
		return t.saveCheckpoints(ctx, r)
	}
	return nil
}

func (t *Trainer) saveCheckpoints(ctx context.Context, r *run) error {
	snap := r.engine.Snapshot()
	names := make([]string, 0, len(snap))
	for name := range snap {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		err := t.store.SaveCheckpoint(ctx, model.Checkpoint{
			VersionedRecord: storage.CurrentVersion(),
			RunID:           r.id,
			Name:            name,
			Kind:            r.kind.String(),
			Parameters:      snap[name],
		})
		if err != nil {
			return fmt.Errorf("save checkpoint %s: %w", name, err)
		}
	}
	return nil
}

func (t *Trainer) finish(ctx context.Context, r *run) (Result, error) {
	if len(r.history) == 0 {
		r.summary.BestReturn = 0
	}
	if err := t.store.SaveDiagnostics(ctx, r.id, r.diagnostics); err != nil {
		return Result{}, err
	}
	if err := t.store.SaveReturnHistory(ctx, r.id, r.history); err != nil {
		return Result{}, err
	}
	if err := t.store.SaveRunSummary(ctx, r.summary); err != nil {
		return Result{}, err
	}

	res := Result{
		RunID:         r.id,
		Summary:       r.summary,
		ReturnHistory: r.history,
		Diagnostics:   r.diagnostics,
	}
	if len(r.history) > 0 {
		bench, err := stats.Summarize(r.history, r.spec.TargetReward)
		if err != nil {
			return Result{}, err
		}
		bench.RunID = r.id
		bench.Kind = r.summary.Kind
		bench.Scape = r.summary.Scape
		res.Benchmark = &bench
	}
	if r.cfg.ArtifactsDir != "" {
		dir, err := writeArtifacts(r, res)
		if err != nil {
			return Result{}, fmt.Errorf("write artifacts: %w", err)
		}
		res.ArtifactsDir = dir
	}
	r.log.WithFields(logrus.Fields{
		"iterations":   r.summary.Iterations,
		"total_steps":  r.summary.TotalSteps,
		"best_return":  r.summary.BestReturn,
		"final_return": r.summary.FinalReturn,
	}).Info("run finished")
	return res, nil
}

func writeArtifacts(r *run, res Result) (string, error) {
	cfg := r.cfg
	dir, err := stats.WriteRunArtifacts(cfg.ArtifactsDir, stats.RunArtifacts{
		Config: stats.RunConfig{
			RunID:         r.id,
			Kind:          r.summary.Kind,
			Scape:         r.summary.Scape,
			Seed:          cfg.Seed,
			Iterations:    cfg.Iterations,
			BatchSize:     cfg.BatchSize,
			RepeatTimes:   cfg.RepeatTimes,
			LearningRate:  cfg.LearningRate,
			Gamma:         cfg.Gamma,
			RewardScale:   cfg.RewardScale,
			NetDim:        cfg.NetDim,
			MaxMemo:       cfg.MaxMemo,
			MaxStep:       cfg.MaxStep,
			InitialSteps:  cfg.InitialSteps,
			EvalEpisodes:  cfg.EvalEpisodes,
			Store:         cfg.Store,
			StoreLocation: cfg.StoreLocation,
		},
		Summary:       res.Summary,
		ReturnHistory: res.ReturnHistory,
		Diagnostics:   res.Diagnostics,
		Benchmark:     res.Benchmark,
	})
	if err != nil {
		return "", err
	}
	err = stats.AppendRunIndex(cfg.ArtifactsDir, stats.RunIndexEntry{
		RunID:        r.id,
		Kind:         r.summary.Kind,
		Scape:        r.summary.Scape,
		Seed:         cfg.Seed,
		Iterations:   r.summary.Iterations,
		TotalSteps:   r.summary.TotalSteps,
		BestReturn:   r.summary.BestReturn,
		FinalReturn:  r.summary.FinalReturn,
		CreatedAtUTC: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return "", err
	}
	return dir, nil
}
