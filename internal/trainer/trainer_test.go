package trainer

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gradus/internal/config"
	"gradus/internal/engine"
	"gradus/internal/nn"
	"gradus/internal/stats"
	"gradus/internal/storage"
)

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	store := storage.NewMemoryStore()
	require.NoError(t, store.Init(context.Background()))
	return store
}

func smallConfig(kind engine.AlgorithmKind) config.Config {
	cfg := config.Default(kind)
	cfg.RunID = "run-" + kind.String()
	cfg.Iterations = 2
	cfg.NetDim = 4
	cfg.LearningRate = 1e-3
	cfg.BatchSize = 4
	cfg.MaxMemo = 16
	cfg.MaxStep = 3
	cfg.InitialSteps = 8
	cfg.EvalEpisodes = 1
	cfg.EvalEvery = 1
	cfg.CheckpointEvery = 1
	return cfg
}

func TestRunOneKindPerFamily(t *testing.T) {
	for _, kind := range []engine.AlgorithmKind{engine.DoubleQ, engine.DDPG, engine.SAC, engine.PPO, engine.DiscreteGAE} {
		t.Run(kind.String(), func(t *testing.T) {
			store := newTestStore(t)
			tr, err := New(store, quietLogger())
			require.NoError(t, err)

			cfg := smallConfig(kind)
			res, err := tr.Run(context.Background(), cfg)
			require.NoError(t, err)

			require.Equal(t, cfg.RunID, res.RunID)
			require.Len(t, res.Diagnostics, cfg.Iterations)
			require.Len(t, res.ReturnHistory, cfg.Iterations)
			for i, d := range res.Diagnostics {
				assert.Equal(t, i+1, d.Iteration)
				assert.Positive(t, d.CriticSteps)
				assert.Positive(t, d.BufferLen)
			}
			require.Equal(t, cfg.Iterations, res.Summary.Iterations)
			require.Equal(t, kind.String(), res.Summary.Kind)
			require.Equal(t, storage.CurrentVersion(), res.Summary.VersionedRecord)
			require.GreaterOrEqual(t, res.Summary.BestReturn, res.Summary.FinalReturn)
			require.NotNil(t, res.Benchmark)
			require.Equal(t, cfg.Iterations, res.Benchmark.Evaluations)

			ctx := context.Background()
			summary, ok, err := store.GetRunSummary(ctx, cfg.RunID)
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, res.Summary, summary)

			diags, ok, err := store.GetDiagnostics(ctx, cfg.RunID)
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, res.Diagnostics, diags)

			names, err := store.ListCheckpoints(ctx, cfg.RunID)
			require.NoError(t, err)
			require.NotEmpty(t, names)
		})
	}
}

func TestRunOffPolicyCountsInitialSteps(t *testing.T) {
	store := newTestStore(t)
	tr, err := New(store, quietLogger())
	require.NoError(t, err)

	cfg := smallConfig(engine.QLearning)
	res, err := tr.Run(context.Background(), cfg)
	require.NoError(t, err)
	require.Equal(t, cfg.InitialSteps+cfg.Iterations*cfg.MaxStep, res.Summary.TotalSteps)
	require.Equal(t, cfg.InitialSteps+cfg.Iterations*cfg.MaxStep, res.Diagnostics[len(res.Diagnostics)-1].BufferLen)
}

func TestRunGeneratesRunID(t *testing.T) {
	tr, err := New(newTestStore(t), quietLogger())
	require.NoError(t, err)

	cfg := smallConfig(engine.QLearning)
	cfg.RunID = ""
	cfg.Iterations = 1
	res, err := tr.Run(context.Background(), cfg)
	require.NoError(t, err)
	require.Len(t, res.RunID, 36)
}

func TestRunWithoutEvaluation(t *testing.T) {
	tr, err := New(newTestStore(t), quietLogger())
	require.NoError(t, err)

	cfg := smallConfig(engine.QLearning)
	cfg.EvalEpisodes = 0
	res, err := tr.Run(context.Background(), cfg)
	require.NoError(t, err)
	require.Empty(t, res.ReturnHistory)
	require.Nil(t, res.Benchmark)
	require.Zero(t, res.Summary.BestReturn)
}

func TestRunWritesArtifacts(t *testing.T) {
	tr, err := New(newTestStore(t), quietLogger())
	require.NoError(t, err)

	cfg := smallConfig(engine.QLearning)
	cfg.ArtifactsDir = t.TempDir()
	res, err := tr.Run(context.Background(), cfg)
	require.NoError(t, err)
	require.NotEmpty(t, res.ArtifactsDir)

	history, ok, err := stats.ReadReturnHistory(cfg.ArtifactsDir, cfg.RunID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, res.ReturnHistory, history)

	index, err := stats.ListRunIndex(cfg.ArtifactsDir)
	require.NoError(t, err)
	require.Len(t, index, 1)
	require.Equal(t, cfg.RunID, index[0].RunID)
}

func TestRunWithPerturbationOptimizer(t *testing.T) {
	tr, err := New(newTestStore(t), quietLogger())
	require.NoError(t, err)

	cfg := smallConfig(engine.DDPG)
	cfg.Optimizer = "perturbation"
	cfg.Iterations = 1
	_, err = tr.Run(context.Background(), cfg)
	require.NoError(t, err)
}

func TestRunRejectsBadConfig(t *testing.T) {
	tr, err := New(newTestStore(t), quietLogger())
	require.NoError(t, err)

	cfg := smallConfig(engine.SAC)
	cfg.BatchSize = 0
	_, err = tr.Run(context.Background(), cfg)
	require.Error(t, err)

	// discrete kind on a continuous scape
	cfg = smallConfig(engine.DoubleQ)
	cfg.Scape = "cart-pole"
	_, err = tr.Run(context.Background(), cfg)
	require.ErrorContains(t, err, "discrete action mismatch")

	_, err = New(nil, nil)
	require.Error(t, err)
}

func TestRunStopsOnCancel(t *testing.T) {
	store := newTestStore(t)
	tr, err := New(store, quietLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := smallConfig(engine.PPO)
	_, err = tr.Run(ctx, cfg)
	require.True(t, errors.Is(err, context.Canceled), "got %v", err)

	_, ok, err := store.GetRunSummary(context.Background(), cfg.RunID)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLoadEngineRestoresCheckpoints(t *testing.T) {
	for _, kind := range []engine.AlgorithmKind{engine.TD3, engine.InterGAE} {
		t.Run(kind.String(), func(t *testing.T) {
			store := newTestStore(t)
			tr, err := New(store, quietLogger())
			require.NoError(t, err)
			cfg := smallConfig(kind)
			cfg.Iterations = 1
			_, err = tr.Run(context.Background(), cfg)
			require.NoError(t, err)

			e, err := LoadEngine(context.Background(), store, cfg.RunID, quietLogger())
			require.NoError(t, err)
			require.Equal(t, kind, e.Kind())
			for name, m := range e.Modules() {
				cp, ok, err := store.GetCheckpoint(context.Background(), cfg.RunID, name)
				require.NoError(t, err)
				require.True(t, ok)
				require.Equal(t, cp.Parameters, nn.Snapshot(m), name)
			}
		})
	}
}

func TestLoadEngineMissingRun(t *testing.T) {
	_, err := LoadEngine(context.Background(), newTestStore(t), "nope", quietLogger())
	require.True(t, errors.Is(err, ErrRunNotFound))
}
