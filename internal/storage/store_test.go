package storage

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"gradus/internal/model"
)

func testCheckpoint(runID, name string) model.Checkpoint {
	return model.Checkpoint{
		VersionedRecord: CurrentVersion(),
		RunID:           runID,
		Name:            name,
		Kind:            "sac",
		Parameters: []model.ParameterTensor{
			// values chosen to need all 17 significant digits
			{Name: "w", Shape: []int{2, 2}, Data: []float64{math.Pi, -1.0 / 3, 5e-324, math.MaxFloat64}},
			{Name: "b", Shape: []int{2}, Data: []float64{0.1 + 0.2, -2.5e-17}},
		},
	}
}

// runStoreSuite exercises the Store contract against an initialized backend.
func runStoreSuite(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("checkpoint round trip is bit exact", func(t *testing.T) {
		in := testCheckpoint("run-a", "actor")
		require.NoError(t, store.SaveCheckpoint(ctx, in))

		out, ok, err := store.GetCheckpoint(ctx, "run-a", "actor")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, in.Kind, out.Kind)
		require.Len(t, out.Parameters, len(in.Parameters))
		for i, p := range in.Parameters {
			require.Equal(t, p.Name, out.Parameters[i].Name)
			require.Equal(t, p.Shape, out.Parameters[i].Shape)
			for j, v := range p.Data {
				require.Equal(t, math.Float64bits(v), math.Float64bits(out.Parameters[i].Data[j]), "tensor %s[%d]", p.Name, j)
			}
		}
	})

	t.Run("checkpoint overwrite and listing", func(t *testing.T) {
		require.NoError(t, store.SaveCheckpoint(ctx, testCheckpoint("run-b", "critic")))
		require.NoError(t, store.SaveCheckpoint(ctx, testCheckpoint("run-b", "actor")))
		updated := testCheckpoint("run-b", "critic")
		updated.Parameters[1].Data[0] = 42
		require.NoError(t, store.SaveCheckpoint(ctx, updated))

		names, err := store.ListCheckpoints(ctx, "run-b")
		require.NoError(t, err)
		require.Equal(t, []string{"actor", "critic"}, names)

		out, ok, err := store.GetCheckpoint(ctx, "run-b", "critic")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, 42.0, out.Parameters[1].Data[0])
	})

	t.Run("missing records report not found", func(t *testing.T) {
		_, ok, err := store.GetCheckpoint(ctx, "run-missing", "actor")
		require.NoError(t, err)
		require.False(t, ok)
		_, ok, err = store.GetRunSummary(ctx, "run-missing")
		require.NoError(t, err)
		require.False(t, ok)
		_, ok, err = store.GetDiagnostics(ctx, "run-missing")
		require.NoError(t, err)
		require.False(t, ok)
		_, ok, err = store.GetReturnHistory(ctx, "run-missing")
		require.NoError(t, err)
		require.False(t, ok)
		names, err := store.ListCheckpoints(ctx, "run-missing")
		require.NoError(t, err)
		require.Empty(t, names)
	})

	t.Run("run summaries", func(t *testing.T) {
		for _, id := range []string{"run-z", "run-c"} {
			require.NoError(t, store.SaveRunSummary(ctx, model.RunSummary{
				VersionedRecord: CurrentVersion(),
				RunID:           id,
				Kind:            "td3",
				Scape:           "cart-pole",
				Iterations:      7,
				BestReturn:      123.5,
				Seed:            9,
				NetDim:          16,
				Activation:      "tanh",
			}))
		}
		out, ok, err := store.GetRunSummary(ctx, "run-z")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "td3", out.Kind)
		require.Equal(t, 7, out.Iterations)
		require.Equal(t, 123.5, out.BestReturn)
		require.Equal(t, uint64(9), out.Seed)
		require.Equal(t, 16, out.NetDim)
		require.Equal(t, "tanh", out.Activation)

		runs, err := store.ListRuns(ctx)
		require.NoError(t, err)
		require.Subset(t, runs, []string{"run-c", "run-z"})
	})

	t.Run("diagnostics and return history", func(t *testing.T) {
		diagnostics := []model.UpdateDiagnostics{
			{Iteration: 1, CriticLoss: 0.5, ActorLoss: -1.25, Rho: 0.5, Alpha: 1, CriticSteps: 4, ActorSteps: 2},
			{Iteration: 2, CriticLoss: 0.25, ActorLoss: -1.5, Rho: 0.6, Alpha: 0.9, CriticSteps: 4, ActorSteps: 2},
		}
		require.NoError(t, store.SaveDiagnostics(ctx, "run-d", diagnostics))
		out, ok, err := store.GetDiagnostics(ctx, "run-d")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, diagnostics, out)

		history := []float64{9, 10.5, 200}
		require.NoError(t, store.SaveReturnHistory(ctx, "run-d", history))
		got, ok, err := store.GetReturnHistory(ctx, "run-d")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, history, got)
	})

	t.Run("invalid keys are rejected", func(t *testing.T) {
		require.Error(t, store.SaveCheckpoint(ctx, testCheckpoint("", "actor")))
		require.Error(t, store.SaveCheckpoint(ctx, testCheckpoint("run", "../actor")))
		require.Error(t, store.SaveRunSummary(ctx, model.RunSummary{VersionedRecord: CurrentVersion()}))
	})
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Init(context.Background()))
	runStoreSuite(t, store)
}

func TestMemoryStoreCopiesCheckpoints(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Init(ctx))

	in := testCheckpoint("run", "actor")
	require.NoError(t, store.SaveCheckpoint(ctx, in))
	in.Parameters[0].Data[0] = 0

	out, _, err := store.GetCheckpoint(ctx, "run", "actor")
	require.NoError(t, err)
	require.Equal(t, math.Pi, out.Parameters[0].Data[0])
}

func TestMemoryStoreRequiresInit(t *testing.T) {
	err := NewMemoryStore().SaveCheckpoint(context.Background(), testCheckpoint("run", "actor"))
	require.ErrorIs(t, err, errNotInitialized)
}

func TestFileStore(t *testing.T) {
	store := NewFileStore(t.TempDir())
	require.NoError(t, store.Init(context.Background()))
	runStoreSuite(t, store)
}

func TestFileStoreRequiresRoot(t *testing.T) {
	require.Error(t, NewFileStore("").Init(context.Background()))
}

func TestDecodeCheckpointVersionMismatch(t *testing.T) {
	c := testCheckpoint("run", "actor")
	c.SchemaVersion = CurrentSchemaVersion + 1
	payload, err := EncodeCheckpoint(c)
	require.NoError(t, err)

	_, err = DecodeCheckpoint(payload)
	require.True(t, errors.Is(err, model.ErrVersionMismatch), "got %v", err)
}

func TestEncodeCheckpointShapeMismatch(t *testing.T) {
	c := testCheckpoint("run", "actor")
	c.Parameters[0].Shape = []int{3, 3}
	_, err := EncodeCheckpoint(c)
	require.Error(t, err)
}

func TestNewStore(t *testing.T) {
	for _, kind := range []string{"", "memory", "file", "postgres"} {
		store, err := NewStore(kind, t.TempDir())
		require.NoError(t, err, kind)
		require.NotNil(t, store, kind)
	}
	_, err := NewStore("redis", "")
	require.Error(t, err)
	_, err = NewStore("unknown", "")
	require.Error(t, err)
}

func TestCloseIfSupported(t *testing.T) {
	require.NoError(t, CloseIfSupported(NewMemoryStore()))
	require.NoError(t, CloseIfSupported(NewPostgresStore("postgres://unused")))
}
