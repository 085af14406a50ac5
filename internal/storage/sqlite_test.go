//go:build sqlite

package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSQLiteStore(t *testing.T) {
	store := NewSQLiteStore(filepath.Join(t.TempDir(), "gradus.db"))
	require.NoError(t, store.Init(context.Background()))
	t.Cleanup(func() {
		_ = store.Close()
	})
	runStoreSuite(t, store)
}

func TestSQLiteStoreReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "gradus.db")

	first := NewSQLiteStore(path)
	require.NoError(t, first.Init(ctx))
	require.NoError(t, first.SaveCheckpoint(ctx, testCheckpoint("run", "critic")))
	require.NoError(t, first.Close())

	second := NewSQLiteStore(path)
	require.NoError(t, second.Init(ctx))
	t.Cleanup(func() {
		_ = second.Close()
	})
	out, ok, err := second.GetCheckpoint(ctx, "run", "critic")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, testCheckpoint("run", "critic").Parameters, out.Parameters)
}

func TestSQLiteStoreRequiresInit(t *testing.T) {
	_, _, err := NewSQLiteStore("unused.db").GetCheckpoint(context.Background(), "run", "actor")
	require.ErrorIs(t, err, errNotInitialized)
}
