package storage

import (
	"context"
	"errors"

	"gradus/internal/model"
)

// Store persists training runs: approximator checkpoints keyed by run and
// module name, per-iteration update diagnostics, episode return history and
// the run summary.
type Store interface {
	Init(ctx context.Context) error
	SaveCheckpoint(ctx context.Context, checkpoint model.Checkpoint) error
	GetCheckpoint(ctx context.Context, runID, name string) (model.Checkpoint, bool, error)
	ListCheckpoints(ctx context.Context, runID string) ([]string, error)
	SaveRunSummary(ctx context.Context, summary model.RunSummary) error
	GetRunSummary(ctx context.Context, runID string) (model.RunSummary, bool, error)
	ListRuns(ctx context.Context) ([]string, error)
	SaveDiagnostics(ctx context.Context, runID string, diagnostics []model.UpdateDiagnostics) error
	GetDiagnostics(ctx context.Context, runID string) ([]model.UpdateDiagnostics, bool, error)
	SaveReturnHistory(ctx context.Context, runID string, history []float64) error
	GetReturnHistory(ctx context.Context, runID string) ([]float64, bool, error)
}

var errNotInitialized = errors.New("store is not initialized")
