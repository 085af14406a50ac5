package trainer

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"gradus/internal/config"
	"gradus/internal/engine"
	"gradus/internal/scape"
	"gradus/internal/storage"
)

var ErrRunNotFound = errors.New("run not found")

// LoadEngine rebuilds the engine of a stored run from its summary and
// restores every persisted approximator. Targets are reset to the loaded
// online parameters.
func LoadEngine(ctx context.Context, store storage.Store, runID string, log *logrus.Entry) (*engine.Engine, error) {
	summary, ok, err := store.GetRunSummary(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	kind, err := engine.ParseKind(summary.Kind)
	if err != nil {
		return nil, err
	}

	rng := NewRand(summary.Seed)
	env, err := scape.New(summary.Scape, rng)
	if err != nil {
		return nil, err
	}
	cfg := config.Default(kind)
	cfg.NetDim = summary.NetDim
	cfg.Activation = summary.Activation
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	e, err := buildEngine(kind, env.Spec(), cfg, rng, log.WithField("run_id", runID))
	if err != nil {
		return nil, err
	}

	for name := range e.Modules() {
		cp, ok, err := store.GetCheckpoint(ctx, runID, name)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("run %s has no %s checkpoint", runID, name)
		}
		if cp.Kind != summary.Kind {
			return nil, fmt.Errorf("checkpoint %s/%s was written by %s, run is %s", runID, name, cp.Kind, summary.Kind)
		}
		if err := e.Restore(name, cp.Parameters); err != nil {
			return nil, err
		}
	}
	return e, nil
}
