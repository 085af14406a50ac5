package engine

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"gradus/internal/model"
	"gradus/internal/nn"
	"gradus/internal/optim"
	"gradus/internal/target"
)

// valueStrategy regresses Q(s, a) onto r + mask*max_a' Q_target(s', a').
// The twin variant takes the smaller of the two heads' maxima and trains
// both heads on the same target.
type valueStrategy struct {
	q       nn.Approximator
	twin    nn.TwinQFunction
	sync    *target.Synchronizer
	targetQ nn.Approximator
	twinT   nn.TwinQFunction
	opt     optim.Optimizer
	loss    criterion
	actions int
}

func newValueStrategy(w *Wiring) (Strategy, error) {
	q, err := need[nn.Approximator](w.Networks.Critic, w.Kind, "critic", "Forward over discrete actions")
	if err != nil {
		return nil, err
	}
	s := &valueStrategy{q: q, loss: w.criterion(), actions: w.Options.ActionDim}
	if w.Kind == DoubleQ {
		if s.twin, err = need[nn.TwinQFunction](q, w.Kind, "critic", "TwinQValues"); err != nil {
			return nil, err
		}
	}

	t, err := cloneOf(q, w.Kind, "critic")
	if err != nil {
		return nil, err
	}
	s.targetQ = t.(nn.Approximator)
	if s.twin != nil {
		s.twinT = t.(nn.TwinQFunction)
	}
	if s.sync, err = target.New(q, t, target.Hard{Every: w.Constants().HardSyncEvery}); err != nil {
		return nil, err
	}
	if s.opt, err = w.optimizer(q.Parameters(), w.Options.LearningRate); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *valueStrategy) Family() Family { return FamilyValue }

func (s *valueStrategy) CriticTarget(b model.TransitionBatch) []float64 {
	y := make([]float64, b.Len())
	for i := range y {
		var next float64
		if s.twinT != nil {
			q1, q2 := s.twinT.TwinQValues(b.NextStates[i])
			next = math.Min(floats.Max(q1), floats.Max(q2))
		} else {
			next = floats.Max(s.targetQ.Forward(b.NextStates[i]))
		}
		y[i] = b.Rewards[i] + b.Masks[i]*next
	}
	return y
}

func (s *valueStrategy) StepCritic(b model.TransitionBatch, y []float64) (float64, error) {
	idx := make([]int, b.Len())
	for i := range idx {
		idx[i] = b.ActionIndex(i)
		if idx[i] < 0 || idx[i] >= s.actions {
			return 0, fmt.Errorf("stored action index %d outside [0, %d)", idx[i], s.actions)
		}
	}

	pred := make([]float64, len(idx))
	if s.twin != nil {
		pred2 := make([]float64, len(idx))
		loss, err := s.opt.Step(func() float64 {
			for i, a := range idx {
				q1, q2 := s.twin.TwinQValues(b.States[i])
				pred[i], pred2[i] = q1[a], q2[a]
			}
			return s.loss(pred, y) + s.loss(pred2, y)
		})
		return loss / 2, err
	}
	return s.opt.Step(func() float64 {
		for i, a := range idx {
			pred[i] = s.q.Forward(b.States[i])[a]
		}
		return s.loss(pred, y)
	})
}

func (s *valueStrategy) StepActor(model.TransitionBatch, Step) (float64, bool, error) {
	return 0, false, nil
}

func (s *valueStrategy) Sync(Step) { s.sync.Sync() }

func (s *valueStrategy) CopyTargets() { s.sync.Copy() }
