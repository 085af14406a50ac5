package engine

import (
	"math"

	"gradus/internal/nn"
	"gradus/internal/optim"
	"gradus/internal/target"
)

// rolloutStrategy covers PPO, GAE and DiscreteGAE: a clipped surrogate
// actor and a value critic, each with its own optimizer. DiscreteGAE
// estimates values with a critic target that is refreshed after each pass.
type rolloutStrategy struct {
	actor     nn.LogProbPolicy
	value     nn.ValueFunction
	twin      nn.TwinValueFunction
	estimator nn.ValueFunction
	sync      *target.Synchronizer
	actorOpt  optim.Optimizer
	criticOpt optim.Optimizer
	loss      criterion
}

func newRolloutStrategy(w *Wiring) (Strategy, error) {
	actor, err := need[nn.LogProbPolicy](w.Networks.Actor, w.Kind, "actor", "LogProb")
	if err != nil {
		return nil, err
	}
	value, err := need[nn.ValueFunction](w.Networks.Critic, w.Kind, "critic", "Value")
	if err != nil {
		return nil, err
	}
	s := &rolloutStrategy{actor: actor, value: value, estimator: value, loss: w.criterion()}
	if w.Kind != PPO {
		if s.twin, err = need[nn.TwinValueFunction](value, w.Kind, "critic", "TwinValue"); err != nil {
			return nil, err
		}
	}
	if w.Kind == DiscreteGAE {
		t, err := cloneOf(value, w.Kind, "critic")
		if err != nil {
			return nil, err
		}
		s.estimator = t.(nn.ValueFunction)
		if s.sync, err = target.New(value, t, target.Hard{Every: 1}); err != nil {
			return nil, err
		}
	}
	lr := w.Options.LearningRate
	if s.actorOpt, err = w.optimizer(actor.Parameters(), lr); err != nil {
		return nil, err
	}
	if s.criticOpt, err = w.optimizer(value.Parameters(), lr); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *rolloutStrategy) Family() Family { return FamilyOnPolicy }

func (s *rolloutStrategy) Values(states [][]float64) []float64 {
	return valuesOf(s.estimator, states)
}

func (s *rolloutStrategy) StepCritic(mb MiniBatch) (float64, error) {
	obj, half := criticObjective(s.value, s.twin, s.loss, mb)
	loss, err := s.criticOpt.Step(obj)
	if half {
		loss /= 2
	}
	return loss, err
}

func (s *rolloutStrategy) StepActor(mb MiniBatch) (float64, error) {
	return s.actorOpt.Step(surrogateObjective(s.actor, mb))
}

func (s *rolloutStrategy) EndPass() {
	if s.sync != nil {
		s.sync.Copy()
	}
}

func (s *rolloutStrategy) CopyTargets() { s.EndPass() }

// interGAEStrategy optimizes actor and critic views of one network on the
// sum of both losses. Values for the advantage pass come from the target.
type interGAEStrategy struct {
	actor      nn.LogProbPolicy
	critic     nn.TwinValueFunction
	criticT    nn.ValueFunction
	sync       *target.Synchronizer
	opt        optim.Optimizer
	loss       criterion
	criticLoss optim.Objective
}

func newInterGAEStrategy(w *Wiring) (Strategy, error) {
	shared := w.Networks.Shared
	if shared == nil {
		return nil, missingShared(w.Kind)
	}
	actor, err := need[nn.LogProbPolicy](shared.Actor(), w.Kind, "shared actor", "LogProb")
	if err != nil {
		return nil, err
	}
	critic, err := need[nn.TwinValueFunction](shared.Critic(), w.Kind, "shared critic", "TwinValue")
	if err != nil {
		return nil, err
	}
	s := &interGAEStrategy{actor: actor, critic: critic, loss: w.criterion()}

	t := shared.CloneModule().(nn.SharedNetwork)
	if s.criticT, err = need[nn.ValueFunction](t.Critic(), w.Kind, "shared target critic", "Value"); err != nil {
		return nil, err
	}
	if s.sync, err = target.New(shared, t, target.Soft{Tau: w.Constants().SharedTau}); err != nil {
		return nil, err
	}
	if s.opt, err = w.optimizer(shared.Parameters(), w.Options.LearningRate); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *interGAEStrategy) Family() Family { return FamilyOnPolicy }

func (s *interGAEStrategy) Values(states [][]float64) []float64 {
	return valuesOf(s.criticT, states)
}

func (s *interGAEStrategy) StepCritic(mb MiniBatch) (float64, error) {
	s.criticLoss, _ = criticObjective(s.critic, s.critic, s.loss, mb)
	loss := s.criticLoss()
	return loss, optimCheck("critic", loss)
}

func (s *interGAEStrategy) StepActor(mb MiniBatch) (float64, error) {
	actorLoss := surrogateObjective(s.actor, mb)
	_, err := s.opt.Step(func() float64 {
		return actorLoss() + s.criticLoss()
	})
	if err != nil {
		return 0, err
	}
	s.sync.Sync()
	return actorLoss(), nil
}

func (s *interGAEStrategy) EndPass() {}

func (s *interGAEStrategy) CopyTargets() { s.sync.Copy() }

func valuesOf(v nn.ValueFunction, states [][]float64) []float64 {
	out := make([]float64, len(states))
	for i, st := range states {
		out[i] = v.Value(st)
	}
	return out
}

// criticObjective regresses values onto the returns, scaled by the return
// deviation of the mini-batch. It reports whether the loss sums two heads.
func criticObjective(v nn.ValueFunction, twin nn.TwinValueFunction, loss criterion, mb MiniBatch) (optim.Objective, bool) {
	std := stdOrZero(mb.Returns)
	pred1 := make([]float64, mb.Len())
	if twin == nil {
		scale := std + normEpsilon
		return func() float64 {
			for i, st := range mb.States {
				pred1[i] = v.Value(st)
			}
			return loss(pred1, mb.Returns) / scale
		}, false
	}
	scale := 2*std + normEpsilon
	pred2 := make([]float64, mb.Len())
	return func() float64 {
		for i, st := range mb.States {
			pred1[i], pred2[i] = twin.TwinValue(st)
		}
		return (loss(pred1, mb.Returns) + loss(pred2, mb.Returns)) / scale
	}, true
}

// surrogateObjective is the clipped ratio objective plus an entropy bonus.
// The bonus is mean(p * log p), which is minimized by a spread policy.
func surrogateObjective(p nn.LogProbPolicy, mb MiniBatch) optim.Objective {
	n := float64(mb.Len())
	return func() float64 {
		surrogate, entropy := 0.0, 0.0
		for i, st := range mb.States {
			logp := p.LogProb(st, mb.Actions[i])
			ratio := math.Exp(logp - mb.LogProbs[i])
			adv := mb.Advantages[i]
			clipped := math.Max(1-ClipRatio, math.Min(1+ClipRatio, ratio))
			surrogate -= math.Min(ratio*adv, clipped*adv)
			entropy += math.Exp(logp) * logp
		}
		return surrogate/n + LambdaEntropy*entropy/n
	}
}
