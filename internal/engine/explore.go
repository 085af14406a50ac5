package engine

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"

	"gradus/internal/model"
	"gradus/internal/nn"
	"gradus/internal/noise"
)

// explorer applies the per-kind exploration rule:
//
//	q_learning             epsilon-greedy
//	double_q, dueling_q    softmax sampling over Q with a fixed probability
//	ddpg                   Ornstein-Uhlenbeck noise
//	other deterministic    clipped Gaussian noise
//	stochastic, on-policy  sampling from the policy
type explorer struct {
	kind       AlgorithmKind
	prof       profile
	rng        *rand.Rand
	q          nn.Approximator
	policy     nn.Policy
	stochastic nn.StochasticPolicy
	ou         *noise.OrnsteinUhlenbeck
	gauss      *noise.Gaussian
}

func newExplorer(kind AlgorithmKind, nets Networks, opts Options) (*explorer, error) {
	x := &explorer{kind: kind, prof: profiles[kind], rng: opts.Rand}
	var err error
	switch kind.Family() {
	case FamilyValue:
		x.q, err = need[nn.Approximator](nets.Critic, kind, "critic", "Forward over discrete actions")
		return x, err
	case FamilyDeterministic:
		if x.policy, err = need[nn.Policy](nets.actor(), kind, "actor", "Act"); err != nil {
			return nil, err
		}
		if kind == DDPG {
			x.ou, err = noise.NewOrnsteinUhlenbeck(noise.DefaultOUConfig(opts.ActionDim), opts.Rand)
		} else {
			x.gauss, err = noise.NewGaussian(x.prof.exploreStd, opts.Rand)
		}
		return x, err
	default:
		if x.stochastic, err = need[nn.StochasticPolicy](nets.actor(), kind, "actor", "SampleWithLogProb"); err != nil {
			return nil, err
		}
		x.policy = x.stochastic
		return x, nil
	}
}

func (x *explorer) reset() {
	if x.ou != nil {
		x.ou.Reset()
	}
}

func (x *explorer) selectAction(state []float64, explore bool) model.Action {
	switch x.prof.family {
	case FamilyValue:
		idx := x.selectIndex(x.q.Forward(state), explore)
		a := []float64{float64(idx)}
		return model.Action{Stored: a, Env: a}
	case FamilyDeterministic:
		a := x.policy.Act(state)
		if explore {
			if x.ou != nil {
				a = x.ou.Perturb(a)
			} else {
				a = x.gauss.Perturb(a)
			}
		}
		return model.Action{Stored: a, Env: a}
	case FamilyStochastic:
		if !explore {
			a := x.policy.Act(state)
			return model.Action{Stored: a, Env: a}
		}
		a, logp := x.stochastic.SampleWithLogProb(x.rng, state)
		return model.Action{Stored: a, Env: a, LogProb: logp}
	default:
		if !explore {
			// Greedy actions are already squashed by Act.
			a := x.policy.Act(state)
			return model.Action{Stored: a, Env: a}
		}
		a, logp := x.stochastic.SampleWithLogProb(x.rng, state)
		if x.prof.discrete {
			return model.Action{Stored: a, Env: a, LogProb: logp}
		}
		// Rollouts store the raw Gaussian sample; the environment sees it squashed.
		env := make([]float64, len(a))
		for i, v := range a {
			env[i] = math.Tanh(v)
		}
		return model.Action{Stored: a, Env: env, LogProb: logp}
	}
}

func (x *explorer) selectIndex(qs []float64, explore bool) int {
	if explore {
		switch {
		case x.prof.epsilon > 0 && x.rng.Float64() < x.prof.epsilon:
			return x.rng.IntN(len(qs))
		case x.prof.softmaxRate > 0 && x.rng.Float64() < x.prof.softmaxRate:
			return nn.SampleCategorical(x.rng, nn.Softmax(qs))
		}
	}
	return floats.MaxIdx(qs)
}

// RandomAction draws a uniform action in the engine's action space, used to
// seed a replay buffer before training.
func (e *Engine) RandomAction() model.Action {
	if e.kind.Discrete() {
		a := []float64{float64(e.rng.IntN(e.opts.ActionDim))}
		return model.Action{Stored: a, Env: a}
	}
	a := make([]float64, e.opts.ActionDim)
	for i := range a {
		a[i] = e.rng.Float64()*2 - 1
	}
	return model.Action{Stored: a, Env: a}
}
