package nn

import (
	"errors"
	"math"
	"math/rand/v2"
)

type PolicyHead int

const (
	DeterministicHead PolicyHead = iota
	// SquashedGaussianHead predicts mean and log-std and squashes with tanh.
	SquashedGaussianHead
	// GaussianHead predicts the mean with a learned state-independent log-std.
	GaussianHead
)

type CriticHead int

const (
	QHead CriticHead = iota
	TwinQHead
	TwinValueHead
)

type SharedConfig struct {
	HeadConfig
	Policy     PolicyHead
	Critic     CriticHead
	InitLogStd float64
}

// Shared owns a state encoder used by both a policy head and a critic head.
// The actor and critic views never own parameters of their own.
type Shared struct {
	cfg    SharedConfig
	body   *MLP
	policy *MLP
	logStd *Tensor
	critic *MLP
}

func NewShared(cfg SharedConfig, rng *rand.Rand) (*Shared, error) {
	if cfg.Policy == DeterministicHead && cfg.Critic == TwinValueHead {
		return nil, errors.New("deterministic policy needs an action-value critic")
	}
	body, err := NewMLP(MLPConfig{
		Name:             "shared.body",
		Sizes:            []int{cfg.StateDim, cfg.NetDim, cfg.NetDim},
		Activation:       cfg.Activation,
		OutputActivation: orDefault(cfg.Activation, "relu"),
	}, rng)
	if err != nil {
		return nil, err
	}

	policyOut := cfg.ActionDim
	if cfg.Policy == SquashedGaussianHead {
		policyOut *= 2
	}
	policyAct := "identity"
	if cfg.Policy == DeterministicHead {
		policyAct = "tanh"
	}
	policy, err := NewMLP(MLPConfig{
		Name:             "shared.policy",
		Sizes:            []int{cfg.NetDim, cfg.NetDim, policyOut},
		Activation:       cfg.Activation,
		OutputActivation: policyAct,
	}, rng)
	if err != nil {
		return nil, err
	}
	policy.ScaleOutput(0.1)

	criticIn, criticOut := cfg.NetDim+cfg.ActionDim, 1
	switch cfg.Critic {
	case TwinQHead:
		criticOut = 2
	case TwinValueHead:
		criticIn, criticOut = cfg.NetDim, 2
	}
	critic, err := NewMLP(MLPConfig{
		Name:       "shared.critic",
		Sizes:      []int{criticIn, cfg.NetDim, criticOut},
		Activation: cfg.Activation,
	}, rng)
	if err != nil {
		return nil, err
	}

	s := &Shared{cfg: cfg, body: body, policy: policy, critic: critic}
	if cfg.Policy == GaussianHead {
		s.logStd = NewTensor("shared.log_std", cfg.ActionDim)
		for i := range s.logStd.Data {
			s.logStd.Data[i] = cfg.InitLogStd
		}
	}
	return s, nil
}

func (s *Shared) Parameters() []*Tensor {
	ps := s.body.Parameters()
	ps = append(ps, s.policy.Parameters()...)
	if s.logStd != nil {
		ps = append(ps, s.logStd)
	}
	return append(ps, s.critic.Parameters()...)
}

func (s *Shared) CloneModule() Module {
	c := &Shared{
		cfg:    s.cfg,
		body:   s.body.Clone(),
		policy: s.policy.Clone(),
		critic: s.critic.Clone(),
	}
	if s.logStd != nil {
		c.logStd = s.logStd.Clone()
	}
	return c
}

func (s *Shared) Actor() Policy {
	if s.cfg.Policy == DeterministicHead {
		return sharedDeterministic{s}
	}
	return sharedGaussian{s}
}

func (s *Shared) Critic() Module {
	switch s.cfg.Critic {
	case TwinQHead:
		return sharedTwinQ{s}
	case TwinValueHead:
		return sharedTwinValue{s}
	default:
		return sharedQ{s}
	}
}

func (s *Shared) distribution(state []float64) ([]float64, []float64) {
	out := s.policy.Forward(s.body.Forward(state))
	ad := s.cfg.ActionDim
	if s.cfg.Policy == SquashedGaussianHead {
		return out[:ad], clampLogStd(out[ad:])
	}
	return out, clampLogStd(s.logStd.Data)
}

func (s *Shared) criticOut(state, action []float64) []float64 {
	h := s.body.Forward(state)
	if action != nil {
		h = concat(h, action)
	}
	return s.critic.Forward(h)
}

type sharedDeterministic struct{ s *Shared }

func (v sharedDeterministic) Act(state []float64) []float64 {
	return v.s.policy.Forward(v.s.body.Forward(state))
}
func (v sharedDeterministic) Parameters() []*Tensor { return v.s.Parameters() }

type sharedGaussian struct{ s *Shared }

func (v sharedGaussian) Distribution(state []float64) ([]float64, []float64) {
	return v.s.distribution(state)
}

func (v sharedGaussian) Act(state []float64) []float64 {
	mean, _ := v.s.distribution(state)
	return tanhAll(mean)
}

func (v sharedGaussian) NoiseDim() int { return v.s.cfg.ActionDim }

func (v sharedGaussian) SampleWithLogProb(rng *rand.Rand, state []float64) ([]float64, float64) {
	return v.Reparameterize(state, StandardNormal(rng, v.s.cfg.ActionDim))
}

func (v sharedGaussian) Reparameterize(state, noise []float64) ([]float64, float64) {
	mean, logStd := v.s.distribution(state)
	return gaussianReparameterize(mean, logStd, noise, v.s.cfg.Policy == SquashedGaussianHead)
}

func (v sharedGaussian) LogProb(state, action []float64) float64 {
	mean, logStd := v.s.distribution(state)
	return gaussianLogProb(mean, logStd, action, v.s.cfg.Policy == SquashedGaussianHead)
}

func (v sharedGaussian) Parameters() []*Tensor { return v.s.Parameters() }

type sharedQ struct{ s *Shared }

func (v sharedQ) Q(state, action []float64) float64 { return v.s.criticOut(state, action)[0] }
func (v sharedQ) Parameters() []*Tensor             { return v.s.Parameters() }

type sharedTwinQ struct{ s *Shared }

func (v sharedTwinQ) TwinQ(state, action []float64) (float64, float64) {
	out := v.s.criticOut(state, action)
	return out[0], out[1]
}

func (v sharedTwinQ) Q(state, action []float64) float64 { return math.Min(v.TwinQ(state, action)) }
func (v sharedTwinQ) Parameters() []*Tensor             { return v.s.Parameters() }

type sharedTwinValue struct{ s *Shared }

func (v sharedTwinValue) TwinValue(state []float64) (float64, float64) {
	out := v.s.criticOut(state, nil)
	return out[0], out[1]
}

func (v sharedTwinValue) Value(state []float64) float64 { return math.Min(v.TwinValue(state)) }
func (v sharedTwinValue) Parameters() []*Tensor         { return v.s.Parameters() }
