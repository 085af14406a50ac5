package engine

import (
	"fmt"
	"math/rand/v2"

	"gradus/internal/model"
	"gradus/internal/nn"
)

// Networks is the set of online approximators an engine trains. Shared
// kinds set Shared and leave Actor and Critic empty; the engine uses the
// shared network's views.
type Networks struct {
	Actor  nn.Module
	Critic nn.Module
	Shared nn.SharedNetwork
}

// actor returns the actor view, resolving shared networks.
func (n Networks) actor() nn.Module {
	if n.Shared != nil {
		return n.Shared.Actor()
	}
	return n.Actor
}

func (n Networks) critic() nn.Module {
	if n.Shared != nil {
		return n.Shared.Critic()
	}
	return n.Critic
}

// Capabilities describes what the wired networks provide. It is resolved
// once, when the engine is built.
type Capabilities struct {
	Discrete       bool `json:"discrete"`
	OnPolicy       bool `json:"on_policy"`
	HasActor       bool `json:"has_actor"`
	SharedNetwork  bool `json:"shared_network"`
	TwinCritic     bool `json:"twin_critic"`
	Stochastic     bool `json:"stochastic"`
	ActorTarget    bool `json:"actor_target"`
	CriticTarget   bool `json:"critic_target"`
	AutoAlpha      bool `json:"auto_alpha"`
	TrustWeighting bool `json:"trust_weighting"`
}

func capabilitiesOf(kind AlgorithmKind, nets Networks) Capabilities {
	p := profiles[kind]
	c := Capabilities{
		Discrete:      p.discrete,
		OnPolicy:      p.family == FamilyOnPolicy,
		HasActor:      p.family != FamilyValue,
		SharedNetwork: p.shared,
	}
	switch nets.critic().(type) {
	case nn.TwinCritic, nn.TwinQFunction, nn.TwinValueFunction:
		c.TwinCritic = true
	}
	if c.HasActor {
		_, c.Stochastic = nets.actor().(nn.StochasticPolicy)
	}
	switch kind {
	case QLearning, DoubleQ, DuelingQ, SAC, DiscreteGAE:
		c.CriticTarget = true
	case DDPG, DeterministicAC, TD3, DeepSAC, InterAC, InterSAC, InterGAE:
		c.ActorTarget = true
		c.CriticTarget = true
	}
	c.AutoAlpha = p.family == FamilyStochastic
	c.TrustWeighting = kind == DeepSAC || kind == InterAC || kind == InterSAC
	return c
}

// need asserts that m satisfies T. want names the capability in the error.
func need[T any](m any, kind AlgorithmKind, role, want string) (T, error) {
	v, ok := m.(T)
	if !ok || m == nil {
		var zero T
		return zero, fmt.Errorf("%w: %s %s must provide %s, got %T", model.ErrMissingCapability, kind, role, want, m)
	}
	return v, nil
}

func cloneOf(m nn.Module, kind AlgorithmKind, role string) (nn.Module, error) {
	c, err := need[nn.Cloner](m, kind, role, "CloneModule for a target network")
	if err != nil {
		return nil, err
	}
	return c.CloneModule(), nil
}

// DefaultNetworks builds the reference approximators for kind.
func DefaultNetworks(kind AlgorithmKind, cfg nn.HeadConfig, rng *rand.Rand) (Networks, error) {
	var (
		nets Networks
		err  error
	)
	switch kind {
	case QLearning:
		nets.Critic, err = nn.NewQNet(cfg, rng)
	case DoubleQ:
		nets.Critic, err = nn.NewTwinQNet(cfg, rng)
	case DuelingQ:
		nets.Critic, err = nn.NewDuelingQNet(cfg, rng)
	case DDPG, DeterministicAC:
		if nets.Actor, err = nn.NewActor(cfg, rng); err == nil {
			nets.Critic, err = nn.NewQCritic(cfg, rng)
		}
	case TD3:
		if nets.Actor, err = nn.NewActor(cfg, rng); err == nil {
			nets.Critic, err = nn.NewTwinQCritic(cfg, rng)
		}
	case SAC, DeepSAC:
		if nets.Actor, err = nn.NewGaussianActor(nn.GaussianConfig{HeadConfig: cfg, Squash: true, StateStd: true}, rng); err == nil {
			nets.Critic, err = nn.NewTwinQCritic(cfg, rng)
		}
	case PPO:
		if nets.Actor, err = nn.NewGaussianActor(nn.GaussianConfig{HeadConfig: cfg, InitLogStd: -0.5}, rng); err == nil {
			nets.Critic, err = nn.NewValueNet(cfg, rng)
		}
	case GAE:
		if nets.Actor, err = nn.NewGaussianActor(nn.GaussianConfig{HeadConfig: cfg, StateStd: true}, rng); err == nil {
			nets.Critic, err = nn.NewTwinValueNet(cfg, rng)
		}
	case DiscreteGAE:
		if nets.Actor, err = nn.NewCategoricalActor(cfg, rng); err == nil {
			nets.Critic, err = nn.NewTwinValueNet(cfg, rng)
		}
	case InterAC:
		nets.Shared, err = nn.NewShared(nn.SharedConfig{HeadConfig: cfg, Policy: nn.DeterministicHead, Critic: nn.QHead}, rng)
	case InterSAC:
		nets.Shared, err = nn.NewShared(nn.SharedConfig{HeadConfig: cfg, Policy: nn.SquashedGaussianHead, Critic: nn.TwinQHead}, rng)
	case InterGAE:
		nets.Shared, err = nn.NewShared(nn.SharedConfig{HeadConfig: cfg, Policy: nn.GaussianHead, Critic: nn.TwinValueHead, InitLogStd: -0.5}, rng)
	default:
		return Networks{}, fmt.Errorf("%w: %d", model.ErrUnknownKind, int(kind))
	}
	if err != nil {
		return Networks{}, fmt.Errorf("build %s networks: %w", kind, err)
	}
	return nets, nil
}
