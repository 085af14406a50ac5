package engine

import (
	"fmt"
	"strings"

	"gradus/internal/model"
)

// AlgorithmKind tags the update rule the engine runs.
type AlgorithmKind int

const (
	QLearning AlgorithmKind = iota
	DoubleQ
	DuelingQ
	DDPG
	DeterministicAC
	TD3
	InterAC
	SAC
	DeepSAC
	InterSAC
	PPO
	GAE
	InterGAE
	DiscreteGAE
)

var kindNames = [...]string{
	QLearning:       "q_learning",
	DoubleQ:         "double_q",
	DuelingQ:        "dueling_q",
	DDPG:            "ddpg",
	DeterministicAC: "deterministic_ac",
	TD3:             "td3",
	InterAC:         "inter_ac",
	SAC:             "sac",
	DeepSAC:         "deep_sac",
	InterSAC:        "inter_sac",
	PPO:             "ppo",
	GAE:             "gae",
	InterGAE:        "inter_gae",
	DiscreteGAE:     "discrete_gae",
}

func (k AlgorithmKind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

func (k AlgorithmKind) Valid() bool {
	return k >= 0 && int(k) < len(kindNames)
}

// ParseKind accepts the canonical snake_case name, ignoring case and
// treating '-' like '_'.
func ParseKind(name string) (AlgorithmKind, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
	for i, n := range kindNames {
		if n == norm {
			return AlgorithmKind(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", model.ErrUnknownKind, name)
}

// Kinds lists every kind in declaration order.
func Kinds() []AlgorithmKind {
	out := make([]AlgorithmKind, len(kindNames))
	for i := range out {
		out[i] = AlgorithmKind(i)
	}
	return out
}

type Family int

const (
	FamilyValue Family = iota
	FamilyDeterministic
	FamilyStochastic
	FamilyOnPolicy
)

func (f Family) String() string {
	switch f {
	case FamilyValue:
		return "value"
	case FamilyDeterministic:
		return "deterministic_actor_critic"
	case FamilyStochastic:
		return "stochastic_actor_critic"
	case FamilyOnPolicy:
		return "on_policy"
	default:
		return fmt.Sprintf("family(%d)", int(f))
	}
}

// profile is the per-kind data the shared loop and the collectors read.
type profile struct {
	family   Family
	discrete bool
	shared   bool
	huber    bool
	// exploration: Gaussian std for deterministic actors, epsilon for
	// epsilon-greedy, softmax probability for sampled Q policies.
	exploreStd  float64
	epsilon     float64
	softmaxRate float64
	// target policy smoothing noise for deterministic families.
	policyNoise float64
}

var profiles = [...]profile{
	QLearning:       {family: FamilyValue, discrete: true, epsilon: 0.1},
	DoubleQ:         {family: FamilyValue, discrete: true, huber: true, softmaxRate: 0.25},
	DuelingQ:        {family: FamilyValue, discrete: true, huber: true, softmaxRate: 0.25},
	DDPG:            {family: FamilyDeterministic},
	DeterministicAC: {family: FamilyDeterministic, huber: true, exploreStd: 0.05, policyNoise: 0.1},
	TD3:             {family: FamilyDeterministic, exploreStd: 0.1, policyNoise: 0.2},
	InterAC:         {family: FamilyDeterministic, shared: true, huber: true, exploreStd: 0.2, policyNoise: 0.4},
	SAC:             {family: FamilyStochastic},
	DeepSAC:         {family: FamilyStochastic, huber: true},
	InterSAC:        {family: FamilyStochastic, shared: true, huber: true},
	PPO:             {family: FamilyOnPolicy, huber: true},
	GAE:             {family: FamilyOnPolicy, huber: true},
	InterGAE:        {family: FamilyOnPolicy, shared: true, huber: true},
	DiscreteGAE:     {family: FamilyOnPolicy, discrete: true, huber: true},
}

func (k AlgorithmKind) Family() Family { return profiles[k].family }

// Discrete reports whether the kind acts on a discrete action index.
func (k AlgorithmKind) Discrete() bool { return profiles[k].discrete }

func (k AlgorithmKind) OnPolicy() bool { return profiles[k].family == FamilyOnPolicy }

// Shared reports whether actor and critic are views of one network.
func (k AlgorithmKind) Shared() bool { return profiles[k].shared }
