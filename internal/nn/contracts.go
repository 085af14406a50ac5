package nn

import "math/rand/v2"

// Module exposes its parameter tensors for optimization and synchronization.
type Module interface {
	Parameters() []*Tensor
}

// Cloner produces an independent deep copy, used for target networks.
type Cloner interface {
	CloneModule() Module
}

// Approximator maps an input vector to an output vector.
type Approximator interface {
	Module
	Forward(input []float64) []float64
}

// TwinQFunction is a discrete Q network with two independent heads.
type TwinQFunction interface {
	Approximator
	TwinQValues(state []float64) ([]float64, []float64)
}

// Critic scores a state-action pair.
type Critic interface {
	Module
	Q(state, action []float64) float64
}

// TwinCritic holds two Q heads. Q returns their minimum.
type TwinCritic interface {
	Critic
	TwinQ(state, action []float64) (float64, float64)
}

// ValueFunction scores a state.
type ValueFunction interface {
	Module
	Value(state []float64) float64
}

// TwinValueFunction holds two value heads. Value returns their minimum.
type TwinValueFunction interface {
	ValueFunction
	TwinValue(state []float64) (float64, float64)
}

// Policy maps a state to its greedy action in [-1, 1].
type Policy interface {
	Module
	Act(state []float64) []float64
}

// StochasticPolicy samples actions together with their log-likelihood.
type StochasticPolicy interface {
	Policy
	SampleWithLogProb(rng *rand.Rand, state []float64) ([]float64, float64)
}

// ReparameterizedPolicy produces actions as a deterministic function of the
// parameters and externally drawn standard normal noise.
type ReparameterizedPolicy interface {
	StochasticPolicy
	NoiseDim() int
	Reparameterize(state, noise []float64) ([]float64, float64)
}

// LogProbPolicy evaluates the log-likelihood of a stored action.
type LogProbPolicy interface {
	StochasticPolicy
	LogProb(state, action []float64) float64
}

// GaussianPolicy exposes the parameters of its action distribution.
type GaussianPolicy interface {
	ReparameterizedPolicy
	Distribution(state []float64) (mean, logStd []float64)
}

// SharedNetwork is one owned parameter set with an actor view and a critic
// view. Parameters of either view are the owner's parameters.
type SharedNetwork interface {
	Module
	Cloner
	Actor() Policy
	Critic() Module
}
