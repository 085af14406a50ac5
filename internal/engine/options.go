package engine

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/sirupsen/logrus"

	"gradus/internal/nn"
	"gradus/internal/optim"
)

// Fixed on-policy constants.
const (
	ClipRatio       = 0.25
	LambdaAdvantage = 0.98
	LambdaEntropy   = 0.01
	normEpsilon     = 1e-6
)

// Constants are empirically chosen defaults. They are exposed so runs can
// override them; nothing in the update code hard-codes these values.
type Constants struct {
	Tau             float64 `json:"tau"`
	SharedTau       float64 `json:"shared_tau"`
	HardSyncEvery   int     `json:"hard_sync_every"`
	TD3Delay        int     `json:"td3_delay"`
	TrustUpdateFreq int     `json:"trust_update_freq"`
	LogAlphaMin     float64 `json:"log_alpha_min"`
	LogAlphaMax     float64 `json:"log_alpha_max"`
	// InterACSyncRho gates the periodic hard copy of the shared target.
	InterACSyncRho float64 `json:"inter_ac_sync_rho"`
	// InterSACActorRho gates the actor term of the united loss.
	InterSACActorRho float64 `json:"inter_sac_actor_rho"`
	// InterACActorWeight scales the actor term of the InterAC united loss.
	InterACActorWeight float64 `json:"inter_ac_actor_weight"`
	// DeepSACRhoOffset is added to rho to bound the actor/critic step ratio.
	DeepSACRhoOffset float64 `json:"deep_sac_rho_offset"`
}

func DefaultConstants() Constants {
	return Constants{
		Tau:                5e-3,
		SharedTau:          1.0 / (1 << 8),
		HardSyncEvery:      1 << 7,
		TD3Delay:           2,
		TrustUpdateFreq:    1 << 7,
		LogAlphaMin:        -16,
		LogAlphaMax:        1,
		InterACSyncRho:     0.1,
		InterSACActorRho:   1.0 / (1 << 8),
		InterACActorWeight: 0.5,
		DeepSACRhoOffset:   0.5,
	}
}

func (c Constants) Validate() error {
	if c.Tau <= 0 || c.Tau > 1 || c.SharedTau <= 0 || c.SharedTau > 1 {
		return errors.New("tau must be in (0, 1]")
	}
	if c.HardSyncEvery <= 0 || c.TD3Delay <= 0 || c.TrustUpdateFreq <= 0 {
		return errors.New("sync and trust periods must be > 0")
	}
	if c.LogAlphaMin >= c.LogAlphaMax {
		return fmt.Errorf("log alpha range [%g, %g] is empty", c.LogAlphaMin, c.LogAlphaMax)
	}
	return nil
}

// OptimizerFactory attaches an optimizer to a parameter set.
type OptimizerFactory func(params []*nn.Tensor, learningRate float64) (optim.Optimizer, error)

// AdamFactory is the default optimizer factory.
func AdamFactory(params []*nn.Tensor, learningRate float64) (optim.Optimizer, error) {
	return optim.NewAdam(params, optim.DefaultAdamConfig(learningRate))
}

// PerturbationFactory swaps gradient steps for the gradient-free hill
// climber; the learning rate becomes its step size.
func PerturbationFactory(rng *rand.Rand) OptimizerFactory {
	return func(params []*nn.Tensor, learningRate float64) (optim.Optimizer, error) {
		return optim.NewPerturbation(params, optim.Perturbation{
			Rand:            rng,
			Attempts:        2,
			Steps:           4,
			StepSize:        learningRate,
			AnnealingFactor: 0.95,
		})
	}
}

type Options struct {
	Kind         AlgorithmKind
	StateDim     int
	ActionDim    int
	BatchSize    int
	RepeatTimes  int
	LearningRate float64
	Constants    Constants
	// Rand drives sampling, exploration and stochastic policies.
	Rand      *rand.Rand
	Logger    *logrus.Entry
	Optimizer OptimizerFactory
}

func (o *Options) normalize() error {
	if !o.Kind.Valid() {
		return fmt.Errorf("invalid kind %d", int(o.Kind))
	}
	if o.StateDim <= 0 || o.ActionDim <= 0 {
		return errors.New("state and action dims must be > 0")
	}
	if o.BatchSize <= 0 {
		return errors.New("batch size must be > 0")
	}
	if o.RepeatTimes <= 0 {
		o.RepeatTimes = 1
	}
	if o.LearningRate <= 0 {
		return errors.New("learning rate must be > 0")
	}
	if o.Constants == (Constants{}) {
		o.Constants = DefaultConstants()
	}
	if err := o.Constants.Validate(); err != nil {
		return err
	}
	if o.Rand == nil {
		return errors.New("random source is required")
	}
	if o.Logger == nil {
		o.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	o.Logger = o.Logger.WithField("component", "engine")
	if o.Optimizer == nil {
		o.Optimizer = AdamFactory
	}
	return nil
}
