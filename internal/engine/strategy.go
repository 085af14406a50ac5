package engine

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"gradus/internal/model"
	"gradus/internal/nn"
	"gradus/internal/optim"
)

var (
	ErrStrategyExists   = errors.New("strategy already registered")
	ErrStrategyNotFound = errors.New("strategy not found")
)

// Strategy is the per-kind loss composition. Every strategy is either an
// OffPolicyStrategy or an OnPolicyStrategy.
type Strategy interface {
	Family() Family
}

// Step carries the loop position and the current trust coefficient.
type Step struct {
	Index  int
	Repeat int
	Rho    float64
}

// OffPolicyStrategy is driven by the shared replay loop in this order:
// CriticTarget, StepCritic, StepActor, Sync.
type OffPolicyStrategy interface {
	Strategy
	// CriticTarget computes the bootstrapped regression target per row.
	CriticTarget(b model.TransitionBatch) []float64
	// StepCritic returns the reported critic loss before the step. United
	// kinds only evaluate the loss here and step in StepActor.
	StepCritic(b model.TransitionBatch, y []float64) (float64, error)
	// StepActor reports the actor loss and whether an actor step happened.
	StepActor(b model.TransitionBatch, step Step) (float64, bool, error)
	Sync(step Step)
}

// MiniBatch is a resampled slice of an on-policy rollout together with its
// value targets and normalized advantages.
type MiniBatch struct {
	States     [][]float64
	Actions    [][]float64
	LogProbs   []float64
	Returns    []float64
	Advantages []float64
}

func (m MiniBatch) Len() int { return len(m.States) }

// OnPolicyStrategy is driven by the rollout loop: Values once per pass,
// then StepCritic and StepActor per mini-batch, then EndPass.
type OnPolicyStrategy interface {
	Strategy
	Values(states [][]float64) []float64
	StepCritic(mb MiniBatch) (float64, error)
	StepActor(mb MiniBatch) (float64, error)
	EndPass()
}

// alphaReporter is implemented by strategies with a tuned temperature.
type alphaReporter interface {
	Alpha() float64
}

// targetCopier resets every target network to its online network.
type targetCopier interface {
	CopyTargets()
}

// Wiring is what a strategy factory may use to build itself.
type Wiring struct {
	Kind      AlgorithmKind
	Networks  Networks
	Options   Options
	Rand      *rand.Rand
	Logger    *logrus.Entry
	customOpt bool
}

func (w *Wiring) Constants() Constants { return w.Options.Constants }

func (w *Wiring) optimizer(params []*nn.Tensor, lr float64) (optim.Optimizer, error) {
	return w.Options.Optimizer(params, lr)
}

// adam honors a caller supplied factory and otherwise builds Adam with the
// given first-moment decay.
func (w *Wiring) adam(params []*nn.Tensor, lr, beta1 float64) (optim.Optimizer, error) {
	if w.customOpt {
		return w.Options.Optimizer(params, lr)
	}
	cfg := optim.DefaultAdamConfig(lr)
	cfg.Beta1 = beta1
	return optim.NewAdam(params, cfg)
}

func (w *Wiring) criterion() criterion {
	if profiles[w.Kind].huber {
		return smoothL1
	}
	return mse
}

type StrategyFactory func(w *Wiring) (Strategy, error)

var strategyRegistry = struct {
	mu sync.RWMutex
	m  map[AlgorithmKind]StrategyFactory
}{
	m: make(map[AlgorithmKind]StrategyFactory),
}

func init() {
	initializeBuiltInStrategies()
}

func initializeBuiltInStrategies() {
	for _, k := range []AlgorithmKind{QLearning, DoubleQ, DuelingQ} {
		MustRegisterStrategy(k, newValueStrategy)
	}
	for _, k := range []AlgorithmKind{DDPG, DeterministicAC, TD3} {
		MustRegisterStrategy(k, newDeterministicStrategy)
	}
	MustRegisterStrategy(InterAC, newInterACStrategy)
	MustRegisterStrategy(SAC, newSACStrategy)
	MustRegisterStrategy(DeepSAC, newSACStrategy)
	MustRegisterStrategy(InterSAC, newInterSACStrategy)
	for _, k := range []AlgorithmKind{PPO, GAE, DiscreteGAE} {
		MustRegisterStrategy(k, newRolloutStrategy)
	}
	MustRegisterStrategy(InterGAE, newInterGAEStrategy)
}

// RegisterStrategy installs the loss composition for kind.
func RegisterStrategy(kind AlgorithmKind, factory StrategyFactory) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %d", model.ErrUnknownKind, int(kind))
	}
	if factory == nil {
		return errors.New("strategy factory is required")
	}

	strategyRegistry.mu.Lock()
	defer strategyRegistry.mu.Unlock()

	if _, exists := strategyRegistry.m[kind]; exists {
		return fmt.Errorf("%w: %s", ErrStrategyExists, kind)
	}
	strategyRegistry.m[kind] = factory
	return nil
}

func MustRegisterStrategy(kind AlgorithmKind, factory StrategyFactory) {
	if err := RegisterStrategy(kind, factory); err != nil {
		panic(err)
	}
}

// UnregisterStrategy removes kind so a replacement can be registered.
func UnregisterStrategy(kind AlgorithmKind) {
	strategyRegistry.mu.Lock()
	delete(strategyRegistry.m, kind)
	strategyRegistry.mu.Unlock()
}

func getStrategy(kind AlgorithmKind) (StrategyFactory, error) {
	strategyRegistry.mu.RLock()
	f, ok := strategyRegistry.m[kind]
	strategyRegistry.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStrategyNotFound, kind)
	}
	return f, nil
}

// ListStrategies returns the registered kinds by name.
func ListStrategies() []string {
	strategyRegistry.mu.RLock()
	defer strategyRegistry.mu.RUnlock()

	names := make([]string, 0, len(strategyRegistry.m))
	for k := range strategyRegistry.m {
		names = append(names, k.String())
	}
	sort.Strings(names)
	return names
}

func resetStrategyRegistryForTests() {
	strategyRegistry.mu.Lock()
	strategyRegistry.m = make(map[AlgorithmKind]StrategyFactory)
	strategyRegistry.mu.Unlock()
	initializeBuiltInStrategies()
}
