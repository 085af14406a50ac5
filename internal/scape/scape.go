// Package scape holds the episodic control tasks agents are trained on.
package scape

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"

	"gradus/internal/scapeid"
)

var (
	ErrScapeExists   = errors.New("scape already registered")
	ErrScapeNotFound = errors.New("scape not found")
	// ErrEpisodeOver is returned by Step after a terminal step until Reset.
	ErrEpisodeOver = errors.New("episode is over, reset required")
)

// Spec describes an environment's interface to an agent.
type Spec struct {
	Name      string  `json:"name"`
	StateDim  int     `json:"state_dim"`
	ActionDim int     `json:"action_dim"`
	Discrete  bool    `json:"discrete"`
	MaxAction float64 `json:"max_action"`
	// MaxStep caps the length of one episode.
	MaxStep      int     `json:"max_step"`
	TargetReward float64 `json:"target_reward"`
}

// Environment is an episodic task. Continuous actions arrive already scaled
// by MaxAction; discrete actions are a one-element index vector.
type Environment interface {
	Spec() Spec
	Reset() []float64
	Step(action []float64) (next []float64, reward float64, done bool, err error)
}

// Factory builds an environment whose randomness is drawn from rng.
type Factory func(rng *rand.Rand) Environment

var scapeRegistry = struct {
	mu sync.RWMutex
	m  map[string]Factory
}{
	m: make(map[string]Factory),
}

func init() {
	initializeBuiltInScapes()
}

func initializeBuiltInScapes() {
	MustRegister(cartPoleName, func(rng *rand.Rand) Environment { return NewCartPole(false, rng) })
	MustRegister(cartPoleDiscreteName, func(rng *rand.Rand) Environment { return NewCartPole(true, rng) })
	MustRegister(cartPoleLiteName, func(rng *rand.Rand) Environment { return NewCartPoleLite(rng) })
	MustRegister(pole2BalancingName, func(rng *rand.Rand) Environment { return NewPole2Balancing(rng) })
}

func Register(name string, factory Factory) error {
	if name == "" {
		return errors.New("scape name is required")
	}
	if factory == nil {
		return errors.New("scape factory is required")
	}

	scapeRegistry.mu.Lock()
	defer scapeRegistry.mu.Unlock()

	if _, exists := scapeRegistry.m[name]; exists {
		return fmt.Errorf("%w: %s", ErrScapeExists, name)
	}
	scapeRegistry.m[name] = factory
	return nil
}

func MustRegister(name string, factory Factory) {
	if err := Register(name, factory); err != nil {
		panic(err)
	}
}

// New builds the registered environment called name. Aliases such as
// "CartPole-v1" resolve through scapeid.Normalize.
func New(name string, rng *rand.Rand) (Environment, error) {
	if rng == nil {
		return nil, errors.New("random source is required")
	}
	scapeRegistry.mu.RLock()
	factory, ok := scapeRegistry.m[name]
	if !ok {
		factory, ok = scapeRegistry.m[scapeid.Normalize(name)]
	}
	scapeRegistry.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrScapeNotFound, name)
	}
	return factory(rng), nil
}

func List() []string {
	scapeRegistry.mu.RLock()
	defer scapeRegistry.mu.RUnlock()

	names := make([]string, 0, len(scapeRegistry.m))
	for name := range scapeRegistry.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func resetScapeRegistryForTests() {
	scapeRegistry.mu.Lock()
	scapeRegistry.m = make(map[string]Factory)
	scapeRegistry.mu.Unlock()
	initializeBuiltInScapes()
}

func checkAction(spec Spec, action []float64) error {
	want := spec.ActionDim
	if spec.Discrete {
		want = 1
	}
	if len(action) != want {
		return fmt.Errorf("%s expects %d action values, got %d", spec.Name, want, len(action))
	}
	if spec.Discrete {
		idx := int(action[0])
		if float64(idx) != action[0] || idx < 0 || idx >= spec.ActionDim {
			return fmt.Errorf("%s action index %v outside [0, %d)", spec.Name, action[0], spec.ActionDim)
		}
	}
	return nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
