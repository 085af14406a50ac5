package nn

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"sync"
)

// DefaultActivation is used for hidden layers when none is configured.
const DefaultActivation = "relu"

var (
	ErrActivationExists   = errors.New("activation already registered")
	ErrActivationNotFound = errors.New("activation not found")
)

// ActivationFunc is applied element-wise by MLP layers.
type ActivationFunc func(x float64) float64

var activations = struct {
	sync.RWMutex
	byName map[string]ActivationFunc
}{byName: map[string]ActivationFunc{}}

func init() {
	registerBuiltinActivations()
}

// registerBuiltinActivations installs the layers the agent networks use:
// relu and hardswish for hidden layers, tanh for bounded actions and
// identity for value heads.
func registerBuiltinActivations() {
	MustRegisterActivation("identity", func(x float64) float64 { return x })
	MustRegisterActivation("relu", func(x float64) float64 { return math.Max(x, 0) })
	MustRegisterActivation("leaky_relu", func(x float64) float64 {
		if x < 0 {
			return 0.01 * x
		}
		return x
	})
	MustRegisterActivation("hardswish", func(x float64) float64 {
		return x * math.Min(math.Max(x+3, 0), 6) / 6
	})
	MustRegisterActivation("tanh", math.Tanh)
	MustRegisterActivation("sigmoid", func(x float64) float64 { return 1 / (1 + math.Exp(-x)) })
}

// RegisterActivation makes fn available to network configs under name.
func RegisterActivation(name string, fn ActivationFunc) error {
	switch {
	case name == "":
		return errors.New("activation name is required")
	case fn == nil:
		return fmt.Errorf("activation %s has no function", name)
	}
	activations.Lock()
	defer activations.Unlock()
	if _, ok := activations.byName[name]; ok {
		return fmt.Errorf("%w: %s", ErrActivationExists, name)
	}
	activations.byName[name] = fn
	return nil
}

func MustRegisterActivation(name string, fn ActivationFunc) {
	if err := RegisterActivation(name, fn); err != nil {
		panic(err)
	}
}

func GetActivation(name string) (ActivationFunc, error) {
	activations.RLock()
	defer activations.RUnlock()
	fn, ok := activations.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrActivationNotFound, name)
	}
	return fn, nil
}

// ListActivations returns the registered names in sorted order.
func ListActivations() []string {
	activations.RLock()
	defer activations.RUnlock()
	return slices.Sorted(maps.Keys(activations.byName))
}

func resetActivationRegistryForTests() {
	activations.Lock()
	activations.byName = map[string]ActivationFunc{}
	activations.Unlock()
	registerBuiltinActivations()
}
