// Package optim steps attached parameter tensors to reduce a scalar
// objective. Objectives are closures that read the current parameter values,
// so optimizers only need the parameters and the closure.
package optim

import (
	"fmt"
	"math"

	"gradus/internal/model"
	"gradus/internal/nn"
)

// Objective evaluates a loss at the current parameter values.
type Objective func() float64

type Optimizer interface {
	Name() string
	// Step evaluates the objective, moves the parameters once and returns the
	// loss measured before the move.
	Step(objective Objective) (float64, error)
	LearningRate() float64
	SetLearningRate(lr float64)
	Parameters() []*nn.Tensor
}

func checkFinite(what string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: %s is %v", model.ErrNumericInstability, what, v)
	}
	return nil
}
