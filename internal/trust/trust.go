// Package trust derives an adaptive coefficient from recent critic losses.
// A well-fitted critic (small loss) pushes the coefficient up, which lets
// consumers weight policy improvement more heavily.
package trust

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"gradus/internal/model"
)

const (
	DefaultUpdateFreq = 1 << 7
	InitialRho        = 0.5
)

// Coefficient is not safe for concurrent use.
type Coefficient struct {
	updateFreq int
	rho        float64
	window     []float64
	calls      int
}

func New(updateFreq int) (*Coefficient, error) {
	if updateFreq <= 0 {
		return nil, fmt.Errorf("update frequency must be > 0, got %d", updateFreq)
	}
	return &Coefficient{
		updateFreq: updateFreq,
		rho:        InitialRho,
		window:     make([]float64, 0, updateFreq),
	}, nil
}

// Update records a critic-loss sample and returns the current rho. Every
// updateFreq calls the window mean is collapsed into
// rho = (rho + exp(-mean^2)) / 2.
func (c *Coefficient) Update(loss float64) (float64, error) {
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return c.rho, fmt.Errorf("%w: critic loss %v", model.ErrNumericInstability, loss)
	}
	c.window = append(c.window, loss)
	c.calls++
	if c.calls%c.updateFreq != 0 {
		return c.rho, nil
	}

	avg := stat.Mean(c.window, nil)
	c.window = c.window[:0]
	candidate := math.Exp(-avg * avg)
	c.rho = (c.rho + candidate) / 2
	return c.rho, nil
}

// Get returns the last committed rho.
func (c *Coefficient) Get() float64 { return c.rho }

func (c *Coefficient) UpdateFreq() int { return c.updateFreq }
