package optim

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/diff/fd"

	"gradus/internal/nn"
)

type AdamConfig struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	// FiniteDiffStep is the central-difference step for gradient estimates.
	FiniteDiffStep float64
	// MaxGradNorm rescales the gradient when its L2 norm exceeds it. Zero
	// disables clipping.
	MaxGradNorm float64
}

func DefaultAdamConfig(lr float64) AdamConfig {
	return AdamConfig{
		LearningRate:   lr,
		Beta1:          0.9,
		Beta2:          0.999,
		Epsilon:        1e-8,
		FiniteDiffStep: 1e-5,
	}
}

// Adam estimates gradients with central finite differences and applies the
// Adam update. Objectives must be deterministic for a fixed parameter vector:
// any noise an objective needs is drawn before Step is called.
type Adam struct {
	cfg    AdamConfig
	params []*nn.Tensor
	m      []float64
	v      []float64
	x      []float64
	grad   []float64
	t      int
}

func NewAdam(params []*nn.Tensor, cfg AdamConfig) (*Adam, error) {
	if len(params) == 0 {
		return nil, errors.New("adam needs at least one parameter tensor")
	}
	if cfg.LearningRate <= 0 {
		return nil, fmt.Errorf("learning rate must be > 0, got %g", cfg.LearningRate)
	}
	if cfg.Beta1 < 0 || cfg.Beta1 >= 1 || cfg.Beta2 < 0 || cfg.Beta2 >= 1 {
		return nil, errors.New("adam betas must be in [0, 1)")
	}
	if cfg.Epsilon <= 0 {
		cfg.Epsilon = 1e-8
	}
	if cfg.FiniteDiffStep <= 0 {
		cfg.FiniteDiffStep = 1e-5
	}
	n := nn.CountParameters(params)
	return &Adam{
		cfg:    cfg,
		params: params,
		m:      make([]float64, n),
		v:      make([]float64, n),
		x:      make([]float64, 0, n),
		grad:   make([]float64, n),
	}, nil
}

func (a *Adam) Name() string               { return "adam" }
func (a *Adam) LearningRate() float64      { return a.cfg.LearningRate }
func (a *Adam) SetLearningRate(lr float64) { a.cfg.LearningRate = lr }
func (a *Adam) Parameters() []*nn.Tensor   { return a.params }
func (a *Adam) Steps() int                 { return a.t }

func (a *Adam) Step(objective Objective) (float64, error) {
	if objective == nil {
		return 0, errors.New("objective is required")
	}
	a.x = nn.Flatten(a.x[:0], a.params)

	loss := objective()
	if err := checkFinite("loss", loss); err != nil {
		return loss, err
	}

	fd.Gradient(a.grad, func(x []float64) float64 {
		nn.Assign(a.params, x)
		return objective()
	}, a.x, &fd.Settings{
		Formula:     fd.Central,
		Step:        a.cfg.FiniteDiffStep,
		OriginKnown: true,
		OriginValue: loss,
	})
	nn.Assign(a.params, a.x)

	norm := 0.0
	for _, g := range a.grad {
		norm += g * g
	}
	norm = math.Sqrt(norm)
	if err := checkFinite("gradient norm", norm); err != nil {
		return loss, err
	}
	scale := 1.0
	if a.cfg.MaxGradNorm > 0 && norm > a.cfg.MaxGradNorm {
		scale = a.cfg.MaxGradNorm / norm
	}

	a.t++
	b1, b2 := a.cfg.Beta1, a.cfg.Beta2
	c1 := 1 - math.Pow(b1, float64(a.t))
	c2 := 1 - math.Pow(b2, float64(a.t))
	for i, g := range a.grad {
		g *= scale
		a.m[i] = b1*a.m[i] + (1-b1)*g
		a.v[i] = b2*a.v[i] + (1-b2)*g*g
		mHat := a.m[i] / c1
		vHat := a.v[i] / c2
		a.x[i] -= a.cfg.LearningRate * mHat / (math.Sqrt(vHat) + a.cfg.Epsilon)
	}
	nn.Assign(a.params, a.x)
	return loss, nil
}
