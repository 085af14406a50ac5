// Package noise provides exploration perturbations for continuous actions.
package noise

import (
	"errors"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// Ornstein-Uhlenbeck defaults.
const (
	DefaultTheta = 0.15
	DefaultSigma = 0.3
	DefaultDt    = 1e-2
)

// OrnsteinUhlenbeck is a mean-reverting, temporally correlated process. The
// state persists across Next calls until Reset.
type OrnsteinUhlenbeck struct {
	theta  float64
	sigma  float64
	dt     float64
	x0     float64
	state  []float64
	normal distuv.Normal
}

type OUConfig struct {
	Size  int
	Theta float64
	Sigma float64
	Dt    float64
	X0    float64
}

func DefaultOUConfig(size int) OUConfig {
	return OUConfig{Size: size, Theta: DefaultTheta, Sigma: DefaultSigma, Dt: DefaultDt}
}

func NewOrnsteinUhlenbeck(cfg OUConfig, rng *rand.Rand) (*OrnsteinUhlenbeck, error) {
	if cfg.Size <= 0 {
		return nil, errors.New("noise size must be > 0")
	}
	if cfg.Theta < 0 || cfg.Sigma < 0 {
		return nil, errors.New("theta and sigma must be >= 0")
	}
	if cfg.Dt <= 0 {
		return nil, errors.New("dt must be > 0")
	}
	if rng == nil {
		return nil, errors.New("random source is required")
	}
	ou := &OrnsteinUhlenbeck{
		theta:  cfg.Theta,
		sigma:  cfg.Sigma,
		dt:     cfg.Dt,
		x0:     cfg.X0,
		state:  make([]float64, cfg.Size),
		normal: distuv.Normal{Mu: 0, Sigma: 1, Src: rng},
	}
	ou.Reset()
	return ou, nil
}

// Next advances the process one step and returns a copy of the new state:
// x = x - theta*x*dt + sigma*sqrt(dt)*N(0,1).
func (o *OrnsteinUhlenbeck) Next() []float64 {
	scale := o.sigma * math.Sqrt(o.dt)
	for i, x := range o.state {
		o.state[i] = x - o.theta*x*o.dt + scale*o.normal.Rand()
	}
	return append([]float64(nil), o.state...)
}

// Reset returns the process to its initial value.
func (o *OrnsteinUhlenbeck) Reset() {
	for i := range o.state {
		o.state[i] = o.x0
	}
}

// Perturb adds the next noise sample to action and clips into [-1, 1].
func (o *OrnsteinUhlenbeck) Perturb(action []float64) []float64 {
	n := o.Next()
	out := make([]float64, len(action))
	for i, a := range action {
		if i < len(n) {
			a += n[i]
		}
		out[i] = Clip(a, -1, 1)
	}
	return out
}

// Gaussian draws independent zero-mean noise with a fixed deviation.
type Gaussian struct {
	Std    float64
	normal distuv.Normal
}

func NewGaussian(std float64, rng *rand.Rand) (*Gaussian, error) {
	if std < 0 {
		return nil, errors.New("std must be >= 0")
	}
	if rng == nil {
		return nil, errors.New("random source is required")
	}
	return &Gaussian{Std: std, normal: distuv.Normal{Mu: 0, Sigma: 1, Src: rng}}, nil
}

func (g *Gaussian) Sample(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = g.Std * g.normal.Rand()
	}
	return out
}

// Perturb adds noise to action and clips into [-1, 1].
func (g *Gaussian) Perturb(action []float64) []float64 {
	return g.PerturbClipped(action, math.Inf(1))
}

// PerturbClipped clips each noise draw into [-noiseClip, noiseClip] before
// adding it, then clips the action into [-1, 1].
func (g *Gaussian) PerturbClipped(action []float64, noiseClip float64) []float64 {
	out := make([]float64, len(action))
	for i, a := range action {
		n := Clip(g.Std*g.normal.Rand(), -noiseClip, noiseClip)
		out[i] = Clip(a+n, -1, 1)
	}
	return out
}

func Clip(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
