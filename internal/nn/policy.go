package nn

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

const (
	minLogStd = -20.0
	maxLogStd = 2.0
	// squashEps keeps log(1 - tanh(u)^2) finite at the action bounds.
	squashEps = 1e-6
)

var logSqrt2Pi = 0.5 * math.Log(2*math.Pi)

// GaussianConfig selects the Gaussian policy parameterization.
//
// Squash bounds sampled actions with tanh and corrects the log-density, as
// soft actor-critic expects. StateStd predicts log-std from the state;
// otherwise a single learned log-std vector is shared across states.
type GaussianConfig struct {
	HeadConfig
	Squash     bool
	StateStd   bool
	InitLogStd float64
}

// GaussianActor is a diagonal Gaussian policy.
type GaussianActor struct {
	cfg    GaussianConfig
	net    *MLP
	logStd *Tensor
}

func NewGaussianActor(cfg GaussianConfig, rng *rand.Rand) (*GaussianActor, error) {
	out := cfg.ActionDim
	if cfg.StateStd {
		out *= 2
	}
	net, err := cfg.mlp("policy", cfg.StateDim, out, rng)
	if err != nil {
		return nil, err
	}
	net.ScaleOutput(0.1)
	g := &GaussianActor{cfg: cfg, net: net}
	if !cfg.StateStd {
		g.logStd = NewTensor("policy.log_std", cfg.ActionDim)
		for i := range g.logStd.Data {
			g.logStd.Data[i] = cfg.InitLogStd
		}
	}
	return g, nil
}

func (g *GaussianActor) Distribution(state []float64) ([]float64, []float64) {
	out := g.net.Forward(state)
	ad := g.cfg.ActionDim
	if g.cfg.StateStd {
		return out[:ad], clampLogStd(out[ad:])
	}
	return out, clampLogStd(g.logStd.Data)
}

func (g *GaussianActor) Act(state []float64) []float64 {
	mean, _ := g.Distribution(state)
	return tanhAll(mean)
}

func (g *GaussianActor) NoiseDim() int { return g.cfg.ActionDim }

func (g *GaussianActor) SampleWithLogProb(rng *rand.Rand, state []float64) ([]float64, float64) {
	return g.Reparameterize(state, StandardNormal(rng, g.cfg.ActionDim))
}

func (g *GaussianActor) Reparameterize(state, noise []float64) ([]float64, float64) {
	mean, logStd := g.Distribution(state)
	return gaussianReparameterize(mean, logStd, noise, g.cfg.Squash)
}

func (g *GaussianActor) LogProb(state, action []float64) float64 {
	mean, logStd := g.Distribution(state)
	return gaussianLogProb(mean, logStd, action, g.cfg.Squash)
}

func (g *GaussianActor) Parameters() []*Tensor {
	ps := g.net.Parameters()
	if g.logStd != nil {
		ps = append(ps, g.logStd)
	}
	return ps
}

func (g *GaussianActor) CloneModule() Module {
	c := &GaussianActor{cfg: g.cfg, net: g.net.Clone()}
	if g.logStd != nil {
		c.logStd = g.logStd.Clone()
	}
	return c
}

// CategoricalActor is a softmax policy over discrete actions. Sampled and
// stored actions are one-element vectors holding the action index.
type CategoricalActor struct {
	net *MLP
}

func NewCategoricalActor(cfg HeadConfig, rng *rand.Rand) (*CategoricalActor, error) {
	net, err := cfg.mlp("policy", cfg.StateDim, cfg.ActionDim, rng)
	if err != nil {
		return nil, err
	}
	net.ScaleOutput(0.1)
	return &CategoricalActor{net: net}, nil
}

func (c *CategoricalActor) Probabilities(state []float64) []float64 {
	return Softmax(c.net.Forward(state))
}

func (c *CategoricalActor) Act(state []float64) []float64 {
	return []float64{float64(floats.MaxIdx(c.net.Forward(state)))}
}

func (c *CategoricalActor) SampleWithLogProb(rng *rand.Rand, state []float64) ([]float64, float64) {
	probs := c.Probabilities(state)
	idx := SampleCategorical(rng, probs)
	return []float64{float64(idx)}, math.Log(math.Max(probs[idx], 1e-12))
}

func (c *CategoricalActor) LogProb(state, action []float64) float64 {
	probs := c.Probabilities(state)
	idx := int(math.Round(action[0]))
	if idx < 0 || idx >= len(probs) {
		return math.Inf(-1)
	}
	return math.Log(math.Max(probs[idx], 1e-12))
}

func (c *CategoricalActor) Parameters() []*Tensor { return c.net.Parameters() }
func (c *CategoricalActor) CloneModule() Module   { return &CategoricalActor{net: c.net.Clone()} }

// Softmax returns a normalized copy of logits.
func Softmax(logits []float64) []float64 {
	out := make([]float64, len(logits))
	if len(logits) == 0 {
		return out
	}
	maxV := floats.Max(logits)
	for i, l := range logits {
		out[i] = math.Exp(l - maxV)
	}
	floats.Scale(1/floats.Sum(out), out)
	return out
}

// SampleCategorical draws an index proportional to probs.
func SampleCategorical(rng *rand.Rand, probs []float64) int {
	r := rng.Float64() * floats.Sum(probs)
	acc := 0.0
	for i, p := range probs {
		acc += p
		if r < acc {
			return i
		}
	}
	return len(probs) - 1
}

// StandardNormal draws n independent N(0, 1) samples.
func StandardNormal(rng *rand.Rand, n int) []float64 {
	normal := distuv.Normal{Mu: 0, Sigma: 1, Src: rng}
	out := make([]float64, n)
	for i := range out {
		out[i] = normal.Rand()
	}
	return out
}

func gaussianReparameterize(mean, logStd, noise []float64, squash bool) ([]float64, float64) {
	action := make([]float64, len(mean))
	logProb := 0.0
	for i := range mean {
		eps := 0.0
		if i < len(noise) {
			eps = noise[i]
		}
		u := mean[i] + math.Exp(logStd[i])*eps
		logProb += -0.5*eps*eps - logStd[i] - logSqrt2Pi
		if squash {
			a := math.Tanh(u)
			logProb -= math.Log(1 - a*a + squashEps)
			u = a
		}
		action[i] = u
	}
	return action, logProb
}

func gaussianLogProb(mean, logStd, action []float64, squash bool) float64 {
	logProb := 0.0
	for i := range mean {
		x := action[i]
		if squash {
			a := math.Max(-1+squashEps, math.Min(1-squashEps, x))
			x = math.Atanh(a)
			logProb -= math.Log(1 - a*a + squashEps)
		}
		z := (x - mean[i]) / math.Exp(logStd[i])
		logProb += -0.5*z*z - logStd[i] - logSqrt2Pi
	}
	return logProb
}

func clampLogStd(logStd []float64) []float64 {
	out := make([]float64, len(logStd))
	for i, v := range logStd {
		out[i] = math.Max(minLogStd, math.Min(maxLogStd, v))
	}
	return out
}

func tanhAll(xs []float64) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = math.Tanh(x)
	}
	return out
}
