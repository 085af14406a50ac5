package optim

import (
	"errors"
	"math"
	"math/rand/v2"

	"gradus/internal/nn"
)

// Perturbation is a gradient-free hill climber. Each Step tries Attempts
// candidates; a candidate nudges Steps random coordinates by a uniform delta
// whose spread shrinks by AnnealingFactor per coordinate move. A candidate is
// kept only when it lowers the loss by more than MinImprovement.
type Perturbation struct {
	Rand              *rand.Rand
	Attempts          int
	Steps             int
	StepSize          float64
	PerturbationRange float64
	AnnealingFactor   float64
	MinImprovement    float64

	params []*nn.Tensor
	best   []float64
	trial  []float64
}

func NewPerturbation(params []*nn.Tensor, p Perturbation) (*Perturbation, error) {
	if len(params) == 0 {
		return nil, errors.New("perturbation needs at least one parameter tensor")
	}
	if p.Rand == nil {
		return nil, errors.New("random source is required")
	}
	if p.Steps <= 0 {
		return nil, errors.New("steps must be > 0")
	}
	if p.StepSize <= 0 {
		return nil, errors.New("step size must be > 0")
	}
	if p.PerturbationRange < 0 {
		return nil, errors.New("perturbation range must be >= 0")
	}
	if p.AnnealingFactor < 0 {
		return nil, errors.New("annealing factor must be >= 0")
	}
	if p.MinImprovement < 0 {
		return nil, errors.New("min improvement must be >= 0")
	}
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	if p.PerturbationRange == 0 {
		p.PerturbationRange = 1
	}
	if p.AnnealingFactor == 0 {
		p.AnnealingFactor = 1
	}
	n := nn.CountParameters(params)
	p.params = params
	p.best = make([]float64, 0, n)
	p.trial = make([]float64, n)
	return &p, nil
}

func (p *Perturbation) Name() string               { return "perturbation_hillclimb" }
func (p *Perturbation) LearningRate() float64      { return p.StepSize }
func (p *Perturbation) SetLearningRate(lr float64) { p.StepSize = lr }
func (p *Perturbation) Parameters() []*nn.Tensor   { return p.params }

func (p *Perturbation) Step(objective Objective) (float64, error) {
	if objective == nil {
		return 0, errors.New("objective is required")
	}
	p.best = nn.Flatten(p.best[:0], p.params)
	start := objective()
	if err := checkFinite("loss", start); err != nil {
		return start, err
	}

	bestLoss := start
	for a := 0; a < p.Attempts; a++ {
		copy(p.trial, p.best)
		for s := 0; s < p.Steps; s++ {
			idx := p.Rand.IntN(len(p.trial))
			spread := p.StepSize * p.PerturbationRange * math.Pow(p.AnnealingFactor, float64(s))
			p.trial[idx] += (p.Rand.Float64()*2 - 1) * spread
		}
		nn.Assign(p.params, p.trial)
		loss := objective()
		if math.IsNaN(loss) || math.IsInf(loss, 0) {
			continue
		}
		if loss < bestLoss-p.MinImprovement {
			bestLoss = loss
			copy(p.best, p.trial)
		}
	}
	nn.Assign(p.params, p.best)
	return start, nil
}
