package optim

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"

	"gradus/internal/model"
	"gradus/internal/nn"
)

func quadratic(p *nn.Tensor, target []float64) Objective {
	return func() float64 {
		sum := 0.0
		for i, x := range p.Data {
			d := x - target[i]
			sum += d * d
		}
		return sum
	}
}

func TestAdamMinimizesQuadratic(t *testing.T) {
	p := nn.NewTensor("w", 3)
	target := []float64{1, -2, 0.5}
	opt, err := NewAdam([]*nn.Tensor{p}, DefaultAdamConfig(0.05))
	require.NoError(t, err)

	obj := quadratic(p, target)
	first, err := opt.Step(obj)
	require.NoError(t, err)
	for i := 0; i < 800; i++ {
		_, err = opt.Step(obj)
		require.NoError(t, err)
	}
	require.Less(t, obj(), first*1e-2)
	require.InDeltaSlice(t, target, p.Data, 0.1)
	require.Equal(t, 801, opt.Steps())
}

func TestAdamFirstStepMovesByLearningRate(t *testing.T) {
	p := nn.NewTensor("w", 1)
	opt, err := NewAdam([]*nn.Tensor{p}, DefaultAdamConfig(0.01))
	require.NoError(t, err)

	loss, err := opt.Step(quadratic(p, []float64{10}))
	require.NoError(t, err)
	require.InDelta(t, 100, loss, 1e-9)
	// bias-corrected first Adam step is lr * sign(grad)
	require.InDelta(t, 0.01, p.Data[0], 1e-6)
}

func TestAdamGradientClipping(t *testing.T) {
	p := nn.NewTensor("w", 2)
	cfg := DefaultAdamConfig(0.1)
	cfg.MaxGradNorm = 1e-3
	opt, err := NewAdam([]*nn.Tensor{p}, cfg)
	require.NoError(t, err)
	_, err = opt.Step(quadratic(p, []float64{5, 5}))
	require.NoError(t, err)
	// Adam normalizes magnitude, so clipping keeps the direction and step size
	require.InDelta(t, 0.1, p.Data[0], 1e-4)
}

func TestAdamRejectsNonFiniteLoss(t *testing.T) {
	p := nn.NewTensor("w", 1)
	p.Data[0] = 3
	opt, err := NewAdam([]*nn.Tensor{p}, DefaultAdamConfig(0.1))
	require.NoError(t, err)

	_, err = opt.Step(func() float64 { return math.NaN() })
	require.True(t, errors.Is(err, model.ErrNumericInstability))
	require.Equal(t, 3.0, p.Data[0], "a failed step leaves parameters untouched")
}

func TestAdamSetLearningRate(t *testing.T) {
	opt, err := NewAdam([]*nn.Tensor{nn.NewTensor("w", 1)}, DefaultAdamConfig(0.1))
	require.NoError(t, err)
	opt.SetLearningRate(0.25)
	require.Equal(t, 0.25, opt.LearningRate())
	require.Equal(t, "adam", opt.Name())
}

func TestNewAdamValidation(t *testing.T) {
	_, err := NewAdam(nil, DefaultAdamConfig(0.1))
	require.Error(t, err)
	_, err = NewAdam([]*nn.Tensor{nn.NewTensor("w", 1)}, DefaultAdamConfig(0))
	require.Error(t, err)
	cfg := DefaultAdamConfig(0.1)
	cfg.Beta1 = 1
	_, err = NewAdam([]*nn.Tensor{nn.NewTensor("w", 1)}, cfg)
	require.Error(t, err)
}

func TestAdamTrainsNetworkTowardTarget(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	v, err := nn.NewValueNet(nn.HeadConfig{StateDim: 2, ActionDim: 1, NetDim: 4, Activation: "tanh"}, rng)
	require.NoError(t, err)
	opt, err := NewAdam(v.Parameters(), DefaultAdamConfig(0.01))
	require.NoError(t, err)

	states := [][]float64{{0, 0}, {1, 0}, {0, 1}, {1, 1}}
	targets := []float64{0, 1, 1, 2}
	obj := func() float64 {
		sum := 0.0
		for i, s := range states {
			d := v.Value(s) - targets[i]
			sum += d * d
		}
		return sum / float64(len(states))
	}
	start := obj()
	for i := 0; i < 300; i++ {
		_, err := opt.Step(obj)
		require.NoError(t, err)
	}
	require.Less(t, obj(), start)
}

func TestPerturbationImprovesLoss(t *testing.T) {
	p := nn.NewTensor("w", 1)
	p.Data[0] = -2
	opt, err := NewPerturbation([]*nn.Tensor{p}, Perturbation{
		Rand:     rand.New(rand.NewPCG(1, 1)),
		Attempts: 4,
		Steps:    3,
		StepSize: 0.4,
	})
	require.NoError(t, err)

	obj := quadratic(p, []float64{1})
	before := obj()
	for i := 0; i < 40; i++ {
		loss, err := opt.Step(obj)
		require.NoError(t, err)
		require.LessOrEqual(t, obj(), loss, "a step never accepts a worse candidate")
	}
	require.Less(t, obj(), before)
}

func TestPerturbationValidation(t *testing.T) {
	params := []*nn.Tensor{nn.NewTensor("w", 1)}
	rng := rand.New(rand.NewPCG(1, 1))
	cases := []Perturbation{
		{Steps: 1, StepSize: 1},
		{Rand: rng, StepSize: 1},
		{Rand: rng, Steps: 1},
		{Rand: rng, Steps: 1, StepSize: 1, PerturbationRange: -1},
		{Rand: rng, Steps: 1, StepSize: 1, AnnealingFactor: -1},
		{Rand: rng, Steps: 1, StepSize: 1, MinImprovement: -1},
	}
	for i, c := range cases {
		if _, err := NewPerturbation(params, c); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
	if _, err := NewPerturbation(nil, Perturbation{Rand: rng, Steps: 1, StepSize: 1}); err == nil {
		t.Fatal("expected empty params error")
	}
}
