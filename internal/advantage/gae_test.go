package advantage

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"gradus/internal/model"
)

func TestEstimateHandComputedCase(t *testing.T) {
	const gamma = 0.9
	res, err := Estimate(
		[]float64{1, 1, 1},
		[]float64{gamma, gamma, 0},
		[]float64{0, 0, 0},
		1,
	)
	require.NoError(t, err)

	want := []float64{1 + gamma + gamma*gamma, 1 + gamma, 1}
	require.InDeltaSlice(t, want, res.Returns, 1e-12)
	require.InDeltaSlice(t, want, res.Advantages, 1e-12)
	require.InDeltaSlice(t, []float64{1, 1, 1}, res.Deltas, 1e-12)
}

func TestEstimateReturnsAreGeometricSums(t *testing.T) {
	const (
		n     = 12
		r     = 0.75
		gamma = 0.97
	)
	rewards := make([]float64, n)
	masks := make([]float64, n)
	values := make([]float64, n)
	for i := range rewards {
		rewards[i] = r
		masks[i] = gamma
		values[i] = float64(i) * 0.1
	}
	masks[n-1] = 0

	res, err := Estimate(rewards, masks, values, 0.98)
	require.NoError(t, err)

	for i := 0; i < n; i++ {
		k := n - i // terms r*gamma^0 .. r*gamma^(n-1-i)
		want := r * (1 - math.Pow(gamma, float64(k))) / (1 - gamma)
		require.InDelta(t, want, res.Returns[i], 1e-9, "step %d", i)
	}
}

func TestEstimateLambdaZeroIsTDResidual(t *testing.T) {
	rewards := []float64{0.5, -1, 2, 0.25, 3}
	masks := []float64{0.99, 0.99, 0, 0.99, 0}
	values := []float64{0.1, 0.4, -0.3, 1.2, 0.7}

	res, err := Estimate(rewards, masks, values, 0)
	require.NoError(t, err)
	require.InDeltaSlice(t, res.Deltas, res.Advantages, 1e-12)

	for i := range rewards {
		next := 0.0
		if i+1 < len(values) {
			next = values[i+1]
		}
		require.InDelta(t, rewards[i]+masks[i]*next-values[i], res.Deltas[i], 1e-12)
	}
}

func TestEstimateMatchesForwardDefinition(t *testing.T) {
	rewards := []float64{1, 0, -0.5, 2, 1}
	masks := []float64{0.9, 0.9, 0.9, 0.9, 0}
	values := []float64{0.3, -0.2, 0.8, 0.1, 0.5}
	const lambda = 0.7

	res, err := Estimate(rewards, masks, values, lambda)
	require.NoError(t, err)

	// adv_i = sum_k (prod_{j<k} m_{i+j} * lambda) * delta_{i+k}
	for i := range rewards {
		want := 0.0
		weight := 1.0
		for k := i; k < len(rewards); k++ {
			want += weight * res.Deltas[k]
			weight *= masks[k] * lambda
		}
		require.InDelta(t, want, res.Advantages[i], 1e-12, "step %d", i)
	}
}

func TestEstimateMaskResetsAtEpisodeBoundary(t *testing.T) {
	res, err := Estimate(
		[]float64{1, 1, 5, 5},
		[]float64{0.5, 0, 0.5, 0},
		[]float64{0, 0, 0, 0},
		1,
	)
	require.NoError(t, err)
	require.InDeltaSlice(t, []float64{1.5, 1, 7.5, 5}, res.Returns, 1e-12)
}

func TestEstimateErrors(t *testing.T) {
	_, err := Estimate(nil, nil, nil, 0.98)
	require.True(t, errors.Is(err, model.ErrEmptyBuffer))

	_, err = Estimate([]float64{1}, []float64{1, 2}, []float64{1}, 0.98)
	require.Error(t, err)

	_, err = Estimate([]float64{math.NaN()}, []float64{0}, []float64{0}, 0.98)
	require.True(t, errors.Is(err, model.ErrNumericInstability))

	_, err = Estimate([]float64{1}, []float64{0}, []float64{math.Inf(1)}, 0.98)
	require.True(t, errors.Is(err, model.ErrNumericInstability))
}

func TestNormalize(t *testing.T) {
	adv := []float64{1, 2, 3, 4, 10}
	out, err := Normalize(adv)
	require.NoError(t, err)

	require.InDelta(t, 0, stat.Mean(out, nil), 1e-12)
	require.InDelta(t, 1, stat.StdDev(out, nil), 1e-5)
	require.Equal(t, floats.MaxIdx(adv), floats.MaxIdx(out))
}

func TestNormalizeConstantInput(t *testing.T) {
	out, err := Normalize([]float64{2, 2, 2})
	require.NoError(t, err)
	require.Equal(t, []float64{0, 0, 0}, out)

	single, err := Normalize([]float64{5})
	require.NoError(t, err)
	require.Equal(t, []float64{0}, single)

	_, err = Normalize(nil)
	require.Error(t, err)
}

func TestEstimateBatch(t *testing.T) {
	batch := model.OnPolicyBatch{
		Rewards: []float64{1, 1, 1},
		Masks:   []float64{0.5, 0.5, 0},
	}
	returns, adv, err := EstimateBatch(batch, []float64{0, 0, 0}, 1)
	require.NoError(t, err)
	require.InDeltaSlice(t, []float64{1.75, 1.5, 1}, returns, 1e-12)
	require.Len(t, adv, 3)
	require.Greater(t, adv[0], adv[2])
}
