// Package advantage computes generalized advantage estimates and Monte-Carlo
// value targets over a complete on-policy rollout.
package advantage

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"gradus/internal/model"
)

// NormEpsilon keeps the advantage normalization finite for constant inputs.
const NormEpsilon = 1e-6

// Result holds per-step quantities aligned with the input rollout.
type Result struct {
	Deltas     []float64 // TD residuals
	Returns    []float64 // discounted returns, the value regression target
	Advantages []float64 // raw GAE, before normalization
}

// Estimate resolves the rollout in one backward sweep from the most recent
// step. Each step only reads the step after it, so three running values are
// enough: the next return, the next value estimate and the next advantage.
// Bootstraps past the last step are zero.
func Estimate(rewards, masks, values []float64, lambda float64) (Result, error) {
	n := len(rewards)
	if len(masks) != n || len(values) != n {
		return Result{}, fmt.Errorf("length mismatch: rewards=%d masks=%d values=%d", n, len(masks), len(values))
	}
	if n == 0 {
		return Result{}, fmt.Errorf("estimate: %w", model.ErrEmptyBuffer)
	}

	res := Result{
		Deltas:     make([]float64, n),
		Returns:    make([]float64, n),
		Advantages: make([]float64, n),
	}

	var nextReturn, nextValue, nextAdv float64
	for i := n - 1; i >= 0; i-- {
		r, m, v := rewards[i], masks[i], values[i]
		res.Deltas[i] = r + m*nextValue - v
		res.Returns[i] = r + m*nextReturn
		res.Advantages[i] = res.Deltas[i] + m*lambda*nextAdv

		if !finite(res.Deltas[i]) || !finite(res.Returns[i]) || !finite(res.Advantages[i]) {
			return Result{}, fmt.Errorf("%w: non-finite advantage at step %d", model.ErrNumericInstability, i)
		}

		nextReturn = res.Returns[i]
		nextValue = v
		nextAdv = res.Advantages[i]
	}
	return res, nil
}

// Normalize returns (adv - mean) / (std + NormEpsilon), where std is the
// unbiased sample deviation. A single-element input has zero deviation.
func Normalize(adv []float64) ([]float64, error) {
	if len(adv) == 0 {
		return nil, errors.New("advantages must not be empty")
	}
	mean := stat.Mean(adv, nil)
	std := 0.0
	if len(adv) > 1 {
		std = stat.StdDev(adv, nil)
	}
	if !finite(mean) || !finite(std) {
		return nil, fmt.Errorf("%w: advantage mean=%v std=%v", model.ErrNumericInstability, mean, std)
	}

	out := make([]float64, len(adv))
	denom := std + NormEpsilon
	for i, a := range adv {
		out[i] = (a - mean) / denom
	}
	return out, nil
}

// EstimateBatch runs Estimate over a rollout batch and normalizes the
// advantages. It returns the value targets and the normalized advantages.
func EstimateBatch(batch model.OnPolicyBatch, values []float64, lambda float64) (returns, advantages []float64, err error) {
	res, err := Estimate(batch.Rewards, batch.Masks, values, lambda)
	if err != nil {
		return nil, nil, err
	}
	advantages, err = Normalize(res.Advantages)
	if err != nil {
		return nil, nil, err
	}
	return res.Returns, advantages, nil
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
