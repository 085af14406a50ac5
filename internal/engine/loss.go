package engine

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// criterion reduces element-wise regression error to a mean.
type criterion func(pred, target []float64) float64

func mse(pred, target []float64) float64 {
	if len(pred) == 0 {
		return 0
	}
	sum := 0.0
	for i, p := range pred {
		d := p - target[i]
		sum += d * d
	}
	return sum / float64(len(pred))
}

// smoothL1 is the Huber loss with unit threshold.
func smoothL1(pred, target []float64) float64 {
	if len(pred) == 0 {
		return 0
	}
	sum := 0.0
	for i, p := range pred {
		d := math.Abs(p - target[i])
		if d < 1 {
			sum += 0.5 * d * d
		} else {
			sum += d - 0.5
		}
	}
	return sum / float64(len(pred))
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return stat.Mean(xs, nil)
}

// stdOrZero is the sample deviation, zero for fewer than two values.
func stdOrZero(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	return stat.StdDev(xs, nil)
}

// flatten concatenates rows into one vector.
func flatten(rows [][]float64) []float64 {
	n := 0
	for _, r := range rows {
		n += len(r)
	}
	out := make([]float64, 0, n)
	for _, r := range rows {
		out = append(out, r...)
	}
	return out
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
