package stats

import (
	"errors"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// BenchmarkSummary condenses the per-evaluation average returns of one run.
type BenchmarkSummary struct {
	RunID         string  `json:"run_id"`
	Kind          string  `json:"kind"`
	Scape         string  `json:"scape"`
	Evaluations   int     `json:"evaluations"`
	InitialReturn float64 `json:"initial_return"`
	FinalReturn   float64 `json:"final_return"`
	ReturnMean    float64 `json:"return_mean"`
	ReturnStd     float64 `json:"return_std"`
	ReturnMax     float64 `json:"return_max"`
	ReturnMin     float64 `json:"return_min"`
	Improvement   float64 `json:"improvement"`
	TargetReturn  float64 `json:"target_return"`
	// FirstSolved is the 1-based evaluation that first reached the target,
	// 0 when none did.
	FirstSolved int  `json:"first_solved"`
	Passed      bool `json:"passed"`
}

// Summarize builds a benchmark summary from a return history. A run passes
// when its final return reaches target.
func Summarize(history []float64, target float64) (BenchmarkSummary, error) {
	if len(history) == 0 {
		return BenchmarkSummary{}, errors.New("return history must not be empty")
	}
	s := BenchmarkSummary{
		Evaluations:   len(history),
		InitialReturn: history[0],
		FinalReturn:   history[len(history)-1],
		ReturnMean:    stat.Mean(history, nil),
		ReturnMax:     floats.Max(history),
		ReturnMin:     floats.Min(history),
		TargetReturn:  target,
	}
	if len(history) > 1 {
		s.ReturnStd = stat.StdDev(history, nil)
	}
	s.Improvement = s.FinalReturn - s.InitialReturn
	for i, r := range history {
		if r >= target {
			s.FirstSolved = i + 1
			break
		}
	}
	s.Passed = s.FinalReturn >= target
	return s, nil
}

type PlotPoint struct {
	Index int     `json:"index"`
	Value float64 `json:"value"`
}

// BuildAveragePlot averages several runs' histories position by position.
// Shorter runs drop out once exhausted; points are labelled startIndex,
// startIndex+step, ...
func BuildAveragePlot(lists [][]float64, startIndex, step int) []PlotPoint {
	if step <= 0 {
		step = 1
	}
	if startIndex < 0 {
		startIndex = 0
	}
	longest := 0
	for _, list := range lists {
		longest = max(longest, len(list))
	}
	points := make([]PlotPoint, 0, longest)
	for pos := 0; pos < longest; pos++ {
		values := make([]float64, 0, len(lists))
		for _, list := range lists {
			if pos < len(list) {
				values = append(values, list[pos])
			}
		}
		points = append(points, PlotPoint{Index: startIndex + pos*step, Value: stat.Mean(values, nil)})
	}
	return points
}

// BuildMaxPlot emits one point per run holding its best value; empty runs
// are skipped.
func BuildMaxPlot(lists [][]float64, startIndex, step int) []PlotPoint {
	if step <= 0 {
		step = 1
	}
	if startIndex < 0 {
		startIndex = 0
	}
	points := make([]PlotPoint, 0, len(lists))
	index := startIndex
	for _, list := range lists {
		if len(list) == 0 {
			continue
		}
		points = append(points, PlotPoint{Index: index, Value: floats.Max(list)})
		index += step
	}
	return points
}

// MovingAverage smooths a history with a trailing window.
func MovingAverage(history []float64, window int) []float64 {
	if window <= 1 {
		return append([]float64(nil), history...)
	}
	out := make([]float64, len(history))
	sum := 0.0
	for i, v := range history {
		sum += v
		if i >= window {
			sum -= history[i-window]
		}
		out[i] = sum / float64(min(i+1, window))
	}
	return out
}
