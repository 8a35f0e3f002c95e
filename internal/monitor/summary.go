package monitor

import (
	"log/slog"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary condenses one scalar series.
type Summary struct {
	Count    int
	Min      float64
	MinStep  int
	Max      float64
	Mean     float64
	StdDev   float64
	Last     float64
	LastStep int
}

// Summarize computes a Summary of pts. An empty series gives the zero Summary.
func Summarize(pts []Point) Summary {
	if len(pts) == 0 {
		return Summary{}
	}
	values := make([]float64, len(pts))
	for i, p := range pts {
		values[i] = p.Value
	}

	minIdx := floats.MinIdx(values)
	mean, std := stat.MeanStdDev(values, nil)
	if len(values) < 2 {
		std = 0
	}
	last := pts[len(pts)-1]
	return Summary{
		Count:    len(pts),
		Min:      values[minIdx],
		MinStep:  pts[minIdx].Step,
		Max:      floats.Max(values),
		Mean:     mean,
		StdDev:   std,
		Last:     last.Value,
		LastStep: last.Step,
	}
}

// LogValue implements slog.LogValuer.
func (s Summary) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("count", s.Count),
		slog.Float64("min", s.Min),
		slog.Int("min_step", s.MinStep),
		slog.Float64("max", s.Max),
		slog.Float64("mean", s.Mean),
		slog.Float64("last", s.Last),
	)
}
