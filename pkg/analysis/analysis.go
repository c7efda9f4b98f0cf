// Package analysis derives step-response metrics from a finalized capture.
package analysis

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/itohio/demolink/pkg/capture"
	"github.com/itohio/demolink/pkg/config"
)

// ErrNoData is returned when there is nothing to analyze.
var ErrNoData = errors.New("no data to analyze")

// Options tune the heuristics.
type Options struct {
	MinStep      float64 // Steps smaller than this report no overshoot
	StableWindow int     // Samples per stability window
	StableStd    float64 // Std-dev below which a window is stable
	SettleBand   float64 // Settling band as a fraction of the step
}

// OptionsFrom converts the analysis config section.
func OptionsFrom(cfg config.AnalysisConfig) Options {
	return Options{
		MinStep:      cfg.MinStep,
		StableWindow: cfg.StableWindow,
		StableStd:    cfg.StableStd,
		SettleBand:   cfg.SettleBand,
	}
}

// Metrics summarizes one captured step response. Times are in the capture's
// own time unit.
type Metrics struct {
	Samples          int
	InitialValue     float64
	FinalValue       float64
	MaxValue         float64
	MinValue         float64
	StepSize         float64
	OvershootPercent float64
	ObservedDuration float64 // Last minus first timestamp
	SwingStartTime   float64
	SwingEndTime     float64
	SettlingTime     float64 // Time from the first sample to staying within the settle band
}

// Analyze computes the metrics of points, which must be sorted by time.
func Analyze(points []capture.Point, opts Options) (Metrics, error) {
	if len(points) == 0 {
		return Metrics{}, ErrNoData
	}

	times := capture.Times(points)
	values := capture.Values(points)
	n := len(points)

	m := Metrics{
		Samples:          n,
		InitialValue:     values[0],
		FinalValue:       values[n-1],
		MaxValue:         floats.Max(values),
		MinValue:         floats.Min(values),
		ObservedDuration: times[n-1] - times[0],
	}
	m.StepSize = math.Abs(m.FinalValue - m.InitialValue)
	m.OvershootPercent = Overshoot(m.InitialValue, m.FinalValue, m.MaxValue, m.MinValue, opts.MinStep)

	start := swingStart(values)
	m.SwingStartTime = times[start]
	m.SwingEndTime = swingEnd(times, values, opts.StableWindow, opts.StableStd)

	if opts.SettleBand > 0 {
		settle, err := SettlingTime(points, opts.SettleBand)
		if err != nil {
			return Metrics{}, err
		}
		m.SettlingTime = settle
	}

	return m, nil
}

// Overshoot returns the peak excursion beyond final as a percentage of the
// step from initial to final. Steps below minStep have no overshoot.
func Overshoot(initial, final, maxValue, minValue, minStep float64) float64 {
	step := math.Abs(final - initial)
	if step < minStep || step == 0 {
		return 0
	}

	var over float64
	if final > initial {
		over = (maxValue - final) / step * 100
	} else {
		over = (final - minValue) / step * 100
	}
	return math.Max(0, over)
}

// swingStart returns the index of the first point whose delta to the next
// point exceeds twice the std-dev of all deltas, or 0.
func swingStart(values []float64) int {
	if len(values) < 2 {
		return 0
	}

	deltas := make([]float64, len(values)-1)
	floats.SubTo(deltas, values[1:], values[:len(values)-1])

	threshold := 2 * stat.PopStdDev(deltas, nil)
	for i, d := range deltas {
		if math.Abs(d) > threshold {
			return i
		}
	}
	return 0
}

// swingEnd returns the timestamp at the middle of the first window whose
// std-dev is below stableStd. It falls back to the last timestamp.
func swingEnd(times, values []float64, window int, stableStd float64) float64 {
	last := times[len(times)-1]
	if window <= 0 || len(values) < window {
		return last
	}

	for i := 0; i+window <= len(values); i++ {
		if stat.PopStdDev(values[i:i+window], nil) < stableStd {
			return times[i+window/2]
		}
	}
	return last
}

// SettlingTime returns the time from the first point until the response
// enters and stays within band*step of the final value. A response that
// never leaves the band settles at 0.
func SettlingTime(points []capture.Point, band float64) (float64, error) {
	if len(points) == 0 {
		return 0, ErrNoData
	}
	if band <= 0 {
		return 0, fmt.Errorf("invalid settle band %v", band)
	}

	n := len(points)
	initial, final := points[0].Value, points[n-1].Value
	tol := band * math.Abs(final-initial)

	for i := n - 1; i >= 0; i-- {
		if math.Abs(points[i].Value-final) > tol {
			return points[i+1].Time - points[0].Time, nil
		}
	}
	return 0, nil
}
