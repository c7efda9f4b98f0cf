package sample

import (
	"math"
	"time"

	"github.com/itohio/demolink/pkg/config"
)

// Sample represents one conditioned scalar telemetry reading.
type Sample struct {
	Raw      float64       // Reading as received
	Filtered float64       // Smoothed value after the dead zone
	Elapsed  time.Duration // Time since the link last (re)started
}

// Conditioner applies dead-zone suppression and exponential smoothing to
// scalar telemetry. It is not safe for concurrent use.
type Conditioner struct {
	deadZone float64
	alpha    float64

	filtered float64
	origin   time.Time
	started  bool
}

// NewConditioner creates a conditioner with zeroed filter state.
func NewConditioner(cfg config.FilterConfig) *Conditioner {
	alpha := cfg.Alpha
	if alpha <= 0 || alpha > 1 {
		alpha = config.Default().Filter.Alpha
	}
	deadZone := cfg.DeadZone
	if deadZone < 0 {
		deadZone = 0
	}

	return &Conditioner{
		deadZone: deadZone,
		alpha:    alpha,
	}
}

// Apply filters raw received at now. The first sample after construction or
// Reset starts the time base.
func (c *Conditioner) Apply(raw float64, now time.Time) Sample {
	if !c.started {
		c.origin = now
		c.started = true
	}

	c.filtered = Filter(c.filtered, raw, c.deadZone, c.alpha)

	return Sample{
		Raw:      raw,
		Filtered: c.filtered,
		Elapsed:  now.Sub(c.origin),
	}
}

// Value returns the current filtered value.
func (c *Conditioner) Value() float64 {
	return c.filtered
}

// Reset zeroes the filter state and clears the time base.
func (c *Conditioner) Reset() {
	c.filtered = 0
	c.origin = time.Time{}
	c.started = false
}

// Filter computes one smoothing step:
// f = (1-alpha)*prev + alpha*x, where x is raw or 0 inside the dead zone.
func Filter(prev, raw, deadZone, alpha float64) float64 {
	if math.Abs(raw) < deadZone {
		raw = 0
	}
	return (1-alpha)*prev + alpha*raw
}
