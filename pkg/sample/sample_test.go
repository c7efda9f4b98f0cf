package sample

import (
	"testing"
	"time"

	"github.com/itohio/demolink/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilter(t *testing.T) {
	tests := []struct {
		name     string
		prev     float64
		raw      float64
		deadZone float64
		alpha    float64
		want     float64
	}{
		{name: "first sample", prev: 0, raw: 1.0, deadZone: 0.01, alpha: 0.2, want: 0.2},
		{name: "smoothing", prev: 0.2, raw: 1.0, deadZone: 0.01, alpha: 0.2, want: 0.36},
		{name: "inside dead zone decays", prev: 1.0, raw: 0.005, deadZone: 0.01, alpha: 0.2, want: 0.8},
		{name: "negative inside dead zone", prev: 1.0, raw: -0.009, deadZone: 0.01, alpha: 0.2, want: 0.8},
		{name: "at dead zone edge passes", prev: 0, raw: 0.01, deadZone: 0.01, alpha: 0.5, want: 0.005},
		{name: "alpha one follows input", prev: 3.0, raw: -2.0, deadZone: 0, alpha: 1, want: -2.0},
		{name: "zero dead zone", prev: 0, raw: 0.001, deadZone: 0, alpha: 0.5, want: 0.0005},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Filter(tt.prev, tt.raw, tt.deadZone, tt.alpha)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

func TestConditioner_Apply(t *testing.T) {
	c := NewConditioner(config.FilterConfig{DeadZone: 0.01, Alpha: 0.2})
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	s := c.Apply(1.0, start)
	assert.Equal(t, 1.0, s.Raw)
	assert.InDelta(t, 0.2, s.Filtered, 1e-12)
	assert.Equal(t, time.Duration(0), s.Elapsed)

	s = c.Apply(1.0, start.Add(25*time.Millisecond))
	assert.InDelta(t, 0.36, s.Filtered, 1e-12)
	assert.Equal(t, 25*time.Millisecond, s.Elapsed)
	assert.InDelta(t, 0.36, c.Value(), 1e-12)
}

func TestConditioner_Reset(t *testing.T) {
	c := NewConditioner(config.FilterConfig{DeadZone: 0.01, Alpha: 0.5})
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	c.Apply(4.0, start)
	c.Apply(4.0, start.Add(time.Second))
	require.NotZero(t, c.Value())

	c.Reset()
	assert.Zero(t, c.Value())

	later := start.Add(time.Minute)
	s := c.Apply(2.0, later)
	assert.InDelta(t, 1.0, s.Filtered, 1e-12, "filter restarts from zero")
	assert.Equal(t, time.Duration(0), s.Elapsed, "time base restarts at first sample")
}

func TestConditioner_Continuous(t *testing.T) {
	c := NewConditioner(config.FilterConfig{DeadZone: 0.01, Alpha: 0.3})
	now := time.Now()

	prev := 0.0
	for i, raw := range []float64{0.5, -0.2, 0.004, 1.7, -3.1} {
		s := c.Apply(raw, now.Add(time.Duration(i)*time.Millisecond))
		assert.InDelta(t, Filter(prev, raw, 0.01, 0.3), s.Filtered, 1e-12)
		prev = s.Filtered
	}
}

func TestNewConditioner_InvalidAlphaFallsBack(t *testing.T) {
	c := NewConditioner(config.FilterConfig{DeadZone: -1, Alpha: 0})

	assert.Equal(t, config.Default().Filter.Alpha, c.alpha)
	assert.Zero(t, c.deadZone)
}
