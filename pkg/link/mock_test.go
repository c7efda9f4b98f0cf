package link

import (
	"math"
	"testing"
	"time"

	"github.com/itohio/demolink/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMockConfig() *config.MockConfig {
	return &config.MockConfig{
		SampleRate:  time.Millisecond,
		Amplitude:   0.3,
		Period:      time.Second,
		NoiseLevel:  0.0,
		StepSize:    10.0,
		StepSamples: 5,
		Damping:     0.3,
		NaturalFreq: 6.0,
	}
}

func TestStepResponse(t *testing.T) {
	tests := []struct {
		name    string
		t       float64
		damping float64
		want    float64
		delta   float64
	}{
		{name: "before step", t: 0, damping: 0.3, want: 0, delta: 1e-9},
		{name: "settled underdamped", t: 10, damping: 0.3, want: 10, delta: 1e-3},
		{name: "settled critically damped", t: 10, damping: 1.0, want: 10, delta: 1e-3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := StepResponse(tt.t, 10, tt.damping, 6)
			assert.InDelta(t, tt.want, got, tt.delta)
		})
	}
}

func TestStepResponse_Overshoot(t *testing.T) {
	// Peak of an underdamped response is exp(-pi*z/sqrt(1-z^2)) above final.
	zeta, wn := 0.3, 6.0
	peakTime := math.Pi / (wn * math.Sqrt(1-zeta*zeta))
	want := 10 * (1 + math.Exp(-math.Pi*zeta/math.Sqrt(1-zeta*zeta)))

	assert.InDelta(t, want, StepResponse(peakTime, 10, zeta, wn), 1e-6)
}

func TestMock_IdleUntilModeWritten(t *testing.T) {
	m := NewMock(testMockConfig())
	defer m.Close()

	lines := m.nextLines(time.Now())

	assert.Empty(t, lines)
	assert.Equal(t, ModeIdle, m.Mode())
}

func TestMock_StreamMode(t *testing.T) {
	m := NewMock(testMockConfig())
	defer m.Close()

	require.NoError(t, m.Write([]byte{ModeStream}))
	assert.Equal(t, ModeStream, m.Mode())

	lines := m.nextLines(time.Now())
	require.NotEmpty(t, lines)
	assert.Regexp(t, `^-?\d+\.\d{4}$`, lines[0])
}

func TestMock_StepModeFraming(t *testing.T) {
	cfg := testMockConfig()
	m := NewMock(cfg)
	defer m.Close()

	require.NoError(t, m.Write([]byte{ModeStep}))

	var lines []string
	for i := 0; i < cfg.StepSamples+2; i++ {
		lines = append(lines, m.nextLines(time.Now())...)
	}

	require.GreaterOrEqual(t, len(lines), cfg.StepSamples+2)
	assert.Equal(t, "DATA_START", lines[0])
	assert.Equal(t, "DATA_END", lines[len(lines)-1])

	pairs := 0
	for _, line := range lines {
		if line != "DATA_START" && line != "DATA_END" && line != "time,value" {
			assert.Regexp(t, `^\d+\.\d{3},-?\d+\.\d{3}$`, line)
			pairs++
		}
	}
	assert.Equal(t, cfg.StepSamples, pairs)

	// The pause after a capture emits nothing
	assert.Empty(t, m.nextLines(time.Now()))
}

func TestMock_WriteRestartsCapture(t *testing.T) {
	m := NewMock(testMockConfig())
	defer m.Close()

	require.NoError(t, m.Write([]byte{ModeStep}))
	m.nextLines(time.Now())
	m.nextLines(time.Now())

	require.NoError(t, m.Write([]byte{ModeIdle, ModeStep}))
	lines := m.nextLines(time.Now())
	require.NotEmpty(t, lines)
	assert.Equal(t, "DATA_START", lines[0])
}

func TestMock_PollDeliversLines(t *testing.T) {
	m := NewMock(testMockConfig())
	require.NoError(t, m.Connect())
	defer m.Close()

	require.NoError(t, m.Write([]byte{ModeStream}))

	var got []string
	assert.Eventually(t, func() bool {
		lines, _ := m.Poll(0)
		got = append(got, lines...)
		return len(got) >= 3
	}, 2*time.Second, 5*time.Millisecond)
}

func TestMock_PollRespectsMax(t *testing.T) {
	m := NewMock(testMockConfig())
	defer m.Close()

	for i := 0; i < 5; i++ {
		m.lines <- "1.0"
	}

	lines, err := m.Poll(2)
	require.NoError(t, err)
	assert.Len(t, lines, 2)

	require.NoError(t, m.ResetInput())
	lines, err = m.Poll(0)
	require.NoError(t, err)
	assert.Empty(t, lines)
}

// TestMock_GracefulShutdown tests that Poll reports the link as unavailable
// once Close is called.
func TestMock_GracefulShutdown(t *testing.T) {
	m := NewMock(testMockConfig())
	require.NoError(t, m.Connect())
	require.NoError(t, m.Write([]byte{ModeStream}))

	require.NoError(t, m.Close())
	require.NoError(t, m.Close(), "Close should be idempotent")

	assert.Eventually(t, func() bool {
		_, err := m.Poll(0)
		return err != nil
	}, 2*time.Second, 5*time.Millisecond)

	_, err := m.Poll(0)
	assert.ErrorIs(t, err, ErrLinkUnavailable)
	assert.ErrorIs(t, m.Write([]byte{ModeIdle}), ErrLinkUnavailable)
	assert.ErrorIs(t, m.Connect(), ErrLinkUnavailable)
}

func TestMock_CloseWithoutConnect(t *testing.T) {
	m := NewMock(nil)
	require.NoError(t, m.Close())

	_, err := m.Poll(0)
	assert.ErrorIs(t, err, ErrLinkUnavailable)
}
