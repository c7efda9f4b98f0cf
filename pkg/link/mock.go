package link

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/itohio/demolink/pkg/config"
)

// Mock simulates the controller for testing and boardless development.
// Writing ModeStream makes it emit noisy scalar angle readings; ModeStep
// makes it emit framed step-response captures separated by silence; ModeIdle
// pauses it. Both modes interleave occasional noise lines.
type Mock struct {
	cfg *config.MockConfig

	lines     chan string
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
	connected bool
	closed    bool

	// Simulation state
	mode      byte
	rng       *rand.Rand
	startTime time.Time
	emitted   int
	stepIndex int // -1 while waiting between captures
	stepGap   int
}

// NewMock creates a new simulated controller.
func NewMock(cfg *config.MockConfig) *Mock {
	if cfg == nil {
		def := config.Default().Mock
		cfg = &def
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Mock{
		cfg:       cfg,
		lines:     make(chan string, DefaultBufferSize),
		ctx:       ctx,
		cancel:    cancel,
		mode:      ModeIdle,
		rng:       rand.New(rand.NewPCG(1, 2)),
		stepIndex: -1,
	}
}

// Connect starts generating lines.
func (m *Mock) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connected {
		return fmt.Errorf("already connected")
	}
	if m.closed {
		return ErrLinkUnavailable
	}

	m.connected = true
	m.startTime = time.Now()

	go m.generateLines()

	return nil
}

// Poll returns the lines generated since the last call.
func (m *Mock) Poll(max int) ([]string, error) {
	var out []string
	for max <= 0 || len(out) < max {
		select {
		case line, ok := <-m.lines:
			if !ok {
				return out, ErrLinkUnavailable
			}
			out = append(out, line)
		default:
			return out, nil
		}
	}
	return out, nil
}

// Write switches the simulated mode to the last byte written.
func (m *Mock) Write(p []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrLinkUnavailable
	}
	if len(p) == 0 {
		return nil
	}

	m.mode = p[len(p)-1]
	m.stepIndex = -1
	m.stepGap = 0

	return nil
}

// ResetInput drops lines not yet polled.
func (m *Mock) ResetInput() error {
	for {
		select {
		case _, ok := <-m.lines:
			if !ok {
				return ErrLinkUnavailable
			}
		default:
			return nil
		}
	}
}

// Close stops the simulated controller.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}

	m.cancel()
	m.closed = true
	if !m.connected {
		close(m.lines)
	}
	m.connected = false

	return nil
}

// Mode returns the current simulated mode.
func (m *Mock) Mode() byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mode
}

// generateLines emits simulated lines until closed.
func (m *Mock) generateLines() {
	defer close(m.lines)

	ticker := time.NewTicker(m.cfg.SampleRate)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case now := <-ticker.C:
			for _, line := range m.nextLines(now) {
				select {
				case m.lines <- line:
				case <-m.ctx.Done():
					return
				default:
					// Channel full, skip
				}
			}
		}
	}
}

// nextLines produces the lines for one simulation step.
func (m *Mock) nextLines(now time.Time) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.emitted++
	noiseLine := m.emitted%97 == 0

	switch m.mode {
	case ModeStream:
		elapsed := now.Sub(m.startTime).Seconds()
		angle := m.cfg.Amplitude*math.Sin(2*math.Pi*elapsed/m.cfg.Period.Seconds()) + m.noise()
		lines := []string{fmt.Sprintf("%.4f", angle)}
		if noiseLine {
			lines = append(lines, "#noise")
		}
		return lines

	case ModeStep:
		return m.nextStepLines(noiseLine)
	}

	return nil
}

// nextStepLines walks one framed capture: start sentinel, StepSamples pairs,
// end sentinel, then a pause of one capture length.
func (m *Mock) nextStepLines(noiseLine bool) []string {
	if m.stepIndex < 0 {
		if m.stepGap > 0 {
			m.stepGap--
			return nil
		}
		m.stepIndex = 0
		return []string{"DATA_START", "time,value"}
	}

	if m.stepIndex >= m.cfg.StepSamples {
		m.stepIndex = -1
		m.stepGap = m.cfg.StepSamples
		return []string{"DATA_END"}
	}

	dt := m.cfg.SampleRate.Seconds()
	t := float64(m.stepIndex) * dt
	value := StepResponse(t, m.cfg.StepSize, m.cfg.Damping, m.cfg.NaturalFreq) + m.noise()
	m.stepIndex++

	lines := []string{fmt.Sprintf("%.3f,%.3f", t, value)}
	if noiseLine {
		lines = append(lines, "time,value")
	}
	return lines
}

func (m *Mock) noise() float64 {
	return (m.rng.Float64()*2 - 1) * m.cfg.NoiseLevel
}

// StepResponse returns the unit-step response of an underdamped second-order
// system scaled to size, at time t seconds.
func StepResponse(t, size, damping, naturalFreq float64) float64 {
	if t <= 0 {
		return 0
	}
	if damping >= 1 {
		// Critically damped
		wt := naturalFreq * t
		return size * (1 - (1+wt)*math.Exp(-wt))
	}
	root := math.Sqrt(1 - damping*damping)
	wd := naturalFreq * root
	phase := math.Acos(damping)
	return size * (1 - math.Exp(-damping*naturalFreq*t)/root*math.Sin(wd*t+phase))
}
