package link

import "errors"

// ErrLinkUnavailable is returned when the underlying transport is closed or
// has failed. It is never retried internally.
var ErrLinkUnavailable = errors.New("link unavailable")

// Mode bytes understood by the controller firmware.
const (
	ModeIdle   byte = 0x00 // Pause output
	ModeStream byte = 0x01 // Continuous scalar telemetry
	ModeStep   byte = 0x02 // Framed step-response captures
)

// Link defines the line-oriented byte-stream source (real or mocked).
type Link interface {
	// Poll returns the complete lines received since the last call, at most
	// max of them (all of them when max <= 0). It never blocks.
	Poll(max int) ([]string, error)
	// Write sends raw bytes to the controller.
	Write(p []byte) error
	// ResetInput discards buffered input, including a partial line.
	ResetInput() error
	Close() error
}

// Ensure Serial implements Link.
var _ Link = (*Serial)(nil)

// Ensure Mock implements Link.
var _ Link = (*Mock)(nil)

// Ensure Stream implements Link.
var _ Link = (*Stream)(nil)
