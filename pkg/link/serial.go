package link

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.bug.st/serial"
)

const (
	// DefaultBaudRate is the baud rate of the controller firmware.
	DefaultBaudRate = 115200
	// DefaultReadTimeout bounds a single read so the reader can observe Close.
	DefaultReadTimeout = 10 * time.Millisecond
)

// Port represents a serial port.
type Port struct {
	Name        string
	Description string
}

// Serial represents a connection to the controller over a serial port.
type Serial struct {
	port        string
	baudRate    int
	bufSize     int
	readTimeout time.Duration

	mu     sync.RWMutex
	conn   serial.Port
	stream *Stream
}

// New creates a new Serial link for the given port. Zero values select defaults.
func New(port string, baudRate int, bufSize int, readTimeout time.Duration) *Serial {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	if bufSize == 0 {
		bufSize = DefaultBufferSize
	}
	if readTimeout == 0 {
		readTimeout = DefaultReadTimeout
	}

	return &Serial{
		port:        port,
		baudRate:    baudRate,
		bufSize:     bufSize,
		readTimeout: readTimeout,
	}
}

// Ports returns a list of available serial ports.
func Ports() ([]Port, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	result := make([]Port, 0, len(ports))
	for _, name := range ports {
		result = append(result, Port{
			Name:        name,
			Description: name,
		})
	}

	return result, nil
}

// Connect opens the serial port and starts reading lines.
func (d *Serial) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stream != nil {
		return fmt.Errorf("already connected")
	}

	mode := &serial.Mode{
		BaudRate: d.baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(d.port, mode)
	if err != nil {
		return fmt.Errorf("%w: failed to open serial port %s: %v", ErrLinkUnavailable, d.port, err)
	}
	if err := port.SetReadTimeout(d.readTimeout); err != nil {
		port.Close()
		return fmt.Errorf("failed to set read timeout on %s: %w", d.port, err)
	}

	d.conn = port
	d.stream = NewStream(port, d.bufSize)

	log.Info().Str("port", d.port).Int("baud", d.baudRate).Msg("serial link connected")

	return nil
}

// Poll returns the lines received since the last call.
func (d *Serial) Poll(max int) ([]string, error) {
	s := d.current()
	if s == nil {
		return nil, ErrLinkUnavailable
	}
	return s.Poll(max)
}

// Write sends raw bytes to the controller and waits for them to drain.
func (d *Serial) Write(p []byte) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.stream == nil {
		return ErrLinkUnavailable
	}
	if err := d.stream.Write(p); err != nil {
		return err
	}
	if err := d.conn.Drain(); err != nil {
		return fmt.Errorf("%w: drain failed: %v", ErrLinkUnavailable, err)
	}
	return nil
}

// ResetInput discards everything received but not yet polled.
func (d *Serial) ResetInput() error {
	s := d.current()
	if s == nil {
		return ErrLinkUnavailable
	}
	return s.ResetInput()
}

// Close closes the port and stops reading.
func (d *Serial) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stream == nil {
		return nil
	}

	err := d.stream.Close()
	d.stream = nil
	d.conn = nil

	return err
}

// IsConnected returns whether the port is currently open.
func (d *Serial) IsConnected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.stream != nil
}

func (d *Serial) current() *Stream {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.stream
}

// isDisconnection reports whether err means the device went away.
func isDisconnection(err error) bool {
	if err == nil {
		return false
	}

	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		return disconnectCode(portErr.Code())
	}
	var portErrValue serial.PortError
	if errors.As(err, &portErrValue) {
		return disconnectCode(portErrValue.Code())
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "device not configured") ||
		strings.Contains(errStr, "input/output error") ||
		strings.Contains(errStr, "no such device") ||
		strings.Contains(errStr, "broken pipe")
}

func disconnectCode(code serial.PortErrorCode) bool {
	switch code {
	case serial.PortNotFound, serial.PortClosed, serial.InvalidSerialPort:
		return true
	default:
		return false
	}
}
