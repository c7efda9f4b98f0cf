package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// DefaultBufferSize is the default number of complete lines queued between
// the reader goroutine and Poll.
const DefaultBufferSize = 256

const readChunkSize = 256

// inputResetter is implemented by transports that can drop buffered input
// (serial.Port does).
type inputResetter interface {
	ResetInputBuffer() error
}

// Stream reads lines from any io.ReadWriter in a dedicated goroutine and
// hands them to the polling loop through a bounded queue.
type Stream struct {
	rw    io.ReadWriter
	lines chan string

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	err    error
	closed bool

	discard atomic.Bool
	dropped atomic.Uint64
}

// NewStream starts reading lines from rw. If rw is an io.Closer it is closed
// by Close.
func NewStream(rw io.ReadWriter, bufSize int) *Stream {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Stream{
		rw:     rw,
		lines:  make(chan string, bufSize),
		ctx:    ctx,
		cancel: cancel,
	}

	go s.readLines()

	return s
}

// Poll returns up to max queued lines without blocking. Once the reader has
// stopped and the queue is drained it returns ErrLinkUnavailable.
func (s *Stream) Poll(max int) ([]string, error) {
	var out []string
	for max <= 0 || len(out) < max {
		select {
		case line, ok := <-s.lines:
			if !ok {
				return out, s.failure()
			}
			out = append(out, line)
		default:
			return out, nil
		}
	}
	return out, nil
}

// Write sends p to the transport.
func (s *Stream) Write(p []byte) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrLinkUnavailable
	}

	if _, err := s.rw.Write(p); err != nil {
		return fmt.Errorf("%w: write failed: %v", ErrLinkUnavailable, err)
	}
	return nil
}

// ResetInput drops queued lines, the partial line being assembled and, when
// supported, the transport's own input buffer.
func (s *Stream) ResetInput() error {
	s.discard.Store(true)

	if r, ok := s.rw.(inputResetter); ok {
		if err := r.ResetInputBuffer(); err != nil {
			return fmt.Errorf("%w: reset input: %v", ErrLinkUnavailable, err)
		}
	}

	for {
		select {
		case _, ok := <-s.lines:
			if !ok {
				return s.failure()
			}
		default:
			return nil
		}
	}
}

// Close stops the reader goroutine and closes the transport.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()

	if c, ok := s.rw.(io.Closer); ok {
		if err := c.Close(); err != nil {
			return fmt.Errorf("failed to close transport: %w", err)
		}
	}
	return nil
}

// Dropped returns the number of lines dropped because the queue was full.
func (s *Stream) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *Stream) failure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return fmt.Errorf("%w: %v", ErrLinkUnavailable, s.err)
	}
	return ErrLinkUnavailable
}

// readLines reads chunks from the transport and queues complete lines.
func (s *Stream) readLines() {
	defer close(s.lines)
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("link reader panicked")
			s.setErr(fmt.Errorf("reader panic: %v", r))
		}
	}()

	var asm Assembler
	buf := make([]byte, readChunkSize)

	for {
		if s.ctx.Err() != nil {
			return
		}

		n, err := s.rw.Read(buf)
		if s.discard.Swap(false) {
			asm.Reset()
			n = 0
		}
		if n > 0 {
			for _, line := range asm.Feed(buf[:n]) {
				if !s.enqueue(line) {
					return
				}
			}
		}

		if err != nil {
			if s.ctx.Err() != nil {
				// Closed by us
				return
			}
			if errors.Is(err, io.EOF) {
				if line, ok := asm.Flush(); ok {
					s.enqueue(line)
				}
				log.Info().Msg("link reached end of stream")
			} else if isDisconnection(err) {
				log.Warn().Err(err).Msg("link disconnected")
			} else {
				log.Error().Err(err).Msg("error reading from link")
			}
			s.setErr(err)
			return
		}
	}
}

// enqueue sends a line without blocking; it reports false once the stream
// is closing.
func (s *Stream) enqueue(line string) bool {
	select {
	case s.lines <- line:
	case <-s.ctx.Done():
		return false
	default:
		// Queue full, drop the whole line so framing stays intact
		if s.dropped.Add(1) == 1 {
			log.Warn().Msg("link queue full, dropping lines")
		}
	}
	return true
}

func (s *Stream) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}
