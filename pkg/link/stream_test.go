package link

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipeTransport reads from a pipe and records writes.
type pipeTransport struct {
	*io.PipeReader
	written bytes.Buffer
}

func (p *pipeTransport) Write(b []byte) (int, error) {
	return p.written.Write(b)
}

func newPipeStream(t *testing.T, bufSize int) (*Stream, *pipeTransport, *io.PipeWriter) {
	t.Helper()
	pr, pw := io.Pipe()
	tr := &pipeTransport{PipeReader: pr}
	s := NewStream(tr, bufSize)
	t.Cleanup(func() {
		pw.Close()
		s.Close()
	})
	return s, tr, pw
}

func pollUntil(t *testing.T, s *Stream, n int) []string {
	t.Helper()
	var got []string
	require.Eventually(t, func() bool {
		lines, _ := s.Poll(0)
		got = append(got, lines...)
		return len(got) >= n
	}, 2*time.Second, 5*time.Millisecond)
	return got
}

func TestStream_Poll(t *testing.T) {
	s, _, pw := newPipeStream(t, 0)

	_, err := pw.Write([]byte("1.0\n2.0\n3"))
	require.NoError(t, err)

	got := pollUntil(t, s, 2)
	assert.Equal(t, []string{"1.0", "2.0"}, got)

	lines, err := s.Poll(0)
	require.NoError(t, err)
	assert.Empty(t, lines, "partial line must not be delivered")
}

func TestStream_PollMax(t *testing.T) {
	s, _, pw := newPipeStream(t, 0)

	_, err := pw.Write([]byte("a\nb\nc\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(s.lines) == 3 }, 2*time.Second, 5*time.Millisecond)

	lines, err := s.Poll(2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, lines)

	lines, err = s.Poll(2)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, lines)
}

func TestStream_EOFFlushesAndFails(t *testing.T) {
	s, _, pw := newPipeStream(t, 0)

	_, err := pw.Write([]byte("1.0\n2.0"))
	require.NoError(t, err)
	require.NoError(t, pw.Close())

	var got []string
	require.Eventually(t, func() bool {
		lines, err := s.Poll(0)
		got = append(got, lines...)
		return err != nil
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"1.0", "2.0"}, got)

	_, err = s.Poll(0)
	assert.ErrorIs(t, err, ErrLinkUnavailable)
}

func TestStream_Write(t *testing.T) {
	s, tr, _ := newPipeStream(t, 0)

	require.NoError(t, s.Write([]byte{ModeStream}))
	assert.Equal(t, []byte{ModeStream}, tr.written.Bytes())

	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Write([]byte{ModeIdle}), ErrLinkUnavailable)
}

func TestStream_ResetInputDropsQueuedAndPartial(t *testing.T) {
	s, _, pw := newPipeStream(t, 0)

	_, err := pw.Write([]byte("1\n2\npart"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(s.lines) == 2 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, s.ResetInput())
	lines, err := s.Poll(0)
	require.NoError(t, err)
	assert.Empty(t, lines)

	// The chunk in flight during the reset is discarded with the partial line
	_, err = pw.Write([]byte("ial\n"))
	require.NoError(t, err)
	_, err = pw.Write([]byte("3\n"))
	require.NoError(t, err)

	got := pollUntil(t, s, 1)
	assert.Equal(t, []string{"3"}, got)
}

func TestStream_QueueFullDropsLines(t *testing.T) {
	s, _, pw := newPipeStream(t, 1)

	_, err := pw.Write([]byte("a\nb\nc\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return s.Dropped() == 2 }, 2*time.Second, 5*time.Millisecond)

	lines, err := s.Poll(0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, lines)
}

func TestStream_Close(t *testing.T) {
	s, _, _ := newPipeStream(t, 0)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "Close should be idempotent")

	require.Eventually(t, func() bool {
		_, err := s.Poll(0)
		return err != nil
	}, 2*time.Second, 5*time.Millisecond)
}
