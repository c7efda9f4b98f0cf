package link

import "strings"

// DefaultMaxLineLength bounds a partial line; longer garbage is discarded so
// the assembler resynchronizes on the next newline.
const DefaultMaxLineLength = 1024

// Assembler turns arbitrary read chunks into complete, trimmed lines.
type Assembler struct {
	MaxLineLength int

	partial    []byte
	overflowed bool
}

// Feed appends chunk to the pending partial line and returns every line it
// completes. Lines are terminated by '\n'; a trailing '\r' and surrounding
// whitespace are trimmed. Empty lines are returned as "" so the caller can
// classify them.
func (a *Assembler) Feed(chunk []byte) []string {
	limit := a.MaxLineLength
	if limit <= 0 {
		limit = DefaultMaxLineLength
	}

	var lines []string
	for _, b := range chunk {
		if b == '\n' {
			if a.overflowed {
				// Tail of an oversized line, drop it
				a.overflowed = false
			} else {
				lines = append(lines, strings.TrimSpace(string(a.partial)))
			}
			a.partial = a.partial[:0]
			continue
		}
		if a.overflowed {
			continue
		}
		if len(a.partial) >= limit {
			a.overflowed = true
			a.partial = a.partial[:0]
			continue
		}
		a.partial = append(a.partial, b)
	}
	return lines
}

// Flush returns the pending partial line, if any, and resets the assembler.
func (a *Assembler) Flush() (string, bool) {
	defer a.Reset()
	if a.overflowed || len(a.partial) == 0 {
		return "", false
	}
	return strings.TrimSpace(string(a.partial)), true
}

// Reset discards the pending partial line.
func (a *Assembler) Reset() {
	a.partial = a.partial[:0]
	a.overflowed = false
}
