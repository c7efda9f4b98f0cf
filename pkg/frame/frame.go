// Package frame classifies raw telemetry lines.
package frame

import (
	"math"
	"strconv"
	"strings"
)

// Sentinel and header lines of the controller protocol.
const (
	StartSentinel = "DATA_START"
	EndSentinel   = "DATA_END"
	Header        = "time,value"
)

// Kind is the classification of one line.
type Kind int

const (
	Unrecognized Kind = iota
	StreamStart
	StreamEnd
	Scalar
	Pair
)

func (k Kind) String() string {
	switch k {
	case StreamStart:
		return "stream-start"
	case StreamEnd:
		return "stream-end"
	case Scalar:
		return "scalar"
	case Pair:
		return "pair"
	default:
		return "unrecognized"
	}
}

// Frame is a decoded line. Value is set for Scalar and Pair, Time for Pair.
type Frame struct {
	Kind  Kind
	Time  float64
	Value float64
}

// Decode classifies a single complete line. It keeps no state between calls;
// anything it cannot make sense of is Unrecognized.
func Decode(line string) Frame {
	line = strings.TrimSpace(line)

	switch line {
	case "", Header:
		return Frame{Kind: Unrecognized}
	case StartSentinel:
		return Frame{Kind: StreamStart}
	case EndSentinel:
		return Frame{Kind: StreamEnd}
	}

	parts := strings.Split(line, ",")
	switch len(parts) {
	case 1:
		v, ok := parseFloat(parts[0])
		if !ok {
			return Frame{Kind: Unrecognized}
		}
		return Frame{Kind: Scalar, Value: v}

	case 2:
		t, ok := parseFloat(parts[0])
		if !ok {
			return Frame{Kind: Unrecognized}
		}
		v, ok := parseFloat(parts[1])
		if !ok {
			return Frame{Kind: Unrecognized}
		}
		return Frame{Kind: Pair, Time: t, Value: v}
	}

	return Frame{Kind: Unrecognized}
}

// parseFloat accepts finite decimal numbers only.
func parseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
