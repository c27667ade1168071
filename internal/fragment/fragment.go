// Package fragment parses the compact span notation stored in Tagging.Fragment.
//
// A fragment looks like "X1:X2" or "X1:X2,Y1" or "X1:X2,Y1:Y2". Only the X
// range addresses characters in the source content; the Y range belongs to
// legacy matrix-style sources and is carried but never used for extraction.
package fragment

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// ErrMalformed is returned (wrapped) when a fragment does not match the grammar.
var ErrMalformed = errors.New("malformed fragment")

var spanPattern = regexp.MustCompile(`^(?P<startX>[0-9]+):(?P<endX>[0-9]+)(?:,(?P<startY>[0-9]+)(?::(?P<endY>[0-9]+))?)?$`)

// Span is a parsed fragment. Offsets are 0-based and inclusive on both ends.
type Span struct {
	StartX int
	EndX   int

	StartY  int
	EndY    int
	HasY    bool // StartY is set
	HasEndY bool // EndY is set
}

// Parse converts a fragment string into a Span.
func Parse(s string) (Span, error) {
	m := spanPattern.FindStringSubmatch(s)
	if m == nil {
		return Span{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}

	var span Span
	var err error
	if span.StartX, err = atoi(m[1], s); err != nil {
		return Span{}, err
	}
	if span.EndX, err = atoi(m[2], s); err != nil {
		return Span{}, err
	}
	if m[3] != "" {
		if span.StartY, err = atoi(m[3], s); err != nil {
			return Span{}, err
		}
		span.HasY = true
	}
	if m[4] != "" {
		if span.EndY, err = atoi(m[4], s); err != nil {
			return Span{}, err
		}
		span.HasEndY = true
	}
	return span, nil
}

// Len is the number of characters covered by the X range, or 0 when inverted.
func (s Span) Len() int {
	if s.EndX < s.StartX {
		return 0
	}
	return s.EndX - s.StartX + 1
}

// String renders the span back into fragment notation.
func (s Span) String() string {
	out := strconv.Itoa(s.StartX) + ":" + strconv.Itoa(s.EndX)
	if s.HasY {
		out += "," + strconv.Itoa(s.StartY)
		if s.HasEndY {
			out += ":" + strconv.Itoa(s.EndY)
		}
	}
	return out
}

func atoi(digits, fragment string) (int, error) {
	n, err := strconv.Atoi(digits)
	if err != nil {
		// Only reachable on overflow; the pattern guarantees digits.
		return 0, fmt.Errorf("%w: %q: offset out of range", ErrMalformed, fragment)
	}
	return n, nil
}
