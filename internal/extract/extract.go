// Package extract resolves each tagging's fragment into the text it covers
// and puts the results in report order.
package extract

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"

	"tagquery/internal/fragment"
	"tagquery/internal/logging"
	"tagquery/internal/store"

	"go.uber.org/zap"
)

// ErrOutOfRange is returned (wrapped) when a span does not fit its content.
var ErrOutOfRange = errors.New("fragment out of range")

// MalformedPolicy decides what happens to rows whose fragment cannot be parsed.
type MalformedPolicy string

const (
	AbortOnMalformed MalformedPolicy = "abort" // fail the whole run
	SkipMalformed    MalformedPolicy = "skip"  // drop the row and warn
)

// RangePolicy decides what happens to spans that fall outside the content.
type RangePolicy string

const (
	ErrorOnOutOfRange RangePolicy = "error" // fail the whole run
	ClampOutOfRange   RangePolicy = "clamp" // truncate to the content, possibly to ""
)

// Policy bundles the per-row failure policies.
type Policy struct {
	OnMalformed  MalformedPolicy
	OnOutOfRange RangePolicy
}

// DefaultPolicy aborts on malformed fragments and rejects out-of-range spans.
func DefaultPolicy() Policy {
	return Policy{OnMalformed: AbortOnMalformed, OnOutOfRange: ErrorOnOutOfRange}
}

// Validate checks that both policies hold known values.
func (p Policy) Validate() error {
	switch p.OnMalformed {
	case AbortOnMalformed, SkipMalformed:
	default:
		return fmt.Errorf("unknown malformed-fragment policy %q", p.OnMalformed)
	}
	switch p.OnOutOfRange {
	case ErrorOnOutOfRange, ClampOutOfRange:
	default:
		return fmt.Errorf("unknown out-of-range policy %q", p.OnOutOfRange)
	}
	return nil
}

// Row is one report line. StartX and EndX are kept for ordering only.
type Row struct {
	Source   string
	Node     string
	Text     string
	Fragment string
	StartX   int
	EndX     int
}

// Extractor turns query rows into sorted report rows.
type Extractor struct {
	policy Policy
	log    *zap.Logger
}

// New returns an extractor. A nil logger is allowed.
func New(policy Policy, log *zap.Logger) *Extractor {
	return &Extractor{policy: policy, log: logging.Named(log, logging.CategoryExtract)}
}

// Extract computes Text for every row and returns them sorted by source name
// then start offset. Under the default policy the first bad row fails the
// whole batch and nothing is returned.
func (e *Extractor) Extract(in []store.Row) ([]Row, error) {
	if err := e.policy.Validate(); err != nil {
		return nil, err
	}

	out := make([]Row, 0, len(in))
	skipped := 0
	for _, r := range in {
		row, err := e.extractOne(r)
		if err != nil {
			if errors.Is(err, fragment.ErrMalformed) && e.policy.OnMalformed == SkipMalformed {
				e.log.Warn("skipping tagging with malformed fragment",
					zap.String("source", r.Source), zap.String("node", r.Node), zap.Error(err))
				skipped++
				continue
			}
			return nil, err
		}
		out = append(out, row)
	}

	Sort(out)
	e.log.Debug("extracted taggings", zap.Int("rows", len(out)), zap.Int("skipped", skipped))
	return out, nil
}

func (e *Extractor) extractOne(r store.Row) (Row, error) {
	if r.NoFragment {
		return Row{}, fmt.Errorf("source %q node %q: %w: fragment is NULL", r.Source, r.Node, fragment.ErrMalformed)
	}
	span, err := fragment.Parse(r.Fragment)
	if err != nil {
		return Row{}, fmt.Errorf("source %q node %q: %w", r.Source, r.Node, err)
	}
	e.log.Debug("parsed fragment", zap.String("source", r.Source), zap.Stringer("span", span))

	text, err := Slice(r.Content, span, e.policy.OnOutOfRange)
	if err != nil {
		return Row{}, fmt.Errorf("source %q node %q fragment %q: %w", r.Source, r.Node, r.Fragment, err)
	}
	return Row{
		Source:   r.Source,
		Node:     r.Node,
		Text:     text,
		Fragment: r.Fragment,
		StartX:   span.StartX,
		EndX:     span.EndX,
	}, nil
}

// Slice returns content[StartX..EndX] inclusive, counted in code points.
// The Y range of the span is ignored.
func Slice(content string, span fragment.Span, policy RangePolicy) (string, error) {
	runes := []rune(content)
	n := len(runes)

	if policy == ClampOutOfRange {
		start := min(span.StartX, n)
		end := n
		if span.EndX < n {
			end = span.EndX + 1
		}
		if start >= end {
			return "", nil
		}
		return string(runes[start:end]), nil
	}

	if span.Len() == 0 {
		return "", fmt.Errorf("%w: start %d after end %d", ErrOutOfRange, span.StartX, span.EndX)
	}
	if span.EndX >= n {
		return "", fmt.Errorf("%w: end %d beyond content length %d", ErrOutOfRange, span.EndX, n)
	}
	return string(runes[span.StartX : span.EndX+1]), nil
}

// Sort orders rows by source name (plain byte order) then start offset.
// Rows that compare equal keep their relative order.
func Sort(rows []Row) {
	slices.SortStableFunc(rows, func(a, b Row) int {
		if c := strings.Compare(a.Source, b.Source); c != 0 {
			return c
		}
		return cmp.Compare(a.StartX, b.StartX)
	})
}
