package strategy

import (
	"errors"
	"fmt"
	"strings"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidWeightMapping = errors.New("category weights do not sum to 1")
	ErrDuplicateProtocol    = errors.New("protocol appears twice in one category")
	ErrEmptyCategoryWeights = errors.New("category has a target weight but no raw weight to distribute")
	ErrWeightSumMismatch    = errors.New("normalized category weights do not match target")
	ErrInvalidWeight        = errors.New("allocation weight must be finite and non-negative")
	ErrMissingProtocol      = errors.New("allocation has no protocol")
)

// WeightError carries the offending identity and numbers of a normalization failure.
// errors.Is matches it against its Kind.
type WeightError struct {
	Kind       error
	Category   string
	Chain      string
	ProtocolID string
	Actual     float64
	Expected   float64
}

func (e *WeightError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Category != "" {
		fmt.Fprintf(&b, ": category=%s", e.Category)
	}
	if e.Chain != "" {
		fmt.Fprintf(&b, " chain=%s", e.Chain)
	}
	if e.ProtocolID != "" {
		fmt.Fprintf(&b, " protocol=%s", e.ProtocolID)
	}
	fmt.Fprintf(&b, " actual=%g expected=%g", e.Actual, e.Expected)
	return b.String()
}

func (e *WeightError) Unwrap() error {
	return e.Kind
}
