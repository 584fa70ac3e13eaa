package fusion

import (
	"fmt"
	"sort"
	"strings"
)

// InvalidSignalError describes a signal entry that failed validation.
type InvalidSignalError struct {
	Index  int
	Source string
	Reason string
}

func (e *InvalidSignalError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("invalid signal at index %d: %s", e.Index, e.Reason)
	}
	return fmt.Sprintf("invalid signal %q at index %d: %s", e.Source, e.Index, e.Reason)
}

// InvalidBaselineError is returned for a negative or non-finite baseline.
type InvalidBaselineError struct {
	Baseline float64
}

func (e *InvalidBaselineError) Error() string {
	return fmt.Sprintf("invalid baseline %v: must be a finite number >= 0", e.Baseline)
}

// UpstreamUnavailableError is returned when no signal provider produced a result.
type UpstreamUnavailableError struct {
	Failures map[string]string
}

func (e *UpstreamUnavailableError) Error() string {
	if len(e.Failures) == 0 {
		return "upstream unavailable: no signal providers configured"
	}
	names := make([]string, 0, len(e.Failures))
	for name := range e.Failures {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+": "+e.Failures[name])
	}
	return "upstream unavailable: " + strings.Join(parts, "; ")
}
