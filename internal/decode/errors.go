package decode

import (
	"fmt"
	"strings"
)

// DecodeError reports structured text that could not be parsed at all,
// even after the single repair pass. It carries the original parse error.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to parse structured output: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ValidationError reports text that parsed but does not satisfy the target
// schema: required fields missing, or fields of the wrong type.
type ValidationError struct {
	Schema string   // schema name, e.g. "proposal" or "diagnosis"
	Fields []string // offending field names
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s validation failed for field(s): %s", e.Schema, strings.Join(e.Fields, ", "))
}
