package llm

import "fmt"

// TransportError reports a failed capability call: the request never
// produced usable output (network failure, API error, empty reply).
type TransportError struct {
	Op  string // capability operation: "propose", "diagnose", "embed"
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("llm %s call failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
