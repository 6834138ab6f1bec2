package rules

import "fmt"

// PersistenceError reports a failed rule-file write. Persistence failures
// are not absorbed anywhere in the pipeline; operators must keep the
// backing storage writable.
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to persist rules to %s: %v", e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
