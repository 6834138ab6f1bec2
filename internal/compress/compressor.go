// Package compress implements the streaming log compressor: it partitions
// each chunk of raw lines into suppressed noise and candidate lines that
// warrant learning or diagnosis.
package compress

import (
	"strings"

	"github.com/wang-zerui/acme-failure-diagnosis-system/internal/model"
	"github.com/wang-zerui/acme-failure-diagnosis-system/internal/rules"
)

// errorMarker is matched case-insensitively anywhere in a line. Lines
// carrying it are always candidates; error visibility takes precedence
// over noise suppression even when a filter rule would match.
const errorMarker = "error"

// Compressor partitions log chunks using the current filter-rule set. It
// has no state of its own and no side effects; output is a pure function
// of the rule set and the input chunk.
type Compressor struct {
	filters *rules.FilterStore
}

// New creates a Compressor over the given filter store.
func New(filters *rules.FilterStore) *Compressor {
	return &Compressor{filters: filters}
}

// IsError reports whether a line carries the error marker.
func IsError(line string) bool {
	return strings.Contains(strings.ToLower(line), errorMarker)
}

// Compress partitions a chunk. Candidates are the non-error lines no rule
// matched, followed by all error lines, preserving relative order within
// each group. Suppressed lines are rule-matched non-error lines plus
// whitespace-only lines.
func (c *Compressor) Compress(chunk []model.Line) (suppressed, candidates []model.Line) {
	var passed []model.Line
	var errorLines []model.Line

	for _, line := range chunk {
		if IsError(line.Text) {
			errorLines = append(errorLines, line)
			continue
		}
		if c.matchesAny(line.Text) {
			suppressed = append(suppressed, line)
			continue
		}
		passed = append(passed, line)
	}

	// Whitespace-only lines are noise regardless of rule outcome, even
	// after passing through the rule check above.
	for _, line := range passed {
		if strings.TrimSpace(line.Text) == "" {
			suppressed = append(suppressed, line)
			continue
		}
		candidates = append(candidates, line)
	}
	candidates = append(candidates, errorLines...)

	return suppressed, candidates
}

func (c *Compressor) matchesAny(line string) bool {
	for _, re := range c.filters.Compiled() {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}
