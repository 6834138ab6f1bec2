package rules

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"

	"github.com/wang-zerui/acme-failure-diagnosis-system/internal/model"
)

// DiagnosisRule pairs a failure-signature regex with the stored diagnosis
// payload returned when the regex matches.
type DiagnosisRule struct {
	Regex     string          `json:"regex"`
	Diagnosis model.Diagnosis `json:"diagnosis"`
}

// DiagnosisStore holds the ordered, unique collection of diagnosis rules.
// Insertion order determines match priority: the first rule whose regex
// matches a signature wins, with no overlap resolution beyond order.
type DiagnosisStore struct {
	path     string
	rules    []DiagnosisRule
	compiled []*regexp.Regexp
	seen     map[string]struct{}
}

// LoadDiagnosisStore loads diagnosis rules from the given JSON file. A
// missing file yields an empty store.
func LoadDiagnosisStore(path string) (*DiagnosisStore, error) {
	s := &DiagnosisStore{path: path, seen: make(map[string]struct{})}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read diagnosis rules: %w", err)
	}

	var loaded []DiagnosisRule
	if err := json.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("failed to parse diagnosis rules %s: %w", path, err)
	}

	for _, r := range loaded {
		re, err := compileSignatureRegex(r.Regex)
		if err != nil {
			return nil, fmt.Errorf("invalid diagnosis rule %q in %s: %w", r.Regex, path, err)
		}
		if _, dup := s.seen[r.Regex]; dup {
			continue
		}
		s.rules = append(s.rules, r)
		s.compiled = append(s.compiled, re)
		s.seen[r.Regex] = struct{}{}
	}
	return s, nil
}

// Add appends a new diagnosis rule and persists the collection. It
// returns false without persisting when a rule with the same regex is
// already present.
func (s *DiagnosisStore) Add(pattern string, d model.Diagnosis) (bool, error) {
	if pattern == "" {
		return false, nil
	}
	if _, dup := s.seen[pattern]; dup {
		return false, nil
	}

	re, err := compileSignatureRegex(pattern)
	if err != nil {
		return false, fmt.Errorf("invalid diagnosis rule %q: %w", pattern, err)
	}

	s.rules = append(s.rules, DiagnosisRule{Regex: pattern, Diagnosis: d})
	s.compiled = append(s.compiled, re)
	s.seen[pattern] = struct{}{}

	if err := s.persist(); err != nil {
		return false, err
	}
	return true, nil
}

// Match scans the rules in insertion order and returns the payload of the
// first regex that matches the signature.
func (s *DiagnosisStore) Match(signature string) (model.Diagnosis, bool) {
	for i, re := range s.compiled {
		if re.MatchString(signature) {
			return s.rules[i].Diagnosis, true
		}
	}
	return model.Diagnosis{}, false
}

// Has reports whether a rule with the given regex is present.
func (s *DiagnosisStore) Has(pattern string) bool {
	_, ok := s.seen[pattern]
	return ok
}

// Rules returns the rules in insertion order.
func (s *DiagnosisStore) Rules() []DiagnosisRule {
	out := make([]DiagnosisRule, len(s.rules))
	copy(out, s.rules)
	return out
}

// Len reports the number of rules.
func (s *DiagnosisStore) Len() int { return len(s.rules) }

func (s *DiagnosisStore) persist() error {
	data, err := json.MarshalIndent(s.rules, "", "    ")
	if err != nil {
		return &PersistenceError{Path: s.path, Err: err}
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return &PersistenceError{Path: s.path, Err: err}
	}
	return nil
}

// compileSignatureRegex compiles a diagnosis rule for matching against a
// full multi-line failure signature: dot matches newlines so a rule can
// span lines.
func compileSignatureRegex(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile("(?s)" + pattern)
}
