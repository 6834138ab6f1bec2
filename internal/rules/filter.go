// Package rules owns the two durable rule collections: filter rules used
// by the log compressor and diagnosis rules used by the diagnosis router.
// Each collection is deduplicated, insertion-ordered, and persisted to its
// backing JSON file on every successful addition. A single pipeline
// instance is the only writer; no locking is needed under that assumption.
package rules

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
)

// FilterStore holds the ordered, unique set of noise-suppression regexes.
type FilterStore struct {
	path     string
	patterns []string
	compiled []*regexp.Regexp
	seen     map[string]struct{}
}

// LoadFilterStore loads filter rules from the given JSON file. A missing
// file yields an empty store; an unparseable file or an invalid persisted
// regex is an error.
func LoadFilterStore(path string) (*FilterStore, error) {
	s := &FilterStore{path: path, seen: make(map[string]struct{})}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read filter rules: %w", err)
	}

	var patterns []string
	if err := json.Unmarshal(data, &patterns); err != nil {
		return nil, fmt.Errorf("failed to parse filter rules %s: %w", path, err)
	}

	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid filter rule %q in %s: %w", p, path, err)
		}
		if _, dup := s.seen[p]; dup {
			continue
		}
		s.patterns = append(s.patterns, p)
		s.compiled = append(s.compiled, re)
		s.seen[p] = struct{}{}
	}
	return s, nil
}

// Add inserts a new filter rule and persists the collection. It returns
// false without persisting when the pattern is already present.
func (s *FilterStore) Add(pattern string) (bool, error) {
	if pattern == "" {
		return false, nil
	}
	if _, dup := s.seen[pattern]; dup {
		return false, nil
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, fmt.Errorf("invalid filter rule %q: %w", pattern, err)
	}

	s.patterns = append(s.patterns, pattern)
	s.compiled = append(s.compiled, re)
	s.seen[pattern] = struct{}{}

	if err := s.persist(); err != nil {
		return false, err
	}
	return true, nil
}

// Patterns returns the rule patterns in insertion order.
func (s *FilterStore) Patterns() []string {
	out := make([]string, len(s.patterns))
	copy(out, s.patterns)
	return out
}

// Compiled returns the compiled rules in insertion order. The slice is
// shared; callers must not modify it.
func (s *FilterStore) Compiled() []*regexp.Regexp {
	return s.compiled
}

// Len reports the number of rules.
func (s *FilterStore) Len() int { return len(s.patterns) }

func (s *FilterStore) persist() error {
	data, err := json.MarshalIndent(s.patterns, "", "  ")
	if err != nil {
		return &PersistenceError{Path: s.path, Err: err}
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return &PersistenceError{Path: s.path, Err: err}
	}
	return nil
}
