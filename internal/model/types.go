// Package model defines the shared value types that flow through the
// diagnosis pipeline: raw log lines, pattern proposals from the Pattern
// Proposer, and diagnosis results produced by rule matching or escalation.
package model

// Line is a single raw log line with its ordinal position inside the
// chunk it was read from. Lines are ephemeral; they live only as long as
// the chunk being processed.
type Line struct {
	Text    string
	Ordinal int
}

// Source classifies where a failure originated.
type Source string

const (
	SourceUserMistake    Source = "user_mistake"
	SourceInfrastructure Source = "infrastructure_failure"
	SourceUnknown        Source = "unknown"
)

// Valid reports whether s is one of the known source values.
func (s Source) Valid() bool {
	switch s {
	case SourceUserMistake, SourceInfrastructure, SourceUnknown:
		return true
	}
	return false
}

// Proposal is the Pattern Proposer's answer for a single log line:
// whether the line follows a repetitive non-error pattern, and if so a
// regex that matches it.
type Proposal struct {
	IsPattern   bool   `yaml:"is_pattern"`
	Regex       string `yaml:"regex"`
	Description string `yaml:"description"`
}

// Diagnosis is the fully populated result of a failure diagnosis. It is
// produced either from a matched diagnosis rule's stored payload or
// synthesized by the Diagnostic Reasoner; callers never see a partially
// filled value.
type Diagnosis struct {
	RootCause     string `json:"root_cause" yaml:"root_cause"`
	ErrorType     string `json:"error_type" yaml:"error_type"`
	Source        Source `json:"source" yaml:"source"`
	IsRecoverable bool   `json:"is_recoverable" yaml:"is_recoverable"`
	Mitigation    string `json:"mitigation" yaml:"mitigation"`
	NewRuleRegex  string `json:"new_rule_regex,omitempty" yaml:"new_rule_regex"`
}
