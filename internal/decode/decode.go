// Package decode parses semi-structured YAML text produced by the
// Pattern Proposer and Diagnostic Reasoner into validated typed values.
//
// Model output is messy in predictable ways: a fenced code block around
// the document, and regex values wrapped in double quotes whose
// backslashes and brackets break YAML escaping. The parser strips one
// optional fence and, on a syntax error, applies exactly one repair pass
// that rewrites double-quoted regex values to single quotes before
// reparsing. Anything still unparseable surfaces as a DecodeError;
// parseable text that misses required fields surfaces as a
// ValidationError. Partial values are never returned.
package decode

import (
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/wang-zerui/acme-failure-diagnosis-system/internal/model"
)

// ParseProposal decodes a Pattern Proposer reply.
func ParseProposal(text string) (model.Proposal, error) {
	m, err := parseMap(text)
	if err != nil {
		return model.Proposal{}, err
	}

	f := newFieldSet(m)
	p := model.Proposal{
		IsPattern:   f.boolean("is_pattern"),
		Regex:       f.optionalString("regex"),
		Description: f.requiredString("description"),
	}
	if err := f.err("proposal"); err != nil {
		return model.Proposal{}, err
	}
	return p, nil
}

// ParseDiagnosis decodes a Diagnostic Reasoner reply.
func ParseDiagnosis(text string) (model.Diagnosis, error) {
	m, err := parseMap(text)
	if err != nil {
		return model.Diagnosis{}, err
	}

	f := newFieldSet(m)
	d := model.Diagnosis{
		RootCause:     f.requiredString("root_cause"),
		ErrorType:     f.requiredString("error_type"),
		Source:        model.Source(f.requiredString("source")),
		IsRecoverable: f.boolean("is_recoverable"),
		Mitigation:    f.requiredString("mitigation"),
		NewRuleRegex:  f.optionalString("new_rule_regex"),
	}
	if d.Source != "" && !d.Source.Valid() {
		f.invalid = append(f.invalid, "source")
	}
	if err := f.err("diagnosis"); err != nil {
		return model.Diagnosis{}, err
	}
	return d, nil
}

// parseMap strips an optional fenced-block wrapper and parses the text
// into a generic mapping, applying the single repair pass on syntax
// errors.
func parseMap(text string) (map[string]any, error) {
	text = stripFence(strings.TrimSpace(text))

	var m map[string]any
	err := yaml.Unmarshal([]byte(text), &m)
	if err != nil {
		// One repair pass: double-quoted regex values rewritten to
		// single quotes, then a single reparse.
		m = nil
		if rerr := yaml.Unmarshal([]byte(repairQuoting(text)), &m); rerr != nil {
			return nil, &DecodeError{Err: err}
		}
	}
	if m == nil {
		return nil, &DecodeError{Err: errEmptyDocument}
	}
	return m, nil
}

var errEmptyDocument = yamlError("document is empty")

type yamlError string

func (e yamlError) Error() string { return string(e) }

// stripFence removes a single surrounding markdown code fence, with or
// without an info string ("```yaml" or bare "```").
func stripFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	lines = lines[1:]
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}

// repairQuoting rewrites lines whose key names a regex field and whose
// value is double-quoted, switching the value to single quotes. Regex
// patterns routinely contain backslashes and brackets that break
// double-quoted YAML scalars.
func repairQuoting(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		key, value, ok := strings.Cut(line, ":")
		if !ok || !strings.Contains(key, "regex") {
			continue
		}
		trimmed := strings.TrimSpace(value)
		if len(trimmed) >= 2 && strings.HasPrefix(trimmed, `"`) && strings.HasSuffix(trimmed, `"`) {
			inner := trimmed[1 : len(trimmed)-1]
			lines[i] = key + ": '" + inner + "'"
		}
	}
	return strings.Join(lines, "\n")
}

// fieldSet accumulates missing/mistyped fields while values are pulled
// out of the generic mapping, so a single ValidationError can name all
// offenders at once.
type fieldSet struct {
	m       map[string]any
	missing []string
	invalid []string
}

func newFieldSet(m map[string]any) *fieldSet {
	return &fieldSet{m: m}
}

func (f *fieldSet) requiredString(key string) string {
	v, ok := f.m[key]
	if !ok || v == nil {
		f.missing = append(f.missing, key)
		return ""
	}
	s, ok := v.(string)
	if !ok {
		f.invalid = append(f.invalid, key)
		return ""
	}
	return s
}

func (f *fieldSet) optionalString(key string) string {
	v, ok := f.m[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		f.invalid = append(f.invalid, key)
		return ""
	}
	return s
}

func (f *fieldSet) boolean(key string) bool {
	v, ok := f.m[key]
	if !ok || v == nil {
		f.missing = append(f.missing, key)
		return false
	}
	b, ok := v.(bool)
	if !ok {
		f.invalid = append(f.invalid, key)
		return false
	}
	return b
}

func (f *fieldSet) err(schema string) error {
	fields := append(f.missing, f.invalid...)
	if len(fields) == 0 {
		return nil
	}
	return &ValidationError{Schema: schema, Fields: fields}
}
