package decode

import (
	"errors"
	"strings"
	"testing"

	"github.com/wang-zerui/acme-failure-diagnosis-system/internal/model"
)

// TestParseProposal_Plain decodes a well-formed proposal.
func TestParseProposal_Plain(t *testing.T) {
	text := `is_pattern: true
regex: '\[METRIC\] step=\d+'
description: "Training metric log"`

	p, err := ParseProposal(text)
	if err != nil {
		t.Fatalf("failed to parse proposal: %v", err)
	}
	if !p.IsPattern {
		t.Errorf("expected is_pattern true")
	}
	if p.Regex != `\[METRIC\] step=\d+` {
		t.Errorf("unexpected regex: %q", p.Regex)
	}
}

// TestParseProposal_FencedBlock checks that one fenced-block wrapper is
// stripped, with or without an info string.
func TestParseProposal_FencedBlock(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{
			name: "yaml info string",
			text: "```yaml\nis_pattern: true\nregex: 'abc'\ndescription: \"d\"\n```",
		},
		{
			name: "bare fence",
			text: "```\nis_pattern: true\nregex: 'abc'\ndescription: \"d\"\n```",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParseProposal(tt.text)
			if err != nil {
				t.Fatalf("failed to parse: %v", err)
			}
			if p.Regex != "abc" {
				t.Errorf("unexpected regex: %q", p.Regex)
			}
		})
	}
}

// TestParseProposal_RepairPass checks that a double-quoted regex value
// whose backslashes break YAML is repaired by the single rewrite pass.
func TestParseProposal_RepairPass(t *testing.T) {
	// "\d" and "\[" are invalid escapes inside double-quoted YAML.
	text := `is_pattern: true
regex: "\[METRIC\] step=\d+"
description: "Training metric log"`

	p, err := ParseProposal(text)
	if err != nil {
		t.Fatalf("expected repair pass to fix quoting, got: %v", err)
	}
	if p.Regex != `\[METRIC\] step=\d+` {
		t.Errorf("unexpected regex after repair: %q", p.Regex)
	}
}

// TestParseProposal_NullRegex checks that a null regex decodes to the
// empty string rather than failing.
func TestParseProposal_NullRegex(t *testing.T) {
	text := `is_pattern: false
regex: null
description: "unique line"`

	p, err := ParseProposal(text)
	if err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if p.IsPattern || p.Regex != "" {
		t.Errorf("expected non-pattern with empty regex, got %+v", p)
	}
}

// TestParseProposal_DecodeError checks that unrepairable text yields a
// typed DecodeError carrying the original parse failure.
func TestParseProposal_DecodeError(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"not yaml at all", "{{{:::"},
		{"empty document", ""},
		{"scalar document", "just some prose with no mapping structure: : :"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseProposal(tt.text)
			var derr *DecodeError
			if !errors.As(err, &derr) {
				t.Fatalf("expected DecodeError, got %T: %v", err, err)
			}
		})
	}
}

// TestParseProposal_ValidationError checks that missing required fields
// surface a ValidationError naming them.
func TestParseProposal_ValidationError(t *testing.T) {
	text := `regex: 'abc'`

	_, err := ParseProposal(text)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %T: %v", err, err)
	}
	joined := strings.Join(verr.Fields, ",")
	if !strings.Contains(joined, "is_pattern") || !strings.Contains(joined, "description") {
		t.Errorf("expected missing fields named, got %v", verr.Fields)
	}
}

// TestParseDiagnosis_Complete decodes a full diagnosis including the
// optional new rule regex.
func TestParseDiagnosis_Complete(t *testing.T) {
	text := `root_cause: "NVLink link failure on node A"
error_type: "NVLinkError"
source: infrastructure_failure
is_recoverable: true
mitigation: "cordon the node and restart the job"
new_rule_regex: 'NVLink.*failure'`

	d, err := ParseDiagnosis(text)
	if err != nil {
		t.Fatalf("failed to parse diagnosis: %v", err)
	}
	if d.ErrorType != "NVLinkError" {
		t.Errorf("unexpected error type: %q", d.ErrorType)
	}
	if d.Source != model.SourceInfrastructure {
		t.Errorf("unexpected source: %q", d.Source)
	}
	if !d.IsRecoverable {
		t.Errorf("expected recoverable")
	}
	if d.NewRuleRegex != "NVLink.*failure" {
		t.Errorf("unexpected new rule regex: %q", d.NewRuleRegex)
	}
}

// TestParseDiagnosis_InvalidSource checks the source enum is enforced.
func TestParseDiagnosis_InvalidSource(t *testing.T) {
	text := `root_cause: "x"
error_type: "OOMError"
source: cosmic_rays
is_recoverable: false
mitigation: "y"
new_rule_regex: null`

	_, err := ParseDiagnosis(text)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %T: %v", err, err)
	}
	if len(verr.Fields) != 1 || verr.Fields[0] != "source" {
		t.Errorf("expected source named as offending field, got %v", verr.Fields)
	}
}

// TestParseDiagnosis_MistypedField checks that a wrongly typed field is
// reported, not coerced.
func TestParseDiagnosis_MistypedField(t *testing.T) {
	text := `root_cause: "x"
error_type: "OOMError"
source: unknown
is_recoverable: "yes please"
mitigation: "y"`

	_, err := ParseDiagnosis(text)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %T: %v", err, err)
	}
	if len(verr.Fields) != 1 || verr.Fields[0] != "is_recoverable" {
		t.Errorf("expected is_recoverable named, got %v", verr.Fields)
	}
}

// TestRepairQuoting_OnlyRegexKeys checks the repair pass leaves
// non-regex lines alone.
func TestRepairQuoting_OnlyRegexKeys(t *testing.T) {
	in := `description: "keep \"this\" as is"
new_rule_regex: "\d+"`
	out := repairQuoting(in)

	if !strings.Contains(out, `description: "keep \"this\" as is"`) {
		t.Errorf("description line was modified: %s", out)
	}
	if !strings.Contains(out, `new_rule_regex: '\d+'`) {
		t.Errorf("regex line was not repaired: %s", out)
	}
}
