package llm

import (
	"bytes"
	"fmt"
	"text/template"
)

// Format instructions shared by both capabilities. Single quotes keep
// regex backslashes and brackets out of YAML escaping trouble.
const yamlFormatInstructions = `Respond with valid YAML only. Use single quotes for string values
containing special characters such as regex patterns. Boolean values must
be lowercase true/false, null values must be null. Do not include markdown
code blocks or any text outside the YAML document.`

const proposerPromptFormat = `You are an expert log analysis agent. Your task is to analyze a given log
line and determine if it follows a common, repetitive pattern that is NOT
an error.
Examples of such patterns include:
- Training metric logs (e.g., "[METRIC] ... step=10, loss=2.3, ...")
- Initialization messages (e.g., "[INFO] ... System initialization ...")
- Debug or framework messages (e.g., "[DEBUG] ... Memory allocation check ...")

Analyze the following log line:
` + "`%s`" + `

Respond with the following fields:
is_pattern: true   # true if the line follows a common, repetitive pattern
regex: 'pattern_regex_here'   # regex matching this pattern, null if is_pattern is false
description: "what this pattern represents"

%s`

func buildProposerPrompt(line string) string {
	return fmt.Sprintf(proposerPromptFormat, line, yamlFormatInstructions)
}

var reasonerPromptTmpl = template.Must(template.New("reasonerPrompt").Parse(`
You are a Failure Diagnosis Agent for a large-model training platform.
Your goal is to analyze a compressed error log to determine the root cause
of a job failure. Use the provided context from similar past failures to
improve your diagnosis.

**Context from similar past failures:**
{{.Context}}

**Current compressed error log to diagnose:**
` + "```" + `
{{.Signature}}
` + "```" + `

**Your task:**
1. Identify the root cause of the failure.
2. Classify the error type (e.g., NVLinkError, LossSpike, OOMError).
3. Determine if it is a user_mistake (like a data issue), an
   infrastructure_failure (like a hardware problem), or unknown.
4. Provide a clear, actionable mitigation suggestion.
5. Indicate if the failure is likely automatically recoverable
   (e.g., rolling back for a loss spike).
6. Generate a new, concise regex that can detect this specific error in
   the future for rule-based matching, or null if no clear rule exists.

Respond with the following fields:
root_cause: "concise summary of the root cause"
error_type: "specific error category"
source: user_mistake   # or infrastructure_failure or unknown
is_recoverable: false
mitigation: "suggested action to resolve the issue"
new_rule_regex: 'error_regex_here'   # or null

{{.Format}}
`))

func buildReasonerPrompt(retrieved, signature string) (string, error) {
	data := struct {
		Context   string
		Signature string
		Format    string
	}{
		Context:   retrieved,
		Signature: signature,
		Format:    yamlFormatInstructions,
	}

	var buf bytes.Buffer
	if err := reasonerPromptTmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
