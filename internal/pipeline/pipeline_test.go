package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/wang-zerui/acme-failure-diagnosis-system/internal/compress"
	"github.com/wang-zerui/acme-failure-diagnosis-system/internal/diagnosis"
	"github.com/wang-zerui/acme-failure-diagnosis-system/internal/knowledge"
	"github.com/wang-zerui/acme-failure-diagnosis-system/internal/learner"
	"github.com/wang-zerui/acme-failure-diagnosis-system/internal/model"
	"github.com/wang-zerui/acme-failure-diagnosis-system/internal/recovery"
	"github.com/wang-zerui/acme-failure-diagnosis-system/internal/rules"
	"github.com/wang-zerui/acme-failure-diagnosis-system/internal/source"
)

type stubProposer struct{ reply string }

func (s *stubProposer) ProposePattern(ctx context.Context, line string) (string, error) {
	return s.reply, nil
}

type stubReasoner struct {
	reply string
	calls int
}

func (s *stubReasoner) Diagnose(ctx context.Context, retrieved, signature string) (string, error) {
	s.calls++
	return s.reply, nil
}

type stubRetriever struct{}

func (s *stubRetriever) Retrieve(ctx context.Context, query string) ([]knowledge.Scored, error) {
	return nil, nil
}

type stubEmbedder struct{}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0}, nil
}

type recordingExecutor struct {
	actions []recovery.Action
}

func (r *recordingExecutor) Execute(ctx context.Context, action recovery.Action, d model.Diagnosis) error {
	r.actions = append(r.actions, action)
	return nil
}

type fixture struct {
	pipe     *Pipeline
	filters  *rules.FilterStore
	diag     *rules.DiagnosisStore
	executor *recordingExecutor
	reasoner *stubReasoner
	out      *bytes.Buffer
}

func newFixture(t *testing.T, proposerReply, reasonerReply string) *fixture {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	filters, err := rules.LoadFilterStore(filepath.Join(dir, "filter_rules.json"))
	if err != nil {
		t.Fatalf("failed to create filter store: %v", err)
	}
	diag, err := rules.LoadDiagnosisStore(filepath.Join(dir, "diagnosis_rules.json"))
	if err != nil {
		t.Fatalf("failed to create diagnosis store: %v", err)
	}
	corpus, err := knowledge.NewSQLiteStore(ctx, ":memory:")
	if err != nil {
		t.Fatalf("failed to create corpus: %v", err)
	}
	t.Cleanup(func() { corpus.Close() })
	if err := corpus.InitSchema(ctx); err != nil {
		t.Fatalf("failed to init corpus: %v", err)
	}

	log := zap.NewNop()
	reasoner := &stubReasoner{reply: reasonerReply}
	router := diagnosis.New(diag, &stubRetriever{}, reasoner, corpus, &stubEmbedder{}, "test-run", log)
	learn := learner.New(&stubProposer{reply: proposerReply}, filters, 3, log)
	executor := &recordingExecutor{}
	out := &bytes.Buffer{}

	return &fixture{
		pipe:     New(compress.New(filters), learn, router, executor, "test-run", out, log),
		filters:  filters,
		diag:     diag,
		executor: executor,
		reasoner: reasoner,
		out:      out,
	}
}

func writeLog(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "job.log")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("failed to write log: %v", err)
	}
	return path
}

const metricProposalYAML = `is_pattern: true
regex: '\[METRIC\] step=\d+'
description: "Training metric log"`

const lossSpikeDiagnosisYAML = `root_cause: "loss spiked to nan after corrupt batch"
error_type: "LossSpike"
source: user_mistake
is_recoverable: true
mitigation: "roll back and skip the batch"
new_rule_regex: 'loss=nan'`

// TestRun_CleanLogFinishesWithoutFailure tests a log with no error
// markers completes with no diagnosis and learns a filter rule along the
// way.
func TestRun_CleanLogFinishesWithoutFailure(t *testing.T) {
	f := newFixture(t, metricProposalYAML, lossSpikeDiagnosisYAML)
	path := writeLog(t,
		"[METRIC] step=1 loss=2.5",
		"[METRIC] step=2 loss=2.4",
		"[INIT] system initialization complete",
	)

	src := source.NewReader(path, 2, false, zap.NewNop())
	report, err := f.pipe.Run(context.Background(), src)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if report.FailureDetected {
		t.Errorf("no failure expected")
	}
	if report.Chunks != 2 {
		t.Errorf("expected 2 chunks, got %d", report.Chunks)
	}
	if f.filters.Len() == 0 {
		t.Errorf("expected a learned filter rule")
	}
	if f.reasoner.calls != 0 {
		t.Errorf("reasoner must not run without a failure")
	}
	if !strings.Contains(f.out.String(), "finished without unrecoverable errors") {
		t.Errorf("missing completion notice in output:\n%s", f.out.String())
	}
}

// TestRun_FailureHaltsAndDispatchesRecovery tests the full path: the
// first error chunk halts consumption, diagnosis escalates, and the
// recoverable result dispatches the rollback action.
func TestRun_FailureHaltsAndDispatchesRecovery(t *testing.T) {
	f := newFixture(t, metricProposalYAML, lossSpikeDiagnosisYAML)
	path := writeLog(t,
		"[METRIC] step=1 loss=2.5",
		"[METRIC] step=2 loss=nan",
		"ERROR gradient overflow detected",
		"[METRIC] step=3 loss=nan", // never reached: failure halts the stream
	)

	src := source.NewReader(path, 3, false, zap.NewNop())
	report, err := f.pipe.Run(context.Background(), src)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !report.FailureDetected {
		t.Fatalf("expected failure detection")
	}
	if report.Chunks != 1 {
		t.Errorf("expected halt after the first chunk, processed %d", report.Chunks)
	}
	if report.Diagnosis == nil || report.Diagnosis.ErrorType != "LossSpike" {
		t.Fatalf("unexpected diagnosis: %+v", report.Diagnosis)
	}
	if !report.Dispatched || report.Action != recovery.ActionRollbackCheckpoint {
		t.Errorf("expected rollback dispatch, got %+v", report)
	}
	if len(f.executor.actions) != 1 || f.executor.actions[0] != recovery.ActionRollbackCheckpoint {
		t.Errorf("executor did not receive the rollback action: %v", f.executor.actions)
	}

	// Continuous learning: the proposed rule is now in the fast path.
	if !f.diag.Has("loss=nan") {
		t.Errorf("expected learned diagnosis rule")
	}

	out := f.out.String()
	if !strings.Contains(out, "FINAL DIAGNOSIS") || !strings.Contains(out, "LossSpike") {
		t.Errorf("missing diagnosis report in output:\n%s", out)
	}
}

// TestRun_RuleMatchedFailureSkipsEscalation tests a diagnosis rule
// resolves the failure without any reasoner call.
func TestRun_RuleMatchedFailureSkipsEscalation(t *testing.T) {
	f := newFixture(t, metricProposalYAML, lossSpikeDiagnosisYAML)
	if _, err := f.diag.Add("CUDA out of memory", model.Diagnosis{
		RootCause: "known OOM", ErrorType: "OOMError",
		Source: model.SourceUserMistake, IsRecoverable: false,
		Mitigation: "reduce batch size",
	}); err != nil {
		t.Fatalf("failed to seed rule: %v", err)
	}

	path := writeLog(t, "ERROR CUDA out of memory at step 42")
	src := source.NewReader(path, 5, false, zap.NewNop())
	report, err := f.pipe.Run(context.Background(), src)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if f.reasoner.calls != 0 {
		t.Errorf("expected rule match, reasoner ran %d times", f.reasoner.calls)
	}
	if report.Dispatched {
		t.Errorf("non-recoverable diagnosis must not dispatch recovery")
	}
	if !strings.Contains(f.out.String(), "manual recovery required") {
		t.Errorf("missing manual recovery notice:\n%s", f.out.String())
	}
}

// TestRun_SignatureAggregatesAcrossChunks tests the failure signature
// carries candidate lines from earlier chunks, not just the failing one.
func TestRun_SignatureAggregatesAcrossChunks(t *testing.T) {
	f := newFixture(t, metricProposalYAML, lossSpikeDiagnosisYAML)
	// The "loss=nan" marker appears two chunks before the error; the
	// seeded rule only matches if the signature aggregates.
	if _, err := f.diag.Add(`loss=nan.*overflow`, model.Diagnosis{
		RootCause: "nan loss then overflow", ErrorType: "LossSpike",
		Source: model.SourceUserMistake, IsRecoverable: false,
		Mitigation: "skip batch",
	}); err != nil {
		t.Fatalf("failed to seed rule: %v", err)
	}

	path := writeLog(t,
		"unrecognized warmup line loss=nan",
		"another unrecognized line",
		"ERROR gradient overflow detected",
	)
	src := source.NewReader(path, 1, false, zap.NewNop())
	report, err := f.pipe.Run(context.Background(), src)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if f.reasoner.calls != 0 {
		t.Errorf("aggregated signature should have matched the seeded rule")
	}
	if report.Diagnosis == nil || report.Diagnosis.ErrorType != "LossSpike" {
		t.Errorf("unexpected diagnosis: %+v", report.Diagnosis)
	}
}

// TestRun_LearnedRuleSuppressesLaterChunks tests the feedback loop inside
// one run: a rule learned from chunk 1 suppresses matching lines in later
// chunks.
func TestRun_LearnedRuleSuppressesLaterChunks(t *testing.T) {
	f := newFixture(t, metricProposalYAML, lossSpikeDiagnosisYAML)
	path := writeLog(t,
		"[METRIC] step=1 loss=2.5",
		"[METRIC] step=2 loss=2.4",
		"[METRIC] step=3 loss=2.3",
		"[METRIC] step=4 loss=2.2",
	)

	src := source.NewReader(path, 2, false, zap.NewNop())
	report, err := f.pipe.Run(context.Background(), src)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if report.FailureDetected {
		t.Fatalf("no failure expected")
	}
	if !strings.Contains(f.out.String(), fmt.Sprintf("chunk %d: no issues detected", 2)) {
		t.Errorf("expected chunk 2 to be fully suppressed by the learned rule:\n%s", f.out.String())
	}
}
