// Package pipeline wires the compressor, learner, router, and dispatcher
// into the sequential processing loop: one chunk is fully compressed,
// learned from, and (on failure) diagnosed before the next is considered.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/wang-zerui/acme-failure-diagnosis-system/internal/compress"
	"github.com/wang-zerui/acme-failure-diagnosis-system/internal/diagnosis"
	"github.com/wang-zerui/acme-failure-diagnosis-system/internal/learner"
	"github.com/wang-zerui/acme-failure-diagnosis-system/internal/model"
	"github.com/wang-zerui/acme-failure-diagnosis-system/internal/recovery"
	"github.com/wang-zerui/acme-failure-diagnosis-system/internal/source"
)

// Pipeline is a single-writer processing instance over one log stream.
type Pipeline struct {
	compressor *compress.Compressor
	learner    *learner.Learner
	router     *diagnosis.Router
	executor   recovery.Executor
	runID      string
	out        io.Writer
	log        *zap.Logger
}

// New assembles a pipeline. out receives the operator-facing report.
func New(c *compress.Compressor, l *learner.Learner, r *diagnosis.Router, e recovery.Executor, runID string, out io.Writer, log *zap.Logger) *Pipeline {
	return &Pipeline{
		compressor: c,
		learner:    l,
		router:     r,
		executor:   e,
		runID:      runID,
		out:        out,
		log:        log.Named("pipeline"),
	}
}

// Report summarizes one pipeline run.
type Report struct {
	Chunks          int
	FailureDetected bool
	Diagnosis       *model.Diagnosis
	Action          recovery.Action
	Dispatched      bool
}

// Run consumes the log stream until it ends or a failure is detected.
// The failure signature aggregates every candidate line seen up to and
// including the first chunk carrying an error marker; that chunk halts
// stream consumption and triggers diagnosis.
func (p *Pipeline) Run(ctx context.Context, src *source.Reader) (*Report, error) {
	report := &Report{}
	var signatureLines []string
	var learnErr error

	p.log.Info("starting log processing", zap.String("run_id", p.runID))

	err := src.Stream(ctx, func(chunk []model.Line) (bool, error) {
		report.Chunks++
		suppressed, candidates := p.compressor.Compress(chunk)
		p.log.Info("chunk compressed",
			zap.Int("chunk", report.Chunks),
			zap.Int("suppressed", len(suppressed)),
			zap.Int("candidates", len(candidates)))

		if len(candidates) == 0 {
			fmt.Fprintf(p.out, "--- chunk %d: no issues detected ---\n", report.Chunks)
			return false, nil
		}

		var firstNonError string
		hasError := false
		for _, line := range candidates {
			signatureLines = append(signatureLines, line.Text)
			if compress.IsError(line.Text) {
				hasError = true
			} else if firstNonError == "" {
				firstNonError = line.Text
			}
		}

		// Learn a suppression rule from the first unmatched non-error
		// line. Learning failure is non-fatal unless the rule file
		// itself cannot be persisted.
		if firstNonError != "" {
			if _, err := p.learner.Learn(ctx, firstNonError); err != nil {
				learnErr = err
				return true, nil
			}
		}

		if hasError {
			report.FailureDetected = true
			fmt.Fprintf(p.out, "\n!!! failure detected in chunk %d !!!\n", report.Chunks)
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return report, err
	}
	if learnErr != nil {
		return report, learnErr
	}

	if !report.FailureDetected {
		fmt.Fprintln(p.out, "\n--- job log finished without unrecoverable errors ---")
		return report, nil
	}

	signature := strings.Join(signatureLines, "\n")
	d, err := p.router.Diagnose(ctx, signature)
	report.Diagnosis = &d
	p.printDiagnosis(d)
	if err != nil {
		return report, err
	}

	if d.IsRecoverable {
		report.Action = recovery.Dispatch(d)
		report.Dispatched = true
		if err := p.executor.Execute(ctx, report.Action, d); err != nil {
			return report, fmt.Errorf("recovery execution failed: %w", err)
		}
		fmt.Fprintf(p.out, "recovery simulation complete: %s\n", report.Action)
	} else {
		fmt.Fprintln(p.out, "manual recovery required; notifying operations team")
	}

	return report, nil
}

func (p *Pipeline) printDiagnosis(d model.Diagnosis) {
	fmt.Fprintln(p.out, "\n--- FINAL DIAGNOSIS ---")
	fmt.Fprintf(p.out, "  Root Cause: %s\n", d.RootCause)
	fmt.Fprintf(p.out, "  Error Type: %s\n", d.ErrorType)
	fmt.Fprintf(p.out, "  Source: %s\n", d.Source)
	fmt.Fprintf(p.out, "  Mitigation: %s\n", d.Mitigation)
	recoverable := "No"
	if d.IsRecoverable {
		recoverable = "Yes"
	}
	fmt.Fprintf(p.out, "  Auto-Recoverable: %s\n", recoverable)
	fmt.Fprintln(p.out, "-----------------------")
}
