// Package diagnosis implements the tiered diagnosis router: deterministic
// rule matching first, retrieval-augmented reasoning on a miss, and the
// continuous-learning feedback step that promotes reasoned diagnoses into
// the deterministic fast path.
package diagnosis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/wang-zerui/acme-failure-diagnosis-system/internal/decode"
	"github.com/wang-zerui/acme-failure-diagnosis-system/internal/knowledge"
	"github.com/wang-zerui/acme-failure-diagnosis-system/internal/model"
	"github.com/wang-zerui/acme-failure-diagnosis-system/internal/rules"
)

// Reasoner is the Diagnostic Reasoner capability: one structured-output
// completion per escalation. Diagnosis is not self-consistency voted;
// the payload is richer than a single regex and correctness matters more
// than noise-robustness at this tier.
type Reasoner interface {
	Diagnose(ctx context.Context, retrieved, signature string) (string, error)
}

// Retriever returns the prior failures most similar to a query signature.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]knowledge.Scored, error)
}

// Router routes one failure signature through rule matching and, on a
// miss, the retrieval-augmented escalation path.
type Router struct {
	rules     *rules.DiagnosisStore
	retriever Retriever
	reasoner  Reasoner
	corpus    knowledge.Store
	embedder  knowledge.Embedder
	runID     string
	log       *zap.Logger
}

// New creates a Router. corpus and embedder serve the continuous-learning
// step after a successful escalation.
func New(store *rules.DiagnosisStore, retriever Retriever, reasoner Reasoner, corpus knowledge.Store, embedder knowledge.Embedder, runID string, log *zap.Logger) *Router {
	return &Router{
		rules:     store,
		retriever: retriever,
		reasoner:  reasoner,
		corpus:    corpus,
		embedder:  embedder,
		runID:     runID,
		log:       log.Named("diagnosis"),
	}
}

// Diagnose produces a fully populated diagnosis for the signature. Rule
// matching wins when any stored rule matches; otherwise the signature is
// escalated. Escalation failures of any kind degrade to a fallback
// diagnosis rather than an error, so the caller always gets a usable
// result. The only returned errors are persistence failures in the
// continuous-learning step, which are deliberately not absorbed.
func (r *Router) Diagnose(ctx context.Context, signature string) (model.Diagnosis, error) {
	if d, ok := r.rules.Match(signature); ok {
		r.log.Info("diagnosis rule matched", zap.String("error_type", d.ErrorType))
		return d, nil
	}

	r.log.Info("no diagnosis rule matched, escalating")
	d, ok := r.escalate(ctx, signature)
	if !ok {
		return d, nil
	}

	if err := r.learn(ctx, signature, d); err != nil {
		return d, err
	}
	return d, nil
}

// escalate runs the retrieval-augmented reasoning path. The bool result
// reports whether the diagnosis came from the reasoner (true) or is the
// synthesized fallback (false); only reasoned diagnoses feed the learning
// step.
func (r *Router) escalate(ctx context.Context, signature string) (model.Diagnosis, bool) {
	retrieved, err := r.retriever.Retrieve(ctx, signature)
	if err != nil {
		r.log.Error("retrieval failed", zap.Error(err))
		return fallback(err), false
	}

	text, err := r.reasoner.Diagnose(ctx, renderContext(retrieved), signature)
	if err != nil {
		r.log.Error("reasoner call failed", zap.Error(err))
		return fallback(err), false
	}

	d, err := decode.ParseDiagnosis(text)
	if err != nil {
		r.log.Error("reasoner output undecodable", zap.Error(err))
		return fallback(err), false
	}

	r.log.Info("escalated diagnosis complete",
		zap.String("error_type", d.ErrorType),
		zap.String("source", string(d.Source)),
		zap.Bool("recoverable", d.IsRecoverable))
	return d, true
}

// learn runs the continuous-learning feedback step after a successful
// escalation: promote the proposed rule into the diagnosis rule set, and
// unconditionally record the failure in the knowledge corpus.
func (r *Router) learn(ctx context.Context, signature string, d model.Diagnosis) error {
	if d.NewRuleRegex != "" && !r.rules.Has(d.NewRuleRegex) {
		added, err := r.rules.Add(d.NewRuleRegex, d)
		if err != nil {
			var perr *rules.PersistenceError
			if errors.As(err, &perr) {
				return err
			}
			// A reasoner-proposed regex that does not compile is
			// dropped; the knowledge entry below still records the
			// failure.
			r.log.Warn("proposed diagnosis rule rejected", zap.String("regex", d.NewRuleRegex), zap.Error(err))
		}
		if added {
			r.log.Info("added new diagnosis rule", zap.String("regex", d.NewRuleRegex), zap.String("error_type", d.ErrorType))
		}
	}

	vector, err := r.embedder.Embed(ctx, signature)
	if err != nil {
		return fmt.Errorf("failed to embed signature for knowledge entry: %w", err)
	}

	entry := knowledge.Entry{
		FailureSignature: signature,
		ErrorType:        d.ErrorType,
		Source:           string(d.Source),
		RunID:            r.runID,
	}
	if err := r.corpus.Append(ctx, entry, vector); err != nil {
		return fmt.Errorf("failed to record failure in knowledge base: %w", err)
	}
	r.log.Info("failure recorded in knowledge base", zap.String("error_type", d.ErrorType))
	return nil
}

// fallback synthesizes the diagnosis returned when escalation fails for
// any reason. Every field is populated; the caller never sees a partial
// result or an error.
func fallback(cause error) model.Diagnosis {
	return model.Diagnosis{
		RootCause:     fmt.Sprintf("Failed to diagnose failure: %v", cause),
		ErrorType:     "UnknownError",
		Source:        model.SourceUnknown,
		IsRecoverable: false,
		Mitigation:    "manual investigation required",
	}
}

// renderContext formats retrieved entries for the reasoner prompt.
func renderContext(entries []knowledge.Scored) string {
	if len(entries) == 0 {
		return "No similar past failures on record."
	}

	var b strings.Builder
	for i, e := range entries {
		fmt.Fprintf(&b, "[%d] error_type=%s source=%s similarity=%.2f\n", i+1, e.ErrorType, e.Source, e.Similarity)
		b.WriteString(excerpt(e.FailureSignature, 500))
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func excerpt(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
