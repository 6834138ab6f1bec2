// Package learner implements self-consistency filter-rule synthesis: the
// Pattern Proposer is asked about the same line several times and the
// majority regex among valid proposals becomes a new suppression rule.
package learner

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wang-zerui/acme-failure-diagnosis-system/internal/decode"
	"github.com/wang-zerui/acme-failure-diagnosis-system/internal/model"
	"github.com/wang-zerui/acme-failure-diagnosis-system/internal/rules"
)

// Proposer is the Pattern Proposer capability. It returns structured text
// answering whether the line follows a repetitive non-error pattern. The
// proposer is expected to vary call to call; that variability is what the
// vote averages out.
type Proposer interface {
	ProposePattern(ctx context.Context, line string) (string, error)
}

// Learner runs the self-consistency vote and feeds winning rules into the
// filter store.
type Learner struct {
	proposer Proposer
	filters  *rules.FilterStore
	n        int
	log      *zap.Logger
}

// New creates a Learner issuing n proposer calls per line.
func New(proposer Proposer, filters *rules.FilterStore, n int, log *zap.Logger) *Learner {
	return &Learner{proposer: proposer, filters: filters, n: n, log: log.Named("learner")}
}

// Learn analyzes one candidate non-error line. On consensus it adds the
// winning regex to the filter store (deduplicated, persisted immediately)
// and returns it. A round that produces no valid proposals, or whose
// capability calls fail even after the serial retry, yields an empty
// regex; only a persistence failure is returned as an error.
func (l *Learner) Learn(ctx context.Context, line string) (string, error) {
	proposals, ok := l.propose(ctx, line)
	if !ok {
		return "", nil
	}

	winner := vote(proposals)
	if winner == "" {
		l.log.Info("no consistent pattern found", zap.String("line", line))
		return "", nil
	}

	added, err := l.filters.Add(winner)
	if err != nil {
		var perr *rules.PersistenceError
		if errors.As(err, &perr) {
			return "", err
		}
		// The voted regex itself can be malformed; that aborts the
		// round like any other bad proposal.
		l.log.Warn("consensus regex rejected", zap.String("regex", winner), zap.Error(err))
		return "", nil
	}
	if added {
		l.log.Info("added new filter rule", zap.String("regex", winner))
	}
	return winner, nil
}

// propose issues the concurrent self-consistency batch. Voting requires
// the entire batch to succeed: on any failure all partial results are
// discarded and one serial call is retried. A second failure skips
// learning for this line.
func (l *Learner) propose(ctx context.Context, line string) ([]model.Proposal, bool) {
	results := make([]model.Proposal, l.n)

	g, gctx := errgroup.WithContext(ctx)
	for i := range l.n {
		g.Go(func() error {
			text, err := l.proposer.ProposePattern(gctx, line)
			if err != nil {
				return err
			}
			p, err := decode.ParseProposal(text)
			if err != nil {
				return err
			}
			results[i] = p
			return nil
		})
	}

	batchErr := g.Wait()
	if batchErr == nil {
		return results, true
	}
	l.log.Warn("proposer batch failed, retrying serially", zap.Error(batchErr))

	text, err := l.proposer.ProposePattern(ctx, line)
	if err != nil {
		l.log.Warn("serial proposer retry failed, skipping line", zap.Error(err))
		return nil, false
	}
	p, err := decode.ParseProposal(text)
	if err != nil {
		l.log.Warn("serial proposer reply undecodable, skipping line", zap.Error(err))
		return nil, false
	}
	return []model.Proposal{p}, true
}

// vote selects the most frequent regex among valid proposals. A proposal
// is valid iff is_pattern is true and the regex is non-empty; with no
// valid proposals there is no winner, since a lone signal is never
// trusted into a suppression rule. Ties break to the regex seen first
// among valid proposals. The tally is an ordered slice so first-seen-wins
// is structural rather than an artifact of map iteration.
func vote(proposals []model.Proposal) string {
	type tally struct {
		regex string
		count int
	}
	var tallies []tally

	for _, p := range proposals {
		if !p.IsPattern || p.Regex == "" {
			continue
		}
		found := false
		for i := range tallies {
			if tallies[i].regex == p.Regex {
				tallies[i].count++
				found = true
				break
			}
		}
		if !found {
			tallies = append(tallies, tally{regex: p.Regex, count: 1})
		}
	}

	winner := ""
	best := 0
	for _, t := range tallies {
		if t.count > best {
			winner = t.regex
			best = t.count
		}
	}
	return winner
}
