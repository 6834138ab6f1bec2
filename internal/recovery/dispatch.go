// Package recovery maps a diagnosis to an intended recovery action. The
// dispatcher selects and reports the action; executing the real
// infrastructure mutation belongs to an external executor.
package recovery

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/wang-zerui/acme-failure-diagnosis-system/internal/model"
)

// Action is an intended recovery measure.
type Action int

const (
	// ActionManualRequired means no automatic recovery procedure is
	// defined for the error type; operators must step in.
	ActionManualRequired Action = iota
	// ActionRollbackCheckpoint rolls the job back to an earlier healthy
	// checkpoint and skips the offending data batches.
	ActionRollbackCheckpoint
	// ActionCordonNode cordons off the faulty node identified in the
	// diagnosis.
	ActionCordonNode
)

// String returns a short operator-facing name for the action.
func (a Action) String() string {
	switch a {
	case ActionRollbackCheckpoint:
		return "rollback-to-checkpoint-and-skip-batch"
	case ActionCordonNode:
		return "cordon-faulty-node"
	}
	return "manual-required"
}

// Dispatch selects the recovery action for a diagnosis by substring match
// against the error type, checked in fixed priority order.
func Dispatch(d model.Diagnosis) Action {
	switch {
	case strings.Contains(d.ErrorType, "LossSpike"):
		return ActionRollbackCheckpoint
	case strings.Contains(d.ErrorType, "NVLinkError"), strings.Contains(d.ErrorType, "NCCL"):
		return ActionCordonNode
	}
	return ActionManualRequired
}

// Executor performs the selected recovery action.
type Executor interface {
	Execute(ctx context.Context, action Action, d model.Diagnosis) error
}

// SimulatedExecutor logs the intended action without touching any
// infrastructure.
type SimulatedExecutor struct {
	log *zap.Logger
}

// NewSimulatedExecutor creates an executor that only logs intent.
func NewSimulatedExecutor(log *zap.Logger) *SimulatedExecutor {
	return &SimulatedExecutor{log: log.Named("recovery")}
}

// Execute logs what a real executor would do for the action.
func (e *SimulatedExecutor) Execute(_ context.Context, action Action, d model.Diagnosis) error {
	e.log.Info("initiating recovery", zap.String("error_type", d.ErrorType), zap.String("action", action.String()))
	switch action {
	case ActionRollbackCheckpoint:
		e.log.Info("would roll back to an earlier healthy checkpoint and skip bad data batches")
	case ActionCordonNode:
		e.log.Info("would cordon off the faulty node identified in the diagnosis")
	default:
		e.log.Warn("no automatic recovery procedure defined for this error")
	}
	return nil
}

var _ Executor = (*SimulatedExecutor)(nil)
