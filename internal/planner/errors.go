package planner

import (
	"fmt"

	"github.com/hanpama/fedgate/internal/plan"
)

// CodePlanningFailed is the extension code of planning errors.
const CodePlanningFailed = "QUERY_PLANNING_FAILED"

// PlanningError reports an operation the supergraph cannot satisfy.
//
// Errors derived from the schema alone are deterministic: planning the same
// operation against the same schema fails the same way, so the failure may be
// cached. Errors caused by the planning call itself (cancellation) are not.
type PlanningError struct {
	Message string
	Path    plan.Path
	Err     error

	transient bool
}

func (e *PlanningError) Error() string {
	if len(e.Path) > 0 {
		return fmt.Sprintf("planning failed at %s: %s", e.Path, e.Message)
	}
	return "planning failed: " + e.Message
}

func (e *PlanningError) Unwrap() error { return e.Err }

// Deterministic reports whether the failure depends only on the operation and
// the schema.
func (e *PlanningError) Deterministic() bool { return !e.transient }

func planningErrorf(path plan.Path, format string, args ...any) *PlanningError {
	return &PlanningError{Message: fmt.Sprintf(format, args...), Path: path}
}

func transientError(err error) *PlanningError {
	return &PlanningError{Message: err.Error(), Err: err, transient: true}
}
