package planner

import "errors"

// ErrValidation mirrors workflow.ErrValidation. Kept as a distinct
// sentinel in this package (rather than importing package workflow) to
// avoid a dependency cycle: workflow.PlannerStepRecord embeds planner
// types, so planner must not import workflow.
var ErrValidation = errors.New("validation error")
