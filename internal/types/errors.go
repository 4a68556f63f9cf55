package types

import (
	"errors"
	"fmt"
)

// ErrUnknownDiagnosticKind is returned when a value from outside the closed
// DiagnosticKind enum reaches the pipeline (a gate contract violation).
var ErrUnknownDiagnosticKind = errors.New("unknown diagnostic kind")

// StructuralLocationError reports that a fix's target no longer resolves in
// the current tree. Recoverable: the candidate is discarded and the round
// continues.
type StructuralLocationError struct {
	Path NodePath
}

func (e *StructuralLocationError) Error() string {
	return fmt.Sprintf("structural location %s no longer resolves", e.Path)
}

// TransformApplicationError reports a malformed or unapplicable replacement
// fragment. Recoverable: the candidate is discarded and logged.
type TransformApplicationError struct {
	Kind   FixKind
	Reason string
}

func (e *TransformApplicationError) Error() string {
	return fmt.Sprintf("cannot apply %s: %s", e.Kind, e.Reason)
}

// InfraError reports a validation gate failure, as opposed to a failed
// validation. Retried a bounded number of times; if it persists the artifact
// ends Exhausted with an explicit infra flag.
type InfraError struct {
	ArtifactID string
	Err        error
}

func (e *InfraError) Error() string {
	return fmt.Sprintf("validation gate infrastructure failure for %s: %v", e.ArtifactID, e.Err)
}

func (e *InfraError) Unwrap() error { return e.Err }

// ConvergenceInvariantViolation reports a broken internal invariant, such as
// a non-monotonic artifact version. Programmer-error class: it aborts the
// entire run, because it means the tracker itself is unreliable.
type ConvergenceInvariantViolation struct {
	ArtifactID string
	Reason     string
}

func (e *ConvergenceInvariantViolation) Error() string {
	return fmt.Sprintf("convergence invariant violated for %s: %s", e.ArtifactID, e.Reason)
}
