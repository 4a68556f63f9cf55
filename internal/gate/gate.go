// Package gate defines the validation gate contract and its subprocess
// implementation. The gate is the sole authority on artifact validity; the
// rest of the pipeline only ever sees its verdicts.
package gate

import (
	"context"
	"fmt"

	"mend/internal/types"
)

// Verdict is the gate's judgment of one artifact version. A passing verdict
// carries no diagnostics; a failing one carries at least one.
type Verdict struct {
	Passed      bool               `json:"passed"`
	Diagnostics []types.Diagnostic `json:"diagnostics,omitempty"`
}

// Gate validates an artifact. Implementations must be deterministic for a
// given artifact version and safe for concurrent calls on distinct artifacts.
//
// A non-nil error means the gate itself could not run (an infrastructure
// failure), never that the artifact is invalid: invalidity is a Verdict with
// Passed false.
type Gate interface {
	Validate(ctx context.Context, artifact types.Artifact) (Verdict, error)
}

// CheckVerdict enforces the gate contract on a received verdict: a failing
// verdict must explain itself, diagnostics must use known kinds, and a
// passing verdict must not carry error diagnostics.
func CheckVerdict(artifactID string, v Verdict) error {
	if !v.Passed && len(v.Diagnostics) == 0 {
		return &types.InfraError{
			ArtifactID: artifactID,
			Err:        fmt.Errorf("failing verdict carries no diagnostics"),
		}
	}
	for _, d := range v.Diagnostics {
		if !d.Kind.Valid() {
			return &types.InfraError{
				ArtifactID: artifactID,
				Err:        fmt.Errorf("%w: %q", types.ErrUnknownDiagnosticKind, d.Kind),
			}
		}
	}
	if v.Passed {
		for _, d := range v.Diagnostics {
			if d.Severity == types.SeverityError {
				return &types.InfraError{
					ArtifactID: artifactID,
					Err:        fmt.Errorf("passing verdict carries error diagnostic %s", d.Key()),
				}
			}
		}
	}
	return nil
}
