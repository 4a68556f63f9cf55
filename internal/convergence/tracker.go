// Package convergence classifies healing rounds and trips the circuit
// breaker that stops unproductive repair loops. One Tracker watches one
// artifact; the orchestrator owns one per artifact in flight.
package convergence

import (
	"fmt"
	"sort"
	"strings"

	"mend/internal/logging"
	"mend/internal/types"
)

// Observation is one validated state of the artifact: its version, its
// structural content signature, and the diagnostic set the gate reported.
type Observation struct {
	Version    uint64
	ContentSig string
	Diags      []types.Diagnostic
}

// Tracker keeps the observation history for one artifact and classifies each
// new observation against it. Not safe for concurrent use; each artifact's
// healing loop is single-threaded by construction.
type Tracker struct {
	artifactID     string
	stallThreshold int

	seen     map[string]int // content sig -> round first observed
	rounds   int
	last     *Observation
	lastDiag string
	stall    int
}

// NewTracker creates a tracker with the given stall threshold. The breaker
// trips when consecutive non-productive rounds exceed the threshold.
func NewTracker(artifactID string, stallThreshold int) *Tracker {
	return &Tracker{
		artifactID:     artifactID,
		stallThreshold: stallThreshold,
		seen:           make(map[string]int),
	}
}

// Observe records a validated state and classifies it against the history.
//
// The first observation is the baseline and always classifies as progress.
// After that, precedence is fixed: a content signature already seen in an
// earlier round is a cycle; an unchanged diagnostic signature is no-progress,
// even when the content is novel (rewriting code without moving a single
// diagnostic is churn, not progress); anything else - the diagnostic set
// shrank or changed - is progress.
//
// A cycle saturates the stall counter so the breaker trips immediately;
// no-progress increments it; progress resets it.
func (tr *Tracker) Observe(o Observation) (types.Classification, error) {
	if err := tr.checkInvariants(o); err != nil {
		return "", err
	}

	diagSig := diagSignature(o.Diags)
	defer func() {
		if _, ok := tr.seen[o.ContentSig]; !ok {
			tr.seen[o.ContentSig] = tr.rounds
		}
		tr.rounds++
		tr.last = &o
		tr.lastDiag = diagSig
	}()

	if tr.last == nil {
		logging.ConvergenceDebug("%s: baseline v%d, %d diagnostics", tr.artifactID, o.Version, len(o.Diags))
		return types.ClassProgress, nil
	}

	class := tr.classify(o, diagSig)
	switch class {
	case types.ClassCycle:
		tr.stall = tr.stallThreshold + 1
	case types.ClassNoProgress:
		tr.stall++
	case types.ClassProgress:
		tr.stall = 0
	}

	logging.Convergence("%s: round %d classified %s (stall %d/%d)",
		tr.artifactID, tr.rounds, class, tr.stall, tr.stallThreshold)
	return class, nil
}

func (tr *Tracker) classify(o Observation, diagSig string) types.Classification {
	if firstRound, cycled := tr.seen[o.ContentSig]; cycled && o.ContentSig != tr.last.ContentSig {
		logging.ConvergenceDebug("%s: content signature revisits round %d", tr.artifactID, firstRound)
		return types.ClassCycle
	}
	if diagSig == tr.lastDiag {
		return types.ClassNoProgress
	}
	if len(o.Diags) < len(tr.last.Diags) {
		return types.ClassProgress
	}
	// Diagnostic set changed without shrinking; novel content means the
	// loop is still exploring, identical content means it merely reworded.
	if o.ContentSig != tr.last.ContentSig {
		return types.ClassProgress
	}
	return types.ClassNoProgress
}

// checkInvariants enforces version monotonicity. A version decrease, or a
// version held steady while the content changed, means some component
// mutated an artifact outside the transformer and the whole run is suspect.
func (tr *Tracker) checkInvariants(o Observation) error {
	if tr.last == nil {
		return nil
	}
	if o.Version < tr.last.Version {
		return &types.ConvergenceInvariantViolation{
			ArtifactID: tr.artifactID,
			Reason:     fmt.Sprintf("version decreased: v%d after v%d", o.Version, tr.last.Version),
		}
	}
	if o.Version == tr.last.Version && o.ContentSig != tr.last.ContentSig {
		return &types.ConvergenceInvariantViolation{
			ArtifactID: tr.artifactID,
			Reason:     fmt.Sprintf("content changed without a version bump at v%d", o.Version),
		}
	}
	return nil
}

// IsStuck reports whether the circuit breaker has tripped.
func (tr *Tracker) IsStuck() bool {
	return tr.stall > tr.stallThreshold
}

// Rounds returns how many observations the tracker has recorded, the
// baseline included.
func (tr *Tracker) Rounds() int {
	return tr.rounds
}

// diagSignature is the order-independent identity of a diagnostic set:
// the sorted, deduplicated (kind, location) keys. Message wording and
// ordering differences can never fake progress.
func diagSignature(diags []types.Diagnostic) string {
	if len(diags) == 0 {
		return ""
	}
	keys := make([]string, 0, len(diags))
	seen := make(map[string]bool, len(diags))
	for _, d := range diags {
		k := d.Key()
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return strings.Join(keys, "|")
}
