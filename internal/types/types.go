// Package types defines the shared data model for the mend repair pipeline:
// artifacts, diagnostics, fix candidates, and the per-run healing records
// produced by the orchestrator.
package types

import (
	"fmt"
	"strings"
	"time"
)

// DiagnosticKind is the closed set of structural failure reasons a validation
// gate may report. Every consumer switches exhaustively over this enum; an
// unknown kind is an error, never a silent skip.
type DiagnosticKind string

const (
	DiagMissingCapability    DiagnosticKind = "missing_capability"
	DiagWrongSignature       DiagnosticKind = "wrong_signature"
	DiagWrongExecutionMode   DiagnosticKind = "wrong_execution_mode"
	DiagMissingBaseType      DiagnosticKind = "missing_base_type"
	DiagMissingImport        DiagnosticKind = "missing_import"
	DiagMalformedCall        DiagnosticKind = "malformed_call"
	DiagMissingDocumentation DiagnosticKind = "missing_documentation"
	DiagMalformedConstructor DiagnosticKind = "malformed_constructor"
)

// AllDiagnosticKinds lists every member of the closed enum, in a stable order.
var AllDiagnosticKinds = []DiagnosticKind{
	DiagMissingCapability,
	DiagWrongSignature,
	DiagWrongExecutionMode,
	DiagMissingBaseType,
	DiagMissingImport,
	DiagMalformedCall,
	DiagMissingDocumentation,
	DiagMalformedConstructor,
}

// Valid reports whether k is a member of the closed enum.
func (k DiagnosticKind) Valid() bool {
	switch k {
	case DiagMissingCapability, DiagWrongSignature, DiagWrongExecutionMode,
		DiagMissingBaseType, DiagMissingImport, DiagMalformedCall,
		DiagMissingDocumentation, DiagMalformedConstructor:
		return true
	}
	return false
}

// Severity of a diagnostic.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// PathStep is one descent step in a structural node path: the tree-sitter
// node type expected at that position and the index among the parent's named
// children.
type PathStep struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
}

// NodePath is a stable structural identity for a node: the sequence of steps
// from the root. Paths survive edits in sibling subtrees and intentionally
// fail to resolve when the spine they descend through was rewritten.
type NodePath []PathStep

// String renders the path in a compact, comparable form.
func (p NodePath) String() string {
	if len(p) == 0 {
		return "/"
	}
	var sb strings.Builder
	for _, s := range p {
		fmt.Fprintf(&sb, "/%s[%d]", s.Type, s.Index)
	}
	return sb.String()
}

// Equal reports whether two paths identify the same position.
func (p NodePath) Equal(o NodePath) bool {
	if len(p) != len(o) {
		return false
	}
	for i := range p {
		if p[i] != o[i] {
			return false
		}
	}
	return true
}

// HasPrefix reports whether o is a (possibly equal) prefix of p.
func (p NodePath) HasPrefix(o NodePath) bool {
	if len(o) > len(p) {
		return false
	}
	for i := range o {
		if p[i] != o[i] {
			return false
		}
	}
	return true
}

// Conflicts reports whether two paths target intersecting subtrees: one is a
// prefix of the other, or they are equal.
func (p NodePath) Conflicts(o NodePath) bool {
	return p.HasPrefix(o) || o.HasPrefix(p)
}

// Diagnostic is a structured reason an artifact failed validation.
// Symbol and Expected are optional gate-supplied context: the member or
// import name the diagnostic refers to, and the shape the gate wanted
// (a signature, an import path, a corrected call).
type Diagnostic struct {
	Kind     DiagnosticKind `json:"kind"`
	Location NodePath       `json:"location"`
	Symbol   string         `json:"symbol,omitempty"`
	Expected string         `json:"expected,omitempty"`
	Message  string         `json:"message"`
	Severity Severity       `json:"severity"`
}

// Key is the (kind, location) identity used in diagnostic signatures.
// Message text is deliberately excluded so rewording can never fake progress.
func (d Diagnostic) Key() string {
	return string(d.Kind) + "@" + d.Location.String()
}

// FixKind is the closed set of structural fix kinds, mirroring DiagnosticKind
// one-to-one.
type FixKind string

const (
	FixAddMissingMethod   FixKind = "ADD_MISSING_METHOD"
	FixRewriteSignature   FixKind = "REWRITE_SIGNATURE"
	FixSetExecutionMode   FixKind = "SET_EXECUTION_MODE"
	FixAddBaseType        FixKind = "ADD_BASE_TYPE"
	FixAddImport          FixKind = "ADD_IMPORT"
	FixRewriteCall        FixKind = "REWRITE_CALL"
	FixAddDocumentation   FixKind = "ADD_DOCUMENTATION"
	FixRewriteConstructor FixKind = "REWRITE_CONSTRUCTOR"
)

// FixKindFor maps a diagnostic kind to the fix kind that addresses it.
func FixKindFor(k DiagnosticKind) (FixKind, error) {
	switch k {
	case DiagMissingCapability:
		return FixAddMissingMethod, nil
	case DiagWrongSignature:
		return FixRewriteSignature, nil
	case DiagWrongExecutionMode:
		return FixSetExecutionMode, nil
	case DiagMissingBaseType:
		return FixAddBaseType, nil
	case DiagMissingImport:
		return FixAddImport, nil
	case DiagMalformedCall:
		return FixRewriteCall, nil
	case DiagMissingDocumentation:
		return FixAddDocumentation, nil
	case DiagMalformedConstructor:
		return FixRewriteConstructor, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownDiagnosticKind, k)
	}
}

// FixCandidate is a typed, located, confidence-scored proposed transformation
// addressing one diagnostic. Immutable once produced; construct only through
// NewFixCandidate.
type FixCandidate struct {
	Addresses   Diagnostic `json:"addresses"`
	Kind        FixKind    `json:"kind"`
	Location    NodePath   `json:"location"`
	Replacement string     `json:"replacement"`
	Confidence  float64    `json:"confidence"`
	// Footprint is the number of tree nodes in the target subtree; smaller
	// footprints win conflict ties.
	Footprint int `json:"footprint"`
}

// NewFixCandidate builds a candidate, enforcing the confidence range and the
// kind-mirroring contract at construction.
func NewFixCandidate(addresses Diagnostic, loc NodePath, replacement string, confidence float64, footprint int) (FixCandidate, error) {
	if confidence < 0 || confidence > 1 {
		return FixCandidate{}, fmt.Errorf("fix confidence %v outside [0,1]", confidence)
	}
	kind, err := FixKindFor(addresses.Kind)
	if err != nil {
		return FixCandidate{}, err
	}
	return FixCandidate{
		Addresses:   addresses,
		Kind:        kind,
		Location:    loc,
		Replacement: replacement,
		Confidence:  confidence,
		Footprint:   footprint,
	}, nil
}

// Artifact is a single code unit subject to automated repair. Owned
// exclusively by the orchestrator for the duration of a run; never shared
// across concurrently healed artifacts.
type Artifact struct {
	ID      string `json:"id"`
	Version uint64 `json:"version"`
	Source  []byte `json:"-"`
}

// Classification of one healing round for one artifact.
type Classification string

const (
	ClassProgress   Classification = "progress"
	ClassNoProgress Classification = "no_progress"
	ClassCycle      Classification = "cycle"
	// ClassPending marks an attempt whose re-validation has not happened yet
	// (the run ended before the next round could observe the outcome).
	ClassPending Classification = "pending"
)

// FinalStatus is the terminal (or in-flight) state of an artifact within a run.
type FinalStatus string

const (
	StatusPending   FinalStatus = "pending"
	StatusHealing   FinalStatus = "healing"
	StatusHealthy   FinalStatus = "healthy"
	StatusStuck     FinalStatus = "stuck"
	StatusExhausted FinalStatus = "exhausted"
)

// Terminal reports whether the status ends scheduling for the artifact.
func (s FinalStatus) Terminal() bool {
	return s == StatusHealthy || s == StatusStuck || s == StatusExhausted
}

// HealingAttempt records one fix round for one artifact. Append-only.
type HealingAttempt struct {
	Round            int            `json:"round"`
	VersionBefore    uint64         `json:"version_before"`
	VersionAfter     uint64         `json:"version_after"`
	FixesApplied     []FixCandidate `json:"fixes_applied"`
	DiagnosticsAfter []Diagnostic   `json:"diagnostics_after"`
	Classification   Classification `json:"classification"`
	// DiscardedStale counts candidates dropped this round because their
	// location no longer resolved against the current tree.
	DiscardedStale int `json:"discarded_stale"`
}

// HealingResult is the full per-artifact outcome of a run.
type HealingResult struct {
	ArtifactID           string           `json:"artifact_id"`
	FinalStatus          FinalStatus      `json:"final_status"`
	RoundsTaken          int              `json:"rounds_taken"`
	Attempts             []HealingAttempt `json:"attempts"`
	RemainingDiagnostics []Diagnostic     `json:"remaining_diagnostics"`
	// Unresolved lists candidates withheld by the confidence floor, so the
	// report can explain why the artifact did not heal.
	Unresolved []FixCandidate `json:"unresolved,omitempty"`
	// InfraFailure distinguishes a gate infrastructure failure from genuine
	// unfixable diagnostics.
	InfraFailure bool `json:"infra_failure,omitempty"`
}

// HealingReport aggregates a whole run.
type HealingReport struct {
	RunID          string          `json:"run_id"`
	OverallSuccess bool            `json:"overall_success"`
	Results        []HealingResult `json:"results"`
	Started        time.Time       `json:"started"`
	Finished       time.Time       `json:"finished"`
	RoundsRun      int             `json:"rounds_run"`
}
