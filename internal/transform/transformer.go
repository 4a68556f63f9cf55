// Package transform applies selected fix candidates to an artifact. Apply is
// a pure function of (artifact, fixes): it never mutates its input and a
// failed candidate can never leave a half-applied artifact behind.
package transform

import (
	"bytes"
	"context"
	"sort"

	"mend/internal/logging"
	"mend/internal/tree"
	"mend/internal/types"
)

// Result is the outcome of one transform round.
type Result struct {
	Artifact types.Artifact
	Applied  []types.FixCandidate
	// Failed maps a candidate's diagnostic key to the per-candidate error
	// (stale location or malformed replacement). Failures are attributed
	// individually; the surviving candidates still apply.
	Failed map[string]error
}

// Apply splices the fix candidates into the artifact and returns a new
// artifact with the version bumped. The input artifact is never modified.
//
// Each candidate is first validated in isolation: its location is resolved
// against the input tree, its replacement is spliced into a copy of the
// source, and the copy is reparsed. A candidate that fails resolution, or
// whose splice raises the parse error count, is recorded in Failed and
// dropped. Survivors are applied together, bottom-up by byte offset, and the
// combined result is checked the same way.
//
// An empty or entirely-failed fix set returns the input artifact unchanged,
// same version: a no-op round must not fake progress through a version bump.
func Apply(ctx context.Context, artifact types.Artifact, fixes []types.FixCandidate) (Result, error) {
	res := Result{Artifact: artifact, Failed: make(map[string]error)}
	if len(fixes) == 0 {
		return res, nil
	}

	t, err := tree.Parse(ctx, artifact.Source)
	if err != nil {
		return Result{}, err
	}
	defer t.Close()
	baseErrors := tree.ErrorCount(t.Root())

	type splice struct {
		fix         types.FixCandidate
		start, end  uint32
		replacement []byte
	}
	var survivors []splice

	for _, fix := range fixes {
		node, err := tree.Resolve(t, fix.Location)
		if err != nil {
			logging.TransformWarn("dropping %s: %v", fix.Kind, err)
			res.Failed[fix.Addresses.Key()] = err
			continue
		}
		sp := splice{
			fix:         fix,
			start:       node.StartByte(),
			end:         node.EndByte(),
			replacement: []byte(fix.Replacement),
		}
		if err := checkSplice(ctx, artifact.Source, sp.start, sp.end, sp.replacement, baseErrors); err != nil {
			appErr := &types.TransformApplicationError{Kind: fix.Kind, Reason: err.Error()}
			logging.TransformWarn("dropping %s at %s: %v", fix.Kind, fix.Location, appErr)
			res.Failed[fix.Addresses.Key()] = appErr
			continue
		}
		survivors = append(survivors, sp)
	}

	if len(survivors) == 0 {
		return res, nil
	}

	// Bottom-up by start byte so earlier splices cannot shift later targets.
	// Selection guarantees disjoint subtrees, so ranges never overlap.
	sort.Slice(survivors, func(i, j int) bool { return survivors[i].start > survivors[j].start })

	out := append([]byte(nil), artifact.Source...)
	for _, sp := range survivors {
		out = spliceBytes(out, sp.start, sp.end, sp.replacement)
	}

	// The combined result must be at least as well-formed as the input; a
	// clean pairwise splice can still collide when composed.
	combined, err := tree.Parse(ctx, out)
	if err != nil {
		return Result{}, err
	}
	defer combined.Close()
	if tree.ErrorCount(combined.Root()) > baseErrors {
		for _, sp := range survivors {
			res.Failed[sp.fix.Addresses.Key()] = &types.TransformApplicationError{
				Kind:   sp.fix.Kind,
				Reason: "combined application introduced parse errors",
			}
		}
		logging.TransformWarn("combined splice of %d fixes rejected for %s", len(survivors), artifact.ID)
		return res, nil
	}

	for i := len(survivors) - 1; i >= 0; i-- {
		res.Applied = append(res.Applied, survivors[i].fix)
	}
	res.Artifact = types.Artifact{
		ID:      artifact.ID,
		Version: artifact.Version + 1,
		Source:  out,
	}
	logging.Transform("%s: applied %d/%d fixes, v%d -> v%d",
		artifact.ID, len(res.Applied), len(fixes), artifact.Version, res.Artifact.Version)
	return res, nil
}

// checkSplice validates one candidate in isolation against the original
// source: splice, reparse, compare error counts.
func checkSplice(ctx context.Context, src []byte, start, end uint32, replacement []byte, baseErrors int) error {
	trial := spliceBytes(append([]byte(nil), src...), start, end, replacement)
	t, err := tree.Parse(ctx, trial)
	if err != nil {
		return err
	}
	defer t.Close()
	if tree.ErrorCount(t.Root()) > baseErrors {
		return errMalformedFragment
	}
	return nil
}

var errMalformedFragment = malformedFragmentError{}

type malformedFragmentError struct{}

func (malformedFragmentError) Error() string {
	return "replacement fragment introduces parse errors"
}

func spliceBytes(src []byte, start, end uint32, replacement []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(len(src) - int(end-start) + len(replacement))
	buf.Write(src[:start])
	buf.Write(replacement)
	buf.Write(src[end:])
	return buf.Bytes()
}
