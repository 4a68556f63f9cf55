package analyze

import (
	"sort"

	"mend/internal/logging"
	"mend/internal/types"
)

// Selection partitions a candidate set into the fixes to apply this round,
// the fixes deferred because their target subtree overlaps an accepted fix,
// and the fixes withheld by the confidence floor.
type Selection struct {
	Apply      []types.FixCandidate
	Deferred   []types.FixCandidate
	Unresolved []types.FixCandidate
}

// Select orders candidates by descending confidence, breaking ties by smaller
// footprint and then by location string so the outcome is deterministic, and
// accepts greedily. A candidate at or below the confidence floor is withheld;
// a candidate whose location conflicts with an already-accepted one (equal
// paths or one a prefix of the other) is deferred to a later round, where the
// analyzer re-derives it against the transformed tree.
func Select(candidates []types.FixCandidate, confidenceFloor float64) Selection {
	ordered := make([]types.FixCandidate, len(candidates))
	copy(ordered, candidates)
	sortCandidates(ordered)

	var sel Selection
	for _, c := range ordered {
		if c.Confidence <= confidenceFloor {
			sel.Unresolved = append(sel.Unresolved, c)
			continue
		}
		conflicted := false
		for _, accepted := range sel.Apply {
			if c.Location.Conflicts(accepted.Location) {
				conflicted = true
				break
			}
		}
		if conflicted {
			sel.Deferred = append(sel.Deferred, c)
			continue
		}
		sel.Apply = append(sel.Apply, c)
	}

	logging.AnalyzeDebug("selection: %d apply, %d deferred, %d below floor %.2f",
		len(sel.Apply), len(sel.Deferred), len(sel.Unresolved), confidenceFloor)
	return sel
}

// sortCandidates is the single ordering used both for analyzer output and
// selection: confidence desc, footprint asc, location asc.
func sortCandidates(cs []types.FixCandidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].Confidence != cs[j].Confidence {
			return cs[i].Confidence > cs[j].Confidence
		}
		if cs[i].Footprint != cs[j].Footprint {
			return cs[i].Footprint < cs[j].Footprint
		}
		return cs[i].Location.String() < cs[j].Location.String()
	})
}
