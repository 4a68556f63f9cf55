package analyze

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mend/internal/types"
)

func mustCandidate(t *testing.T, kind types.DiagnosticKind, loc types.NodePath, confidence float64, footprint int) types.FixCandidate {
	t.Helper()
	c, err := types.NewFixCandidate(
		types.Diagnostic{Kind: kind, Location: loc, Severity: types.SeverityError},
		loc, "x", confidence, footprint)
	require.NoError(t, err)
	return c
}

func TestSelectWithholdsBelowFloor(t *testing.T) {
	declA := types.NodePath{{Type: "function_declaration", Index: 1}}
	declB := types.NodePath{{Type: "function_declaration", Index: 2}}

	high := mustCandidate(t, types.DiagMissingImport, declA, 0.95, 3)
	low := mustCandidate(t, types.DiagMalformedCall, declB, 0.4, 3)

	sel := Select([]types.FixCandidate{low, high}, 0.5)
	assert.Equal(t, []types.FixCandidate{high}, sel.Apply)
	assert.Equal(t, []types.FixCandidate{low}, sel.Unresolved)
	assert.Empty(t, sel.Deferred)
}

func TestSelectFloorIsExclusive(t *testing.T) {
	decl := types.NodePath{{Type: "function_declaration", Index: 1}}
	atFloor := mustCandidate(t, types.DiagMalformedCall, decl, 0.5, 3)

	sel := Select([]types.FixCandidate{atFloor}, 0.5)
	assert.Empty(t, sel.Apply, "confidence equal to the floor is withheld")
	assert.Len(t, sel.Unresolved, 1)

	sel = Select([]types.FixCandidate{atFloor}, 0.2)
	assert.Len(t, sel.Apply, 1, "a lower floor admits the same candidate")
}

func TestSelectDefersConflicts(t *testing.T) {
	decl := types.NodePath{{Type: "function_declaration", Index: 1}}
	inner := types.NodePath{{Type: "function_declaration", Index: 1}, {Type: "block", Index: 0}}
	sibling := types.NodePath{{Type: "function_declaration", Index: 2}}

	winner := mustCandidate(t, types.DiagWrongSignature, decl, 0.9, 9)
	nested := mustCandidate(t, types.DiagMalformedCall, inner, 0.85, 3)
	disjoint := mustCandidate(t, types.DiagMissingDocumentation, sibling, 0.9, 5)

	sel := Select([]types.FixCandidate{nested, winner, disjoint}, 0.5)

	assert.Len(t, sel.Apply, 2)
	assert.Contains(t, sel.Apply, winner)
	assert.Contains(t, sel.Apply, disjoint)
	assert.Equal(t, []types.FixCandidate{nested}, sel.Deferred,
		"a fix inside an accepted fix's subtree waits for the next round")
}

func TestSelectDeterministicOrder(t *testing.T) {
	declA := types.NodePath{{Type: "function_declaration", Index: 1}}
	declB := types.NodePath{{Type: "function_declaration", Index: 2}}

	big := mustCandidate(t, types.DiagWrongSignature, declB, 0.9, 20)
	small := mustCandidate(t, types.DiagMissingDocumentation, declA, 0.9, 5)

	sel := Select([]types.FixCandidate{big, small}, 0.5)
	require.Len(t, sel.Apply, 2)
	assert.Equal(t, small, sel.Apply[0], "equal confidence breaks ties by smaller footprint")
	assert.Equal(t, big, sel.Apply[1])
}
