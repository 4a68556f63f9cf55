package transform

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mend/internal/tree"
	"mend/internal/types"
)

const jobSource = `package job

import "fmt"

func start() error {
	fmt.Println("starting")
	return nil
}

func stop() error {
	fmt.Println("stopping")
	return nil
}
`

func jobArtifact() types.Artifact {
	return types.Artifact{ID: "job.go", Version: 3, Source: []byte(jobSource)}
}

func memberPath(t *testing.T, source []byte, name string) types.NodePath {
	t.Helper()
	tr, err := tree.Parse(context.Background(), source)
	require.NoError(t, err)
	defer tr.Close()
	for _, m := range tree.Members(tr) {
		if m.Name == name {
			return m.Path
		}
	}
	t.Fatalf("member %q not found", name)
	return nil
}

func docFix(t *testing.T, artifact types.Artifact, name, replacement string) types.FixCandidate {
	t.Helper()
	loc := memberPath(t, artifact.Source, name)
	c, err := types.NewFixCandidate(
		types.Diagnostic{Kind: types.DiagMissingDocumentation, Location: loc, Symbol: name, Severity: types.SeverityError},
		loc, replacement, 0.9, 5)
	require.NoError(t, err)
	return c
}

func TestApplySingleFix(t *testing.T) {
	artifact := jobArtifact()
	fix := docFix(t, artifact, "start",
		"// start begins the job.\nfunc start() error {\n\tfmt.Println(\"starting\")\n\treturn nil\n}")

	res, err := Apply(context.Background(), artifact, []types.FixCandidate{fix})
	require.NoError(t, err)
	require.Empty(t, res.Failed)
	require.Len(t, res.Applied, 1)

	assert.Equal(t, artifact.Version+1, res.Artifact.Version)
	assert.Contains(t, string(res.Artifact.Source), "// start begins the job.")
	assert.Contains(t, string(res.Artifact.Source), "func stop() error", "untouched declarations survive")
}

func TestApplyIsPure(t *testing.T) {
	artifact := jobArtifact()
	before := string(artifact.Source)
	fix := docFix(t, artifact, "start", "// start begins the job.\nfunc start() error {\n\treturn nil\n}")

	_, err := Apply(context.Background(), artifact, []types.FixCandidate{fix})
	require.NoError(t, err)

	assert.Equal(t, before, string(artifact.Source), "the input artifact is never mutated")
	assert.Equal(t, uint64(3), artifact.Version)
}

func TestApplyEmptyFixSetIsNoOp(t *testing.T) {
	artifact := jobArtifact()
	res, err := Apply(context.Background(), artifact, nil)
	require.NoError(t, err)
	assert.Equal(t, artifact.Version, res.Artifact.Version, "no fixes means no version bump")
	assert.Equal(t, string(artifact.Source), string(res.Artifact.Source))
}

func TestApplyMultipleFixesBottomUp(t *testing.T) {
	artifact := jobArtifact()
	first := docFix(t, artifact, "start",
		"// start begins the job.\nfunc start() error {\n\tfmt.Println(\"starting\")\n\treturn nil\n}")
	second := docFix(t, artifact, "stop",
		"// stop ends the job.\nfunc stop() error {\n\tfmt.Println(\"stopping\")\n\treturn nil\n}")

	res, err := Apply(context.Background(), artifact, []types.FixCandidate{first, second})
	require.NoError(t, err)
	require.Empty(t, res.Failed)
	require.Len(t, res.Applied, 2)

	out := string(res.Artifact.Source)
	assert.Contains(t, out, "// start begins the job.")
	assert.Contains(t, out, "// stop ends the job.")
	assert.Equal(t, artifact.Version+1, res.Artifact.Version, "one round is one version bump regardless of fix count")
}

func TestApplyDropsMalformedFragment(t *testing.T) {
	artifact := jobArtifact()
	good := docFix(t, artifact, "start",
		"// start begins the job.\nfunc start() error {\n\tfmt.Println(\"starting\")\n\treturn nil\n}")
	bad := docFix(t, artifact, "stop", "func stop( {{{ nonsense")

	res, err := Apply(context.Background(), artifact, []types.FixCandidate{good, bad})
	require.NoError(t, err)

	require.Len(t, res.Failed, 1)
	var appErr *types.TransformApplicationError
	require.ErrorAs(t, res.Failed[bad.Addresses.Key()], &appErr)

	require.Len(t, res.Applied, 1, "the well-formed fix still applies")
	assert.Contains(t, string(res.Artifact.Source), "// start begins the job.")
	assert.Contains(t, string(res.Artifact.Source), `fmt.Println("stopping")`, "the failed fix's target is untouched")
}

func TestApplyDropsStaleLocation(t *testing.T) {
	artifact := jobArtifact()
	stale := types.NodePath{{Type: "function_declaration", Index: 42}}
	c, err := types.NewFixCandidate(
		types.Diagnostic{Kind: types.DiagMalformedCall, Location: stale, Severity: types.SeverityError},
		stale, "x()", 0.9, 1)
	require.NoError(t, err)

	res, err := Apply(context.Background(), artifact, []types.FixCandidate{c})
	require.NoError(t, err)

	require.Len(t, res.Failed, 1)
	var locErr *types.StructuralLocationError
	require.ErrorAs(t, res.Failed[c.Addresses.Key()], &locErr)
	assert.Equal(t, artifact.Version, res.Artifact.Version, "an all-failed round keeps the version")
}
