package tree

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mend/internal/types"
)

const sampleSource = `package demo

import (
	"fmt"
	"strings"
)

// Server handles requests.
type Server struct {
	name string
}

// Greet renders a greeting.
func (s *Server) Greet(name string) string {
	return fmt.Sprintf("hello %s", strings.TrimSpace(name))
}

func run() error {
	return nil
}
`

func parseSample(t *testing.T) *Tree {
	t.Helper()
	tr, err := Parse(context.Background(), []byte(sampleSource))
	require.NoError(t, err)
	t.Cleanup(tr.Close)
	return tr
}

func TestParseToleratesSyntaxErrors(t *testing.T) {
	tr, err := Parse(context.Background(), []byte("package demo\n\nfunc broken( {\n"))
	require.NoError(t, err, "syntax errors must not fail the parse")
	defer tr.Close()
	assert.Greater(t, ErrorCount(tr.Root()), 0)
}

func TestMembers(t *testing.T) {
	tr := parseSample(t)
	members := Members(tr)

	byName := make(map[string]Member)
	for _, m := range members {
		byName[m.Name] = m
	}

	greet, ok := byName["Greet"]
	require.True(t, ok)
	assert.Equal(t, MemberMethod, greet.Kind)
	assert.Equal(t, "(s *Server)", greet.Receiver)
	assert.True(t, greet.HasDoc)

	runFn, ok := byName["run"]
	require.True(t, ok)
	assert.Equal(t, MemberFunc, runFn.Kind)
	assert.False(t, runFn.HasDoc)
	assert.Equal(t, "func run() error", runFn.Signature)

	server, ok := byName["Server"]
	require.True(t, ok)
	assert.Equal(t, MemberType, server.Kind)
	assert.Equal(t, "type Server struct", server.Signature)

	_, ok = byName["fmt"]
	assert.True(t, ok, "imports are members too")
	_, ok = byName["strings"]
	assert.True(t, ok)
}

func TestPathRoundTrip(t *testing.T) {
	tr := parseSample(t)

	for _, m := range Members(tr) {
		node, err := Resolve(tr, m.Path)
		require.NoError(t, err, "path of %s must resolve", m.Name)
		assert.True(t, node.Equal(m.Node), "path of %s must resolve to the same node", m.Name)
	}
}

func TestResolveFailsOnStructuralMismatch(t *testing.T) {
	tr := parseSample(t)

	var locErr *types.StructuralLocationError

	_, err := Resolve(tr, types.NodePath{{Type: "function_declaration", Index: 99}})
	require.ErrorAs(t, err, &locErr)

	// Index exists but holds a different node type
	_, err = Resolve(tr, types.NodePath{{Type: "method_declaration", Index: 0}})
	require.ErrorAs(t, err, &locErr)
}

func TestSignatureIgnoresCommentsAndFormatting(t *testing.T) {
	base := parseSample(t)
	baseSig := Signature(base)

	commented, err := Parse(context.Background(), []byte(
		"// extra file comment\n"+sampleSource+"\n// trailing comment\n"))
	require.NoError(t, err)
	defer commented.Close()
	assert.Equal(t, baseSig, Signature(commented), "comment churn must not change the signature")

	extended, err := Parse(context.Background(), []byte(sampleSource+"\nfunc extra() {}\n"))
	require.NoError(t, err)
	defer extended.Close()
	assert.NotEqual(t, baseSig, Signature(extended), "a new declaration must change the signature")
}

func TestCountNodes(t *testing.T) {
	tr := parseSample(t)
	root := tr.Root()
	assert.Equal(t, CountNodes(root), CountNodes(root), "deterministic")
	assert.Greater(t, CountNodes(root), 10)

	members := Members(tr)
	for _, m := range members {
		assert.Greater(t, m.NodeCount, 0)
		assert.Less(t, m.NodeCount, CountNodes(root))
	}
}
