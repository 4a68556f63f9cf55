// Package tree provides the structural view of an artifact: tree-sitter
// parsing, a content signature, stable node paths, and declared-member
// extraction. Everything downstream (analysis, transformation, convergence
// tracking) operates on this view rather than on raw byte offsets.
package tree

import (
	"context"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"

	"mend/internal/logging"
)

// Tree is a parsed artifact source. The underlying tree-sitter tree holds C
// memory; call Close when done.
type Tree struct {
	src []byte
	ts  *sitter.Tree
}

// Parse parses artifact source. Syntax errors do not fail the parse: they
// surface as ERROR nodes in the tree, and the validation gate - not the
// parser - decides validity.
func Parse(ctx context.Context, source []byte) (*Tree, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(golang.GetLanguage())

	ts, err := parser.ParseCtx(ctx, nil, source)
	if err != nil {
		logging.Get(logging.CategoryAnalyze).Error("parse failed: %v", err)
		return nil, err
	}
	return &Tree{src: source, ts: ts}, nil
}

// Close releases the underlying tree.
func (t *Tree) Close() {
	if t.ts != nil {
		t.ts.Close()
	}
}

// Root returns the root node.
func (t *Tree) Root() *sitter.Node {
	return t.ts.RootNode()
}

// Source returns the bytes this tree was parsed from.
func (t *Tree) Source() []byte {
	return t.src
}

// Text returns the source text of a node.
func (t *Tree) Text(n *sitter.Node) string {
	return n.Content(t.src)
}

// CountNodes returns the number of named nodes in the subtree rooted at n,
// including n itself. Used as the edit footprint of a fix target.
func CountNodes(n *sitter.Node) int {
	if n == nil {
		return 0
	}
	count := 1
	for i := 0; i < int(n.NamedChildCount()); i++ {
		count += CountNodes(n.NamedChild(i))
	}
	return count
}

// ErrorCount returns the number of ERROR or missing nodes in the subtree.
// The transformer compares this before and after a splice to decide whether a
// replacement fragment was malformed.
func ErrorCount(n *sitter.Node) int {
	if n == nil {
		return 0
	}
	count := 0
	if n.Type() == "ERROR" || n.IsMissing() {
		count++
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		count += ErrorCount(n.Child(i))
	}
	return count
}
