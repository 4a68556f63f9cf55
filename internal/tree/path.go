package tree

import (
	sitter "github.com/smacker/go-tree-sitter"

	"mend/internal/types"
)

// PathOf computes the stable structural path of a node: the sequence of
// (node type, named-child index) steps from the root. Unlike a byte offset,
// a path still resolves after edits in sibling subtrees.
func PathOf(root, target *sitter.Node) types.NodePath {
	if target == nil || target.Equal(root) {
		return types.NodePath{}
	}

	var reversed []types.PathStep
	for n := target; n != nil && !n.Equal(root); n = n.Parent() {
		parent := n.Parent()
		if parent == nil {
			break
		}
		idx := -1
		for i := 0; i < int(parent.NamedChildCount()); i++ {
			if parent.NamedChild(i).Equal(n) {
				idx = i
				break
			}
		}
		if idx < 0 {
			// Unnamed node (punctuation); paths only address named nodes
			continue
		}
		reversed = append(reversed, types.PathStep{Type: n.Type(), Index: idx})
	}

	path := make(types.NodePath, 0, len(reversed))
	for i := len(reversed) - 1; i >= 0; i-- {
		path = append(path, reversed[i])
	}
	return path
}

// Resolve walks a path down from the root of t. Both the named-child index
// and the node type must match at every step; any mismatch returns a
// StructuralLocationError, which callers treat as a stale candidate rather
// than a fatal condition.
func Resolve(t *Tree, p types.NodePath) (*sitter.Node, error) {
	n := t.Root()
	for _, step := range p {
		if step.Index < 0 || step.Index >= int(n.NamedChildCount()) {
			return nil, &types.StructuralLocationError{Path: p}
		}
		child := n.NamedChild(step.Index)
		if child.Type() != step.Type {
			return nil, &types.StructuralLocationError{Path: p}
		}
		n = child
	}
	return n, nil
}
