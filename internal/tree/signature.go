package tree

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// Signature returns a structural hash of the tree: sha256 over a canonical
// pre-order serialization of named node types plus leaf token text. Comments
// are skipped, so comment and formatting churn does not produce a "novel"
// content signature during convergence tracking.
func Signature(t *Tree) string {
	var sb strings.Builder
	writeNode(&sb, t, t.Root())
	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

func writeNode(sb *strings.Builder, t *Tree, n *sitter.Node) {
	if n.Type() == "comment" {
		return
	}
	sb.WriteByte('(')
	sb.WriteString(n.Type())
	if n.NamedChildCount() == 0 {
		sb.WriteByte(':')
		sb.WriteString(strconv.Quote(t.Text(n)))
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		writeNode(sb, t, n.NamedChild(i))
	}
	sb.WriteByte(')')
}
