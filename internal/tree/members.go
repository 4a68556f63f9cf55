package tree

import (
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"mend/internal/types"
)

// MemberKind classifies a declared member.
type MemberKind string

const (
	MemberFunc   MemberKind = "func"
	MemberMethod MemberKind = "method"
	MemberType   MemberKind = "type"
	MemberImport MemberKind = "import"
)

// Member is one declared member of an artifact, with enough structural
// context for the analyzer to resolve names against it and for the
// transformer to target it.
type Member struct {
	Kind      MemberKind
	Name      string
	Receiver  string // method receiver text, e.g. "(s *Server)"
	Signature string // rendered signature, e.g. "func run(ctx context.Context) error"
	HasDoc    bool
	Path      types.NodePath
	Node      *sitter.Node
	NodeCount int
}

// Members extracts the declared member set of the artifact: functions,
// methods, named types and imports. The walk mirrors how the analyzer's
// structural queries address the tree, so every member carries its NodePath.
func Members(t *Tree) []Member {
	var members []Member
	root := t.Root()

	for i := 0; i < int(root.NamedChildCount()); i++ {
		decl := root.NamedChild(i)
		switch decl.Type() {
		case "function_declaration":
			if m, ok := functionMember(t, root, decl); ok {
				members = append(members, m)
			}
		case "method_declaration":
			if m, ok := methodMember(t, root, decl); ok {
				members = append(members, m)
			}
		case "type_declaration":
			members = append(members, typeMembers(t, root, decl)...)
		case "import_declaration":
			members = append(members, importMembers(t, root, decl)...)
		}
	}
	return members
}

func functionMember(t *Tree, root, decl *sitter.Node) (Member, bool) {
	nameNode := decl.ChildByFieldName("name")
	if nameNode == nil {
		return Member{}, false
	}
	name := t.Text(nameNode)

	signature := "func " + name
	if params := decl.ChildByFieldName("parameters"); params != nil {
		signature += t.Text(params)
	}
	if result := decl.ChildByFieldName("result"); result != nil {
		signature += " " + t.Text(result)
	}

	return Member{
		Kind:      MemberFunc,
		Name:      name,
		Signature: signature,
		HasDoc:    hasDoc(decl),
		Path:      PathOf(root, decl),
		Node:      decl,
		NodeCount: CountNodes(decl),
	}, true
}

func methodMember(t *Tree, root, decl *sitter.Node) (Member, bool) {
	nameNode := decl.ChildByFieldName("name")
	receiverNode := decl.ChildByFieldName("receiver")
	if nameNode == nil || receiverNode == nil {
		return Member{}, false
	}
	name := t.Text(nameNode)
	receiver := t.Text(receiverNode)

	signature := fmt.Sprintf("func %s %s", receiver, name)
	if params := decl.ChildByFieldName("parameters"); params != nil {
		signature += t.Text(params)
	}
	if result := decl.ChildByFieldName("result"); result != nil {
		signature += " " + t.Text(result)
	}

	return Member{
		Kind:      MemberMethod,
		Name:      name,
		Receiver:  receiver,
		Signature: signature,
		HasDoc:    hasDoc(decl),
		Path:      PathOf(root, decl),
		Node:      decl,
		NodeCount: CountNodes(decl),
	}, true
}

func typeMembers(t *Tree, root, decl *sitter.Node) []Member {
	var members []Member
	for i := 0; i < int(decl.NamedChildCount()); i++ {
		spec := decl.NamedChild(i)
		if spec.Type() != "type_spec" {
			continue
		}
		nameNode := spec.ChildByFieldName("name")
		if nameNode == nil {
			continue
		}
		name := t.Text(nameNode)
		signature := "type " + name
		if typeNode := spec.ChildByFieldName("type"); typeNode != nil {
			switch typeNode.Type() {
			case "struct_type":
				signature += " struct"
			case "interface_type":
				signature += " interface"
			}
		}
		members = append(members, Member{
			Kind:      MemberType,
			Name:      name,
			Signature: signature,
			HasDoc:    hasDoc(decl),
			Path:      PathOf(root, decl),
			Node:      decl,
			NodeCount: CountNodes(decl),
		})
	}
	return members
}

func importMembers(t *Tree, root, decl *sitter.Node) []Member {
	var members []Member
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if n.Type() == "import_spec" {
			pathNode := n.ChildByFieldName("path")
			if pathNode == nil {
				return
			}
			path := strings.Trim(t.Text(pathNode), `"`)
			members = append(members, Member{
				Kind:      MemberImport,
				Name:      path,
				Signature: `import "` + path + `"`,
				Path:      PathOf(root, decl),
				Node:      decl,
				NodeCount: CountNodes(decl),
			})
			return
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			walk(n.NamedChild(i))
		}
	}
	walk(decl)
	return members
}

// hasDoc reports whether a declaration is immediately preceded by a comment.
func hasDoc(decl *sitter.Node) bool {
	prev := decl.PrevNamedSibling()
	return prev != nil && prev.Type() == "comment"
}
