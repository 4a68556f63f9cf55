// Package analyze implements the failure analyzer: it maps validation
// diagnostics plus artifact structure onto ranked, located fix candidates.
// Every diagnostic kind has exactly one structural query; name resolution is
// delegated to a pluggable SymbolResolver.
package analyze

import (
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"mend/internal/logging"
	"mend/internal/tree"
	"mend/internal/types"
)

// Ambiguous diagnostics (no symbol named) scale synthesis confidence down.
const (
	synthConfidence          = 0.45
	synthAmbiguousConfidence = 0.3
)

// Analyzer turns diagnostics into fix candidates.
type Analyzer struct {
	resolver SymbolResolver
}

// New creates an analyzer. A nil resolver selects the default lexical one.
func New(resolver SymbolResolver) *Analyzer {
	if resolver == nil {
		resolver = DefaultResolver()
	}
	return &Analyzer{resolver: resolver}
}

// Analyze produces fix candidates for the given diagnostics, ordered by
// descending confidence. Diagnostics whose location no longer resolves are
// skipped, not fatal; a diagnostic with an out-of-enum kind is a gate
// contract violation and fails the whole call.
func (a *Analyzer) Analyze(t *tree.Tree, diags []types.Diagnostic) ([]types.FixCandidate, error) {
	members := tree.Members(t)

	var candidates []types.FixCandidate
	for _, d := range diags {
		if !d.Kind.Valid() {
			return nil, fmt.Errorf("%w: %q", types.ErrUnknownDiagnosticKind, d.Kind)
		}
		c, ok, err := a.candidateFor(t, members, d)
		if err != nil {
			return nil, err
		}
		if !ok {
			logging.AnalyzeDebug("no candidate for %s", d.Key())
			continue
		}
		candidates = append(candidates, c)
	}

	sortCandidates(candidates)
	logging.AnalyzeDebug("%d diagnostics -> %d candidates", len(diags), len(candidates))
	return candidates, nil
}

// candidateFor dispatches on the closed diagnostic enum. The default branch
// is unreachable after the Valid check above but kept so a future enum
// member cannot fall through silently.
func (a *Analyzer) candidateFor(t *tree.Tree, members []tree.Member, d types.Diagnostic) (types.FixCandidate, bool, error) {
	switch d.Kind {
	case types.DiagMissingCapability:
		return a.missingCapability(t, members, d)
	case types.DiagWrongSignature:
		return a.wrongSignature(t, members, d)
	case types.DiagWrongExecutionMode:
		return a.wrongExecutionMode(t, members, d)
	case types.DiagMissingBaseType:
		return a.missingBaseType(t, members, d)
	case types.DiagMissingImport:
		return a.missingImport(t, members, d)
	case types.DiagMalformedCall:
		return a.malformedCall(t, d)
	case types.DiagMissingDocumentation:
		return a.missingDocumentation(t, d)
	case types.DiagMalformedConstructor:
		return a.malformedConstructor(t, members, d)
	default:
		return types.FixCandidate{}, false, fmt.Errorf("%w: %q", types.ErrUnknownDiagnosticKind, d.Kind)
	}
}

// missingCapability searches the declared member set for the wanted name
// before concluding the capability is truly absent. An exact hit means the
// capability exists but is not exposed where the gate wants it (high
// confidence wrapper); a fuzzy hit suggests a near-miss spelling (medium
// confidence wrapper); no hit proposes synthesizing a new member (low
// confidence, lower still when the diagnostic names no symbol).
func (a *Analyzer) missingCapability(t *tree.Tree, members []tree.Member, d types.Diagnostic) (types.FixCandidate, bool, error) {
	anchor, err := resolveAnchor(t, d.Location)
	if err != nil {
		return types.FixCandidate{}, false, nil // stale location, skip
	}
	if d.Symbol == "" && d.Expected == "" {
		return types.FixCandidate{}, false, nil // nothing to synthesize from
	}

	callable := filterMembers(members, tree.MemberFunc, tree.MemberMethod)
	match, found := a.resolver.Resolve(d.Symbol, callable)

	confidence := synthConfidence
	if d.Symbol == "" {
		confidence = synthAmbiguousConfidence
	}
	var delegate string
	if found {
		confidence = match.Confidence
		if match.Member.Kind == tree.MemberFunc {
			delegate = match.Member.Name
		}
	}

	stub := methodStub(t, anchor, d, delegate)
	replacement := t.Text(anchor) + "\n\n" + stub

	c, err := types.NewFixCandidate(d, tree.PathOf(t.Root(), anchor), replacement, confidence, tree.CountNodes(anchor))
	if err != nil {
		return types.FixCandidate{}, false, err
	}
	return c, true, nil
}

// methodStub renders the stub that exposes the missing capability. When the
// anchor is a type declaration the stub becomes a method on that type;
// otherwise a free function. A resolvable delegate is called before return.
func methodStub(t *tree.Tree, anchor *sitter.Node, d types.Diagnostic, delegate string) string {
	header := strings.TrimSpace(d.Expected)
	if header == "" {
		header = d.Symbol + "() error"
	}

	receiver := ""
	if typeName := declaredTypeName(t, anchor); typeName != "" {
		receiver = fmt.Sprintf("(%s *%s) ", strings.ToLower(typeName[:1]), typeName)
	}

	body := "\treturn nil"
	if delegate != "" {
		body = fmt.Sprintf("\t%s()\n\treturn nil", delegate)
	}
	if !strings.Contains(header, ")") || !strings.Contains(afterParams(header), "error") {
		// Headers without an error result return nothing
		if delegate != "" {
			body = fmt.Sprintf("\t%s()", delegate)
		} else {
			body = ""
		}
	}

	if body == "" {
		return fmt.Sprintf("func %s%s {\n}", receiver, header)
	}
	return fmt.Sprintf("func %s%s {\n%s\n}", receiver, header, body)
}

func afterParams(header string) string {
	if i := strings.LastIndex(header, ")"); i >= 0 {
		return header[i+1:]
	}
	return ""
}

// wrongSignature rewrites a declaration's header to the gate-expected
// signature while keeping the existing body.
func (a *Analyzer) wrongSignature(t *tree.Tree, members []tree.Member, d types.Diagnostic) (types.FixCandidate, bool, error) {
	if d.Expected == "" {
		return types.FixCandidate{}, false, nil
	}
	m, ok := findMember(members, d.Symbol, tree.MemberFunc, tree.MemberMethod)
	if !ok {
		return types.FixCandidate{}, false, nil
	}

	body := m.Node.ChildByFieldName("body")
	if body == nil {
		return types.FixCandidate{}, false, nil
	}
	header := strings.TrimSpace(d.Expected)
	if !strings.HasPrefix(header, "func") {
		header = "func " + header
	}
	replacement := header + " " + t.Text(body)

	c, err := types.NewFixCandidate(d, m.Path, replacement, 0.9, m.NodeCount)
	if err != nil {
		return types.FixCandidate{}, false, err
	}
	return c, true, nil
}

// wrongExecutionMode toggles the context.Context first parameter, which is
// how execution mode is expressed structurally in Go: Expected "context"
// requires one, Expected "plain" forbids one.
func (a *Analyzer) wrongExecutionMode(t *tree.Tree, members []tree.Member, d types.Diagnostic) (types.FixCandidate, bool, error) {
	m, ok := findMember(members, d.Symbol, tree.MemberFunc, tree.MemberMethod)
	if !ok {
		return types.FixCandidate{}, false, nil
	}
	params := m.Node.ChildByFieldName("parameters")
	if params == nil {
		return types.FixCandidate{}, false, nil
	}

	paramsText := t.Text(params)
	hasCtx := strings.Contains(paramsText, "context.Context")

	var newParams string
	switch d.Expected {
	case "plain":
		if !hasCtx {
			return types.FixCandidate{}, false, nil
		}
		newParams = stripContextParam(paramsText)
	default: // "context" is the common direction
		if hasCtx {
			return types.FixCandidate{}, false, nil
		}
		inner := strings.TrimSuffix(strings.TrimPrefix(paramsText, "("), ")")
		if strings.TrimSpace(inner) == "" {
			newParams = "(ctx context.Context)"
		} else {
			newParams = "(ctx context.Context, " + inner + ")"
		}
	}

	declText := t.Text(m.Node)
	replacement := strings.Replace(declText, paramsText, newParams, 1)

	c, err := types.NewFixCandidate(d, m.Path, replacement, 0.85, m.NodeCount)
	if err != nil {
		return types.FixCandidate{}, false, err
	}
	return c, true, nil
}

func stripContextParam(paramsText string) string {
	inner := strings.TrimSuffix(strings.TrimPrefix(paramsText, "("), ")")
	parts := strings.Split(inner, ",")
	var kept []string
	for _, p := range parts {
		if strings.Contains(p, "context.Context") {
			continue
		}
		if s := strings.TrimSpace(p); s != "" {
			kept = append(kept, s)
		}
	}
	return "(" + strings.Join(kept, ", ") + ")"
}

// missingBaseType embeds the wanted base type as the first field of the
// struct at the diagnostic location.
func (a *Analyzer) missingBaseType(t *tree.Tree, members []tree.Member, d types.Diagnostic) (types.FixCandidate, bool, error) {
	if d.Symbol == "" {
		return types.FixCandidate{}, false, nil
	}
	anchor, err := resolveAnchor(t, d.Location)
	if err != nil {
		return types.FixCandidate{}, false, nil
	}
	fieldList := findDescendant(anchor, "field_declaration_list")
	if fieldList == nil {
		return types.FixCandidate{}, false, nil
	}

	// Splice the embedded field right after the opening brace of the list
	declStart := anchor.StartByte()
	insertAt := fieldList.StartByte() - declStart + 1
	declText := t.Text(anchor)
	replacement := declText[:insertAt] + "\n\t" + d.Symbol + declText[insertAt:]

	// Embedding a type declared or imported here is near-certain; an unknown
	// name may still need an import the gate will report next round.
	confidence := 0.6
	if _, known := findMember(members, d.Symbol, tree.MemberType); known {
		confidence = 0.85
	}

	c, err := types.NewFixCandidate(d, tree.PathOf(t.Root(), anchor), replacement, confidence, tree.CountNodes(anchor))
	if err != nil {
		return types.FixCandidate{}, false, err
	}
	return c, true, nil
}

// missingImport adds the wanted import path, extending an existing import
// declaration or creating one after the package clause.
func (a *Analyzer) missingImport(t *tree.Tree, members []tree.Member, d types.Diagnostic) (types.FixCandidate, bool, error) {
	if d.Symbol == "" {
		return types.FixCandidate{}, false, nil
	}
	if _, present := findMember(members, d.Symbol, tree.MemberImport); present {
		return types.FixCandidate{}, false, nil // already imported, stale diagnostic
	}

	imports := filterMembers(members, tree.MemberImport)
	if len(imports) > 0 {
		decl := imports[0].Node
		declText := t.Text(decl)
		var replacement string
		if i := strings.Index(declText, "("); i >= 0 {
			replacement = declText[:i+1] + "\n\t\"" + d.Symbol + "\"" + declText[i+1:]
		} else {
			// Single-import form: promote to a block
			existing := strings.TrimSpace(strings.TrimPrefix(declText, "import"))
			replacement = "import (\n\t" + existing + "\n\t\"" + d.Symbol + "\"\n)"
		}
		c, err := types.NewFixCandidate(d, imports[0].Path, replacement, 0.95, imports[0].NodeCount)
		if err != nil {
			return types.FixCandidate{}, false, err
		}
		return c, true, nil
	}

	pkg := findChild(t.Root(), "package_clause")
	if pkg == nil {
		return types.FixCandidate{}, false, nil
	}
	replacement := t.Text(pkg) + "\n\nimport \"" + d.Symbol + "\""
	c, err := types.NewFixCandidate(d, tree.PathOf(t.Root(), pkg), replacement, 0.95, tree.CountNodes(pkg))
	if err != nil {
		return types.FixCandidate{}, false, err
	}
	return c, true, nil
}

// malformedCall rewrites the call expression at the diagnostic location.
// With a gate-expected form this is near-mechanical; without one the only
// structural option is dropping the arguments, proposed below the default
// confidence floor so it is reported rather than auto-applied.
func (a *Analyzer) malformedCall(t *tree.Tree, d types.Diagnostic) (types.FixCandidate, bool, error) {
	node, err := resolveAnchor(t, d.Location)
	if err != nil {
		return types.FixCandidate{}, false, nil
	}
	if node.Type() != "call_expression" {
		return types.FixCandidate{}, false, nil
	}

	replacement := strings.TrimSpace(d.Expected)
	confidence := 0.85
	if replacement == "" {
		fn := node.ChildByFieldName("function")
		if fn == nil {
			return types.FixCandidate{}, false, nil
		}
		replacement = t.Text(fn) + "()"
		confidence = 0.4
	}

	c, err := types.NewFixCandidate(d, tree.PathOf(t.Root(), node), replacement, confidence, tree.CountNodes(node))
	if err != nil {
		return types.FixCandidate{}, false, err
	}
	return c, true, nil
}

// missingDocumentation prepends a doc comment to the declaration.
func (a *Analyzer) missingDocumentation(t *tree.Tree, d types.Diagnostic) (types.FixCandidate, bool, error) {
	decl, err := resolveAnchor(t, d.Location)
	if err != nil {
		return types.FixCandidate{}, false, nil
	}
	name := d.Symbol
	if name == "" {
		if nameNode := decl.ChildByFieldName("name"); nameNode != nil {
			name = t.Text(nameNode)
		}
	}
	if name == "" {
		return types.FixCandidate{}, false, nil
	}

	comment := strings.TrimSpace(d.Expected)
	if comment == "" {
		comment = fmt.Sprintf("%s performs the %s operation.", name, name)
	}
	if !strings.HasPrefix(comment, "//") {
		comment = "// " + comment
	}
	replacement := comment + "\n" + t.Text(decl)

	c, err := types.NewFixCandidate(d, tree.PathOf(t.Root(), decl), replacement, 0.9, tree.CountNodes(decl))
	if err != nil {
		return types.FixCandidate{}, false, err
	}
	return c, true, nil
}

// malformedConstructor rewrites the New<Type> constructor, or synthesizes
// one next to the type when it does not exist yet.
func (a *Analyzer) malformedConstructor(t *tree.Tree, members []tree.Member, d types.Diagnostic) (types.FixCandidate, bool, error) {
	if d.Symbol == "" {
		return types.FixCandidate{}, false, nil
	}
	ctorName := "New" + d.Symbol
	ctor := strings.TrimSpace(d.Expected)
	if ctor == "" {
		ctor = fmt.Sprintf("func %s() *%s {\n\treturn &%s{}\n}", ctorName, d.Symbol, d.Symbol)
	}

	if m, ok := findMember(members, ctorName, tree.MemberFunc); ok {
		c, err := types.NewFixCandidate(d, m.Path, ctor, 0.8, m.NodeCount)
		if err != nil {
			return types.FixCandidate{}, false, err
		}
		return c, true, nil
	}

	anchor, err := resolveAnchor(t, d.Location)
	if err != nil {
		return types.FixCandidate{}, false, nil
	}
	replacement := t.Text(anchor) + "\n\n" + ctor
	c, err := types.NewFixCandidate(d, tree.PathOf(t.Root(), anchor), replacement, synthConfidence, tree.CountNodes(anchor))
	if err != nil {
		return types.FixCandidate{}, false, err
	}
	return c, true, nil
}

// =============================================================================
// STRUCTURAL HELPERS
// =============================================================================

func resolveAnchor(t *tree.Tree, p types.NodePath) (*sitter.Node, error) {
	n, err := tree.Resolve(t, p)
	if err != nil {
		return nil, err
	}
	return n, nil
}

func filterMembers(members []tree.Member, kinds ...tree.MemberKind) []tree.Member {
	var out []tree.Member
	for _, m := range members {
		for _, k := range kinds {
			if m.Kind == k {
				out = append(out, m)
				break
			}
		}
	}
	return out
}

func findMember(members []tree.Member, name string, kinds ...tree.MemberKind) (tree.Member, bool) {
	for _, m := range filterMembers(members, kinds...) {
		if m.Name == name {
			return m, true
		}
	}
	return tree.Member{}, false
}

func findChild(n *sitter.Node, nodeType string) *sitter.Node {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if c := n.NamedChild(i); c.Type() == nodeType {
			return c
		}
	}
	return nil
}

func findDescendant(n *sitter.Node, nodeType string) *sitter.Node {
	if n.Type() == nodeType {
		return n
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if found := findDescendant(n.NamedChild(i), nodeType); found != nil {
			return found
		}
	}
	return nil
}

func declaredTypeName(t *tree.Tree, anchor *sitter.Node) string {
	if anchor.Type() != "type_declaration" {
		return ""
	}
	spec := findChild(anchor, "type_spec")
	if spec == nil {
		return ""
	}
	nameNode := spec.ChildByFieldName("name")
	if nameNode == nil {
		return ""
	}
	return t.Text(nameNode)
}
