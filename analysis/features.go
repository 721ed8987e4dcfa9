package analysis

import (
	"context"
	"fmt"
	"sort"
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/parley-ls/parley/protocol"
)

// Feature queries. These are identifier-level: precise enough to exercise
// the full request path and the snapshot machinery without pretending to be
// a semantic analyzer.

// Completion returns the distinct identifiers visible in the snapshot.
func (e *TreeSitter) Completion(ctx context.Context, h Handle, pos protocol.Position) ([]protocol.CompletionItem, error) {
	snap, err := e.snapshotOf(h)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	snap.walk(func(n *tree_sitter.Node) bool {
		if ctx.Err() != nil {
			return false
		}
		if isIdentifierKind(n.Kind()) {
			seen[snap.nodeText(n)] = true
		}
		return true
	})
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	items := make([]protocol.CompletionItem, 0, len(seen))
	for name := range seen {
		if name == "" {
			continue
		}
		items = append(items, protocol.CompletionItem{
			Label: name,
			Kind:  protocol.CompletionVariable,
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Label < items[j].Label })
	return items, nil
}

// Hover describes the syntax node under the position.
func (e *TreeSitter) Hover(ctx context.Context, h Handle, pos protocol.Position) (*protocol.Hover, error) {
	snap, err := e.snapshotOf(h)
	if err != nil {
		return nil, err
	}

	node := snap.nodeAt(pos)
	if node == nil {
		return nil, nil
	}
	text := snap.nodeText(node)
	if len(text) > 120 {
		text = text[:120] + "…"
	}
	rng := nodeRange(node)
	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.Markdown,
			Value: fmt.Sprintf("`%s`\n\n**%s** (%s)", text, node.Kind(), snap.languageID),
		},
		Range: &rng,
	}, nil
}

// Definition returns the first occurrence of the identifier under the
// position, which for single-file analysis is its declaration site.
func (e *TreeSitter) Definition(ctx context.Context, h Handle, pos protocol.Position) ([]protocol.Location, error) {
	snap, err := e.snapshotOf(h)
	if err != nil {
		return nil, err
	}

	name, _ := snap.identifierAt(pos)
	if name == "" {
		return nil, nil
	}
	ranges := snap.occurrences(name)
	if len(ranges) == 0 {
		return nil, nil
	}
	return []protocol.Location{{URI: snap.uri, Range: ranges[0]}}, nil
}

// References returns every occurrence of the identifier under the position.
func (e *TreeSitter) References(ctx context.Context, h Handle, pos protocol.Position, includeDeclaration bool) ([]protocol.Location, error) {
	snap, err := e.snapshotOf(h)
	if err != nil {
		return nil, err
	}

	name, _ := snap.identifierAt(pos)
	if name == "" {
		return nil, nil
	}
	ranges := snap.occurrences(name)
	if !includeDeclaration && len(ranges) > 0 {
		ranges = ranges[1:]
	}
	locs := make([]protocol.Location, len(ranges))
	for i, r := range ranges {
		locs[i] = protocol.Location{URI: snap.uri, Range: r}
	}
	return locs, nil
}

// Rename produces edits replacing every occurrence of the identifier under
// the position with newName.
func (e *TreeSitter) Rename(ctx context.Context, h Handle, pos protocol.Position, newName string) (*protocol.WorkspaceEdit, error) {
	snap, err := e.snapshotOf(h)
	if err != nil {
		return nil, err
	}
	if newName == "" {
		return nil, fmt.Errorf("empty rename target")
	}

	name, _ := snap.identifierAt(pos)
	if name == "" {
		return nil, nil
	}
	ranges := snap.occurrences(name)
	if len(ranges) == 0 {
		return nil, nil
	}
	edits := make([]protocol.TextEdit, len(ranges))
	for i, r := range ranges {
		edits[i] = protocol.TextEdit{Range: r, NewText: newName}
	}
	return &protocol.WorkspaceEdit{
		Changes: map[protocol.DocumentURI][]protocol.TextEdit{snap.uri: edits},
	}, nil
}

// DocumentSymbols maps the root's named children to an outline.
func (e *TreeSitter) DocumentSymbols(ctx context.Context, h Handle) ([]protocol.DocumentSymbol, error) {
	snap, err := e.snapshotOf(h)
	if err != nil {
		return nil, err
	}
	root := snap.root()
	if root == nil {
		return nil, nil
	}

	var symbols []protocol.DocumentSymbol
	for i := uint(0); i < uint(root.NamedChildCount()); i++ {
		child := root.NamedChild(i)
		if child == nil || child.IsError() {
			continue
		}
		name := snap.symbolName(child)
		if name == "" {
			continue
		}
		symbols = append(symbols, protocol.DocumentSymbol{
			Name:           name,
			Detail:         child.Kind(),
			Kind:           symbolKindFor(child.Kind()),
			Range:          nodeRange(child),
			SelectionRange: nodeRange(child),
		})
	}
	return symbols, nil
}

// symbolName picks a display name for a declaration node: its "name" field
// if the grammar has one, otherwise its first identifier child.
func (s *snapshot) symbolName(node *tree_sitter.Node) string {
	if named := node.ChildByFieldName("name"); named != nil {
		return s.nodeText(named)
	}
	for i := uint(0); i < uint(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if child != nil && isIdentifierKind(child.Kind()) {
			return s.nodeText(child)
		}
	}
	return ""
}

func symbolKindFor(kind string) protocol.SymbolKind {
	switch {
	case strings.Contains(kind, "function"):
		return protocol.SymbolFunction
	case strings.Contains(kind, "method"):
		return protocol.SymbolMethod
	case strings.Contains(kind, "class"):
		return protocol.SymbolClass
	case strings.Contains(kind, "struct"), strings.Contains(kind, "type"):
		return protocol.SymbolStruct
	default:
		return protocol.SymbolVariable
	}
}
