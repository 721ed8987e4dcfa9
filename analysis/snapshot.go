package analysis

import (
	"fmt"
	"sync"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/parley-ls/parley/protocol"
)

// snapshot is one immutable parse of one document. It implements Handle.
// All query methods are read-only; mutation happens by replacing the whole
// snapshot with a fresh one.
type snapshot struct {
	uri        protocol.DocumentURI
	languageID string
	src        []byte
	lang       *tree_sitter.Language
	tree       *tree_sitter.Tree

	closeOnce sync.Once
}

func (s *snapshot) URI() protocol.DocumentURI { return s.uri }

func (s *snapshot) Close() {
	s.closeOnce.Do(func() {
		if s.tree != nil {
			s.tree.Close()
		}
	})
}

// parseSnapshot runs a full parse of text and wraps the result. The parser
// itself is per-call; only the tree outlives it.
func parseSnapshot(uri protocol.DocumentURI, languageID, text string, lang *tree_sitter.Language) (*snapshot, error) {
	parser := tree_sitter.NewParser()
	defer parser.Close()
	if err := parser.SetLanguage(lang); err != nil {
		return nil, fmt.Errorf("configuring parser for %s: %w", uri, err)
	}

	src := []byte(text)
	tree := parser.Parse(src, nil)
	if tree == nil {
		return nil, fmt.Errorf("parsing %s failed", uri)
	}

	return &snapshot{
		uri:        uri,
		languageID: languageID,
		src:        src,
		lang:       lang,
		tree:       tree,
	}, nil
}

// root returns the snapshot's root node, or nil on a closed/empty snapshot.
func (s *snapshot) root() *tree_sitter.Node {
	if s == nil || s.tree == nil {
		return nil
	}
	return s.tree.RootNode()
}

// nodeAt returns the most specific named node at the given LSP position.
func (s *snapshot) nodeAt(pos protocol.Position) *tree_sitter.Node {
	root := s.root()
	if root == nil {
		return nil
	}
	point := tree_sitter.Point{Row: uint(pos.Line), Column: uint(pos.Character)}
	return root.NamedDescendantForPointRange(point, point)
}

// nodeText returns the source text covered by a node.
func (s *snapshot) nodeText(node *tree_sitter.Node) string {
	if node == nil {
		return ""
	}
	start := node.StartByte()
	end := node.EndByte()
	if int(start) >= len(s.src) || int(end) > len(s.src) {
		return ""
	}
	return string(s.src[start:end])
}

// nodeRange converts a tree-sitter node's span to an LSP Range.
func nodeRange(node *tree_sitter.Node) protocol.Range {
	if node == nil {
		return protocol.Range{}
	}
	start := node.StartPosition()
	end := node.EndPosition()
	return protocol.Range{
		Start: protocol.Position{Line: uint32(start.Row), Character: uint32(start.Column)},
		End:   protocol.Position{Line: uint32(end.Row), Character: uint32(end.Column)},
	}
}

// walk visits every node in the snapshot's tree in document order until the
// visitor returns false.
func (s *snapshot) walk(visit func(node *tree_sitter.Node) bool) {
	root := s.root()
	if root == nil {
		return
	}
	var rec func(n *tree_sitter.Node) bool
	rec = func(n *tree_sitter.Node) bool {
		if !visit(n) {
			return false
		}
		for i := uint(0); i < uint(n.ChildCount()); i++ {
			child := n.Child(i)
			if child == nil {
				continue
			}
			if !rec(child) {
				return false
			}
		}
		return true
	}
	rec(root)
}

// identifierAt returns the identifier text under the position, or "".
func (s *snapshot) identifierAt(pos protocol.Position) (string, *tree_sitter.Node) {
	node := s.nodeAt(pos)
	if node == nil {
		return "", nil
	}
	if isIdentifierKind(node.Kind()) {
		return s.nodeText(node), node
	}
	// The position may sit on a keyword or punctuation inside a larger
	// construct; a leaf identifier child is still a useful anchor.
	return "", node
}

// occurrences returns the ranges of every identifier node whose text equals
// name, in document order.
func (s *snapshot) occurrences(name string) []protocol.Range {
	if name == "" {
		return nil
	}
	var ranges []protocol.Range
	s.walk(func(n *tree_sitter.Node) bool {
		if isIdentifierKind(n.Kind()) && s.nodeText(n) == name {
			ranges = append(ranges, nodeRange(n))
		}
		return true
	})
	return ranges
}

// isIdentifierKind reports whether a node kind names an identifier-like
// leaf across the registered grammars.
func isIdentifierKind(kind string) bool {
	switch kind {
	case "identifier", "type_identifier", "field_identifier", "package_identifier",
		"property_identifier", "variable_name", "word":
		return true
	}
	return false
}
