package analysis

import (
	"context"
	"fmt"
	"log/slog"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/parley-ls/parley/protocol"
)

// TreeSitter is the tree-sitter backed Engine. Snapshots are full parses of
// the document text; there is no shared mutable state between snapshots, so
// queries against different handles never contend.
type TreeSitter struct {
	registry *Registry
	project  ProjectView
	logger   *slog.Logger
}

// TreeSitterOption configures a TreeSitter engine.
type TreeSitterOption func(*TreeSitter)

// WithProjectView restricts handle resolution to documents the project
// model contains. Documents outside the model fall back to standalone
// analysis.
func WithProjectView(pv ProjectView) TreeSitterOption {
	return func(e *TreeSitter) { e.project = pv }
}

// WithEngineLogger sets the engine's logger.
func WithEngineLogger(l *slog.Logger) TreeSitterOption {
	return func(e *TreeSitter) { e.logger = l }
}

// NewTreeSitter creates a tree-sitter engine with the given language config.
func NewTreeSitter(cfg Config, opts ...TreeSitterOption) *TreeSitter {
	e := &TreeSitter{
		registry: NewRegistry(cfg),
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Registry returns the engine's language registry.
func (e *TreeSitter) Registry() *Registry { return e.registry }

// SetProjectView attaches a project model after construction, for wiring
// where the loader itself needs the engine's registry first. Must be called
// before the engine starts resolving handles.
func (e *TreeSitter) SetProjectView(pv ProjectView) { e.project = pv }

// ResolveHandle parses the document and returns an immutable snapshot
// handle. Resolution fails (false) for unknown languages and for documents
// outside the project model; callers fall back to standalone analysis.
func (e *TreeSitter) ResolveHandle(uri protocol.DocumentURI, languageID, text string) (Handle, bool) {
	if e.project != nil && !e.project.Contains(uri) {
		return nil, false
	}
	lang, err := e.registry.LanguageForURI(string(uri), languageID)
	if err != nil {
		return nil, false
	}
	snap, err := parseSnapshot(uri, languageID, text, lang)
	if err != nil {
		e.logger.Warn("snapshot parse failed", "uri", uri, "error", err)
		return nil, false
	}
	return snap, true
}

// Diagnostics scans a snapshot's tree for syntax errors.
func (e *TreeSitter) Diagnostics(ctx context.Context, h Handle) ([]protocol.Diagnostic, error) {
	snap, err := e.snapshotOf(h)
	if err != nil {
		return nil, err
	}
	return syntaxDiagnostics(ctx, snap)
}

// DiagnosticsStandalone parses text as a single file and scans it, for
// documents with no resolved handle.
func (e *TreeSitter) DiagnosticsStandalone(ctx context.Context, uri protocol.DocumentURI, languageID, text string) ([]protocol.Diagnostic, error) {
	lang, err := e.registry.LanguageForURI(string(uri), languageID)
	if err != nil {
		// Unknown language: nothing to report, not a failure.
		return nil, nil
	}
	snap, err := parseSnapshot(uri, languageID, text, lang)
	if err != nil {
		return nil, err
	}
	defer snap.Close()
	return syntaxDiagnostics(ctx, snap)
}

// syntaxDiagnostics walks the tree collecting ERROR and missing nodes.
func syntaxDiagnostics(ctx context.Context, snap *snapshot) ([]protocol.Diagnostic, error) {
	var diags []protocol.Diagnostic
	cancelled := false

	snap.walk(func(n *tree_sitter.Node) bool {
		if ctx.Err() != nil {
			cancelled = true
			return false
		}
		switch {
		case n.IsError():
			diags = append(diags, protocol.Diagnostic{
				Range:    nodeRange(n),
				Severity: protocol.SeverityError,
				Code:     "syntax-error",
				Source:   "parley",
				Message:  "syntax error",
			})
			return false // children of an ERROR node are noise
		case n.IsMissing():
			diags = append(diags, protocol.Diagnostic{
				Range:    nodeRange(n),
				Severity: protocol.SeverityError,
				Code:     "missing-node",
				Source:   "parley",
				Message:  fmt.Sprintf("missing %s", n.Kind()),
			})
		}
		return true
	})

	if cancelled {
		return nil, ctx.Err()
	}
	return diags, nil
}

// snapshotOf asserts that a handle came from this engine.
func (e *TreeSitter) snapshotOf(h Handle) (*snapshot, error) {
	snap, ok := h.(*snapshot)
	if !ok || snap == nil {
		return nil, fmt.Errorf("foreign analysis handle %T", h)
	}
	return snap, nil
}
