// Package analysis defines the contract between the protocol runtime and
// the source-analysis engine, plus a tree-sitter backed implementation.
// The runtime treats the engine as a black box: it hands over a document
// snapshot, gets back an opaque handle, and queries that handle for
// diagnostics and feature results. Handles reference immutable snapshots;
// after a text change the runtime discards the old handle and asks for a
// fresh one.
package analysis

import (
	"context"

	"github.com/parley-ls/parley/protocol"
)

// Handle is an opaque reference into the engine's immutable snapshot space
// for one document. The runtime never inspects it; it only passes it back
// to the engine and closes it when the snapshot is superseded.
type Handle interface {
	// URI identifies the document this snapshot belongs to.
	URI() protocol.DocumentURI

	// Close releases the snapshot's resources. Queries against a closed
	// handle are undefined; the runtime closes a handle only after no
	// consumer can hold it.
	Close()
}

// Engine answers semantic queries against document snapshots. All methods
// are safe for concurrent use; blocking calls honor context cancellation.
type Engine interface {
	// ResolveHandle snapshots the given document state and returns a
	// handle to it, or false if the engine cannot analyze the document
	// (unknown language, or outside the loaded project model).
	ResolveHandle(uri protocol.DocumentURI, languageID, text string) (Handle, bool)

	// Diagnostics computes diagnostics for a resolved snapshot.
	Diagnostics(ctx context.Context, h Handle) ([]protocol.Diagnostic, error)

	// DiagnosticsStandalone analyzes text as a single standalone file, for
	// documents that have no resolved handle. Diagnostics degrade
	// gracefully for files outside any loaded project instead of
	// disappearing.
	DiagnosticsStandalone(ctx context.Context, uri protocol.DocumentURI, languageID, text string) ([]protocol.Diagnostic, error)

	// Feature queries. Each takes a handle and a position and returns
	// engine-native results already shaped as wire types; the server's
	// translators add nothing but plumbing.
	Completion(ctx context.Context, h Handle, pos protocol.Position) ([]protocol.CompletionItem, error)
	Hover(ctx context.Context, h Handle, pos protocol.Position) (*protocol.Hover, error)
	Definition(ctx context.Context, h Handle, pos protocol.Position) ([]protocol.Location, error)
	References(ctx context.Context, h Handle, pos protocol.Position, includeDeclaration bool) ([]protocol.Location, error)
	Rename(ctx context.Context, h Handle, pos protocol.Position, newName string) (*protocol.WorkspaceEdit, error)
	DocumentSymbols(ctx context.Context, h Handle) ([]protocol.DocumentSymbol, error)
}

// ProjectView is the engine's window into the workspace loader's project
// model. A nil ProjectView means every document with a known language is
// considered part of the project.
type ProjectView interface {
	Contains(uri protocol.DocumentURI) bool
}
