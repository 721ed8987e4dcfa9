// Package document keeps the authoritative table of open editor documents
// in lockstep with the client: incremental and full-text edits, version
// tracking, and the mapping from each document to its analysis-engine
// snapshot handle.
package document

import (
	"fmt"
	"sync"

	"github.com/parley-ls/parley/analysis"
	"github.com/parley-ls/parley/protocol"
)

// Document is a single open text document. All mutation goes through the
// document's own lock, so edits to one document are serialized while
// unrelated documents never contend.
type Document struct {
	mu         sync.RWMutex
	uri        protocol.DocumentURI
	languageID string
	version    int32
	text       string

	// handle references the analysis engine's snapshot of this document.
	// nil until the engine can resolve it; invalidated on every text
	// change and lazily re-resolved.
	handle analysis.Handle
}

func newDocument(item protocol.TextDocumentItem) *Document {
	return &Document{
		uri:        item.URI,
		languageID: item.LanguageID,
		version:    item.Version,
		text:       item.Text,
	}
}

// URI returns the document's URI.
func (d *Document) URI() protocol.DocumentURI {
	return d.uri
}

// LanguageID returns the LSP language identifier (e.g., "go", "python").
func (d *Document) LanguageID() string {
	return d.languageID
}

// Version returns the document's current version number.
func (d *Document) Version() int32 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.version
}

// Text returns the full text content of the document.
func (d *Document) Text() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.text
}

// Snapshot returns the version, text, and handle as one consistent read.
func (d *Document) Snapshot() (version int32, text string, handle analysis.Handle) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.version, d.text, d.handle
}

// Handle returns the document's analysis handle, or nil if unresolved.
func (d *Document) Handle() analysis.Handle {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.handle
}

// OffsetAt converts an LSP position to a byte offset in the document text.
func (d *Document) OffsetAt(pos protocol.Position) int {
	return OffsetAt(d.Text(), pos)
}

// PositionAt converts a byte offset to an LSP position.
func (d *Document) PositionAt(offset int) protocol.Position {
	return PositionAt(d.Text(), offset)
}

// WordAt returns the word under the given position.
func (d *Document) WordAt(pos protocol.Position) string {
	return WordAt(d.Text(), pos)
}

// setHandle stores a new analysis handle, closing the superseded one.
func (d *Document) setHandle(h analysis.Handle) {
	d.mu.Lock()
	old := d.handle
	d.handle = h
	d.mu.Unlock()
	if old != nil {
		old.Close()
	}
}

// applyChanges applies a didChange notification's edits. The version must
// be strictly greater than the stored version; a non-increasing version is
// a protocol violation and leaves the document untouched. The stale handle
// is returned for the caller to close outside the lock.
func (d *Document) applyChanges(version int32, changes []protocol.TextDocumentContentChangeEvent) (stale analysis.Handle, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if version <= d.version {
		return nil, fmt.Errorf("non-increasing version %d for %s (have %d)", version, d.uri, d.version)
	}

	d.text = ApplyChanges(d.text, changes)
	d.version = version

	stale = d.handle
	d.handle = nil
	return stale, nil
}
