package document

import "github.com/parley-ls/parley/protocol"

// ApplyChanges applies a set of LSP content change events to document text.
// Edits are applied in order against the progressively updated text, as the
// protocol requires: each range in a multi-edit notification refers to the
// text produced by the preceding edits, not the original. An edit with no
// range replaces the entire content.
func ApplyChanges(text string, changes []protocol.TextDocumentContentChangeEvent) string {
	for _, change := range changes {
		if change.Range == nil {
			text = change.Text
			continue
		}
		start := OffsetAt(text, change.Range.Start)
		end := OffsetAt(text, change.Range.End)
		if start < 0 {
			start = 0
		}
		if end > len(text) {
			end = len(text)
		}
		if start > end {
			start = end
		}
		text = text[:start] + change.Text + text[end:]
	}
	return text
}
