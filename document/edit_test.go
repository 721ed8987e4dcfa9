package document

import (
	"testing"

	"github.com/parley-ls/parley/protocol"
)

func rng(sl, sc, el, ec uint32) *protocol.Range {
	return &protocol.Range{
		Start: protocol.Position{Line: sl, Character: sc},
		End:   protocol.Position{Line: el, Character: ec},
	}
}

func TestApplyChanges(t *testing.T) {
	text := "hello world"
	changes := []protocol.TextDocumentContentChangeEvent{
		{Range: rng(0, 6, 0, 11), Text: "parley"},
	}
	got := ApplyChanges(text, changes)
	want := "hello parley"
	if got != want {
		t.Errorf("ApplyChanges = %q, want %q", got, want)
	}
}

func TestApplyChangesFullReplace(t *testing.T) {
	changes := []protocol.TextDocumentContentChangeEvent{
		{Text: "entirely new"},
	}
	got := ApplyChanges("old text", changes)
	if got != "entirely new" {
		t.Errorf("ApplyChanges = %q, want %q", got, "entirely new")
	}
}

func TestApplyChangesProgressive(t *testing.T) {
	// Each edit's range is resolved against the text produced by the
	// previous edit, not the original.
	text := "abc"
	changes := []protocol.TextDocumentContentChangeEvent{
		{Range: rng(0, 1, 0, 2), Text: "XY"}, // "abc" -> "aXYc"
		{Range: rng(0, 3, 0, 3), Text: "ZZ"}, // "aXYc" -> "aXYZZc"
		{Range: rng(0, 0, 0, 1), Text: ""},   // "aXYZZc" -> "XYZZc"
	}
	got := ApplyChanges(text, changes)
	want := "XYZZc"
	if got != want {
		t.Errorf("ApplyChanges = %q, want %q", got, want)
	}
}

func TestApplyChangesMultiline(t *testing.T) {
	text := "line one\nline two\nline three"
	changes := []protocol.TextDocumentContentChangeEvent{
		{Range: rng(0, 5, 1, 4), Text: ""},
	}
	got := ApplyChanges(text, changes)
	want := "line  two\nline three"
	if got != want {
		t.Errorf("ApplyChanges = %q, want %q", got, want)
	}
}

func TestApplyChangesMixedFullAndIncremental(t *testing.T) {
	text := "irrelevant"
	changes := []protocol.TextDocumentContentChangeEvent{
		{Text: "fresh start"},
		{Range: rng(0, 0, 0, 5), Text: "clean"},
	}
	got := ApplyChanges(text, changes)
	want := "clean start"
	if got != want {
		t.Errorf("ApplyChanges = %q, want %q", got, want)
	}
}
