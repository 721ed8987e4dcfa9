package document

import (
	"sync/atomic"
	"testing"

	"github.com/parley-ls/parley/analysis"
	"github.com/parley-ls/parley/protocol"
)

type fakeHandle struct {
	uri    protocol.DocumentURI
	closed atomic.Bool
}

func (h *fakeHandle) URI() protocol.DocumentURI { return h.uri }
func (h *fakeHandle) Close()                    { h.closed.Store(true) }

// fakeResolver resolves handles only for URIs in its known set, mimicking a
// project model that covers part of the workspace.
type fakeResolver struct {
	known map[protocol.DocumentURI]bool
}

func (r *fakeResolver) ResolveHandle(uri protocol.DocumentURI, languageID, text string) (analysis.Handle, bool) {
	if !r.known[uri] {
		return nil, false
	}
	return &fakeHandle{uri: uri}, true
}

func openParams(uri protocol.DocumentURI, version int32, text string) *protocol.DidOpenTextDocumentParams {
	return &protocol.DidOpenTextDocumentParams{
		TextDocument: protocol.TextDocumentItem{
			URI:        uri,
			LanguageID: "go",
			Version:    version,
			Text:       text,
		},
	}
}

func changeParams(uri protocol.DocumentURI, version int32, changes ...protocol.TextDocumentContentChangeEvent) *protocol.DidChangeTextDocumentParams {
	return &protocol.DidChangeTextDocumentParams{
		TextDocument: protocol.VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: uri},
			Version:                version,
		},
		ContentChanges: changes,
	}
}

func TestSynchronizerOpenChange(t *testing.T) {
	s := NewSynchronizer()
	var events []ChangeEvent
	s.OnChange(func(ev ChangeEvent) { events = append(events, ev) })

	uri := protocol.DocumentURI("file:///main.go")
	s.Open(openParams(uri, 1, "package main"))

	doc := s.Get(uri)
	if doc == nil {
		t.Fatal("document not stored after Open")
	}
	if doc.Text() != "package main" {
		t.Errorf("text = %q, want %q", doc.Text(), "package main")
	}

	s.Change(changeParams(uri, 2, protocol.TextDocumentContentChangeEvent{Text: "package app"}))
	if got := doc.Text(); got != "package app" {
		t.Errorf("text after change = %q, want %q", got, "package app")
	}
	if got := doc.Version(); got != 2 {
		t.Errorf("version = %d, want 2", got)
	}

	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Kind != Opened || events[0].Version != 1 {
		t.Errorf("first event = %+v, want Opened v1", events[0])
	}
	if events[1].Kind != Changed || events[1].Version != 2 {
		t.Errorf("second event = %+v, want Changed v2", events[1])
	}
}

func TestSynchronizerRejectsNonIncreasingVersion(t *testing.T) {
	s := NewSynchronizer()
	uri := protocol.DocumentURI("file:///main.go")
	s.Open(openParams(uri, 5, "original"))

	var changed int
	s.OnChange(func(ev ChangeEvent) {
		if ev.Kind == Changed {
			changed++
		}
	})

	for _, version := range []int32{5, 4, 0} {
		s.Change(changeParams(uri, version, protocol.TextDocumentContentChangeEvent{Text: "mutated"}))
	}

	doc := s.Get(uri)
	if doc.Text() != "original" {
		t.Errorf("stale-version change mutated text: %q", doc.Text())
	}
	if doc.Version() != 5 {
		t.Errorf("version = %d, want 5", doc.Version())
	}
	if changed != 0 {
		t.Errorf("got %d Changed events for rejected changes, want 0", changed)
	}

	// A properly increasing version still applies afterwards.
	s.Change(changeParams(uri, 6, protocol.TextDocumentContentChangeEvent{Text: "mutated"}))
	if doc.Text() != "mutated" || doc.Version() != 6 {
		t.Errorf("valid change not applied: text=%q version=%d", doc.Text(), doc.Version())
	}
}

func TestSynchronizerIgnoresUnopenedChange(t *testing.T) {
	s := NewSynchronizer()
	var events int
	s.OnChange(func(ChangeEvent) { events++ })

	s.Change(changeParams("file:///ghost.go", 1, protocol.TextDocumentContentChangeEvent{Text: "boo"}))

	if s.Get("file:///ghost.go") != nil {
		t.Error("change for unopened document created a document")
	}
	if events != 0 {
		t.Errorf("got %d events, want 0", events)
	}
}

func TestSynchronizerCloseReleasesHandle(t *testing.T) {
	uri := protocol.DocumentURI("file:///main.go")
	s := NewSynchronizer(WithResolver(&fakeResolver{known: map[protocol.DocumentURI]bool{uri: true}}))

	var events []ChangeEvent
	s.OnChange(func(ev ChangeEvent) { events = append(events, ev) })

	s.Open(openParams(uri, 1, "package main"))
	h, ok := s.Handle(uri).(*fakeHandle)
	if !ok {
		t.Fatal("handle not resolved on open")
	}

	s.Close(&protocol.DidCloseTextDocumentParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: uri},
	})

	if s.Get(uri) != nil {
		t.Error("document still present after Close")
	}
	if !h.closed.Load() {
		t.Error("handle not closed on document close")
	}
	if len(events) != 2 || events[1].Kind != Closed {
		t.Fatalf("events = %+v, want [Opened Closed]", events)
	}
}

func TestSynchronizerChangeInvalidatesHandle(t *testing.T) {
	uri := protocol.DocumentURI("file:///main.go")
	s := NewSynchronizer(WithResolver(&fakeResolver{known: map[protocol.DocumentURI]bool{uri: true}}))

	s.Open(openParams(uri, 1, "package main"))
	h := s.Handle(uri).(*fakeHandle)

	s.Change(changeParams(uri, 2, protocol.TextDocumentContentChangeEvent{Text: "package app"}))

	if !h.closed.Load() {
		t.Error("stale handle not closed after change")
	}
	if s.Get(uri).Handle() != nil {
		t.Error("handle not invalidated after change")
	}

	// Lazy re-resolution picks up a fresh handle for the new text.
	if s.ResolveHandleFor(uri) == nil {
		t.Error("ResolveHandleFor did not re-resolve after invalidation")
	}
}

func TestSynchronizerReassociate(t *testing.T) {
	covered := protocol.DocumentURI("file:///in/project.go")
	outside := protocol.DocumentURI("file:///outside.go")
	resolver := &fakeResolver{known: map[protocol.DocumentURI]bool{}}
	s := NewSynchronizer(WithResolver(resolver))

	var opened []protocol.DocumentURI
	s.OnChange(func(ev ChangeEvent) {
		if ev.Kind == Opened {
			opened = append(opened, ev.URI)
		}
	})

	s.Open(openParams(covered, 1, "package project"))
	s.Open(openParams(outside, 1, "package other"))
	if s.Handle(covered) != nil {
		t.Fatal("handle resolved before project model covers the file")
	}

	// Project model loads and now covers one of the two documents.
	resolver.known[covered] = true
	s.Reassociate()

	if s.Handle(covered) == nil {
		t.Error("covered document not reassociated")
	}
	if s.Handle(outside) != nil {
		t.Error("uncovered document gained a handle")
	}

	// Opened fires once per open plus once for the single reassociation.
	if len(opened) != 3 {
		t.Fatalf("got %d Opened events, want 3", len(opened))
	}
	if opened[2] != covered {
		t.Errorf("reassociation event for %s, want %s", opened[2], covered)
	}

	// A second reassociation with nothing new to resolve is a no-op.
	s.Reassociate()
	if len(opened) != 3 {
		t.Errorf("redundant Reassociate emitted events: %d", len(opened))
	}
}
