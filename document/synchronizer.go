package document

import (
	"log/slog"
	"sync"

	"github.com/parley-ls/parley/analysis"
	"github.com/parley-ls/parley/protocol"
)

// ChangeKind says what happened to a document.
type ChangeKind int

const (
	// Opened: the document was opened, or its analysis handle resolved
	// for the first time (reassociation). Consumers compute diagnostics
	// immediately.
	Opened ChangeKind = iota + 1
	// Changed: the document's text changed. Consumers debounce.
	Changed
	// Closed: the document was closed. Consumers clear diagnostics; they
	// must not recompute.
	Closed
)

func (k ChangeKind) String() string {
	switch k {
	case Opened:
		return "opened"
	case Changed:
		return "changed"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// ChangeEvent is delivered to subscribers after a document mutation.
type ChangeEvent struct {
	URI     protocol.DocumentURI
	Version int32
	Kind    ChangeKind
}

// HandleResolver resolves a document state to an analysis-engine snapshot
// handle. Implemented by the analysis engine.
type HandleResolver interface {
	ResolveHandle(uri protocol.DocumentURI, languageID, text string) (analysis.Handle, bool)
}

// Synchronizer maintains the open-document table. The table lock is scoped
// to map operations only; per-document mutation uses each document's own
// lock and resolver calls happen outside both.
type Synchronizer struct {
	mu   sync.RWMutex
	docs map[protocol.DocumentURI]*Document

	resolver HandleResolver
	logger   *slog.Logger

	smu         sync.RWMutex
	subscribers []func(ChangeEvent)
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithResolver sets the analysis handle resolver. Without one, documents
// simply never carry handles and consumers use standalone analysis.
func WithResolver(r HandleResolver) Option {
	return func(s *Synchronizer) { s.resolver = r }
}

// WithLogger sets the synchronizer's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Synchronizer) { s.logger = l }
}

// NewSynchronizer creates an empty synchronizer.
func NewSynchronizer(opts ...Option) *Synchronizer {
	s := &Synchronizer{
		docs:   make(map[protocol.DocumentURI]*Document),
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// OnChange registers a subscriber for document change events. Subscribers
// run synchronously in mutation order; they must not block.
func (s *Synchronizer) OnChange(fn func(ChangeEvent)) {
	s.smu.Lock()
	defer s.smu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

func (s *Synchronizer) emit(ev ChangeEvent) {
	s.smu.RLock()
	subs := s.subscribers
	s.smu.RUnlock()
	for _, fn := range subs {
		fn(ev)
	}
}

// Get returns the document for the given URI, or nil if not open.
func (s *Synchronizer) Get(uri protocol.DocumentURI) *Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.docs[uri]
}

// URIs returns all open document URIs.
func (s *Synchronizer) URIs() []protocol.DocumentURI {
	s.mu.RLock()
	defer s.mu.RUnlock()
	uris := make([]protocol.DocumentURI, 0, len(s.docs))
	for uri := range s.docs {
		uris = append(uris, uri)
	}
	return uris
}

// Handle returns the analysis handle for an open document, or nil if the
// document is not open or its handle is unresolved.
func (s *Synchronizer) Handle(uri protocol.DocumentURI) analysis.Handle {
	doc := s.Get(uri)
	if doc == nil {
		return nil
	}
	return doc.Handle()
}

// Open inserts a document from a didOpen notification. If the engine's
// project model already knows the URI the handle is resolved eagerly;
// otherwise it stays nil until reassociation or a lazy resolve.
func (s *Synchronizer) Open(params *protocol.DidOpenTextDocumentParams) {
	item := params.TextDocument
	doc := newDocument(item)

	s.mu.Lock()
	if _, exists := s.docs[item.URI]; exists {
		s.logger.Warn("didOpen for already-open document, replacing", "uri", item.URI)
	}
	s.docs[item.URI] = doc
	s.mu.Unlock()

	if s.resolver != nil {
		if h, ok := s.resolver.ResolveHandle(item.URI, item.LanguageID, item.Text); ok {
			doc.setHandle(h)
		}
	}

	s.emit(ChangeEvent{URI: item.URI, Version: item.Version, Kind: Opened})
}

// Change applies a didChange notification. A notification for a document
// that was never opened, or one whose version is not strictly increasing,
// is a protocol violation: it is logged and ignored, never applied.
func (s *Synchronizer) Change(params *protocol.DidChangeTextDocumentParams) {
	uri := params.TextDocument.URI
	doc := s.Get(uri)
	if doc == nil {
		s.logger.Warn("didChange for unopened document, ignoring", "uri", uri)
		return
	}

	stale, err := doc.applyChanges(params.TextDocument.Version, params.ContentChanges)
	if err != nil {
		s.logger.Warn("rejecting didChange", "uri", uri, "error", err)
		return
	}
	if stale != nil {
		stale.Close()
	}

	s.emit(ChangeEvent{URI: uri, Version: params.TextDocument.Version, Kind: Changed})
}

// Close removes a document and releases its handle.
func (s *Synchronizer) Close(params *protocol.DidCloseTextDocumentParams) {
	uri := params.TextDocument.URI

	s.mu.Lock()
	doc := s.docs[uri]
	delete(s.docs, uri)
	s.mu.Unlock()

	if doc == nil {
		s.logger.Warn("didClose for unopened document", "uri", uri)
		return
	}

	version := doc.Version()
	doc.setHandle(nil)

	s.emit(ChangeEvent{URI: uri, Version: version, Kind: Closed})
}

// ResolveHandleFor resolves (or re-resolves) the handle for one open
// document against its current text. Returns the document's handle, which
// may still be nil if the engine declines.
func (s *Synchronizer) ResolveHandleFor(uri protocol.DocumentURI) analysis.Handle {
	doc := s.Get(uri)
	if doc == nil || s.resolver == nil {
		return nil
	}
	if h := doc.Handle(); h != nil {
		return h
	}

	_, text, _ := doc.Snapshot()
	h, ok := s.resolver.ResolveHandle(uri, doc.LanguageID(), text)
	if !ok {
		return nil
	}
	doc.setHandle(h)
	return h
}

// Reassociate re-resolves handles for every open document that has none.
// Called when the project loader reports that its model changed: documents
// opened before the model loaded finally get handles, and each newly
// resolved document fires an Opened event so diagnostics are computed for
// the first time.
func (s *Synchronizer) Reassociate() {
	if s.resolver == nil {
		return
	}

	s.mu.RLock()
	pending := make([]*Document, 0, len(s.docs))
	for _, doc := range s.docs {
		if doc.Handle() == nil {
			pending = append(pending, doc)
		}
	}
	s.mu.RUnlock()

	for _, doc := range pending {
		version, text, _ := doc.Snapshot()
		h, ok := s.resolver.ResolveHandle(doc.URI(), doc.LanguageID(), text)
		if !ok {
			continue
		}
		doc.setHandle(h)
		s.logger.Debug("reassociated document", "uri", doc.URI())
		s.emit(ChangeEvent{URI: doc.URI(), Version: version, Kind: Opened})
	}
}
