// Package diagnostics turns document changes into publishDiagnostics
// notifications. Edits are debounced per document so a typing burst costs
// one analysis pass, while opens publish immediately.
package diagnostics

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/parley-ls/parley/analysis"
	"github.com/parley-ls/parley/document"
	"github.com/parley-ls/parley/protocol"
)

// Analyzer computes diagnostics. Implemented by the analysis engine.
type Analyzer interface {
	Diagnostics(ctx context.Context, h analysis.Handle) ([]protocol.Diagnostic, error)
	DiagnosticsStandalone(ctx context.Context, uri protocol.DocumentURI, languageID, text string) ([]protocol.Diagnostic, error)
}

// Publisher delivers diagnostics to the client.
type Publisher interface {
	PublishDiagnostics(ctx context.Context, params *protocol.PublishDiagnosticsParams) error
}

// DefaultDebounce is the delay between the last edit and recomputation.
const DefaultDebounce = 300 * time.Millisecond

// uriState tracks one document's place in the debounce cycle. The
// generation counter invalidates everything scheduled before the latest
// trigger: a computation that finishes with a stale generation never
// publishes. cancel is the running computation's signal, fired the moment
// a newer trigger supersedes it so the engine stops working on stale text.
type uriState struct {
	timer      *time.Timer
	generation uint64
	cancel     context.CancelFunc
}

// Pipeline owns diagnostics scheduling for all open documents.
type Pipeline struct {
	docs      *document.Synchronizer
	engine    Analyzer
	publisher Publisher
	logger    *slog.Logger

	mu          sync.Mutex
	states      map[protocol.DocumentURI]*uriState
	debounce    time.Duration
	minSeverity protocol.DiagnosticSeverity
	closed      bool

	computations sync.WaitGroup
	ctx          context.Context
	cancel       context.CancelFunc
	closeOnce    sync.Once
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithDebounce sets the edit debounce delay.
func WithDebounce(d time.Duration) Option {
	return func(p *Pipeline) { p.debounce = d }
}

// WithMinSeverity drops diagnostics less severe than the given level.
func WithMinSeverity(sev protocol.DiagnosticSeverity) Option {
	return func(p *Pipeline) { p.minSeverity = sev }
}

// WithLogger sets the pipeline's logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// NewPipeline creates a pipeline reading documents from docs, computing via
// engine, and delivering through publisher.
func NewPipeline(docs *document.Synchronizer, engine Analyzer, publisher Publisher, opts ...Option) *Pipeline {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		docs:        docs,
		engine:      engine,
		publisher:   publisher,
		logger:      slog.Default(),
		states:      make(map[protocol.DocumentURI]*uriState),
		debounce:    DefaultDebounce,
		minSeverity: protocol.SeverityHint,
		ctx:         ctx,
		cancel:      cancel,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// SetDebounce changes the debounce delay for subsequent triggers.
func (p *Pipeline) SetDebounce(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.debounce = d
}

// SetMinSeverity changes the severity floor for subsequent publishes.
func (p *Pipeline) SetMinSeverity(sev protocol.DiagnosticSeverity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.minSeverity = sev
}

// HandleChange is the document synchronizer subscription point: opens
// publish immediately, edits debounce, closes clear.
func (p *Pipeline) HandleChange(ev document.ChangeEvent) {
	switch ev.Kind {
	case document.Opened:
		p.PublishNow(ev.URI)
	case document.Changed:
		p.Trigger(ev.URI)
	case document.Closed:
		p.Clear(ev.URI)
	}
}

// Trigger schedules a recomputation after the debounce delay. A trigger
// while one is already scheduled restarts the delay; a trigger while a
// computation is running invalidates its result.
func (p *Pipeline) Trigger(uri protocol.DocumentURI) {
	p.mu.Lock()
	st := p.advance(uri)
	gen := st.generation
	if st.timer != nil {
		st.timer.Stop()
	}
	st.timer = time.AfterFunc(p.debounce, func() {
		if !p.track() {
			return
		}
		defer p.computations.Done()
		p.compute(uri, gen)
	})
	p.mu.Unlock()
}

// PublishNow recomputes without waiting, superseding anything scheduled.
func (p *Pipeline) PublishNow(uri protocol.DocumentURI) {
	p.mu.Lock()
	st := p.advance(uri)
	gen := st.generation
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	p.mu.Unlock()

	if !p.track() {
		return
	}
	go func() {
		defer p.computations.Done()
		p.compute(uri, gen)
	}()
}

// track registers one computation with the close barrier, refusing after
// Close so a late timer firing cannot race the final wait.
func (p *Pipeline) track() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.computations.Add(1)
	return true
}

// Clear cancels pending work for the document and publishes an empty set so
// the client drops stale squiggles.
func (p *Pipeline) Clear(uri protocol.DocumentURI) {
	p.mu.Lock()
	if st, ok := p.states[uri]; ok {
		st.generation++
		if st.timer != nil {
			st.timer.Stop()
		}
		if st.cancel != nil {
			st.cancel()
			st.cancel = nil
		}
		delete(p.states, uri)
	}
	p.mu.Unlock()

	p.publish(&protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
}

// advance bumps the document's generation and cancels the superseded
// computation, creating state on first use. Callers hold p.mu.
func (p *Pipeline) advance(uri protocol.DocumentURI) *uriState {
	st, ok := p.states[uri]
	if !ok {
		st = &uriState{}
		p.states[uri] = st
	}
	st.generation++
	if st.cancel != nil {
		st.cancel()
		st.cancel = nil
	}
	return st
}

// current reports whether gen is still the document's latest generation.
func (p *Pipeline) current(uri protocol.DocumentURI, gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.states[uri]
	return ok && st.generation == gen
}

// beginRun claims the active-run slot for a document: it verifies gen is
// still current and installs the run's cancellation signal, which the next
// trigger fires. A nil return means the run was superseded before it began.
func (p *Pipeline) beginRun(uri protocol.DocumentURI, gen uint64) context.Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.states[uri]
	if !ok || st.generation != gen {
		return nil
	}
	ctx, cancel := context.WithCancel(p.ctx)
	st.cancel = cancel
	return ctx
}

// endRun releases the active-run slot if this run still owns it. A
// superseded run's signal was already fired and replaced by advance.
func (p *Pipeline) endRun(uri protocol.DocumentURI, gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.states[uri]
	if ok && st.generation == gen && st.cancel != nil {
		st.cancel()
		st.cancel = nil
	}
}

// compute runs one analysis pass and publishes its result, unless a newer
// generation superseded it along the way.
func (p *Pipeline) compute(uri protocol.DocumentURI, gen uint64) {
	ctx := p.beginRun(uri, gen)
	if ctx == nil {
		return
	}
	defer p.endRun(uri, gen)

	doc := p.docs.Get(uri)
	if doc == nil {
		return
	}
	version, text, _ := doc.Snapshot()

	var (
		diags []protocol.Diagnostic
		err   error
	)
	if h := p.docs.ResolveHandleFor(uri); h != nil {
		diags, err = p.engine.Diagnostics(ctx, h)
	} else {
		diags, err = p.engine.DiagnosticsStandalone(ctx, uri, doc.LanguageID(), text)
	}

	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		// Analysis failure must not leave stale squiggles behind.
		p.logger.Warn("diagnostics computation failed", "uri", uri, "error", err)
		diags = nil
	}

	if !p.current(uri, gen) {
		return
	}

	p.publish(&protocol.PublishDiagnosticsParams{
		URI:         uri,
		Version:     &version,
		Diagnostics: p.filter(diags),
	})
}

// filter applies the severity floor. Diagnostics without a severity are
// treated as errors and always kept.
func (p *Pipeline) filter(diags []protocol.Diagnostic) []protocol.Diagnostic {
	p.mu.Lock()
	floor := p.minSeverity
	p.mu.Unlock()

	kept := make([]protocol.Diagnostic, 0, len(diags))
	for _, d := range diags {
		if d.Severity != 0 && d.Severity > floor {
			continue
		}
		kept = append(kept, d)
	}
	return kept
}

func (p *Pipeline) publish(params *protocol.PublishDiagnosticsParams) {
	if err := p.publisher.PublishDiagnostics(p.ctx, params); err != nil {
		p.logger.Warn("publishing diagnostics", "uri", params.URI, "error", err)
	}
}

// Close cancels all pending work and waits for running computations.
func (p *Pipeline) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		for _, st := range p.states {
			st.generation++
			if st.timer != nil {
				st.timer.Stop()
			}
			if st.cancel != nil {
				st.cancel()
				st.cancel = nil
			}
		}
		p.states = make(map[protocol.DocumentURI]*uriState)
		p.mu.Unlock()

		p.cancel()
		p.computations.Wait()
	})
}
