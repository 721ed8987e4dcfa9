package parley

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/parley-ls/parley/analysis"
	"github.com/parley-ls/parley/config"
	"github.com/parley-ls/parley/diagnostics"
	"github.com/parley-ls/parley/document"
	"github.com/parley-ls/parley/jsonrpc"
	mw "github.com/parley-ls/parley/middleware"
	"github.com/parley-ls/parley/project"
	"github.com/parley-ls/parley/protocol"
)

// Server routes LSP traffic between the JSON-RPC connection, the document
// synchronizer, the analysis engine, and the diagnostics pipeline.
type Server struct {
	name    string
	version string
	logger  *slog.Logger

	// connection and client proxy (set during Serve)
	conn   *jsonrpc.Conn
	client *Client

	docs     *document.Synchronizer
	engine   analysis.Engine
	loader   *project.Loader
	pipeline *diagnostics.Pipeline

	// config system (nil unless WithConfigFile is used)
	configPath string
	settings   *config.Store[config.Settings]
	bridge     *config.Bridge[config.Settings]
	cfgWatcher *config.Watcher

	middlewares []mw.Middleware

	// raw handlers for custom methods outside the built-in surface
	hmu              sync.RWMutex
	rawHandlers      map[string]RawHandler
	rawNotifHandlers map[string]RawNotificationHandler

	// workspace and lifecycle state
	mu               sync.RWMutex
	rootURI          *protocol.DocumentURI
	workspaceFolders []protocol.WorkspaceFolder
	clientCaps       protocol.ClientCapabilities
	initialized      bool
	shutdown         bool

	// exit terminates the process after an exit notification. Replaceable
	// for tests.
	exit func(code int)
}

// NewServer creates a parley server with the given name and version.
func NewServer(name, version string, opts ...Option) *Server {
	s := &Server{
		name:             name,
		version:          version,
		logger:           slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})),
		rawHandlers:      make(map[string]RawHandler),
		rawNotifHandlers: make(map[string]RawNotificationHandler),
		exit:             os.Exit,
	}
	for _, o := range opts {
		o(s)
	}

	var docOpts []document.Option
	docOpts = append(docOpts, document.WithLogger(s.logger))
	if s.engine != nil {
		docOpts = append(docOpts, document.WithResolver(s.engine))
	}
	s.docs = document.NewSynchronizer(docOpts...)

	return s
}

// Documents returns the open-document synchronizer.
func (s *Server) Documents() *document.Synchronizer { return s.docs }

// Logger returns the server's logger.
func (s *Server) Logger() *slog.Logger { return s.logger }

// Conn returns the JSON-RPC connection, or nil before Serve is called.
func (s *Server) Conn() *jsonrpc.Conn { return s.conn }

func (s *Server) isInitialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized
}

func (s *Server) isShutdown() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.shutdown
}

// dispatch routes incoming requests. Lifecycle methods bypass the
// initialization gate; everything else requires an initialized, not yet
// shut down session.
func (s *Server) dispatch(ctx context.Context, method string, params jsonrpc.RawMessage) (interface{}, error) {
	pctx := newContext(ctx, s)

	switch method {
	case protocol.MethodInitialize:
		return s.handleInitialize(pctx, params)
	case protocol.MethodShutdown:
		return s.handleShutdown(pctx)
	}

	if !s.isInitialized() {
		return nil, &jsonrpc.Error{Code: jsonrpc.CodeServerNotInitialized, Message: "server not initialized"}
	}
	if s.isShutdown() {
		return nil, &jsonrpc.Error{Code: jsonrpc.CodeInvalidRequest, Message: "server is shutting down"}
	}

	switch method {
	case protocol.MethodHover:
		return s.handleHover(pctx, params)
	case protocol.MethodCompletion:
		return s.handleCompletion(pctx, params)
	case protocol.MethodDefinition:
		return s.handleDefinition(pctx, params)
	case protocol.MethodReferences:
		return s.handleReferences(pctx, params)
	case protocol.MethodRename:
		return s.handleRename(pctx, params)
	case protocol.MethodDocumentSymbol:
		return s.handleDocumentSymbol(pctx, params)
	}

	s.hmu.RLock()
	rh, ok := s.rawHandlers[method]
	s.hmu.RUnlock()
	if ok {
		return rh(pctx, params)
	}

	return nil, &jsonrpc.Error{Code: jsonrpc.CodeMethodNotFound, Message: fmt.Sprintf("method not found: %s", method)}
}

// dispatchNotification routes incoming notifications. They run on the
// connection's notification worker, one at a time, in arrival order.
func (s *Server) dispatchNotification(ctx context.Context, method string, params jsonrpc.RawMessage) {
	pctx := newContext(ctx, s)

	switch method {
	case protocol.MethodInitialized:
		s.logger.Info("client initialized")
		return
	case protocol.MethodExit:
		s.handleExit()
		return
	case protocol.MethodSetTrace:
		return
	}

	if !s.isInitialized() || s.isShutdown() {
		s.logger.Debug("dropping notification outside active session", "method", method)
		return
	}

	switch method {
	case protocol.MethodDidOpen:
		var p protocol.DidOpenTextDocumentParams
		if err := json.Unmarshal(params, &p); err != nil {
			s.logger.Warn("malformed didOpen params", "error", err)
			return
		}
		s.docs.Open(&p)

	case protocol.MethodDidChange:
		var p protocol.DidChangeTextDocumentParams
		if err := json.Unmarshal(params, &p); err != nil {
			s.logger.Warn("malformed didChange params", "error", err)
			return
		}
		s.docs.Change(&p)

	case protocol.MethodDidClose:
		var p protocol.DidCloseTextDocumentParams
		if err := json.Unmarshal(params, &p); err != nil {
			s.logger.Warn("malformed didClose params", "error", err)
			return
		}
		s.docs.Close(&p)

	case protocol.MethodDidSave:
		var p protocol.DidSaveTextDocumentParams
		if err := json.Unmarshal(params, &p); err != nil {
			s.logger.Warn("malformed didSave params", "error", err)
			return
		}
		// Saves republish without waiting out the debounce window.
		if s.pipeline != nil && s.docs.Get(p.TextDocument.URI) != nil {
			s.pipeline.PublishNow(p.TextDocument.URI)
		}

	case protocol.MethodDidChangeConfiguration:
		if s.bridge != nil {
			if err := s.bridge.HandleChange(); err != nil {
				s.logger.Warn("reloading configuration", "error", err)
			}
		}

	case protocol.MethodDidChangeWorkspaceFolders:
		var p protocol.DidChangeWorkspaceFoldersParams
		if err := json.Unmarshal(params, &p); err != nil {
			s.logger.Warn("malformed didChangeWorkspaceFolders params", "error", err)
			return
		}
		s.handleWorkspaceFolderChange(p.Event)

	default:
		s.hmu.RLock()
		nh, ok := s.rawNotifHandlers[method]
		s.hmu.RUnlock()
		if ok {
			nh(pctx, params)
		}
	}
}

func (s *Server) handleInitialize(ctx *Context, params jsonrpc.RawMessage) (interface{}, error) {
	var p protocol.InitializeParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &jsonrpc.Error{Code: jsonrpc.CodeInvalidParams, Message: err.Error()}
	}

	s.mu.Lock()
	if s.initialized {
		s.mu.Unlock()
		return nil, &jsonrpc.Error{Code: jsonrpc.CodeInvalidRequest, Message: "server already initialized"}
	}
	s.rootURI = p.RootURI
	s.workspaceFolders = p.WorkspaceFolders
	s.clientCaps = p.Capabilities
	if len(s.workspaceFolders) == 0 && s.rootURI != nil {
		s.workspaceFolders = []protocol.WorkspaceFolder{
			{URI: *s.rootURI, Name: uriBasename(string(*s.rootURI))},
		}
	}
	s.initialized = true
	folders := s.workspaceFolders
	s.mu.Unlock()

	if s.loader != nil {
		s.loader.SetFolders(folderPaths(folders))
		if err := s.loader.Watch(); err != nil {
			s.logger.Warn("project watcher failed to start", "error", err)
		}
	}

	s.logger.Info("server initialized",
		"name", s.name,
		"version", s.version,
		"workspaceFolders", len(folders),
	)

	return &protocol.InitializeResult{
		Capabilities: s.buildCapabilities(),
		ServerInfo: &protocol.ServerInfo{
			Name:    s.name,
			Version: s.version,
		},
	}, nil
}

func (s *Server) handleShutdown(_ *Context) (interface{}, error) {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()
	s.logger.Info("server shutting down")
	return nil, nil
}

// handleExit closes the connection so Run drains and returns, then
// terminates the process: cleanly if shutdown was requested first,
// code 1 otherwise.
func (s *Server) handleExit() {
	s.logger.Info("received exit notification")
	if s.conn != nil {
		s.conn.Close()
	}
	if s.isShutdown() {
		s.exit(0)
		return
	}
	s.exit(1)
}

func (s *Server) handleWorkspaceFolderChange(event protocol.WorkspaceFoldersChangeEvent) {
	s.mu.Lock()
	for _, removed := range event.Removed {
		for i, f := range s.workspaceFolders {
			if f.URI == removed.URI {
				s.workspaceFolders = append(s.workspaceFolders[:i], s.workspaceFolders[i+1:]...)
				break
			}
		}
	}
	s.workspaceFolders = append(s.workspaceFolders, event.Added...)
	folders := s.workspaceFolders
	s.mu.Unlock()

	if s.loader != nil {
		s.loader.SetFolders(folderPaths(folders))
	}

	s.logger.Info("workspace folders changed",
		"added", len(event.Added),
		"removed", len(event.Removed),
	)
}

// FolderFor returns the workspace folder containing the given document URI,
// using longest-prefix matching. Returns nil if no folder matches.
func (s *Server) FolderFor(uri protocol.DocumentURI) *protocol.WorkspaceFolder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	uriStr := string(uri)
	var best *protocol.WorkspaceFolder
	bestLen := 0
	for i := range s.workspaceFolders {
		prefix := string(s.workspaceFolders[i].URI)
		if strings.HasPrefix(uriStr, prefix) && len(prefix) > bestLen {
			best = &s.workspaceFolders[i]
			bestLen = len(prefix)
		}
	}
	return best
}

func folderPaths(folders []protocol.WorkspaceFolder) []string {
	paths := make([]string, 0, len(folders))
	for _, f := range folders {
		if path := project.URIPath(f.URI); path != "" {
			paths = append(paths, path)
		}
	}
	return paths
}

func uriBasename(uri string) string {
	trimmed := strings.TrimRight(uri, "/")
	if idx := strings.LastIndex(trimmed, "/"); idx >= 0 {
		return trimmed[idx+1:]
	}
	return trimmed
}
