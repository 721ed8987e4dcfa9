package parley

import (
	"context"
	"log/slog"

	"github.com/parley-ls/parley/document"
	"github.com/parley-ls/parley/protocol"
)

// Context wraps context.Context with accessors for the session's services.
// It is passed to every request and notification handler.
type Context struct {
	context.Context

	Client    *Client
	Documents *document.Synchronizer
	server    *Server
}

func newContext(ctx context.Context, s *Server) *Context {
	return &Context{
		Context:   ctx,
		Client:    s.client,
		Documents: s.docs,
		server:    s,
	}
}

// Logger returns the server's logger.
func (c *Context) Logger() *slog.Logger {
	return c.server.logger
}

// ServerInfo returns the server's name and version.
func (c *Context) ServerInfo() protocol.ServerInfo {
	return protocol.ServerInfo{
		Name:    c.server.name,
		Version: c.server.version,
	}
}

// WorkspaceRoot returns the primary workspace root URI: the first workspace
// folder, or the rootUri from initialize if no folders were sent.
func (c *Context) WorkspaceRoot() protocol.DocumentURI {
	c.server.mu.RLock()
	defer c.server.mu.RUnlock()
	if len(c.server.workspaceFolders) > 0 {
		return c.server.workspaceFolders[0].URI
	}
	if c.server.rootURI != nil {
		return *c.server.rootURI
	}
	return ""
}

// WorkspaceFolders returns all current workspace folders, reflecting
// dynamic adds and removes.
func (c *Context) WorkspaceFolders() []protocol.WorkspaceFolder {
	c.server.mu.RLock()
	defer c.server.mu.RUnlock()
	out := make([]protocol.WorkspaceFolder, len(c.server.workspaceFolders))
	copy(out, c.server.workspaceFolders)
	return out
}

// FolderFor returns the workspace folder containing the given document URI.
func (c *Context) FolderFor(uri protocol.DocumentURI) *protocol.WorkspaceFolder {
	return c.server.FolderFor(uri)
}

// ClientCapabilities returns the capabilities sent by the client during
// initialization.
func (c *Context) ClientCapabilities() protocol.ClientCapabilities {
	c.server.mu.RLock()
	defer c.server.mu.RUnlock()
	return c.server.clientCaps
}
