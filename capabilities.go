package parley

import "github.com/parley-ls/parley/protocol"

// buildCapabilities returns a ServerCapabilities struct reflecting what this
// server actually serves. Document sync is always on; language features are
// advertised only when an analysis engine is configured.
func (s *Server) buildCapabilities() protocol.ServerCapabilities {
	caps := protocol.ServerCapabilities{
		TextDocumentSync: &protocol.TextDocumentSyncOptions{
			OpenClose: true,
			Change:    protocol.SyncIncremental,
			Save:      &protocol.SaveOptions{},
		},
	}

	if s.engine != nil {
		caps.HoverProvider = true
		caps.CompletionProvider = &protocol.CompletionOptions{}
		caps.DefinitionProvider = true
		caps.ReferencesProvider = true
		caps.RenameProvider = true
		caps.DocumentSymbolProvider = true
	}

	caps.Workspace = &protocol.ServerWorkspaceCapabilities{
		WorkspaceFolders: &protocol.WorkspaceFoldersServerCapabilities{
			Supported:           true,
			ChangeNotifications: true,
		},
	}

	return caps
}
