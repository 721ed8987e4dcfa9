// Package parley implements an LSP server core for editor integrations:
// Content-Length framed JSON-RPC over stdio or a named pipe, concurrent
// request dispatch with $/cancelRequest support, an open-document
// synchronizer, and a debounced diagnostics pipeline driven by a
// tree-sitter analysis engine.
//
// A server is assembled from an engine and served over a transport:
//
//	engine := analysis.NewTreeSitter(analysis.Config{...})
//	s := parley.NewServer("parley", "0.1.0", parley.WithEngine(engine))
//	parley.Serve(s, parley.WithStdio())
package parley
