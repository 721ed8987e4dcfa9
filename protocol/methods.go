package protocol

// LSP method constants.
const (
	// Lifecycle
	MethodInitialize  = "initialize"
	MethodInitialized = "initialized"
	MethodShutdown    = "shutdown"
	MethodExit        = "exit"
	MethodSetTrace    = "$/setTrace"

	// Text document sync
	MethodDidOpen   = "textDocument/didOpen"
	MethodDidChange = "textDocument/didChange"
	MethodDidClose  = "textDocument/didClose"
	MethodDidSave   = "textDocument/didSave"

	// Language features
	MethodHover          = "textDocument/hover"
	MethodCompletion     = "textDocument/completion"
	MethodDefinition     = "textDocument/definition"
	MethodReferences     = "textDocument/references"
	MethodRename         = "textDocument/rename"
	MethodDocumentSymbol = "textDocument/documentSymbol"

	// Workspace
	MethodDidChangeConfiguration    = "workspace/didChangeConfiguration"
	MethodDidChangeWorkspaceFolders = "workspace/didChangeWorkspaceFolders"

	// Client notifications (server -> client)
	MethodPublishDiagnostics = "textDocument/publishDiagnostics"
	MethodLogMessage         = "window/logMessage"
	MethodShowMessage        = "window/showMessage"
)
