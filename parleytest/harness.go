// Package parleytest provides testing utilities for parley servers: an
// in-memory client that speaks the framed protocol without network I/O,
// plus assertion helpers for common LSP patterns.
package parleytest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/parley-ls/parley"
	"github.com/parley-ls/parley/jsonrpc"
	"github.com/parley-ls/parley/protocol"
	"github.com/parley-ls/parley/transport"
)

// Client is a test LSP client connected to a server over an in-memory
// transport. It records every notification the server sends.
type Client struct {
	t    testing.TB
	conn *jsonrpc.Conn
	stop func()

	mu            sync.Mutex
	notifications []notification
	initResult    *protocol.InitializeResult
}

type notification struct {
	Method string
	Params json.RawMessage
}

// NewClient starts the server in a background goroutine, connects a client
// to it, and runs the initialize handshake. Everything is torn down when
// the test completes.
func NewClient(t testing.TB, s *parley.Server) *Client {
	clientTransport, serverTransport := transport.MemoryPipe()

	ctx, cancel := context.WithCancel(context.Background())

	c := &Client{
		t:    t,
		stop: cancel,
	}

	go func() {
		err := parley.Serve(s, parley.WithTransport(serverTransport))
		if err != nil && ctx.Err() == nil {
			t.Logf("server error: %v", err)
		}
	}()

	codec := jsonrpc.NewCodec(clientTransport, clientTransport)
	c.conn = jsonrpc.NewConn(codec, func(ctx context.Context, method string, params jsonrpc.RawMessage) (interface{}, error) {
		return nil, &jsonrpc.Error{Code: jsonrpc.CodeMethodNotFound, Message: "client does not handle requests"}
	}, func(ctx context.Context, method string, params jsonrpc.RawMessage) {
		c.mu.Lock()
		c.notifications = append(c.notifications, notification{Method: method, Params: params})
		c.mu.Unlock()
	})

	go func() {
		c.conn.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		c.conn.Close()
		clientTransport.Close()
	})

	c.Initialize()

	return c
}

// Initialize sends the initialize request and initialized notification.
func (c *Client) Initialize() *protocol.InitializeResult {
	c.t.Helper()
	params := &protocol.InitializeParams{
		Capabilities: protocol.ClientCapabilities{},
	}
	var result protocol.InitializeResult
	c.call(protocol.MethodInitialize, params, &result)
	c.notify(protocol.MethodInitialized, &protocol.InitializedParams{})
	c.mu.Lock()
	c.initResult = &result
	c.mu.Unlock()
	return &result
}

// InitializeResult returns the result of the handshake NewClient ran.
func (c *Client) InitializeResult() *protocol.InitializeResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initResult
}

// Open sends a textDocument/didOpen notification.
func (c *Client) Open(uri, languageID, text string) {
	c.t.Helper()
	c.notify(protocol.MethodDidOpen, &protocol.DidOpenTextDocumentParams{
		TextDocument: protocol.TextDocumentItem{
			URI:        protocol.DocumentURI(uri),
			LanguageID: languageID,
			Version:    1,
			Text:       text,
		},
	})
	// Give the notification worker a moment to process
	time.Sleep(10 * time.Millisecond)
}

// Change sends a textDocument/didChange with full content replacement.
func (c *Client) Change(uri string, version int32, text string) {
	c.t.Helper()
	c.notify(protocol.MethodDidChange, &protocol.DidChangeTextDocumentParams{
		TextDocument: protocol.VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: protocol.DocumentURI(uri)},
			Version:                version,
		},
		ContentChanges: []protocol.TextDocumentContentChangeEvent{{Text: text}},
	})
	time.Sleep(10 * time.Millisecond)
}

// ChangeIncremental sends a textDocument/didChange with range-based edits.
func (c *Client) ChangeIncremental(uri string, version int32, changes ...protocol.TextDocumentContentChangeEvent) {
	c.t.Helper()
	c.notify(protocol.MethodDidChange, &protocol.DidChangeTextDocumentParams{
		TextDocument: protocol.VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: protocol.DocumentURI(uri)},
			Version:                version,
		},
		ContentChanges: changes,
	})
	time.Sleep(10 * time.Millisecond)
}

// Close sends a textDocument/didClose notification.
func (c *Client) Close(uri string) {
	c.t.Helper()
	c.notify(protocol.MethodDidClose, &protocol.DidCloseTextDocumentParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: protocol.DocumentURI(uri)},
	})
	time.Sleep(10 * time.Millisecond)
}

// Save sends a textDocument/didSave notification.
func (c *Client) Save(uri string) {
	c.t.Helper()
	c.notify(protocol.MethodDidSave, &protocol.DidSaveTextDocumentParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: protocol.DocumentURI(uri)},
	})
	time.Sleep(10 * time.Millisecond)
}

// Hover sends a textDocument/hover request.
func (c *Client) Hover(uri string, pos protocol.Position) (*protocol.Hover, error) {
	c.t.Helper()
	var result *protocol.Hover
	err := c.callErr(protocol.MethodHover, &protocol.HoverParams{
		TextDocumentPositionParams: positionParams(uri, pos),
	}, &result)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Completion sends a textDocument/completion request.
func (c *Client) Completion(uri string, pos protocol.Position) (*protocol.CompletionList, error) {
	c.t.Helper()
	var result *protocol.CompletionList
	err := c.callErr(protocol.MethodCompletion, &protocol.CompletionParams{
		TextDocumentPositionParams: positionParams(uri, pos),
	}, &result)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Definition sends a textDocument/definition request.
func (c *Client) Definition(uri string, pos protocol.Position) ([]protocol.Location, error) {
	c.t.Helper()
	var result []protocol.Location
	err := c.callErr(protocol.MethodDefinition, &protocol.DefinitionParams{
		TextDocumentPositionParams: positionParams(uri, pos),
	}, &result)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// References sends a textDocument/references request.
func (c *Client) References(uri string, pos protocol.Position, includeDeclaration bool) ([]protocol.Location, error) {
	c.t.Helper()
	var result []protocol.Location
	err := c.callErr(protocol.MethodReferences, &protocol.ReferenceParams{
		TextDocumentPositionParams: positionParams(uri, pos),
		Context:                    protocol.ReferenceContext{IncludeDeclaration: includeDeclaration},
	}, &result)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Rename sends a textDocument/rename request.
func (c *Client) Rename(uri string, pos protocol.Position, newName string) (*protocol.WorkspaceEdit, error) {
	c.t.Helper()
	var result *protocol.WorkspaceEdit
	err := c.callErr(protocol.MethodRename, &protocol.RenameParams{
		TextDocumentPositionParams: positionParams(uri, pos),
		NewName:                    newName,
	}, &result)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// DocumentSymbols sends a textDocument/documentSymbol request.
func (c *Client) DocumentSymbols(uri string) ([]protocol.DocumentSymbol, error) {
	c.t.Helper()
	var result []protocol.DocumentSymbol
	err := c.callErr(protocol.MethodDocumentSymbol, &protocol.DocumentSymbolParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: protocol.DocumentURI(uri)},
	}, &result)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CallAsync issues a request without waiting. The response (or call error)
// arrives on the returned channel. Useful alongside Cancel: request ids are
// allocated sequentially per connection starting at 1.
func (c *Client) CallAsync(method string, params interface{}) <-chan *jsonrpc.Response {
	ch := make(chan *jsonrpc.Response, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		resp, err := c.conn.Call(ctx, method, params)
		if err != nil {
			ch <- &jsonrpc.Response{Error: &jsonrpc.Error{Code: jsonrpc.CodeInternalError, Message: err.Error()}}
			return
		}
		ch <- resp
	}()
	return ch
}

// Cancel sends $/cancelRequest for the given request id.
func (c *Client) Cancel(id int64) {
	c.t.Helper()
	c.notify(jsonrpc.MethodCancelRequest, &jsonrpc.CancelParams{ID: jsonrpc.IntID(id)})
}

// Notify sends an arbitrary notification.
func (c *Client) Notify(method string, params interface{}) {
	c.t.Helper()
	c.notify(method, params)
}

// Call sends an arbitrary request and unmarshals its result.
func (c *Client) Call(method string, params, result interface{}) error {
	c.t.Helper()
	return c.callErr(method, params, result)
}

// Diagnostics returns all publishDiagnostics notifications received so far.
func (c *Client) Diagnostics() []protocol.PublishDiagnosticsParams {
	c.t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var result []protocol.PublishDiagnosticsParams
	for _, n := range c.notifications {
		if n.Method == protocol.MethodPublishDiagnostics {
			var p protocol.PublishDiagnosticsParams
			if json.Unmarshal(n.Params, &p) == nil {
				result = append(result, p)
			}
		}
	}
	return result
}

// DiagnosticsFor returns all publishDiagnostics received for one URI.
func (c *Client) DiagnosticsFor(uri string) []protocol.PublishDiagnosticsParams {
	c.t.Helper()
	var result []protocol.PublishDiagnosticsParams
	for _, p := range c.Diagnostics() {
		if string(p.URI) == uri {
			result = append(result, p)
		}
	}
	return result
}

// WaitForDiagnostics polls until a publishDiagnostics notification arrives
// for the given URI, and returns the latest one.
func (c *Client) WaitForDiagnostics(uri string, timeout time.Duration) []protocol.Diagnostic {
	c.t.Helper()
	p := c.WaitForDiagnosticsParams(uri, timeout)
	return p.Diagnostics
}

// WaitForDiagnosticsParams is WaitForDiagnostics including the params
// envelope, for tests asserting on the published version.
func (c *Client) WaitForDiagnosticsParams(uri string, timeout time.Duration) protocol.PublishDiagnosticsParams {
	c.t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		all := c.DiagnosticsFor(uri)
		if len(all) > 0 {
			return all[len(all)-1]
		}
		time.Sleep(10 * time.Millisecond)
	}
	c.t.Fatalf("timed out waiting for diagnostics on %s", uri)
	return protocol.PublishDiagnosticsParams{}
}

// Shutdown sends the shutdown request.
func (c *Client) Shutdown() {
	c.t.Helper()
	c.call(protocol.MethodShutdown, nil, nil)
}

// Exit sends the exit notification. The server under test must carry
// parley.WithExitFunc, or the test process itself exits.
func (c *Client) Exit() {
	c.t.Helper()
	c.notify(protocol.MethodExit, nil)
}

func positionParams(uri string, pos protocol.Position) protocol.TextDocumentPositionParams {
	return protocol.TextDocumentPositionParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: protocol.DocumentURI(uri)},
		Position:     pos,
	}
}

func (c *Client) call(method string, params, result interface{}) {
	c.t.Helper()
	if err := c.callErr(method, params, result); err != nil {
		c.t.Fatalf("call %s failed: %v", method, err)
	}
}

func (c *Client) callErr(method string, params, result interface{}) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := c.conn.Call(ctx, method, params)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	if result != nil && resp.Result != nil && string(resp.Result) != "null" {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("unmarshalling result: %w", err)
		}
	}
	return nil
}

func (c *Client) notify(method string, params interface{}) {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.conn.Notify(ctx, method, params); err != nil {
		c.t.Fatalf("notify %s failed: %v", method, err)
	}
}
