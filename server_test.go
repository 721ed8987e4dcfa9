package parley_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
	"unsafe"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_go "github.com/tree-sitter/tree-sitter-go/bindings/go"

	"github.com/parley-ls/parley"
	"github.com/parley-ls/parley/analysis"
	"github.com/parley-ls/parley/jsonrpc"
	"github.com/parley-ls/parley/parleytest"
	"github.com/parley-ls/parley/protocol"
	"github.com/parley-ls/parley/transport"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEngine() *analysis.TreeSitter {
	return analysis.NewTreeSitter(analysis.Config{
		Languages: map[string]*tree_sitter.Language{
			".go": tree_sitter.NewLanguage(unsafe.Pointer(tree_sitter_go.Language())),
		},
	}, analysis.WithEngineLogger(quietLogger()))
}

// fastConfig writes a config file with a short diagnostics debounce so
// tests don't sit out the default window.
func fastConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "parley.toml")
	if err := os.WriteFile(path, []byte("debounce_ms = 100\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestServer(t *testing.T, opts ...parley.Option) *parley.Server {
	t.Helper()
	base := []parley.Option{
		parley.WithLogger(quietLogger()),
		parley.WithEngine(testEngine()),
		parley.WithConfigFile(fastConfig(t)),
	}
	return parley.NewServer("parley-test", "0.0.0", append(base, opts...)...)
}

const testGoSrc = "package main\n\nfunc add(a int, b int) int {\n\treturn a + b\n}\n"

func TestInitializeCapabilities(t *testing.T) {
	c := parleytest.NewClient(t, newTestServer(t))

	result := c.InitializeResult()
	if result == nil {
		t.Fatal("missing initialize result")
	}
	if result.ServerInfo == nil || result.ServerInfo.Name != "parley-test" {
		t.Errorf("server info = %+v", result.ServerInfo)
	}

	caps := result.Capabilities
	sync := caps.TextDocumentSync
	if sync == nil || !sync.OpenClose || sync.Change != protocol.SyncIncremental {
		t.Errorf("sync capabilities = %+v", sync)
	}
	if !caps.HoverProvider || !caps.DefinitionProvider {
		t.Error("expected language features advertised with an engine configured")
	}
	if caps.Workspace == nil || caps.Workspace.WorkspaceFolders == nil || !caps.Workspace.WorkspaceFolders.Supported {
		t.Error("expected workspace folder support advertised")
	}
}

func TestDoubleInitializeRejected(t *testing.T) {
	c := parleytest.NewClient(t, newTestServer(t))

	err := c.Call(protocol.MethodInitialize, &protocol.InitializeParams{}, nil)
	rpcErr, ok := err.(*jsonrpc.Error)
	if !ok || rpcErr.Code != jsonrpc.CodeInvalidRequest {
		t.Fatalf("second initialize = %v, want invalid request error", err)
	}
}

func TestRequestBeforeInitialize(t *testing.T) {
	s := newTestServer(t)
	clientTransport, serverTransport := transport.MemoryPipe()
	go parley.Serve(s, parley.WithTransport(serverTransport))
	t.Cleanup(func() { clientTransport.Close() })

	conn := jsonrpc.NewConn(jsonrpc.NewCodec(clientTransport, clientTransport), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go conn.Run(ctx)
	t.Cleanup(func() { conn.Close() })

	callCtx, callCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer callCancel()
	resp, err := conn.Call(callCtx, protocol.MethodHover, &protocol.HoverParams{})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Error == nil || resp.Error.Code != jsonrpc.CodeServerNotInitialized {
		t.Errorf("response = %+v, want server not initialized error", resp)
	}
}

func TestDiagnosticsOnOpen(t *testing.T) {
	c := parleytest.NewClient(t, newTestServer(t))

	uri := "file:///main.go"
	c.Open(uri, "go", testGoSrc)

	p := c.WaitForDiagnosticsParams(uri, 2*time.Second)
	if p.Version == nil || *p.Version != 1 {
		t.Errorf("published version = %v, want 1", p.Version)
	}
	if len(p.Diagnostics) != 0 {
		t.Errorf("expected clean document, got %v", p.Diagnostics)
	}
}

func TestDiagnosticsDebounceCoalescesEdits(t *testing.T) {
	c := parleytest.NewClient(t, newTestServer(t))

	uri := "file:///main.go"
	c.Open(uri, "go", testGoSrc)
	c.WaitForDiagnosticsParams(uri, 2*time.Second)

	// A burst of edits inside one debounce window publishes once, for the
	// last version.
	c.Change(uri, 2, "package main\n\nfunc add(")
	c.Change(uri, 3, "package main\n\nfunc add(a int) int {\n\treturn a\n}\n")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		all := c.DiagnosticsFor(uri)
		if len(all) >= 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)

	all := c.DiagnosticsFor(uri)
	if len(all) != 2 {
		t.Fatalf("expected 2 publishes (open + coalesced edit), got %d", len(all))
	}
	last := all[len(all)-1]
	if last.Version == nil || *last.Version != 3 {
		t.Errorf("published version = %v, want 3", last.Version)
	}
	if len(last.Diagnostics) != 0 {
		t.Errorf("expected clean final document, got %v", last.Diagnostics)
	}
}

func TestDiagnosticsReportSyntaxErrors(t *testing.T) {
	c := parleytest.NewClient(t, newTestServer(t))

	uri := "file:///broken.go"
	c.Open(uri, "go", "package main\n\nfunc broken( {\n")

	diags := c.WaitForDiagnostics(uri, 2*time.Second)
	if len(diags) == 0 {
		t.Fatal("expected syntax diagnostics")
	}
	if diags[0].Severity != protocol.SeverityError {
		t.Errorf("severity = %d, want %d", diags[0].Severity, protocol.SeverityError)
	}
}

func TestDiagnosticsClearedOnClose(t *testing.T) {
	c := parleytest.NewClient(t, newTestServer(t))

	uri := "file:///broken.go"
	c.Open(uri, "go", "package main\n\nfunc broken( {\n")
	c.WaitForDiagnosticsParams(uri, 2*time.Second)

	c.Close(uri)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		all := c.DiagnosticsFor(uri)
		if len(all) >= 2 {
			last := all[len(all)-1]
			if len(last.Diagnostics) != 0 {
				t.Errorf("expected empty diagnostics on close, got %v", last.Diagnostics)
			}
			if last.Version != nil {
				t.Errorf("clearing publish carries version %d, want none", *last.Version)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("no clearing publish after didClose")
}

func TestSaveRepublishesImmediately(t *testing.T) {
	c := parleytest.NewClient(t, newTestServer(t))

	uri := "file:///main.go"
	c.Open(uri, "go", testGoSrc)
	c.WaitForDiagnosticsParams(uri, 2*time.Second)

	c.Save(uri)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(c.DiagnosticsFor(uri)) >= 2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("no republish after didSave")
}

func TestHoverEndToEnd(t *testing.T) {
	c := parleytest.NewClient(t, newTestServer(t))

	uri := "file:///main.go"
	c.Open(uri, "go", testGoSrc)

	hov, err := c.Hover(uri, parleytest.Pos(2, 5))
	if err != nil {
		t.Fatal(err)
	}
	parleytest.AssertHoverContains(t, hov, "add")
}

func TestHoverUnopenedDocumentIsNull(t *testing.T) {
	c := parleytest.NewClient(t, newTestServer(t))

	hov, err := c.Hover("file:///nowhere.go", parleytest.Pos(0, 0))
	if err != nil {
		t.Fatal(err)
	}
	if hov != nil {
		t.Errorf("expected null hover for unopened document, got %+v", hov)
	}
}

func TestReferencesEndToEnd(t *testing.T) {
	c := parleytest.NewClient(t, newTestServer(t))

	uri := "file:///main.go"
	c.Open(uri, "go", testGoSrc)

	locs, err := c.References(uri, parleytest.Pos(3, 8), true)
	if err != nil {
		t.Fatal(err)
	}
	parleytest.AssertLocationCount(t, locs, 2)
}

func TestRequestCancellation(t *testing.T) {
	s := newTestServer(t)
	s.HandleRequest("test/slow", func(ctx *parley.Context, _ jsonrpc.RawMessage) (interface{}, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	c := parleytest.NewClient(t, s)

	// The handshake consumed id 1; this request is id 2.
	ch := c.CallAsync("test/slow", nil)
	time.Sleep(20 * time.Millisecond)
	c.Cancel(2)

	select {
	case resp := <-ch:
		if resp.Error == nil || resp.Error.Code != jsonrpc.CodeRequestCancelled {
			t.Errorf("response = %+v, want request cancelled error", resp)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled request never answered")
	}
}

func TestUnknownMethod(t *testing.T) {
	c := parleytest.NewClient(t, newTestServer(t))

	err := c.Call("nonexistent/method", nil, nil)
	rpcErr, ok := err.(*jsonrpc.Error)
	if !ok || rpcErr.Code != jsonrpc.CodeMethodNotFound {
		t.Fatalf("got %v, want method not found error", err)
	}
}

func TestCustomRawHandler(t *testing.T) {
	s := newTestServer(t)
	s.HandleRequest("parley/echo", func(ctx *parley.Context, params jsonrpc.RawMessage) (interface{}, error) {
		return map[string]string{"server": ctx.ServerInfo().Name}, nil
	})
	c := parleytest.NewClient(t, s)

	var result map[string]string
	if err := c.Call("parley/echo", nil, &result); err != nil {
		t.Fatal(err)
	}
	if result["server"] != "parley-test" {
		t.Errorf("result = %v", result)
	}
}

func TestRequestAfterShutdown(t *testing.T) {
	c := parleytest.NewClient(t, newTestServer(t))

	c.Shutdown()

	_, err := c.Hover("file:///main.go", parleytest.Pos(0, 0))
	rpcErr, ok := err.(*jsonrpc.Error)
	if !ok || rpcErr.Code != jsonrpc.CodeInvalidRequest {
		t.Fatalf("request after shutdown = %v, want invalid request error", err)
	}
}

func TestExitAfterShutdown(t *testing.T) {
	codes := make(chan int, 1)
	s := newTestServer(t, parley.WithExitFunc(func(code int) { codes <- code }))
	c := parleytest.NewClient(t, s)

	c.Shutdown()
	c.Exit()

	select {
	case code := <-codes:
		if code != 0 {
			t.Errorf("exit code = %d, want 0", code)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("exit never reached")
	}
}

func TestExitWithoutShutdown(t *testing.T) {
	codes := make(chan int, 1)
	s := newTestServer(t, parley.WithExitFunc(func(code int) { codes <- code }))
	c := parleytest.NewClient(t, s)

	c.Exit()

	select {
	case code := <-codes:
		if code != 1 {
			t.Errorf("exit code = %d, want 1", code)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("exit never reached")
	}
}
