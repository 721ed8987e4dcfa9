// Command parley runs the parley language server. By default it listens on
// a freshly created named pipe and announces the pipe path as a single JSON
// line on stdout; pass --stdio to speak the protocol on stdin/stdout
// instead. Logs always go to stderr.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"unsafe"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	ts_yaml "github.com/tree-sitter-grammars/tree-sitter-yaml/bindings/go"
	ts_go "github.com/tree-sitter/tree-sitter-go/bindings/go"
	ts_json "github.com/tree-sitter/tree-sitter-json/bindings/go"
	ts_python "github.com/tree-sitter/tree-sitter-python/bindings/go"

	"github.com/parley-ls/parley"
	"github.com/parley-ls/parley/analysis"
	"github.com/parley-ls/parley/jsonrpc"
	"github.com/parley-ls/parley/middleware"
	"github.com/parley-ls/parley/project"
)

const version = "0.1.0"

func main() {
	logLevel := slog.LevelInfo
	configPath := "parley.toml"
	for i, arg := range os.Args[1:] {
		switch {
		case arg == "--debug":
			logLevel = slog.LevelDebug
		case arg == "--config":
			if i+2 < len(os.Args) {
				configPath = os.Args[i+2]
			}
		case arg == "--version":
			fmt.Println("parley " + version)
			return
		}
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	engine := analysis.NewTreeSitter(analysis.Config{
		Languages: map[string]*tree_sitter.Language{
			".go":   tree_sitter.NewLanguage(unsafe.Pointer(ts_go.Language())),
			".py":   tree_sitter.NewLanguage(unsafe.Pointer(ts_python.Language())),
			".json": tree_sitter.NewLanguage(unsafe.Pointer(ts_json.Language())),
		},
		Matchers: []analysis.LanguageMatcher{
			{
				Language:   tree_sitter.NewLanguage(unsafe.Pointer(ts_yaml.Language())),
				Extensions: []string{".yml", ".yaml"},
				LanguageID: "yaml",
			},
		},
	}, analysis.WithEngineLogger(logger))

	loader := project.NewLoader(engine.Registry(), project.WithLogger(logger))
	engine.SetProjectView(loader)

	metrics := middleware.NewMetrics()
	s := parley.NewServer("parley", version,
		parley.WithLogger(logger),
		parley.WithEngine(engine),
		parley.WithProjectLoader(loader),
		parley.WithConfigFile(configPath),
		parley.WithMiddleware(
			middleware.Recovery(logger),
			middleware.Tracing(),
			middleware.Logging(logger),
			middleware.Telemetry(metrics),
		),
	)

	// parley/metrics answers with a per-method request count snapshot.
	s.HandleRequest("parley/metrics", func(ctx *parley.Context, _ jsonrpc.RawMessage) (interface{}, error) {
		return metrics.Snapshot(), nil
	})

	if err := parley.Serve(s, parley.FromArgs()); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}
