package parley

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/parley-ls/parley/analysis"
	"github.com/parley-ls/parley/middleware"
	"github.com/parley-ls/parley/project"
	"github.com/parley-ls/parley/transport"
)

// Option configures a Server during construction.
type Option func(*Server)

// WithLogger sets a custom slog logger on the server. Logs must go to
// stderr or a file: stdout belongs to the protocol stream.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithEngine sets the analysis engine. Without one the server still
// synchronizes documents but serves no language features or diagnostics.
func WithEngine(e analysis.Engine) Option {
	return func(s *Server) {
		s.engine = e
	}
}

// WithProjectLoader attaches a workspace file model. The loader picks up
// the workspace folders from initialize, and model changes reassociate open
// documents with fresh analysis handles.
func WithProjectLoader(l *project.Loader) Option {
	return func(s *Server) {
		s.loader = l
	}
}

// WithMiddleware adds middleware to the server's dispatch chain.
// Middleware is applied in order: the first middleware is outermost.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(s *Server) {
		s.middlewares = append(s.middlewares, mws...)
	}
}

// WithConfigFile enables TOML settings loaded from path, hot-reloaded on
// file changes and on workspace/didChangeConfiguration.
func WithConfigFile(path string) Option {
	return func(s *Server) {
		s.configPath = path
	}
}

// WithExitFunc replaces the process-exit function invoked by the exit
// notification. Test harnesses use this to keep the process alive.
func WithExitFunc(fn func(code int)) Option {
	return func(s *Server) {
		s.exit = fn
	}
}

// ServeOption configures how the server is served.
type ServeOption func(*serveConfig)

type serveConfig struct {
	transport        transport.Transport
	transportFactory func() (transport.Transport, error)
}

// WithStdio serves over stdin/stdout.
func WithStdio() ServeOption {
	return func(cfg *serveConfig) {
		cfg.transport = transport.Stdio()
	}
}

// WithTransport serves over a specific transport.
func WithTransport(t transport.Transport) ServeOption {
	return func(cfg *serveConfig) {
		cfg.transport = t
	}
}

// WithPipe serves over a named pipe. An empty name picks a fresh path. The
// listener is created first, then its name is announced as a single JSON
// line on stdout, so a client that connects immediately after reading the
// announcement never races the bind.
func WithPipe(name string) ServeOption {
	return func(cfg *serveConfig) {
		cfg.transportFactory = func() (transport.Transport, error) {
			ln, err := transport.Listen(name)
			if err != nil {
				return nil, err
			}
			if err := ln.Announce(os.Stdout); err != nil {
				ln.Close()
				return nil, fmt.Errorf("announcing pipe: %w", err)
			}
			return ln.Accept()
		}
	}
}

// FromArgs parses os.Args to determine the transport. Supported flags:
//
//	--pipe [NAME]         (default; empty NAME picks a fresh path)
//	--stdio
func FromArgs() ServeOption {
	return func(cfg *serveConfig) {
		args := os.Args[1:]
		for i := 0; i < len(args); i++ {
			arg := args[i]
			switch {
			case arg == "--stdio":
				WithStdio()(cfg)
				return
			case arg == "--pipe":
				name := ""
				if i+1 < len(args) && !strings.HasPrefix(args[i+1], "--") {
					name = args[i+1]
				}
				WithPipe(name)(cfg)
				return
			case strings.HasPrefix(arg, "--pipe="):
				WithPipe(strings.TrimPrefix(arg, "--pipe="))(cfg)
				return
			}
		}
		WithPipe("")(cfg)
	}
}
