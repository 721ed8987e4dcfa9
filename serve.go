package parley

import (
	"context"
	"fmt"

	"github.com/parley-ls/parley/config"
	"github.com/parley-ls/parley/diagnostics"
	"github.com/parley-ls/parley/jsonrpc"
	mw "github.com/parley-ls/parley/middleware"
	"github.com/parley-ls/parley/transport"
)

// Serve runs the server over the transport selected by opts (stdio if none
// given) until the client disconnects or sends exit. All in-flight handlers
// are drained before Serve returns.
func Serve(s *Server, opts ...ServeOption) error {
	cfg := &serveConfig{}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.transport == nil && cfg.transportFactory != nil {
		var err error
		cfg.transport, err = cfg.transportFactory()
		if err != nil {
			return fmt.Errorf("creating transport: %w", err)
		}
	}
	if cfg.transport == nil {
		cfg.transport = transport.Stdio()
	}

	codec := jsonrpc.NewCodec(cfg.transport, cfg.transport)

	handler := jsonrpc.Handler(s.dispatch)
	notifHandler := jsonrpc.NotificationHandler(s.dispatchNotification)
	if len(s.middlewares) > 0 {
		chain := mw.Chain(s.middlewares...)
		wrapped := chain(mw.Handler(s.dispatch))
		handler = jsonrpc.Handler(wrapped)

		wrappedNotif := chain(func(ctx context.Context, method string, params jsonrpc.RawMessage) (interface{}, error) {
			s.dispatchNotification(ctx, method, params)
			return nil, nil
		})
		notifHandler = func(ctx context.Context, method string, params jsonrpc.RawMessage) {
			wrappedNotif(ctx, method, params)
		}
	}

	conn := jsonrpc.NewConn(codec, handler, notifHandler)
	conn.SetLogger(s.logger)
	s.conn = conn
	s.client = newClient(conn)

	if s.configPath != "" {
		s.startConfig()
	}
	if s.cfgWatcher != nil {
		defer s.cfgWatcher.Close()
	}

	if s.engine != nil {
		pipeOpts := []diagnostics.Option{diagnostics.WithLogger(s.logger)}
		if s.settings != nil {
			initial := s.settings.Get()
			pipeOpts = append(pipeOpts,
				diagnostics.WithDebounce(initial.Debounce()),
				diagnostics.WithMinSeverity(initial.Severity()),
			)
		}
		s.pipeline = diagnostics.NewPipeline(s.docs, s.engine, s.client, pipeOpts...)
		defer s.pipeline.Close()
		s.docs.OnChange(s.pipeline.HandleChange)

		if s.settings != nil {
			s.settings.OnChange(func(_, next *config.Settings) {
				s.pipeline.SetDebounce(next.Debounce())
				s.pipeline.SetMinSeverity(next.Severity())
				s.logger.Info("settings reloaded",
					"debounce", next.Debounce(),
					"minSeverity", next.MinSeverity,
				)
			})
		}
	}

	if s.loader != nil {
		// A changed project model may cover documents opened before the
		// model loaded; give them handles and first diagnostics.
		s.loader.OnModelChange(s.docs.Reassociate)
		defer s.loader.Close()
	}

	s.logger.Info("parley server starting",
		"name", s.name,
		"version", s.version,
	)

	if err := conn.Run(context.Background()); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// startConfig loads initial settings and arranges hot reload via both the
// file watcher and workspace/didChangeConfiguration.
func (s *Server) startConfig() {
	defaults := config.DefaultSettings()
	initial, err := config.LoadTOML(s.configPath, defaults)
	if err != nil {
		s.logger.Warn("loading config, using defaults", "path", s.configPath, "error", err)
		initial = defaults
	}
	s.settings = config.NewStore(initial)
	s.bridge = config.NewBridge(s.settings, s.configPath, defaults)

	watcher, err := config.NewWatcher(s.configPath, s.bridge.HandleChange,
		config.WithWatcherLogger(s.logger))
	if err != nil {
		// didChangeConfiguration still reloads without a watcher.
		s.logger.Debug("config watcher not started", "path", s.configPath, "error", err)
		return
	}
	s.cfgWatcher = watcher
}
