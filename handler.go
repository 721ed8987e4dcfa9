package parley

import "github.com/parley-ls/parley/jsonrpc"

// RawHandler processes a request for a method outside the built-in surface.
// Params arrive unparsed.
type RawHandler func(ctx *Context, params jsonrpc.RawMessage) (interface{}, error)

// RawNotificationHandler processes a notification for a method outside the
// built-in surface.
type RawNotificationHandler func(ctx *Context, params jsonrpc.RawMessage)

// HandleRequest registers a handler for a custom request method, e.g. a
// "parley/..." extension. Built-in methods cannot be overridden.
func (s *Server) HandleRequest(method string, h RawHandler) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.rawHandlers[method] = h
}

// HandleNotification registers a handler for a custom notification method.
func (s *Server) HandleNotification(method string, h RawNotificationHandler) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.rawNotifHandlers[method] = h
}
