// Package middleware provides composable wrappers for parley's JSON-RPC
// dispatch layer, so cross-cutting concerns like logging, panic recovery,
// and request metrics apply uniformly to every handler.
package middleware

import (
	"context"

	"github.com/parley-ls/parley/jsonrpc"
)

// Handler processes a JSON-RPC method call and returns a result.
type Handler func(ctx context.Context, method string, params jsonrpc.RawMessage) (interface{}, error)

// Middleware wraps a Handler to add cross-cutting behavior.
type Middleware func(Handler) Handler

// Chain composes multiple middleware into one. Middleware is applied in the
// order given: the first in the slice is the outermost wrapper.
func Chain(mws ...Middleware) Middleware {
	return func(next Handler) Handler {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}
