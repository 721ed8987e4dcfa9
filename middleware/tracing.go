package middleware

import (
	"context"

	"github.com/parley-ls/parley/jsonrpc"
)

// Tracing returns middleware that records the current method on the request
// context, so downstream code (the analysis engine, the diagnostics
// pipeline) can attribute its log lines to the request that drove them.
func Tracing() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, method string, params jsonrpc.RawMessage) (interface{}, error) {
			ctx = context.WithValue(ctx, traceMethodKey{}, method)
			return next(ctx, method, params)
		}
	}
}

type traceMethodKey struct{}

// TraceMethod returns the method name from the context, if set by Tracing.
func TraceMethod(ctx context.Context) string {
	if v, ok := ctx.Value(traceMethodKey{}).(string); ok {
		return v
	}
	return ""
}
