package middleware

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/parley-ls/parley/jsonrpc"
)

// Logging returns middleware that logs each request's method, duration, and
// outcome. Cancellations are routine during editing sessions and log at
// debug, not error.
func Logging(logger *slog.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, method string, params jsonrpc.RawMessage) (interface{}, error) {
			start := time.Now()
			result, err := next(ctx, method, params)
			duration := time.Since(start)

			attrs := []slog.Attr{
				slog.String("method", method),
				slog.Duration("duration", duration),
			}
			switch {
			case errors.Is(err, context.Canceled):
				logger.LogAttrs(ctx, slog.LevelDebug, "request cancelled", attrs...)
			case err != nil:
				attrs = append(attrs, slog.String("error", err.Error()))
				logger.LogAttrs(ctx, slog.LevelError, "request failed", attrs...)
			default:
				logger.LogAttrs(ctx, slog.LevelDebug, "request handled", attrs...)
			}

			return result, err
		}
	}
}
