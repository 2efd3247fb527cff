// Package connectivity wraps calls to the pipeline's upstream services
// (page fetch, text extraction, message history) with timeouts, a circuit
// breaker and uniform status errors.
//
// Failed calls are not retried inline; the next scheduled run retries them.
package connectivity

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Handler is one upstream call: request payload in, response payload out.
type Handler func(ctx context.Context, payload []byte) ([]byte, error)

// HandlerMiddleware wraps a Handler without changing its signature.
type HandlerMiddleware func(next Handler) Handler

// Chain composes middlewares; the first one is the outermost.
func Chain(mws ...HandlerMiddleware) HandlerMiddleware {
	return func(next Handler) Handler {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// WithTimeout bounds each call to d. A call cut short by this deadline
// returns *ErrCallTimeout. d <= 0 disables the timeout.
func WithTimeout(service string, d time.Duration) HandlerMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			if d <= 0 {
				return next(ctx, payload)
			}
			callCtx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			resp, err := next(callCtx, payload)
			if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				return nil, &ErrCallTimeout{Service: service, Cause: err}
			}
			return resp, err
		}
	}
}

// Logging logs failed calls at warn and successful ones at debug.
func Logging(service string, logger *slog.Logger) HandlerMiddleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			start := time.Now()
			resp, err := next(ctx, payload)
			dur := time.Since(start).Milliseconds()
			if err != nil {
				logger.WarnContext(ctx, "connectivity: call failed",
					"service", service, "duration_ms", dur, "error", err)
				return resp, err
			}
			logger.DebugContext(ctx, "connectivity: call ok",
				"service", service, "duration_ms", dur, "resp_bytes", len(resp))
			return resp, nil
		}
	}
}
