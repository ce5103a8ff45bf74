package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/mcpkit/mcpkit/pkg/jsonrpc"
)

// Logging records method, request id, connection id, elapsed time, and
// outcome for every request. It never transforms the request or response.
func Logging(logger *slog.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) jsonrpc.Response {
			start := time.Now()

			attrs := []any{
				"method", req.Req.Method,
				"conn_id", req.Conn.ID,
			}
			if req.Req.ID != nil {
				attrs = append(attrs, "request_id", string(*req.Req.ID))
			}
			logger.Debug("request started", attrs...)

			resp := next(ctx, req)

			attrs = append(attrs, "elapsed", time.Since(start))
			if resp.Error != nil {
				attrs = append(attrs, "code", resp.Error.Code, "error", resp.Error.Message)
				logger.Warn("request failed", attrs...)
			} else {
				logger.Info("request completed", attrs...)
			}
			return resp
		}
	}
}
