package middleware

import (
	"context"

	"github.com/mcpkit/mcpkit/pkg/jsonrpc"
)

// Validation re-checks the request shape behind the frame codec. The codec
// already rejects malformed frames at the transport boundary; this is
// defense in depth for requests that transports construct internally.
func Validation() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) jsonrpc.Response {
			r := req.Req
			if r == nil {
				return jsonrpc.NewErrorResponse(nil, jsonrpc.InvalidRequest, "")
			}
			if r.JSONRPC != jsonrpc.Version || r.Method == "" {
				return jsonrpc.NewErrorResponse(r.ID, jsonrpc.InvalidRequest, "")
			}
			if len(r.Params) > 0 && r.Params[0] != '{' && r.Params[0] != '[' {
				return jsonrpc.NewErrorResponse(r.ID, jsonrpc.InvalidRequest, "params must be an object or array")
			}
			return next(ctx, req)
		}
	}
}
