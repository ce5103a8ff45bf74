// Package middleware implements the composable request pipeline that every
// JSON-RPC request passes through before reaching the dispatcher.
package middleware

import (
	"context"

	"github.com/mcpkit/mcpkit/pkg/jsonrpc"
	"github.com/mcpkit/mcpkit/pkg/session"
)

// Request is one request in flight through the chain, together with the
// transport-provided slots middlewares may consult.
type Request struct {
	Conn *session.Connection
	Req  *jsonrpc.Request
	// Credential is whatever the transport extracted for auth: an HTTP
	// Authorization header value, a WS subprotocol token, or the SSE
	// session auth header. Empty when the transport saw none.
	Credential string
}

// Handler processes a request and produces a response. For notifications
// the response is still produced internally (so middlewares can observe the
// outcome) but transports never emit it.
type Handler func(ctx context.Context, req *Request) jsonrpc.Response

// Middleware wraps a handler. Classic onion: request-side work happens
// before calling next, response-side work after; returning without calling
// next short-circuits the chain.
type Middleware func(next Handler) Handler

// Chain composes middlewares in order: the first one listed sees the
// request first and the response last.
func Chain(mws ...Middleware) Middleware {
	return func(next Handler) Handler {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}
