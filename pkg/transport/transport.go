// Package transport adapts the HTTP, WebSocket, and legacy SSE wire
// surfaces onto the shared dispatch pipeline. Each adapter owns its
// framing and liveness contract; everything after frame decode is
// common.
package transport

import (
	"context"
	"time"

	"github.com/mcpkit/mcpkit/pkg/jsonrpc"
	"github.com/mcpkit/mcpkit/pkg/session"
)

const (
	// DefaultMaxRequestBytes caps a request body or WS message.
	DefaultMaxRequestBytes = 1 * 1024 * 1024

	// DefaultPingInterval drives WS pings and SSE keepalive events.
	DefaultPingInterval = 30 * time.Second

	// DefaultSessionHeader carries the SSE session id on POSTs as an
	// alternative to the sessionId query parameter.
	DefaultSessionHeader = "Mcp-Session-Id"

	// DefaultMaxSSEConnections bounds concurrent SSE streams.
	DefaultMaxSSEConnections = 100

	// DefaultMessagesPath is where SSE clients POST their frames.
	DefaultMessagesPath = "/messages"
)

// Dispatcher is the slice of the dispatch pipeline the adapters need.
type Dispatcher interface {
	DispatchFrame(ctx context.Context, conn *session.Connection, frame *jsonrpc.Frame, credential string) []jsonrpc.Response
}

// Options tunes all three adapters. Zero values take the defaults above.
type Options struct {
	MaxRequestBytes   int64
	PingInterval      time.Duration
	SessionHeader     string
	MaxSSEConnections int
	MessagesPath      string
}

func (o Options) withDefaults() Options {
	if o.MaxRequestBytes <= 0 {
		o.MaxRequestBytes = DefaultMaxRequestBytes
	}
	if o.PingInterval <= 0 {
		o.PingInterval = DefaultPingInterval
	}
	if o.SessionHeader == "" {
		o.SessionHeader = DefaultSessionHeader
	}
	if o.MaxSSEConnections <= 0 {
		o.MaxSSEConnections = DefaultMaxSSEConnections
	}
	if o.MessagesPath == "" {
		o.MessagesPath = DefaultMessagesPath
	}
	return o
}
