package transport

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mcpkit/mcpkit/pkg/dispatch"
	"github.com/mcpkit/mcpkit/pkg/mcp"
	"github.com/mcpkit/mcpkit/pkg/registry"
	"github.com/mcpkit/mcpkit/pkg/session"
)

// stubModule serves the adapter tests: "echo" answers immediately, "slow"
// blocks until the gate closes or the context fires.
type stubModule struct {
	gate chan struct{}
}

func newStubModule() *stubModule {
	return &stubModule{gate: make(chan struct{})}
}

func (m *stubModule) Namespace() string { return "" }

func (m *stubModule) Tools() []mcp.Tool {
	return []mcp.Tool{
		{Name: "echo", Version: "1.0.0", InputSchema: json.RawMessage(`{"type":"object"}`)},
		{Name: "slow", Version: "1.0.0", InputSchema: json.RawMessage(`{"type":"object"}`)},
	}
}

func (m *stubModule) Call(ctx context.Context, tool string, args map[string]any) (any, error) {
	if tool == "slow" {
		select {
		case <-m.gate:
			return map[string]any{"done": true}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return map[string]any{"echo": args}, nil
}

func (m *stubModule) Shutdown() {}

func newTestStack(t *testing.T, limits dispatch.Limits) (*session.Registry, *dispatch.Dispatcher, *stubModule) {
	t.Helper()
	module := newStubModule()
	reg := registry.New(nil)
	if _, err := reg.Register(module); err != nil {
		t.Fatalf("Register: %v", err)
	}
	d := dispatch.New(reg, dispatch.Config{
		ServerInfo:     mcp.ServerInfo{Name: "test", Version: "0.0.1"},
		DefaultTimeout: 5 * time.Second,
		Limits:         limits,
	}, nil, nil)
	return session.NewRegistry(nil, nil), d, module
}

func toolCallBody(t *testing.T, id any, tool string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  "tools/call",
		"params":  map[string]any{"name": tool, "arguments": map[string]any{}},
	})
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return body
}
