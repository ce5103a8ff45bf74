// Package echo provides the reference tool module: one root-namespace
// tool that reflects its arguments back. It exists for examples and
// end-to-end tests, not for production use.
package echo

import (
	"context"
	"encoding/json"

	"github.com/mcpkit/mcpkit/pkg/mcp"
)

// Module implements mcp.ToolModule.
type Module struct{}

// New creates the echo module.
func New() *Module {
	return &Module{}
}

// Namespace is empty: the echo tool lives in the root namespace.
func (m *Module) Namespace() string {
	return ""
}

// Tools declares the single echo tool.
func (m *Module) Tools() []mcp.Tool {
	return []mcp.Tool{{
		Name:        "echo",
		Title:       "Echo",
		Description: "Echoes the call arguments back as content.",
		Version:     "1.0.0",
		InputSchema: json.RawMessage(`{"type":"object"}`),
	}}
}

// Call reflects the arguments. A single argument comes back as the
// content value directly; multiple arguments come back as an object.
func (m *Module) Call(ctx context.Context, tool string, args map[string]any) (any, error) {
	var content any = args
	if v, ok := args["message"]; ok {
		content = v
	} else if len(args) == 1 {
		for _, v := range args {
			content = v
		}
	}
	return map[string]any{"content": content}, nil
}

// Shutdown is a no-op; the module holds no resources.
func (m *Module) Shutdown() {}
