package dispatch

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/mcpkit/mcpkit/pkg/jsonrpc"
	"github.com/mcpkit/mcpkit/pkg/mcp"
)

// toolErrorData is the structured payload attached to tool failures. It
// never carries stack traces or secrets.
type toolErrorData struct {
	Tool    string `json:"tool,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`
	Details any    `json:"details,omitempty"`
}

// mapToolError normalizes a tool-call failure to its canonical JSON-RPC
// error response.
func mapToolError(id *json.RawMessage, tool string, err error) jsonrpc.Response {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return jsonrpc.NewErrorResponseData(id, jsonrpc.RequestTimeout, "",
			toolErrorData{Tool: tool, Kind: "timeout"})
	case errors.Is(err, context.Canceled):
		return jsonrpc.NewErrorResponseData(id, jsonrpc.Cancelled, "",
			toolErrorData{Tool: tool, Kind: "cancelled"})
	case errors.Is(err, ErrQueueFull):
		return jsonrpc.NewErrorResponseData(id, jsonrpc.ServerBusy, "",
			toolErrorData{Tool: tool, Kind: "backpressure"})
	}

	var te *mcp.ToolError
	if errors.As(err, &te) {
		return jsonrpc.NewErrorResponseData(id, jsonrpc.ToolExecutionFailed, "",
			toolErrorData{Tool: tool, Kind: string(te.Kind), Message: te.Message, Details: te.Details})
	}
	// An undeclared error still counts as a tool execution failure; only
	// panics escalate to internal errors.
	return jsonrpc.NewErrorResponseData(id, jsonrpc.ToolExecutionFailed, "",
		toolErrorData{Tool: tool, Kind: "error", Message: err.Error()})
}

// internalError is the response for a recovered panic. The panic value is
// logged with the correlation id but deliberately kept out of the wire
// payload.
func internalError(id *json.RawMessage) jsonrpc.Response {
	return jsonrpc.NewErrorResponse(id, jsonrpc.InternalError, "")
}
