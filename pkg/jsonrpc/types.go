// Package jsonrpc implements the JSON-RPC 2.0 frame codec used by every
// mcpkit transport.
package jsonrpc

import "encoding/json"

// Version is the only JSON-RPC protocol version accepted on the wire.
const Version = "2.0"

// Request represents a JSON-RPC 2.0 request. A nil ID marks a notification.
type Request struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      *json.RawMessage `json:"id,omitempty"`
	Method  string           `json:"method"`
	Params  json.RawMessage  `json:"params,omitempty"`
}

// IsNotification reports whether the request carries no id and therefore
// must never produce a response.
func (r *Request) IsNotification() bool {
	return r.ID == nil
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      *json.RawMessage `json:"id"`
	Result  json.RawMessage  `json:"result,omitempty"`
	Error   *Error           `json:"error,omitempty"`
}

// Error represents a JSON-RPC 2.0 error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

// Standard JSON-RPC error codes.
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// Server-reserved extension codes.
const (
	Unauthorized        = -32001
	ToolExecutionFailed = -32002
	RequestTimeout      = -32003
	ServerBusy          = -32004
	Cancelled           = -32005
)

// ErrorMessage returns the canonical message for an error code.
func ErrorMessage(code int) string {
	switch code {
	case ParseError:
		return "Parse error"
	case InvalidRequest:
		return "Invalid Request"
	case MethodNotFound:
		return "Method not found"
	case InvalidParams:
		return "Invalid params"
	case InternalError:
		return "Internal error"
	case Unauthorized:
		return "Unauthorized"
	case ToolExecutionFailed:
		return "Tool execution failed"
	case RequestTimeout:
		return "Request timeout"
	case ServerBusy:
		return "Server busy"
	case Cancelled:
		return "Cancelled"
	default:
		return "Server error"
	}
}

// NewErrorResponse creates a JSON-RPC error response. An empty message is
// replaced by the canonical message for the code.
func NewErrorResponse(id *json.RawMessage, code int, message string) Response {
	if message == "" {
		message = ErrorMessage(code)
	}
	return Response{
		JSONRPC: Version,
		ID:      id,
		Error:   &Error{Code: code, Message: message},
	}
}

// NewErrorResponseData creates a JSON-RPC error response carrying structured
// data alongside the canonical code and message.
func NewErrorResponseData(id *json.RawMessage, code int, message string, data any) Response {
	resp := NewErrorResponse(id, code, message)
	resp.Error.Data = data
	return resp
}

// NewSuccessResponse creates a JSON-RPC success response. A result that
// cannot be marshaled degrades to an Internal error response; a failed
// call must never read as a success on the wire.
func NewSuccessResponse(id *json.RawMessage, result any) Response {
	if result == nil {
		return NewRawSuccessResponse(id, nil)
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return NewErrorResponse(id, InternalError, "")
	}
	return NewRawSuccessResponse(id, raw)
}

// NewRawSuccessResponse creates a success response from pre-marshaled
// result bytes. A success response must carry a result member, so nil
// bytes become an explicit null.
func NewRawSuccessResponse(id *json.RawMessage, result json.RawMessage) Response {
	if result == nil {
		result = json.RawMessage(`null`)
	}
	return Response{
		JSONRPC: Version,
		ID:      id,
		Result:  result,
	}
}
