package mcp

import (
	"context"
	"fmt"
	"log/slog"
)

//go:generate mockgen -destination=../dispatch/mock_module_test.go -package=dispatch . ToolModule

// ToolModule is the contract between the protocol core and a tool provider.
// The core never inspects what a tool does; it validates arguments against
// the tool's input schema and forwards the call.
//
// A module with an empty Namespace opts out of name prefixing and registers
// its tools directly in the root namespace (legacy basic tools).
type ToolModule interface {
	// Namespace returns the prefix applied to every tool name, or "" for
	// the root namespace.
	Namespace() string
	// Tools returns the module's tool definitions. The slice must be
	// stable for the lifetime of the registration.
	Tools() []Tool
	// Call executes a tool. The tool name is the module-local name, never
	// the namespaced one. The context carries the request deadline,
	// cancellation, and CallMeta; implementations should abandon work
	// when the context is cancelled.
	Call(ctx context.Context, tool string, args map[string]any) (any, error)
	// Shutdown releases module resources. Must be idempotent.
	Shutdown()
}

// ErrorKind classifies a declared tool failure.
type ErrorKind string

const (
	ErrorKindInvalidInput ErrorKind = "invalid_input"
	ErrorKindUnavailable  ErrorKind = "unavailable"
	ErrorKindAborted      ErrorKind = "aborted"
	ErrorKindInternal     ErrorKind = "internal"
)

// ToolError is a failure a tool declares deliberately, as opposed to a
// panic or programming error. The dispatcher maps it to the tool-execution
// error code; anything else becomes an internal error.
type ToolError struct {
	Kind    ErrorKind
	Message string
	Details any
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewToolError creates a ToolError.
func NewToolError(kind ErrorKind, format string, args ...any) *ToolError {
	return &ToolError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// CallMeta is the per-request metadata handed to tools through the context.
// Tools never reference the dispatcher; everything they may need travels
// here.
type CallMeta struct {
	RequestID    string
	ConnectionID string
	Logger       *slog.Logger
}

type callMetaKey struct{}

// WithCallMeta attaches call metadata to a context.
func WithCallMeta(ctx context.Context, meta CallMeta) context.Context {
	return context.WithValue(ctx, callMetaKey{}, meta)
}

// CallMetaFrom extracts call metadata from a context. The zero value is
// returned when none is attached.
func CallMetaFrom(ctx context.Context) CallMeta {
	meta, _ := ctx.Value(callMetaKey{}).(CallMeta)
	return meta
}
