package dispatch

import (
	"context"

	"go.uber.org/mock/gomock"

	"github.com/mcpkit/mcpkit/pkg/mcp"
)

// setupMockModule configures a generated MockToolModule with the defaults
// every dispatcher test wants: a fixed namespace, a stable tool list, and
// an idempotent Shutdown. Call is NOT configured - set it per test or use
// setupMockModuleWithCall.
func setupMockModule(ctrl *gomock.Controller, ns string, tools []mcp.Tool) *MockToolModule {
	mock := NewMockToolModule(ctrl)
	mock.EXPECT().Namespace().Return(ns).AnyTimes()
	mock.EXPECT().Tools().Return(tools).AnyTimes()
	mock.EXPECT().Shutdown().AnyTimes()
	return mock
}

// setupMockModuleWithCall is like setupMockModule but also sets a default
// Call implementation that returns {"echo": <tool>}.
func setupMockModuleWithCall(ctrl *gomock.Controller, ns string, tools []mcp.Tool) *MockToolModule {
	mock := setupMockModule(ctrl, ns, tools)
	mock.EXPECT().Call(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, tool string, args map[string]any) (any, error) {
			return map[string]any{"echo": tool}, nil
		},
	).AnyTimes()
	return mock
}
