// Package dispatch routes decoded JSON-RPC requests to built-in MCP
// methods and registered tools, enforcing concurrency limits, deadlines,
// and cancellation.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/mcpkit/mcpkit/pkg/events"
	"github.com/mcpkit/mcpkit/pkg/jsonrpc"
	"github.com/mcpkit/mcpkit/pkg/logging"
	"github.com/mcpkit/mcpkit/pkg/mcp"
	"github.com/mcpkit/mcpkit/pkg/middleware"
	"github.com/mcpkit/mcpkit/pkg/registry"
	"github.com/mcpkit/mcpkit/pkg/session"
)

// DefaultRequestTimeout bounds a tool call when neither the tool config
// nor the client narrows it.
const DefaultRequestTimeout = 30 * time.Second

// Config tunes the dispatcher.
type Config struct {
	ServerInfo mcp.ServerInfo
	// DefaultTimeout is the request deadline when nothing narrows it
	// (default 30s).
	DefaultTimeout time.Duration
	// ToolTimeouts narrows the deadline for specific fully-qualified
	// tool names.
	ToolTimeouts map[string]time.Duration
	// HardKillFactor times the deadline gives the wall-clock ceiling
	// after which a tool ignoring cancellation is abandoned (default 2).
	HardKillFactor float64
	Limits         Limits
}

// Dispatcher is the request router. It holds non-owning references to the
// tool registry and, through each request, the originating connection.
type Dispatcher struct {
	registry *registry.Registry
	limiter  *Limiter
	bus      *events.Bus
	logger   *slog.Logger
	cfg      Config
	schemas  *schemaCache
	handler  middleware.Handler
	draining atomic.Bool
}

// New creates a dispatcher. Middlewares wrap the core handler in the given
// order. The bus and logger may be nil.
func New(reg *registry.Registry, cfg Config, bus *events.Bus, logger *slog.Logger, mws ...middleware.Middleware) *Dispatcher {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultRequestTimeout
	}
	if cfg.HardKillFactor < 1 {
		cfg.HardKillFactor = 2
	}
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	d := &Dispatcher{
		registry: reg,
		limiter:  NewLimiter(cfg.Limits),
		bus:      bus,
		logger:   logger,
		cfg:      cfg,
		schemas:  newSchemaCache(),
	}
	d.handler = middleware.Chain(mws...)(d.handle)
	return d
}

// Limiter exposes the slot accounting, mainly for the lifecycle
// coordinator and tests.
func (d *Dispatcher) Limiter() *Limiter {
	return d.limiter
}

// Drain makes the dispatcher refuse new slot acquisitions. Requests
// already holding slots run to completion.
func (d *Dispatcher) Drain() {
	d.draining.Store(true)
}

// Dispatch runs one shape-valid request through the middleware chain and
// the router. Transports discard the response for notifications.
func (d *Dispatcher) Dispatch(ctx context.Context, conn *session.Connection, req *jsonrpc.Request, credential string) jsonrpc.Response {
	return d.handler(ctx, &middleware.Request{Conn: conn, Req: req, Credential: credential})
}

// DispatchFrame handles one decoded frame. Batch elements run concurrently;
// the returned slice holds responses for invalid elements and requests, in
// arbitrary order, and is empty when the frame was all notifications.
func (d *Dispatcher) DispatchFrame(ctx context.Context, conn *session.Connection, frame *jsonrpc.Frame, credential string) []jsonrpc.Response {
	if !frame.Batch {
		it := frame.Items[0]
		if it.Invalid != nil {
			return []jsonrpc.Response{*it.Invalid}
		}
		resp := d.Dispatch(ctx, conn, it.Request, credential)
		if it.Request.IsNotification() {
			return nil
		}
		return []jsonrpc.Response{resp}
	}

	out := make([]*jsonrpc.Response, len(frame.Items))
	var wg sync.WaitGroup
	for i, it := range frame.Items {
		if it.Invalid != nil {
			out[i] = it.Invalid
			continue
		}
		wg.Add(1)
		go func(i int, req *jsonrpc.Request) {
			defer wg.Done()
			resp := d.Dispatch(ctx, conn, req, credential)
			if !req.IsNotification() {
				out[i] = &resp
			}
		}(i, it.Request)
	}
	wg.Wait()

	resps := make([]jsonrpc.Response, 0, len(out))
	for _, r := range out {
		if r != nil {
			resps = append(resps, *r)
		}
	}
	return resps
}

// handle is the innermost middleware handler: built-in method routing.
func (d *Dispatcher) handle(ctx context.Context, mreq *middleware.Request) (resp jsonrpc.Response) {
	req := mreq.Req
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic in request handler", "method", req.Method, "panic", fmt.Sprint(r))
			resp = internalError(req.ID)
		}
	}()

	switch req.Method {
	case "initialize":
		return d.handleInitialize(req)
	case "notifications/initialized":
		return jsonrpc.NewSuccessResponse(req.ID, nil)
	case "notifications/cancelled":
		return d.handleCancelled(mreq)
	case "ping":
		return jsonrpc.NewSuccessResponse(req.ID, struct{}{})
	case "tools/list":
		return d.handleToolsList(req)
	case "tools/call":
		return d.callTool(ctx, mreq)
	default:
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.MethodNotFound, fmt.Sprintf("Unknown method: %s", req.Method))
	}
}

func (d *Dispatcher) handleInitialize(req *jsonrpc.Request) jsonrpc.Response {
	var params mcp.InitializeParams
	if req.Params != nil {
		_ = json.Unmarshal(req.Params, &params) // params have defaults, unmarshal errors are non-fatal
	}
	result := mcp.InitializeResult{
		ProtocolVersion: mcp.ProtocolVersion,
		ServerInfo:      d.cfg.ServerInfo,
		Capabilities:    mcp.Capabilities{Tools: &mcp.ToolsCapability{ListChanged: true}},
	}
	return jsonrpc.NewSuccessResponse(req.ID, result)
}

func (d *Dispatcher) handleToolsList(req *jsonrpc.Request) jsonrpc.Response {
	tools := d.registry.List()
	if tools == nil {
		tools = []mcp.Tool{}
	}
	return jsonrpc.NewSuccessResponse(req.ID, mcp.ToolsListResult{Tools: tools})
}

func (d *Dispatcher) handleCancelled(mreq *middleware.Request) jsonrpc.Response {
	var params struct {
		RequestID json.RawMessage `json:"requestId"`
	}
	if mreq.Req.Params != nil {
		_ = json.Unmarshal(mreq.Req.Params, &params)
	}
	if len(params.RequestID) > 0 {
		mreq.Conn.CancelPending(string(params.RequestID))
	}
	return jsonrpc.NewSuccessResponse(mreq.Req.ID, nil)
}

// toolPanicError carries a recovered panic value out of the tool goroutine.
type toolPanicError struct {
	value any
}

func (e *toolPanicError) Error() string {
	return fmt.Sprintf("tool panicked: %v", e.value)
}

func (d *Dispatcher) callTool(ctx context.Context, mreq *middleware.Request) jsonrpc.Response {
	req, conn := mreq.Req, mreq.Conn

	var params mcp.ToolCallParams
	if req.Params == nil || json.Unmarshal(req.Params, &params) != nil || params.Name == "" {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.InvalidParams, "tools/call requires a tool name")
	}

	module, local, ok := d.registry.Resolve(params.Name)
	if !ok {
		// Per MCP convention an unknown tool is reported as
		// method-not-found inside the tools/call envelope.
		return jsonrpc.NewErrorResponseData(req.ID, jsonrpc.MethodNotFound, "",
			map[string]any{"tool": params.Name})
	}

	def, _ := d.registry.Definition(params.Name)
	if err := d.schemas.validate(def.InputSchema, params.Arguments); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return jsonrpc.NewErrorResponseData(req.ID, jsonrpc.InvalidParams, "",
				map[string]any{"tool": params.Name, "violations": verr.Error()})
		}
		d.logger.Error("input schema rejected by compiler", "tool", params.Name, "error", err)
		return internalError(req.ID)
	}

	if d.draining.Load() {
		return jsonrpc.NewErrorResponseData(req.ID, jsonrpc.ServerBusy, "",
			toolErrorData{Tool: params.Name, Kind: "draining"})
	}

	deadline := minTimeout(d.cfg.DefaultTimeout, d.cfg.ToolTimeouts[params.Name])
	if params.TimeoutMs > 0 {
		deadline = minTimeout(deadline, time.Duration(params.TimeoutMs)*time.Millisecond)
	}

	// The pending key is unique per call; batch elements sharing a wire id
	// must not clobber each other's cancel bookkeeping.
	callKey := uuid.NewString()
	requestKey := callKey
	if req.ID != nil {
		requestKey = string(*req.ID)
	}

	callCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()
	if !conn.AddPending(callKey, requestKey, cancel) {
		return mapToolError(req.ID, params.Name, context.Canceled)
	}
	defer conn.RemovePending(callKey)

	connLimit := 0
	if conn.Transport == session.TransportHTTP {
		connLimit = 1
	}
	release, err := d.limiter.Acquire(callCtx, params.Name, conn.ID, connLimit)
	if err != nil {
		return mapToolError(req.ID, params.Name, err)
	}

	d.publish(events.Event{
		Type:         events.RequestAccepted,
		ConnectionID: conn.ID,
		RequestID:    requestKey,
		Method:       req.Method,
		Tool:         params.Name,
	})
	start := time.Now()

	callCtx = mcp.WithCallMeta(callCtx, mcp.CallMeta{
		RequestID:    requestKey,
		ConnectionID: conn.ID,
		Logger:       d.logger,
	})

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: &toolPanicError{value: r}}
			}
		}()
		result, err := module.Call(callCtx, local, params.Arguments)
		done <- outcome{result: result, err: err}
	}()

	var resp jsonrpc.Response
	select {
	case out := <-done:
		release()
		resp = d.mapOutcome(req.ID, params.Name, requestKey, out.result, out.err)

	case <-callCtx.Done():
		// The cancel token has fired. Give the tool the hard-kill grace
		// to notice before its slot is reclaimed.
		grace := time.Duration(float64(deadline) * (d.cfg.HardKillFactor - 1))
		select {
		case out := <-done:
			release()
			if out.err != nil {
				resp = d.mapOutcome(req.ID, params.Name, requestKey, out.result, out.err)
			} else {
				// Result arrived after the deadline fired; the caller
				// already owes a capacity error.
				resp = mapToolError(req.ID, params.Name, callCtx.Err())
			}
		case <-time.After(grace):
			release()
			d.logger.Warn("tool ignored cancellation, abandoning call",
				"tool", params.Name, "request_id", requestKey)
			resp = mapToolError(req.ID, params.Name, context.Canceled)
		}
	}

	code := 0
	if resp.Error != nil {
		code = resp.Error.Code
	}
	d.publish(events.Event{
		Type:         events.RequestCompleted,
		ConnectionID: conn.ID,
		RequestID:    requestKey,
		Method:       req.Method,
		Tool:         params.Name,
		ErrorCode:    code,
		Elapsed:      time.Since(start),
	})
	return resp
}

func (d *Dispatcher) mapOutcome(id *json.RawMessage, tool, requestKey string, result any, err error) jsonrpc.Response {
	if err == nil {
		if result == nil {
			return jsonrpc.NewRawSuccessResponse(id, nil)
		}
		raw, merr := json.Marshal(result)
		if merr != nil {
			d.logger.Error("tool result not serializable", "tool", tool, "request_id", requestKey, "error", merr)
			return internalError(id)
		}
		return jsonrpc.NewRawSuccessResponse(id, raw)
	}
	var pe *toolPanicError
	if errors.As(err, &pe) {
		d.logger.Error("panic in tool call", "tool", tool, "request_id", requestKey, "panic", fmt.Sprint(pe.value))
		return internalError(id)
	}
	return mapToolError(id, tool, err)
}

func (d *Dispatcher) publish(ev events.Event) {
	if d.bus != nil {
		d.bus.Publish(ev)
	}
}

// minTimeout returns the smaller positive duration; zero values are
// treated as "no limit".
func minTimeout(a, b time.Duration) time.Duration {
	if b > 0 && (a <= 0 || b < a) {
		return b
	}
	return a
}
