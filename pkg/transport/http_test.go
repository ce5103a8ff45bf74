package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mcpkit/mcpkit/pkg/dispatch"
	"github.com/mcpkit/mcpkit/pkg/jsonrpc"
)

func postRPC(t *testing.T, h *HTTPHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeRPC(t *testing.T, w *httptest.ResponseRecorder) jsonrpc.Response {
	t.Helper()
	var resp jsonrpc.Response
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func TestHTTPHandler_ToolCall(t *testing.T) {
	sessions, d, _ := newTestStack(t, dispatch.Limits{})
	h := NewHTTPHandler(sessions, d, Options{}, nil)

	w := postRPC(t, h, string(toolCallBody(t, 1, "echo")))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	resp := decodeRPC(t, w)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	if resp.ID == nil || string(*resp.ID) != "1" {
		t.Errorf("ID = %v, want 1", resp.ID)
	}

	// The one-shot connection is gone once the exchange ends.
	if sessions.Count() != 0 {
		t.Errorf("Count = %d, want 0 after the exchange", sessions.Count())
	}
}

func TestHTTPHandler_MethodNotAllowed(t *testing.T) {
	sessions, d, _ := newTestStack(t, dispatch.Limits{})
	h := NewHTTPHandler(sessions, d, Options{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/rpc", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", w.Code)
	}
}

func TestHTTPHandler_MalformedJSON(t *testing.T) {
	sessions, d, _ := newTestStack(t, dispatch.Limits{})
	h := NewHTTPHandler(sessions, d, Options{}, nil)

	w := postRPC(t, h, `{"jsonrpc":`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	resp := decodeRPC(t, w)
	if resp.Error == nil || resp.Error.Code != jsonrpc.ParseError {
		t.Errorf("resp = %+v, want parse error body", resp)
	}
	if resp.ID != nil {
		t.Errorf("ID = %v, want null", resp.ID)
	}
}

func TestHTTPHandler_EmptyBatch(t *testing.T) {
	sessions, d, _ := newTestStack(t, dispatch.Limits{})
	h := NewHTTPHandler(sessions, d, Options{}, nil)

	w := postRPC(t, h, `[]`)
	// An empty batch is well-formed JSON, so it answers 200 with the
	// invalid-request body rather than a transport-level 400.
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	resp := decodeRPC(t, w)
	if resp.Error == nil || resp.Error.Code != jsonrpc.InvalidRequest {
		t.Errorf("resp = %+v, want invalid request body", resp)
	}
}

func TestHTTPHandler_Notification(t *testing.T) {
	sessions, d, _ := newTestStack(t, dispatch.Limits{})
	h := NewHTTPHandler(sessions, d, Options{}, nil)

	w := postRPC(t, h, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}
	if w.Body.Len() != 0 {
		t.Errorf("body = %q, want empty", w.Body.String())
	}
}

func TestHTTPHandler_BatchSuppressesNotifications(t *testing.T) {
	sessions, d, _ := newTestStack(t, dispatch.Limits{})
	h := NewHTTPHandler(sessions, d, Options{}, nil)

	body := `[
		{"jsonrpc":"2.0","id":1,"method":"ping"},
		{"jsonrpc":"2.0","method":"notifications/initialized"}
	]`
	w := postRPC(t, h, body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resps []jsonrpc.Response
	if err := json.NewDecoder(w.Body).Decode(&resps); err != nil {
		t.Fatalf("decode batch: %v", err)
	}
	if len(resps) != 1 {
		t.Fatalf("len(resps) = %d, want 1", len(resps))
	}
	if resps[0].ID == nil || string(*resps[0].ID) != "1" {
		t.Errorf("ID = %v, want 1", resps[0].ID)
	}
}

func TestHTTPHandler_UnknownTool(t *testing.T) {
	sessions, d, _ := newTestStack(t, dispatch.Limits{})
	h := NewHTTPHandler(sessions, d, Options{}, nil)

	w := postRPC(t, h, string(toolCallBody(t, 1, "no-such-tool")))
	resp := decodeRPC(t, w)
	if resp.Error == nil || resp.Error.Code != jsonrpc.MethodNotFound {
		t.Fatalf("resp = %+v, want method not found", resp)
	}
	data, _ := resp.Error.Data.(map[string]any)
	if data["tool"] != "no-such-tool" {
		t.Errorf("data.tool = %v, want no-such-tool", data["tool"])
	}
}

func TestHTTPHandler_Oversize(t *testing.T) {
	sessions, d, _ := newTestStack(t, dispatch.Limits{})
	h := NewHTTPHandler(sessions, d, Options{MaxRequestBytes: 64}, nil)

	big := bytes.Repeat([]byte("x"), 256)
	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewReader(big))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", w.Code)
	}
}

func TestHTTPHandler_Draining(t *testing.T) {
	sessions, d, _ := newTestStack(t, dispatch.Limits{})
	h := NewHTTPHandler(sessions, d, Options{}, nil)

	sessions.DrainAll(context.Background(), 0)
	w := postRPC(t, h, `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestHTTPHandler_Backpressure(t *testing.T) {
	sessions, d, module := newTestStack(t, dispatch.Limits{
		Global:     1,
		QueueDepth: 1,
	})
	h := NewHTTPHandler(sessions, d, Options{}, nil)

	// One slow call holds the only global slot, one more fills the queue.
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			postRPC(t, h, string(toolCallBody(t, id, "slow")))
		}(i + 1)
	}
	waitFor(t, func() bool { return d.Limiter().InFlight() == 1 })
	time.Sleep(100 * time.Millisecond) // let the second request join the queue

	w := postRPC(t, h, string(toolCallBody(t, 3, "echo")))
	resp := decodeRPC(t, w)
	if resp.Error == nil || resp.Error.Code != jsonrpc.ServerBusy {
		t.Fatalf("resp = %+v, want server busy", resp)
	}

	close(module.gate)
	wg.Wait()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition never became true")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
