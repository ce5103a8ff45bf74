package transport

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mcpkit/mcpkit/pkg/dispatch"
	"github.com/mcpkit/mcpkit/pkg/jsonrpc"
	"github.com/mcpkit/mcpkit/pkg/session"
)

func newSSEServer(t *testing.T, limits dispatch.Limits, opts Options) (*httptest.Server, *SSEHandler, *session.Registry, *stubModule) {
	t.Helper()
	sessions, d, module := newTestStack(t, limits)
	h := NewSSEHandler(sessions, d, opts, nil)

	mux := http.NewServeMux()
	mux.Handle("/sse", h)
	mux.HandleFunc("/messages", h.HandleMessages)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, h, sessions, module
}

// openStream starts the SSE GET, consumes the endpoint event, and returns
// the stream reader plus the session id.
func openStream(t *testing.T, srv *httptest.Server) (*bufio.Reader, string, func()) {
	t.Helper()
	resp, err := http.Get(srv.URL + "/sse")
	if err != nil {
		t.Fatalf("GET /sse: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	br := bufio.NewReader(resp.Body)
	event, data := readEvent(t, br)
	if event != "endpoint" {
		t.Fatalf("first event = %q, want endpoint", event)
	}
	const prefix = "/messages?sessionId="
	if !strings.HasPrefix(data, prefix) {
		t.Fatalf("endpoint data = %q, want %s<sid>", data, prefix)
	}
	sid := strings.TrimPrefix(data, prefix)

	if got := resp.Header.Get(DefaultSessionHeader); got != sid {
		t.Errorf("%s header = %q, want %q", DefaultSessionHeader, got, sid)
	}
	return br, sid, func() { resp.Body.Close() }
}

// readEvent parses one SSE event off the stream.
func readEvent(t *testing.T, br *bufio.Reader) (string, string) {
	t.Helper()
	var event, data string
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		if line == "" {
			if event != "" || data != "" {
				return event, data
			}
			continue
		}
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
}

// readMessage skips keepalives and returns the next message event payload.
func readMessage(t *testing.T, br *bufio.Reader) jsonrpc.Response {
	t.Helper()
	for {
		event, data := readEvent(t, br)
		if event == "ping" {
			continue
		}
		if event != "message" {
			t.Fatalf("event = %q, want message", event)
		}
		var resp jsonrpc.Response
		if err := json.Unmarshal([]byte(data), &resp); err != nil {
			t.Fatalf("unmarshal message: %v", err)
		}
		return resp
	}
}

func postMessage(t *testing.T, srv *httptest.Server, sid string, body []byte) *http.Response {
	t.Helper()
	resp, err := http.Post(srv.URL+"/messages?sessionId="+sid, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /messages: %v", err)
	}
	return resp
}

func TestSSE_ToolCallOverStream(t *testing.T) {
	srv, _, _, _ := newSSEServer(t, dispatch.Limits{}, Options{})
	br, sid, closeStream := openStream(t, srv)
	defer closeStream()

	post := postMessage(t, srv, sid, toolCallBody(t, 1, "echo"))
	if post.StatusCode != http.StatusAccepted {
		t.Fatalf("POST status = %d, want 202", post.StatusCode)
	}
	body, _ := io.ReadAll(post.Body)
	post.Body.Close()
	if len(body) != 0 {
		t.Errorf("POST body = %q, want empty", body)
	}

	resp := readMessage(t, br)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	if resp.ID == nil || string(*resp.ID) != "1" {
		t.Errorf("ID = %v, want 1", resp.ID)
	}
}

func TestSSE_ResponsesInAcceptOrder(t *testing.T) {
	srv, _, _, module := newSSEServer(t, dispatch.Limits{}, Options{})
	br, sid, closeStream := openStream(t, srv)
	defer closeStream()

	// First POST blocks in the tool; second finishes immediately. The
	// stream must still deliver them in accept order.
	postMessage(t, srv, sid, toolCallBody(t, 1, "slow")).Body.Close()
	postMessage(t, srv, sid, toolCallBody(t, 2, "echo")).Body.Close()

	time.Sleep(100 * time.Millisecond) // let the fast call finish first
	close(module.gate)

	first := readMessage(t, br)
	if first.ID == nil || string(*first.ID) != "1" {
		t.Fatalf("first message ID = %v, want 1", first.ID)
	}
	second := readMessage(t, br)
	if second.ID == nil || string(*second.ID) != "2" {
		t.Fatalf("second message ID = %v, want 2", second.ID)
	}
}

func TestSSE_ParseErrorOverStream(t *testing.T) {
	srv, _, _, _ := newSSEServer(t, dispatch.Limits{}, Options{})
	br, sid, closeStream := openStream(t, srv)
	defer closeStream()

	post := postMessage(t, srv, sid, []byte(`{"jsonrpc":`))
	post.Body.Close()
	if post.StatusCode != http.StatusAccepted {
		t.Fatalf("POST status = %d, want 202", post.StatusCode)
	}

	resp := readMessage(t, br)
	if resp.Error == nil || resp.Error.Code != jsonrpc.ParseError {
		t.Errorf("resp = %+v, want parse error over the stream", resp)
	}
}

func TestSSE_MissingSessionID(t *testing.T) {
	srv, _, _, _ := newSSEServer(t, dispatch.Limits{}, Options{})

	resp, err := http.Post(srv.URL+"/messages", "application/json", bytes.NewReader(toolCallBody(t, 1, "echo")))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestSSE_UnknownSession(t *testing.T) {
	srv, _, _, _ := newSSEServer(t, dispatch.Limits{}, Options{})

	resp := postMessage(t, srv, "deadbeef", toolCallBody(t, 1, "echo"))
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestSSE_SessionIDViaHeader(t *testing.T) {
	srv, _, _, _ := newSSEServer(t, dispatch.Limits{}, Options{})
	br, sid, closeStream := openStream(t, srv)
	defer closeStream()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/messages", bytes.NewReader(toolCallBody(t, 1, "echo")))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set(DefaultSessionHeader, sid)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	if msg := readMessage(t, br); msg.Error != nil {
		t.Errorf("unexpected error: %v", msg.Error)
	}
}

func TestSSE_MaxConnections(t *testing.T) {
	srv, _, _, _ := newSSEServer(t, dispatch.Limits{}, Options{MaxSSEConnections: 1})
	_, _, closeStream := openStream(t, srv)
	defer closeStream()

	resp, err := http.Get(srv.URL + "/sse")
	if err != nil {
		t.Fatalf("GET /sse: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestSSE_GetOnlyOnStream(t *testing.T) {
	srv, _, _, _ := newSSEServer(t, dispatch.Limits{}, Options{})

	resp, err := http.Post(srv.URL+"/sse", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /sse: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}

func TestSSE_StreamCountTracksStreams(t *testing.T) {
	srv, h, _, _ := newSSEServer(t, dispatch.Limits{}, Options{})

	_, _, closeStream := openStream(t, srv)
	if h.StreamCount() != 1 {
		t.Errorf("StreamCount = %d, want 1", h.StreamCount())
	}
	closeStream()

	deadline := time.Now().Add(2 * time.Second)
	for h.StreamCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("StreamCount never dropped to 0")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
