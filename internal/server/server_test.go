package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mcpkit/mcpkit/pkg/config"
	"github.com/mcpkit/mcpkit/pkg/jsonrpc"
	"github.com/mcpkit/mcpkit/pkg/middleware"
	"github.com/mcpkit/mcpkit/pkg/tools/echo"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.SetDefaults()
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config, opts ...Option) *Server {
	t.Helper()
	s, err := New(context.Background(), cfg, nil, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestServer_New_RegistersModules(t *testing.T) {
	s := newTestServer(t, testConfig(), WithModules(echo.New()))

	tools := s.Tools().List()
	if len(tools) != 1 || tools[0].Name != "echo" {
		t.Fatalf("List = %+v, want single echo tool", tools)
	}
}

func TestServer_HealthDrainingUntilReady(t *testing.T) {
	s := newTestServer(t, testConfig())
	srv := httptest.NewServer(s.buildHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 before Run", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "draining" {
		t.Errorf("status field = %v, want draining", body["status"])
	}
}

func TestServer_HealthOKWhenReady(t *testing.T) {
	s := newTestServer(t, testConfig())
	s.ready.Store(true)
	srv := httptest.NewServer(s.buildHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %v, want ok", body["status"])
	}
	if _, ok := body["connections"]; !ok {
		t.Error("health body missing connections")
	}
	if _, ok := body["sessions"]; !ok {
		t.Error("health body missing sessions")
	}
}

func TestServer_HealthMethodNotAllowed(t *testing.T) {
	s := newTestServer(t, testConfig())
	srv := httptest.NewServer(s.buildHandler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/health", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}

func TestServer_RPCEndToEnd(t *testing.T) {
	s := newTestServer(t, testConfig(), WithModules(echo.New()))
	srv := httptest.NewServer(s.buildHandler())
	defer srv.Close()

	req := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params":  map[string]any{"name": "echo", "arguments": map[string]any{"message": "hi"}},
	}
	body, _ := json.Marshal(req)
	resp, err := http.Post(srv.URL+"/rpc", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var rpcResp jsonrpc.Response
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if rpcResp.Error != nil {
		t.Fatalf("unexpected error: %+v", rpcResp.Error)
	}
	if rpcResp.Result == nil {
		t.Fatal("expected a result")
	}
}

func TestServer_ReclaimsConnectionSlots(t *testing.T) {
	s := newTestServer(t, testConfig(), WithModules(echo.New()))
	srv := httptest.NewServer(s.buildHandler())
	defer srv.Close()

	for i := 0; i < 3; i++ {
		body, _ := json.Marshal(map[string]any{
			"jsonrpc": "2.0",
			"id":      i + 1,
			"method":  "tools/call",
			"params":  map[string]any{"name": "echo", "arguments": map[string]any{"message": "hi"}},
		})
		resp, err := http.Post(srv.URL+"/rpc", "application/json", bytes.NewReader(body))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
	}

	// Slot bookkeeping is released on the connection close path itself,
	// not via the lossy event bus.
	deadline := time.Now().Add(2 * time.Second)
	for s.disp.Limiter().TrackedConnections() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("TrackedConnections = %d, want 0 after requests completed",
				s.disp.Limiter().TrackedConnections())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestServer_MetricsEndpointWhenEnabled(t *testing.T) {
	cfg := testConfig()
	cfg.Telemetry.MetricsEnabled = true
	s := newTestServer(t, cfg)
	srv := httptest.NewServer(s.buildHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	data, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(data, []byte("go_goroutines")) {
		t.Error("expected go runtime metrics in /metrics output")
	}
}

func TestServer_MetricsEndpointAbsentWhenDisabled(t *testing.T) {
	s := newTestServer(t, testConfig())
	srv := httptest.NewServer(s.buildHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404 with metrics disabled", resp.StatusCode)
	}
}

func TestServer_BuildMiddlewares_Order(t *testing.T) {
	cfg := testConfig()
	cfg.Middleware.Order = []string{"logging", "validation", "ratelimit", "metrics"}
	cfg.Middleware.RateLimit.RatePerSecond = 10
	s := newTestServer(t, cfg)

	if got := len(s.buildMiddlewares()); got != 4 {
		t.Errorf("built %d middlewares, want 4", got)
	}
}

func TestServer_BuildMiddlewares_AuthSkippedWhenDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Middleware.Order = []string{"auth"}
	s := newTestServer(t, cfg)

	if got := len(s.buildMiddlewares()); got != 0 {
		t.Errorf("built %d middlewares, want 0 when auth is disabled", got)
	}
}

func TestServer_BuildMiddlewares_AuthenticatorOption(t *testing.T) {
	cfg := testConfig()
	cfg.Middleware.Order = []string{"auth"}
	s := newTestServer(t, cfg, WithAuthenticator(&middleware.StaticTokenAuthenticator{Token: "t"}))

	if got := len(s.buildMiddlewares()); got != 1 {
		t.Errorf("built %d middlewares, want 1 for the injected authenticator", got)
	}
}

func TestServer_AuthRejectsOverRPC(t *testing.T) {
	cfg := testConfig()
	cfg.Middleware.Order = []string{"auth"}
	cfg.Middleware.Auth.Enabled = true
	cfg.Middleware.Auth.Token = "sekret"
	s := newTestServer(t, cfg, WithModules(echo.New()))
	srv := httptest.NewServer(s.buildHandler())
	defer srv.Close()

	body, _ := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": 1, "method": "ping"})
	resp, err := http.Post(srv.URL+"/rpc", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var rpcResp jsonrpc.Response
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if rpcResp.Error == nil || rpcResp.Error.Code != jsonrpc.Unauthorized {
		t.Fatalf("error = %+v, want code %d", rpcResp.Error, jsonrpc.Unauthorized)
	}
}
