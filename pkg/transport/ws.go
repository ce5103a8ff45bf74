package transport

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mcpkit/mcpkit/pkg/jsonrpc"
	"github.com/mcpkit/mcpkit/pkg/logging"
	"github.com/mcpkit/mcpkit/pkg/session"
)

// wsWriteTimeout bounds a single frame or control write.
const wsWriteTimeout = 10 * time.Second

// WSHandler serves the WebSocket transport. Each text frame carries one
// JSON-RPC frame; responses correlate by id and may arrive in any order.
type WSHandler struct {
	sessions   *session.Registry
	dispatcher Dispatcher
	opts       Options
	logger     *slog.Logger
	upgrader   websocket.Upgrader
}

// NewWSHandler creates the GET /ws adapter. Origin checks reuse the CORS
// allow list since the browser preflight does not cover upgrades.
func NewWSHandler(sessions *session.Registry, dispatcher Dispatcher, opts Options, allowedOrigins []string, logger *slog.Logger) *WSHandler {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	originSet := make(map[string]bool, len(allowedOrigins))
	allowAll := len(allowedOrigins) == 0
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		originSet[o] = true
	}
	return &WSHandler{
		sessions:   sessions,
		dispatcher: dispatcher,
		opts:       opts.withDefaults(),
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowAll || originSet[origin]
			},
		},
	}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.sessions.Draining() {
		http.Error(w, "Server is draining", http.StatusServiceUnavailable)
		return
	}

	credential := r.Header.Get("Authorization")
	if credential == "" {
		// Browser clients cannot set headers on upgrades; the token rides
		// in the subprotocol slot instead.
		credential = r.Header.Get("Sec-WebSocket-Protocol")
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	conn := h.sessions.Open(session.TransportWS, r.RemoteAddr)
	if conn == nil {
		_ = ws.Close()
		return
	}

	ws.SetReadLimit(h.opts.MaxRequestBytes)

	var writeMu sync.Mutex
	var missedPongs atomic.Int64
	ws.SetPongHandler(func(string) error {
		missedPongs.Store(0)
		conn.Touch()
		return nil
	})

	readDone := make(chan struct{})
	go h.pingLoop(ws, conn, &writeMu, &missedPongs, readDone)

	h.logger.Debug("websocket opened", "conn_id", conn.ID, "remote", r.RemoteAddr)
	reason := h.readLoop(ws, conn, &writeMu, credential)
	close(readDone)

	// Closing the connection cancels everything still pending on it; no
	// response is attempted over the dead socket.
	h.sessions.Close(conn, reason)
	_ = ws.Close()
	h.logger.Debug("websocket closed", "conn_id", conn.ID, "reason", reason)
}

// readLoop consumes frames until the peer goes away. Returns the close
// reason to record.
func (h *WSHandler) readLoop(ws *websocket.Conn, conn *session.Connection, writeMu *sync.Mutex, credential string) string {
	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				h.writeClose(ws, writeMu, websocket.CloseMessageTooBig, "message too large")
				return "message too large"
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return "client closed"
			}
			return "client disconnected"
		}
		if messageType != websocket.TextMessage {
			continue
		}
		conn.Touch()

		frame, frameErr := jsonrpc.DecodeFrame(data)
		if frameErr != nil {
			h.writeResponses(ws, conn, writeMu, false, []jsonrpc.Response{*frameErr})
			continue
		}

		// Frames dispatch concurrently; the per-connection limit caps the
		// resulting parallelism.
		go func(frame *jsonrpc.Frame) {
			resps := h.dispatcher.DispatchFrame(conn.Context(), conn, frame, credential)
			if len(resps) > 0 {
				h.writeResponses(ws, conn, writeMu, frame.Batch, resps)
			}
		}(frame)
	}
}

// pingLoop sends pings every interval; two in a row without a pong close
// the socket with 1011 and cancel everything pending on the connection.
func (h *WSHandler) pingLoop(ws *websocket.Conn, conn *session.Connection, writeMu *sync.Mutex, missedPongs *atomic.Int64, readDone <-chan struct{}) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-readDone:
			return
		case <-conn.Context().Done():
			h.writeClose(ws, writeMu, websocket.CloseGoingAway, "server shutting down")
			_ = ws.Close()
			return
		case <-ticker.C:
			if missedPongs.Load() >= 2 {
				h.logger.Warn("websocket ping timeout", "conn_id", conn.ID)
				h.writeClose(ws, writeMu, websocket.CloseInternalServerErr, "ping timeout")
				h.sessions.Close(conn, "ping timeout")
				_ = ws.Close()
				return
			}
			writeMu.Lock()
			err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
			writeMu.Unlock()
			if err != nil {
				return
			}
			missedPongs.Add(1)
		}
	}
}

func (h *WSHandler) writeResponses(ws *websocket.Conn, conn *session.Connection, writeMu *sync.Mutex, batch bool, resps []jsonrpc.Response) {
	var payload []byte
	var err error
	if batch {
		payload, err = jsonrpc.EncodeBatch(resps)
	} else {
		payload, err = jsonrpc.EncodeResponse(resps[0])
	}
	if err != nil {
		h.logger.Error("failed to encode response", "conn_id", conn.ID, "error", err)
		return
	}

	writeMu.Lock()
	defer writeMu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
		h.logger.Debug("websocket write failed", "conn_id", conn.ID, "error", err)
	}
}

func (h *WSHandler) writeClose(ws *websocket.Conn, writeMu *sync.Mutex, code int, reason string) {
	writeMu.Lock()
	defer writeMu.Unlock()
	msg := websocket.FormatCloseMessage(code, reason)
	_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteTimeout))
}
