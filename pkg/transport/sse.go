package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mcpkit/mcpkit/pkg/jsonrpc"
	"github.com/mcpkit/mcpkit/pkg/logging"
	"github.com/mcpkit/mcpkit/pkg/session"
)

// sseMailboxDepth bounds the accepted-but-unwritten responses per stream.
const sseMailboxDepth = 256

// SSEHandler serves the legacy SSE transport: a long-lived GET stream
// paired with POSTed frames whose responses come back over the stream.
//
// The framing is fixed by the legacy client: the first event is always
// "endpoint" carrying the POST path, keepalives are "ping", responses are
// "message", and teardown is "close". Responses on one stream are written
// in the order their POSTs were accepted, not the order they finished.
type SSEHandler struct {
	sessions   *session.Registry
	dispatcher Dispatcher
	opts       Options
	logger     *slog.Logger

	active  atomic.Int64
	mu      sync.RWMutex
	streams map[string]*sseStream
}

// sseStream is the per-connection write side. All writes happen on the
// GET handler goroutine, so no lock is needed around the ResponseWriter;
// POSTs only enqueue into the mailbox.
type sseStream struct {
	w       http.ResponseWriter
	flusher http.Flusher

	// queue holds one slot per accepted POST, in accept order. The writer
	// waits on each slot in turn, which is what serializes responses.
	queue chan chan []jsonrpc.Response
}

func (st *sseStream) writeEvent(event, data string) {
	fmt.Fprintf(st.w, "event: %s\ndata: %s\n\n", event, data)
	st.flusher.Flush()
}

// NewSSEHandler creates the GET /sse + POST /messages adapter.
func NewSSEHandler(sessions *session.Registry, dispatcher Dispatcher, opts Options, logger *slog.Logger) *SSEHandler {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &SSEHandler{
		sessions:   sessions,
		dispatcher: dispatcher,
		opts:       opts.withDefaults(),
		logger:     logger,
		streams:    make(map[string]*sseStream),
	}
}

// StreamCount returns the number of open SSE streams.
func (s *SSEHandler) StreamCount() int {
	return int(s.active.Load())
}

// ServeHTTP handles GET /sse.
func (s *SSEHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.active.Load() >= int64(s.opts.MaxSSEConnections) {
		http.Error(w, "Too many connections", http.StatusServiceUnavailable)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	conn := s.sessions.Open(session.TransportSSE, r.RemoteAddr)
	if conn == nil {
		http.Error(w, "Server is draining", http.StatusServiceUnavailable)
		return
	}
	s.active.Add(1)
	defer s.active.Add(-1)

	sid := s.sessions.BindSession(conn)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set(s.opts.SessionHeader, sid)

	st := &sseStream{
		w:       w,
		flusher: flusher,
		queue:   make(chan chan []jsonrpc.Response, sseMailboxDepth),
	}
	s.mu.Lock()
	s.streams[conn.ID] = st
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.streams, conn.ID)
		s.mu.Unlock()
	}()

	// The endpoint event must be first on the stream; the client reads
	// its POST target from it.
	st.writeEvent("endpoint", fmt.Sprintf("%s?sessionId=%s", s.opts.MessagesPath, sid))
	s.logger.Debug("sse stream opened", "conn_id", conn.ID, "session_id", sid, "remote", r.RemoteAddr)

	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-r.Context().Done():
			break loop
		case <-conn.Context().Done():
			break loop
		case <-ticker.C:
			st.writeEvent("ping", "{}")
		case slot := <-st.queue:
			if !s.awaitSlot(r, conn, st, ticker, slot) {
				break loop
			}
		}
	}

	reason := conn.CloseReason()
	if reason == "" {
		reason = "client disconnected"
	}
	// Best effort: when the peer is already gone this writes into the void.
	closeData, _ := json.Marshal(map[string]string{"reason": reason})
	st.writeEvent("close", string(closeData))

	s.sessions.Close(conn, reason)
	s.logger.Debug("sse stream closed", "conn_id", conn.ID, "reason", reason)
}

// awaitSlot blocks until one accepted POST's responses are ready and
// writes them, keeping the ping cadence alive while waiting. Returns
// false when the stream should end.
func (s *SSEHandler) awaitSlot(r *http.Request, conn *session.Connection, st *sseStream, ticker *time.Ticker, slot chan []jsonrpc.Response) bool {
	for {
		select {
		case resps := <-slot:
			for _, resp := range resps {
				payload, err := jsonrpc.EncodeResponse(resp)
				if err != nil {
					s.logger.Error("failed to encode sse response", "conn_id", conn.ID, "error", err)
					continue
				}
				st.writeEvent("message", string(payload))
			}
			return true
		case <-ticker.C:
			st.writeEvent("ping", "{}")
		case <-r.Context().Done():
			return false
		case <-conn.Context().Done():
			return false
		}
	}
}

// HandleMessages handles POST /messages. The response is delivered over
// the bound SSE stream; the POST itself returns 202 with an empty body.
func (s *SSEHandler) HandleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sid := r.URL.Query().Get("sessionId")
	if sid == "" {
		sid = r.Header.Get(s.opts.SessionHeader)
	}
	if sid == "" {
		http.Error(w, "Missing sessionId", http.StatusBadRequest)
		return
	}

	conn := s.sessions.LookupSession(sid)
	if conn == nil || !conn.AcceptsWork() {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	s.mu.RLock()
	st := s.streams[conn.ID]
	s.mu.RUnlock()
	if st == nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxRequestBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	frame, frameErr := jsonrpc.DecodeFrame(body)

	// Reserving the slot before dispatch is what pins the response order
	// to accept order.
	slot := make(chan []jsonrpc.Response, 1)
	select {
	case st.queue <- slot:
	default:
		http.Error(w, "Stream backlog full", http.StatusServiceUnavailable)
		return
	}

	if frameErr != nil {
		slot <- []jsonrpc.Response{*frameErr}
	} else {
		credential := r.Header.Get("Authorization")
		go func() {
			slot <- s.dispatcher.DispatchFrame(conn.Context(), conn, frame, credential)
		}()
	}

	conn.Touch()
	w.WriteHeader(http.StatusAccepted)
}
