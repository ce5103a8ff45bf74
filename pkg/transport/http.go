package transport

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/mcpkit/mcpkit/pkg/jsonrpc"
	"github.com/mcpkit/mcpkit/pkg/logging"
	"github.com/mcpkit/mcpkit/pkg/session"
)

// HTTPHandler serves single-shot JSON-RPC at the RPC path. One request
// body is one frame; the connection lives for exactly one exchange.
type HTTPHandler struct {
	sessions   *session.Registry
	dispatcher Dispatcher
	opts       Options
	logger     *slog.Logger
}

// NewHTTPHandler creates the POST /rpc adapter.
func NewHTTPHandler(sessions *session.Registry, dispatcher Dispatcher, opts Options, logger *slog.Logger) *HTTPHandler {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &HTTPHandler{
		sessions:   sessions,
		dispatcher: dispatcher,
		opts:       opts.withDefaults(),
		logger:     logger,
	}
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	conn := h.sessions.Open(session.TransportHTTP, r.RemoteAddr)
	if conn == nil {
		http.Error(w, "Server is draining", http.StatusServiceUnavailable)
		return
	}
	defer h.sessions.Close(conn, "request complete")

	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxRequestBytes)
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
	if frameErr != nil {
		// Unframeable payloads are a transport-level 400 carrying the
		// JSON-RPC error body; an empty batch is still a 200.
		status := http.StatusOK
		if frameErr.Error != nil && frameErr.Error.Code == jsonrpc.ParseError {
			status = http.StatusBadRequest
		}
		writeJSONRPC(w, status, *frameErr)
		return
	}

	credential := r.Header.Get("Authorization")
	resps := h.dispatcher.DispatchFrame(r.Context(), conn, frame, credential)

	if len(resps) == 0 {
		// Pure notifications owe no body.
		w.WriteHeader(http.StatusNoContent)
		return
	}

	var payload []byte
	if frame.Batch {
		payload, err = jsonrpc.EncodeBatch(resps)
	} else {
		payload, err = jsonrpc.EncodeResponse(resps[0])
	}
	if err != nil {
		h.logger.Error("failed to encode response", "error", err)
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func writeJSONRPC(w http.ResponseWriter, status int, resp jsonrpc.Response) {
	payload, err := jsonrpc.EncodeResponse(resp)
	if err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}
