// Package api provides the HTTP surface of the bridge: inbound booking
// events and the admin endpoints behind the payload viewer.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/xraph/flowbridge"
)

// Handler is the root HTTP handler.
type Handler struct {
	bridge *flowbridge.Bridge
	logger *slog.Logger
	mux    *http.ServeMux

	// inboundSecret, when set, is required to sign POST /events requests.
	inboundSecret string
	tolerance     time.Duration
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithInboundSecret requires inbound event requests to carry a valid
// signature made with secret.
func WithInboundSecret(secret string, tolerance time.Duration) HandlerOption {
	return func(h *Handler) {
		h.inboundSecret = secret
		h.tolerance = tolerance
	}
}

// NewHandler creates a handler serving b.
func NewHandler(b *flowbridge.Bridge, logger *slog.Logger, opts ...HandlerOption) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		bridge: b,
		logger: logger,
		mux:    http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(h)
	}

	h.registerRoutes()
	return h
}

func (h *Handler) registerRoutes() {
	// Inbound triggers
	h.mux.HandleFunc("POST /events/saved", h.postSaved)
	h.mux.HandleFunc("POST /events/status", h.postStatus)

	// Records
	h.mux.HandleFunc("GET /records", h.listRecords)
	h.mux.HandleFunc("POST /records/{id}/reprocess", h.reprocess)
	h.mux.HandleFunc("GET /records/{id}/diagnosis", h.diagnose)
	h.mux.HandleFunc("GET /records/{id}/payload", h.getPayload)

	// Settings
	h.mux.HandleFunc("GET /settings", h.getSettings)
	h.mux.HandleFunc("PUT /settings", h.putSettings)

	// DLQ
	h.mux.HandleFunc("GET /dlq", h.listDLQ)
	h.mux.HandleFunc("POST /dlq/{id}/replay", h.replayDLQ)
	h.mux.HandleFunc("POST /dlq/replay", h.replayBulkDLQ)
	h.mux.HandleFunc("DELETE /dlq", h.purgeDLQ)

	// Stats
	h.mux.HandleFunc("GET /stats", h.getStats)
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.withMiddleware(h.mux).ServeHTTP(w, r)
}

func (h *Handler) withMiddleware(next http.Handler) http.Handler {
	return h.panicRecovery(h.logging(next))
}

func (h *Handler) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		h.logger.Info("api request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (h *Handler) panicRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				h.logger.Error("panic recovered",
					"error", rec,
					"stack", string(debug.Stack()),
				)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// JSON helpers.

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best effort
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// queryInt returns a query parameter as int or a default value.
func queryInt(r *http.Request, key string, defaultVal int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}

// recordID parses the {id} path value.
func recordID(r *http.Request) (int64, bool) {
	n, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	return n, err == nil && n > 0
}
