// Package api serves the front door: relayed requests plus health and stats introspection.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"relay/internal/apperrors"
	"relay/internal/broker"
	"relay/internal/health"
	"relay/internal/relay"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// maxRequestBodySize limits request body to 1MB to prevent memory exhaustion
const maxRequestBodySize = 1 << 20 // 1 MB

// requestIDHeader carries the allocated id back to the client.
const requestIDHeader = "X-Request-Id"

// Relayer runs one relayed request through the broker.
type Relayer interface {
	Handle(ctx context.Context, method, path string, body []byte) relay.Outcome
}

// StatsReader reads the broker's introspection counters.
type StatsReader interface {
	Stats(ctx context.Context) (broker.Stats, error)
}

// Handler contains HTTP handlers for the front door.
type Handler struct {
	relay  Relayer
	health *health.Checker
	stats  StatsReader
}

// NewHandler creates a new API handler
func NewHandler(r Relayer, healthChecker *health.Checker, stats StatsReader) *Handler {
	return &Handler{
		relay:  r,
		health: healthChecker,
		stats:  stats,
	}
}

// Relay handles GET and POST on any other path.
func (h *Handler) Relay(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		h.handleError(w, r, apperrors.Malformed("request body", err))
		return
	}

	out := h.relay.Handle(r.Context(), r.Method, r.URL.Path, body)
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("request.id", out.RequestID))

	res := out.Result
	for k, v := range res.Headers {
		w.Header().Set(k, v)
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	w.Header().Set(requestIDHeader, out.RequestID)
	w.WriteHeader(res.StatusCode)
	if _, err := w.Write(res.Body); err != nil {
		slog.Debug("Failed to write response", "requestId", out.RequestID, "error", err)
	}
}

// Health handles GET /health.
// Returns 200 "OK" only when the broker answers a ping, 503 otherwise.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	response := h.health.Check(r.Context())
	if !response.IsHealthy() {
		h.writeJSON(w, http.StatusServiceUnavailable, response)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "OK")
}

// Stats handles GET /stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.Stats(r.Context())
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeError writes an error response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// handleError maps an error to its HTTP status and writes it.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= 500 {
		slog.Error("Request failed", "error", err, "path", r.URL.Path, "status", status)
	} else {
		slog.Warn("Client error", "error", err, "path", r.URL.Path, "status", status)
	}
	h.writeError(w, status, err.Error())
}
