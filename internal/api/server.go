// Package api exposes the ask pipeline over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kyleking/askmetrics/internal/agent"
	"github.com/kyleking/askmetrics/internal/logging"
	"github.com/kyleking/askmetrics/internal/metrics"
	"github.com/kyleking/askmetrics/internal/types"
)

const traceHeader = "X-Trace-ID"

// maxQuestionBytes bounds the request body; questions are sentences,
// not documents
const maxQuestionBytes = 64 * 1024

// Asker answers questions. Satisfied by *agent.Agent.
type Asker interface {
	Ask(ctx context.Context, req agent.Request) (*agent.Answer, error)
}

// SchemaProvider serves the current schema snapshot. Satisfied by
// *schema.Catalog.
type SchemaProvider interface {
	Snapshot(ctx context.Context) (types.Schema, error)
}

// ReadinessCheck reports whether the service can answer questions
type ReadinessCheck func(ctx context.Context) error

// Dependencies holds everything the handler needs
type Dependencies struct {
	Agent     Asker
	Schema    SchemaProvider
	Readiness ReadinessCheck
}

// NewHandler builds the route tree with the middleware chain applied
func NewHandler(deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": "askmetrics"})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error())
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	mux.HandleFunc("POST /v1/ask", func(w http.ResponseWriter, r *http.Request) {
		handleAsk(deps, w, r)
	})

	mux.HandleFunc("GET /v1/schema", func(w http.ResponseWriter, r *http.Request) {
		handleSchema(deps, w, r)
	})

	return chain(mux, traceMiddleware, metricsMiddleware, loggingMiddleware)
}

type askRequest struct {
	Question  string `json:"question"`
	SessionID string `json:"session_id"`
	Scope     string `json:"scope"`
}

func handleAsk(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Agent == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ASK_NOT_CONFIGURED", "ask dependencies are not configured")
		return
	}

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxQuestionBytes))
	decoder.DisallowUnknownFields()

	var request askRequest
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid ask request body")
		return
	}

	if request.Question == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required")
		return
	}

	answer, err := deps.Agent.Ask(r.Context(), agent.Request{
		SessionID: request.SessionID,
		Scope:     request.Scope,
		Question:  request.Question,
	})
	if err != nil {
		// Ask only errors on cancellation; everything else arrives as a
		// failed answer
		writeError(r.Context(), w, statusForContextErr(r.Context()), "REQUEST_CANCELLED", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, answer)
}

func handleSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Schema == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "schema dependencies are not configured")
		return
	}

	snap, err := deps.Schema.Snapshot(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "SCHEMA_UNAVAILABLE", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

func statusForContextErr(ctx context.Context) int {
	if ctx.Err() == context.DeadlineExceeded {
		return http.StatusGatewayTimeout
	}

	return 499 // client closed request
}

// traceMiddleware tags every request with a trace id, honoring one
// supplied by the caller
func traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(traceHeader)
		if traceID == "" {
			traceID = uuid.NewString()
		}

		ctx := logging.ContextWithTraceID(r.Context(), traceID)
		w.Header().Set(traceHeader, traceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		metrics.RecordHTTPRequest(r.Method, r.URL.Path, strconv.Itoa(recorder.status), time.Since(start))
	})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		logging.WithFields(map[string]interface{}{
			"trace_id":    logging.TraceIDFromContext(r.Context()),
			"method":      r.Method,
			"path":        r.URL.Path,
			"remote_addr": r.RemoteAddr,
			"status":      recorder.status,
			"duration":    time.Since(start).String(),
			"bytes":       recorder.bytes,
		}).Info("http_request")
	})
}

type statusRecorder struct {
	http.ResponseWriter

	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(body []byte) (int, error) {
	n, err := r.ResponseWriter.Write(body)
	r.bytes += n

	return n, err
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}

	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"trace_id":   logging.TraceIDFromContext(ctx),
	})
}
