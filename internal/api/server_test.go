package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kyleking/askmetrics/internal/agent"
	"github.com/kyleking/askmetrics/internal/types"
)

type stubAsker struct {
	answer *agent.Answer
	err    error
	last   agent.Request
}

func (s *stubAsker) Ask(_ context.Context, req agent.Request) (*agent.Answer, error) {
	s.last = req
	if s.err != nil {
		return nil, s.err
	}

	return s.answer, nil
}

type stubSchema struct {
	snap types.Schema
	err  error
}

func (s *stubSchema) Snapshot(context.Context) (types.Schema, error) {
	return s.snap, s.err
}

func testHandler(asker *stubAsker, schemaStub *stubSchema) http.Handler {
	return NewHandler(Dependencies{Agent: asker, Schema: schemaStub})
}

func TestHealth(t *testing.T) {
	handler := testHandler(&stubAsker{}, &stubSchema{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	if rec.Header().Get(traceHeader) == "" {
		t.Error("responses should carry a trace id")
	}
}

func TestReady_NoCheckConfigured(t *testing.T) {
	handler := testHandler(&stubAsker{}, &stubSchema{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/ready", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestReady_FailingCheck(t *testing.T) {
	handler := NewHandler(Dependencies{
		Readiness: func(context.Context) error { return fmt.Errorf("database down") },
	})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/ready", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestAsk(t *testing.T) {
	asker := &stubAsker{answer: agent.Answered(
		"how many installs last week?",
		"SELECT COUNT(*) FROM app_metrics",
		"There were 42 installs.",
		nil, 1,
	)}
	handler := testHandler(asker, &stubSchema{})

	body := strings.NewReader(`{"question":"how many installs last week?","session_id":"s1","scope":"acme"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/ask", body)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	if asker.last.SessionID != "s1" || asker.last.Scope != "acme" {
		t.Errorf("request not forwarded: %+v", asker.last)
	}

	var answer agent.Answer
	if err := json.Unmarshal(rec.Body.Bytes(), &answer); err != nil {
		t.Fatalf("response is not a valid answer: %v", err)
	}

	if answer.Status != agent.StatusAnswered || answer.Summary == "" {
		t.Errorf("answer = %+v", answer)
	}
}

func TestAsk_InvalidJSON(t *testing.T) {
	handler := testHandler(&stubAsker{}, &stubSchema{})

	req := httptest.NewRequest(http.MethodPost, "/v1/ask", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("error body is not JSON: %v", err)
	}

	if payload["error_code"] != "INVALID_JSON" {
		t.Errorf("error_code = %v", payload["error_code"])
	}

	if payload["trace_id"] == "" {
		t.Error("error responses should carry the trace id")
	}
}

func TestAsk_MissingQuestion(t *testing.T) {
	handler := testHandler(&stubAsker{}, &stubSchema{})

	req := httptest.NewRequest(http.MethodPost, "/v1/ask", strings.NewReader(`{"session_id":"s1"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSchema(t *testing.T) {
	schemaStub := &stubSchema{snap: types.Schema{
		Version: "abcd1234abcd1234",
		Tables: map[string]types.Table{
			"app_metrics": {Name: "app_metrics", Columns: []types.Column{{Name: "installs", Type: "INTEGER"}}},
		},
	}}
	handler := testHandler(&stubAsker{}, schemaStub)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/schema", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var snap types.Schema
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("schema response invalid: %v", err)
	}

	if snap.Version != "abcd1234abcd1234" || len(snap.Tables) != 1 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestSchema_Unavailable(t *testing.T) {
	handler := testHandler(&stubAsker{}, &stubSchema{err: fmt.Errorf("introspection failed")})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/schema", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestTracePropagation(t *testing.T) {
	handler := testHandler(&stubAsker{}, &stubSchema{})

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	req.Header.Set(traceHeader, "trace-123")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get(traceHeader); got != "trace-123" {
		t.Errorf("trace id = %q, want the caller's", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	handler := testHandler(&stubAsker{}, &stubSchema{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	if !strings.Contains(rec.Body.String(), "askmetrics_") {
		t.Error("metrics exposition should include the askmetrics collectors")
	}
}
