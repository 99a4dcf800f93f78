package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/atlas2/coderagent/internal/config"
	"github.com/atlas2/coderagent/internal/engine"
)

// sharedEngine is built exactly once for this test binary: engine.Build
// registers package-global Prometheus collectors via promauto, and a
// second Build call in the same process would panic on duplicate
// registration.
var (
	sharedEngineOnce sync.Once
	sharedEngine     *engine.Engine
)

func testEngine(t *testing.T) *engine.Engine {
	t.Helper()
	sharedEngineOnce.Do(func() {
		cfg := config.Default()
		cfg.Providers.Anthropic.APIKey = "test-key"
		cfg.Audit.Enabled = false
		var err error
		sharedEngine, err = engine.Build(cfg, nil)
		if err != nil {
			t.Fatalf("engine.Build: %v", err)
		}
	})
	return sharedEngine
}

func TestHandleHealthz(t *testing.T) {
	s := New(testEngine(t))
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %q, want ok", body["status"])
	}
}

func TestHandleMetricsExposesPrometheusFormat(t *testing.T) {
	s := New(testEngine(t))
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if !bytes.Contains(rr.Body.Bytes(), []byte("# HELP")) {
		t.Error("expected prometheus exposition format in the /metrics response")
	}
}

func TestHandleCreateTaskRejectsMissingFields(t *testing.T) {
	s := New(testEngine(t))
	req := httptest.NewRequest(http.MethodPost, "/v1/tasks", bytes.NewReader([]byte(`{}`)))
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestHandleCreateTaskRejectsWrongMethod(t *testing.T) {
	s := New(testEngine(t))
	req := httptest.NewRequest(http.MethodGet, "/v1/tasks", nil)
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rr.Code)
	}
}

func TestHandleCreateTaskSucceeds(t *testing.T) {
	s := New(testEngine(t))
	body := `{"chat_id":"c1","domain_id":"demo","agent_id":"a1","user_request":"say hi","workspace":"` + t.TempDir() + `"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/tasks", bytes.NewReader([]byte(body)))
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body=%s", rr.Code, rr.Body.String())
	}
	var state map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &state); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if state["task_id"] == nil && state["TaskID"] == nil {
		t.Errorf("expected a task id in the response body, got %v", state)
	}
}

func TestHandleGetTaskNotFound(t *testing.T) {
	s := New(testEngine(t))
	req := httptest.NewRequest(http.MethodGet, "/v1/tasks/does-not-exist", nil)
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func TestHandleDecisionNotFound(t *testing.T) {
	s := New(testEngine(t))
	body := `{"call_id":"c1","accept":true}`
	req := httptest.NewRequest(http.MethodPost, "/v1/tasks/does-not-exist/decision", bytes.NewReader([]byte(body)))
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func TestHandleDecisionRejectsWrongMethod(t *testing.T) {
	s := New(testEngine(t))
	req := httptest.NewRequest(http.MethodGet, "/v1/tasks/some-id/decision", nil)
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rr.Code)
	}
}

func TestStatusWriterCapturesWriteHeader(t *testing.T) {
	rr := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: rr, status: http.StatusOK}
	sw.WriteHeader(http.StatusTeapot)

	if sw.status != http.StatusTeapot {
		t.Errorf("captured status = %d, want 418", sw.status)
	}
	if rr.Code != http.StatusTeapot {
		t.Errorf("underlying recorder status = %d, want 418", rr.Code)
	}
}
