package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vango-go/scholar-lite/pkg/gateway/config"
	"github.com/vango-go/scholar-lite/pkg/gateway/lifecycle"
)

func readyConfig() config.Config {
	return config.Config{
		GeminiAPIKey:      "test-key",
		MaxBodyBytes:      1 << 20,
		MaxImageBytes:     1 << 19,
		LiveMaxSessions:   2,
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       time.Second,
		HandlerTimeout:    time.Second,
	}
}

type fixedCounter int

func (c fixedCounter) Count() int { return int(c) }

func TestHealthHandler_OK(t *testing.T) {
	rr := httptest.NewRecorder()
	HealthHandler{}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "ok\n" {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
}

func TestReadyHandler_Ready(t *testing.T) {
	h := ReadyHandler{Config: readyConfig(), Lifecycle: lifecycle.New(), LiveSessions: fixedCounter(1)}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["ok"] != true || resp["backend"] != "gemini_api" || resp["live_sessions"] != float64(1) {
		t.Fatalf("resp=%v", resp)
	}
}

func TestReadyHandler_NoCredentials_NotReady(t *testing.T) {
	cfg := readyConfig()
	cfg.GeminiAPIKey = ""

	rr := httptest.NewRecorder()
	ReadyHandler{Config: cfg}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ok, _ := resp["ok"].(bool); ok {
		t.Fatalf("expected ok=false, got ok=true")
	}
}

func TestReadyHandler_VertexBackend(t *testing.T) {
	cfg := readyConfig()
	cfg.GeminiAPIKey = ""
	cfg.VertexProject = "proj"
	cfg.VertexLocation = "us-central1"

	rr := httptest.NewRecorder()
	ReadyHandler{Config: cfg}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	var resp map[string]any
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp["backend"] != "vertex" {
		t.Fatalf("backend=%v", resp["backend"])
	}
}

func TestReadyHandler_Draining(t *testing.T) {
	lc := lifecycle.New()
	lc.SetDraining(true)

	rr := httptest.NewRecorder()
	ReadyHandler{Config: readyConfig(), Lifecycle: lc}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	var resp map[string]any
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp["draining"] != true {
		t.Fatalf("draining=%v", resp["draining"])
	}
}

func TestNotFoundHandler_JSON(t *testing.T) {
	rr := httptest.NewRecorder()
	NotFoundHandler{}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d", rr.Code)
	}
	var body map[string]map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["error"]["type"] != "not_found_error" {
		t.Fatalf("error=%v", body["error"])
	}
}
