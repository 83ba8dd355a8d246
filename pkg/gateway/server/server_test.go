package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vango-go/scholar-lite/pkg/core/search"
	"github.com/vango-go/scholar-lite/pkg/core/solve"
	"github.com/vango-go/scholar-lite/pkg/core/speech"
	"github.com/vango-go/scholar-lite/pkg/gateway/config"
)

type stubGenerator struct{}

func (stubGenerator) Generate(ctx context.Context, req solve.GenerateRequest) (string, error) {
	return `{"solution":"x = 2","explanation":"Divide by two.","chartData":null}`, nil
}

type stubSearcher struct{}

func (stubSearcher) Search(ctx context.Context, query string) (search.Result, error) {
	return search.Result{Text: "answer", Sources: []search.Source{{URI: "https://a.example", Title: "A"}}}, nil
}

func testConfig() config.Config {
	return config.Config{
		GeminiAPIKey:            "test-key",
		Profile:                 config.DefaultProfile(),
		CORSAllowedOrigins:      map[string]struct{}{},
		MaxBodyBytes:            1 << 20,
		MaxImageBytes:           1 << 16,
		MaxSpeechTextBytes:      1024,
		SpeechCacheTTL:          time.Minute,
		LiveMaxSessions:         2,
		LiveMaxAudioFrameBytes:  8192,
		LiveMaxJSONMessageBytes: 64 * 1024,
		LiveMaxSessionDuration:  time.Minute,
		LiveWSPingInterval:      20 * time.Second,
		LiveWSWriteTimeout:      5 * time.Second,
		LiveHandshakeTimeout:    5 * time.Second,
		ReadHeaderTimeout:       time.Second,
		ReadTimeout:             time.Second,
		HandlerTimeout:          5 * time.Second,
	}
}

func newTestServer(deps Deps) *Server {
	return New(testConfig(), slog.New(slog.NewJSONHandler(io.Discard, nil)), deps)
}

func TestServer_UnknownRoute_ReturnsJSON404(t *testing.T) {
	s := newTestServer(Deps{})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/does-not-exist", nil)
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("content-type=%q", ct)
	}
	if !strings.Contains(rr.Body.String(), `"type":"not_found_error"`) {
		t.Fatalf("unexpected body: %q", rr.Body.String())
	}
}

func TestServer_ModelsRoute_Reachable(t *testing.T) {
	s := newTestServer(Deps{})

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/models", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"models"`) {
		t.Fatalf("unexpected body: %q", rr.Body.String())
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("missing X-Request-ID")
	}
}

func TestServer_SolveAndSearchRoutes(t *testing.T) {
	s := newTestServer(Deps{Generator: stubGenerator{}, Searcher: stubSearcher{}})

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/solve", strings.NewReader(`{"prompt":"2x=4"}`)))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"solution":"x = 2"`) {
		t.Fatalf("solve status=%d body=%s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/search", strings.NewReader(`{"query":"q"}`)))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"label":"A"`) {
		t.Fatalf("search status=%d body=%s", rr.Code, rr.Body.String())
	}
}

func TestServer_SpeechIsCached(t *testing.T) {
	var calls atomic.Int32
	synth := speech.SynthesizerFunc(func(ctx context.Context, text string) ([]byte, error) {
		calls.Add(1)
		return make([]byte, 4800), nil
	})
	s := newTestServer(Deps{Synthesizer: synth})

	var cacheHeaders []string
	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/speech", strings.NewReader(`{"text":"hello"}`)))
		if rr.Code != http.StatusOK {
			t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
		}
		cacheHeaders = append(cacheHeaders, rr.Header().Get("X-Speech-Cache"))
	}
	if calls.Load() != 1 {
		t.Fatalf("synthesizer calls=%d", calls.Load())
	}
	if cacheHeaders[0] != "miss" || cacheHeaders[1] != "hit" {
		t.Fatalf("X-Speech-Cache=%v", cacheHeaders)
	}
}

func TestServer_MissingProviderIsAPIError(t *testing.T) {
	s := newTestServer(Deps{})
	bodies := map[string]string{
		"/v1/solve":  `{"prompt":"p"}`,
		"/v1/speech": `{"text":"t"}`,
		"/v1/search": `{"query":"q"}`,
	}
	for path, body := range bodies {
		rr := httptest.NewRecorder()
		s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, path, strings.NewReader(body)))
		if rr.Code != http.StatusInternalServerError || !strings.Contains(rr.Body.String(), `"type":"api_error"`) {
			t.Fatalf("%s: status=%d body=%s", path, rr.Code, rr.Body.String())
		}
	}
}

func TestServer_UIRoutes(t *testing.T) {
	s := newTestServer(Deps{Generator: stubGenerator{}})

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Header().Get("Content-Type"), "text/html") {
		t.Fatalf("status=%d content-type=%q", rr.Code, rr.Header().Get("Content-Type"))
	}

	rr = httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ui/app.js", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("app.js status=%d", rr.Code)
	}
}

func TestServer_LiveRoute_Reachable(t *testing.T) {
	s := newTestServer(Deps{})

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/live", nil))
	if rr.Code == http.StatusNotFound {
		t.Fatalf("/v1/live unexpectedly returned 404")
	}
}

func TestServer_DrainingFlipsReadiness(t *testing.T) {
	s := newTestServer(Deps{})

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("ready status=%d body=%s", rr.Code, rr.Body.String())
	}

	s.SetDraining()
	rr = httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("draining status=%d", rr.Code)
	}
	var body map[string]any
	_ = json.Unmarshal(rr.Body.Bytes(), &body)
	if body["draining"] != true {
		t.Fatalf("body=%v", body)
	}

	rr = httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/live", nil))
	if rr.Code != 529 {
		t.Fatalf("live while draining status=%d", rr.Code)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if !s.WaitLiveSessions(ctx) {
		t.Fatalf("no sessions were open; wait should return true")
	}
	if n := s.WarnLiveSessionsDraining(); n != 0 {
		t.Fatalf("warned=%d", n)
	}
	if n := s.CancelLiveSessions(); n != 0 {
		t.Fatalf("canceled=%d", n)
	}
}
