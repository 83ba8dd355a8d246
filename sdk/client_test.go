package scholar

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/vango-go/scholar-lite/pkg/core"
	"github.com/vango-go/scholar-lite/pkg/core/audio"
	"github.com/vango-go/scholar-lite/pkg/core/live"
	"github.com/vango-go/scholar-lite/pkg/core/search"
	"github.com/vango-go/scholar-lite/pkg/core/solve"
)

func TestClient_Solve_Proxy(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/base/v1/solve" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Model", "gemini-2.5-pro")
		_, _ = io.WriteString(w, `{"solution":"**x**","explanation":"e","chart_data":{"type":"bar","data":[{"name":"a","value":1}],"dataKey":"value"},"solution_html":"<p><strong>x</strong></p>\n","chart_svg":"<svg></svg>"}`)
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL + "/base/"))
	res, err := c.Solve(context.Background(), solve.Request{
		Prompt:   "p",
		Thinking: true,
		Image:    &solve.Image{MIMEType: "image/png", Data: []byte{1, 2, 3}},
	})
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if res.Solution != "**x**" || res.Chart == nil || res.Chart.Type != solve.ChartBar || res.ChartSVG != "<svg></svg>" || res.Model != "gemini-2.5-pro" {
		t.Fatalf("res=%+v", res)
	}
	img, _ := got["image"].(map[string]any)
	if got["thinking"] != true || img["mime_type"] != "image/png" || img["data_b64"] != audio.EncodeBase64([]byte{1, 2, 3}) {
		t.Fatalf("request=%v", got)
	}
}

func TestClient_GatewayErrorDecodesToCoreError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Request-ID", "req_abc")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"type":"invalid_request_error","message":"Please enter a search query.","param":"query"}}`)
	}))
	defer srv.Close()

	_, err := NewClient(WithBaseURL(srv.URL)).Search(context.Background(), " ")
	var apiErr *core.Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("err=%T %v", err, err)
	}
	if apiErr.Type != core.ErrInvalidRequest || apiErr.Param != "query" || apiErr.RequestID != "req_abc" {
		t.Fatalf("apiErr=%+v", apiErr)
	}
}

func TestClient_NonJSONErrorInfersType(t *testing.T) {
	tests := []struct {
		status int
		want   core.ErrorType
	}{
		{http.StatusBadGateway, core.ErrProvider},
		{529, core.ErrOverloaded},
		{http.StatusTooManyRequests, core.ErrOverloaded},
		{http.StatusNotFound, core.ErrNotFound},
		{http.StatusInternalServerError, core.ErrAPI},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
			_, _ = io.WriteString(w, "upstream exploded")
		}))
		_, err := NewClient(WithBaseURL(srv.URL)).Search(context.Background(), "q")
		srv.Close()

		var apiErr *core.Error
		if !errors.As(err, &apiErr) || apiErr.Type != tt.want {
			t.Fatalf("status %d: err=%v", tt.status, err)
		}
	}
}

func TestClient_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(WithBaseURL(url)).Search(context.Background(), "q")
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("err=%T %v", err, err)
	}
}

func TestClient_SpeakAndSearch_Proxy(t *testing.T) {
	pcm := []byte{1, 0, 2, 0}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/speech":
			w.Header().Set("X-Speech-Cache", "hit")
			_ = json.NewEncoder(w).Encode(map[string]any{"audio_b64": audio.EncodeBase64(pcm), "sample_rate_hz": 24000, "channels": 1, "encoding": "pcm_s16le"})
		case "/v1/search":
			_, _ = io.WriteString(w, `{"text":"t","sources":[{"uri":"https://a.example","title":"","label":"https://a.example"}]}`)
		}
	}))
	defer srv.Close()
	c := NewClient(WithBaseURL(srv.URL))

	sp, err := c.Speak(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if string(sp.PCM) != string(pcm) || !sp.Cached || sp.Format != audio.OutputFormat {
		t.Fatalf("speech=%+v", sp)
	}

	res, err := c.Search(context.Background(), "q")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res.Sources) != 1 || res.Sources[0].Label() != "https://a.example" {
		t.Fatalf("res=%+v", res)
	}
}

func TestClient_NoBaseURL(t *testing.T) {
	_, err := NewClient().Search(context.Background(), "q")
	var apiErr *core.Error
	if !errors.As(err, &apiErr) || apiErr.Type != core.ErrInvalidRequest {
		t.Fatalf("err=%v", err)
	}
}

type fakeBackend struct {
	synthCalls atomic.Int32
}

func (b *fakeBackend) Generate(ctx context.Context, req solve.GenerateRequest) (string, error) {
	return `{"solution":"- one\n- two","explanation":"e","chartData":{"type":"line","data":[{"name":"a","value":1},{"name":"b","value":2}],"dataKey":"value"}}`, nil
}

func (b *fakeBackend) Synthesize(ctx context.Context, text string) ([]byte, error) {
	b.synthCalls.Add(1)
	return []byte{0, 0, 1, 1}, nil
}

func (b *fakeBackend) Search(ctx context.Context, query string) (search.Result, error) {
	return search.Result{Text: "direct"}, nil
}

func (b *fakeBackend) Connect(ctx context.Context, cfg live.Config) (live.Stream, error) {
	return nil, errors.New("not used")
}

func TestClient_Direct(t *testing.T) {
	b := &fakeBackend{}
	c := NewClient(WithDirect(b))
	if !c.IsDirect() {
		t.Fatalf("expected direct mode")
	}

	res, err := c.Solve(context.Background(), solve.Request{Prompt: "p"})
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if !strings.Contains(res.SolutionHTML, "<li>one</li>") || !strings.HasPrefix(res.ChartSVG, "<svg") || res.Model != solve.DefaultModel {
		t.Fatalf("res=%+v", res)
	}

	for i := 0; i < 2; i++ {
		sp, err := c.Speak(context.Background(), "same text")
		if err != nil {
			t.Fatalf("Speak: %v", err)
		}
		if sp.Cached != (i == 1) {
			t.Fatalf("call %d cached=%v", i, sp.Cached)
		}
	}
	if b.synthCalls.Load() != 1 {
		t.Fatalf("synth calls=%d", b.synthCalls.Load())
	}

	sr, err := c.Search(context.Background(), "q")
	if err != nil || sr.Text != "direct" || sr.Sources == nil {
		t.Fatalf("search=%+v err=%v", sr, err)
	}

	conn, err := c.Live("")
	if err != nil || conn != live.Connector(b) {
		t.Fatalf("Live connector=%v err=%v", conn, err)
	}
}

func TestClient_LiveURLFromBase(t *testing.T) {
	conn, err := NewClient(WithBaseURL("https://tutor.example/api")).Live("Puck")
	if err != nil {
		t.Fatalf("Live: %v", err)
	}
	lc, ok := conn.(*LiveConnector)
	if !ok || lc.URL != "wss://tutor.example/api/v1/live" || lc.Voice != "Puck" || !lc.Binary {
		t.Fatalf("connector=%+v", conn)
	}
}
