package handlers

import (
	"bytes"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/vango-go/scholar-lite/pkg/core"
	"github.com/vango-go/scholar-lite/pkg/core/search"
	"github.com/vango-go/scholar-lite/pkg/core/solve"
)

func newUIHandler(gen *fakeGenerator, s *fakeSearcher) UIHandler {
	cfg := solveTestConfig()
	return UIHandler{
		Config:   cfg,
		Solver:   solve.Solver{Generator: gen, Models: cfg.Profile.SolveModels()},
		Searcher: search.Service{Searcher: s},
		Logger:   testLogger(),
	}
}

func postForm(t *testing.T, h http.Handler, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestUIHandler_IndexTabs(t *testing.T) {
	h := newUIHandler(&fakeGenerator{}, &fakeSearcher{})
	tests := []struct {
		query string
		want  string
	}{
		{query: "", want: `id="solver"`},
		{query: "?tab=live", want: `id="live"`},
		{query: "?tab=search", want: `id="search"`},
		{query: "?tab=bogus", want: `id="solver"`},
	}
	for _, tt := range tests {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/"+tt.query, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("%q: status=%d", tt.query, rr.Code)
		}
		if !strings.Contains(rr.Body.String(), tt.want) {
			t.Fatalf("%q: body missing %s", tt.query, tt.want)
		}
	}
}

func TestUIHandler_SolveRendersMarkdownAndChart(t *testing.T) {
	gen := &fakeGenerator{raw: `{"solution":"**Answer:** 4","explanation":"Add <two> and two.","chartData":{"type":"line","data":[{"name":"x","value":1},{"name":"y","value":2}],"dataKey":"value"}}`}
	h := newUIHandler(gen, &fakeSearcher{})

	rr := postForm(t, h, "/ui/solve", url.Values{"prompt": {"2+2"}, "thinking": {"1"}})
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{"<strong>Answer:</strong> 4", "<svg", "Add &lt;two&gt; and two.", "checked"} {
		if !strings.Contains(body, want) {
			t.Fatalf("body missing %q:\n%s", want, body)
		}
	}
	if len(gen.reqs) != 1 || gen.reqs[0].Model != "gemini-2.5-pro" {
		t.Fatalf("generate requests=%+v", gen.reqs)
	}
}

func TestUIHandler_SolveMultipartImage(t *testing.T) {
	gen := &fakeGenerator{raw: `{"solution":"s","explanation":"e","chartData":null}`}
	h := newUIHandler(gen, &fakeSearcher{})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("prompt", "")
	fw, err := mw.CreateFormFile("image", "problem.png")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	// PNG signature so content sniffing reports image/png.
	_, _ = fw.Write([]byte("\x89PNG\r\n\x1a\n0000"))
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/ui/solve", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	if len(gen.reqs) != 1 || gen.reqs[0].Image == nil || gen.reqs[0].Image.MIMEType != "image/png" {
		t.Fatalf("generate requests=%+v", gen.reqs)
	}
}

func TestUIHandler_SolveErrorsShowInPanel(t *testing.T) {
	h := newUIHandler(&fakeGenerator{}, &fakeSearcher{})
	rr := postForm(t, h, "/ui/solve", url.Values{"prompt": {" "}})
	if !strings.Contains(rr.Body.String(), core.MsgSolveEmpty) {
		t.Fatalf("validation message missing:\n%s", rr.Body.String())
	}

	h = newUIHandler(&fakeGenerator{err: errors.New("boom")}, &fakeSearcher{})
	rr = postForm(t, h, "/ui/solve", url.Values{"prompt": {"x"}})
	if !strings.Contains(rr.Body.String(), core.MsgSolveFailed) {
		t.Fatalf("generic failure missing:\n%s", rr.Body.String())
	}
}

func TestUIHandler_SearchSources(t *testing.T) {
	s := &fakeSearcher{res: search.Result{
		Text:    "Paris.",
		Sources: []search.Source{{URI: "https://one.example", Title: "One"}, {URI: "https://two.example"}},
	}}
	h := newUIHandler(&fakeGenerator{}, s)

	rr := postForm(t, h, "/ui/search", url.Values{"query": {"capital of france"}})
	body := rr.Body.String()
	if !strings.Contains(body, "Sources") || !strings.Contains(body, ">One</a>") || !strings.Contains(body, ">https://two.example</a>") {
		t.Fatalf("sources missing:\n%s", body)
	}
	if strings.Index(body, "one.example") > strings.Index(body, "two.example") {
		t.Fatalf("sources out of order")
	}

	s.res = search.Result{Text: "No citations."}
	rr = postForm(t, h, "/ui/search", url.Values{"query": {"q"}})
	if strings.Contains(rr.Body.String(), "Sources") {
		t.Fatalf("sources section should be hidden without citations")
	}
}

func TestUIHandler_SearchEmptyQuery(t *testing.T) {
	s := &fakeSearcher{}
	rr := postForm(t, newUIHandler(&fakeGenerator{}, s), "/ui/search", url.Values{"query": {""}})
	if !strings.Contains(rr.Body.String(), core.MsgSearchEmpty) {
		t.Fatalf("validation message missing")
	}
	if len(s.queries) != 0 {
		t.Fatalf("searcher must not be called")
	}
}

func TestUIHandler_ScriptAndUnknownPath(t *testing.T) {
	h := newUIHandler(&fakeGenerator{}, &fakeSearcher{})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ui/app.js", nil))
	if rr.Code != http.StatusOK || !strings.HasPrefix(rr.Header().Get("Content-Type"), "text/javascript") {
		t.Fatalf("status=%d content-type=%q", rr.Code, rr.Header().Get("Content-Type"))
	}
	if !strings.Contains(rr.Body.String(), "/v1/live") {
		t.Fatalf("script does not reference the live endpoint")
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/favicon.ico", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d", rr.Code)
	}
}
