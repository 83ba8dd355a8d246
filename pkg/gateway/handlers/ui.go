package handlers

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/vango-go/scholar-lite/pkg/core"
	"github.com/vango-go/scholar-lite/pkg/core/search"
	"github.com/vango-go/scholar-lite/pkg/core/solve"
	"github.com/vango-go/scholar-lite/pkg/gateway/apierror"
	"github.com/vango-go/scholar-lite/pkg/gateway/config"
)

//go:embed ui/index.html.tmpl ui/app.js
var uiFS embed.FS

var uiTemplate = template.Must(template.ParseFS(uiFS, "ui/index.html.tmpl"))

const (
	TabSolver = "solver"
	TabLive   = "live"
	TabSearch = "search"
)

// UIHandler serves the browser shell: GET /, POST /ui/solve, POST /ui/search
// and GET /ui/app.js. Forms are rendered server side; the script only drives
// the live tab and explanation playback.
type UIHandler struct {
	Config   config.Config
	Solver   Solver
	Searcher Searcher
	Logger   *slog.Logger
}

type uiPage struct {
	Tab    string
	Solver uiSolverPanel
	Search uiSearchPanel
}

type uiSolverPanel struct {
	Prompt       string
	Thinking     bool
	Error        string
	Result       *solve.Result
	SolutionHTML template.HTML
	ChartSVG     template.HTML
}

type uiSearchPanel struct {
	Query  string
	Error  string
	Result *search.Result
}

func (h UIHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/":
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		h.render(w, http.StatusOK, uiPage{Tab: normalizeTab(r.URL.Query().Get("tab"))})
	case "/ui/solve":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		h.solve(w, r)
	case "/ui/search":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		h.search(w, r)
	case "/ui/app.js":
		script, err := uiFS.ReadFile("ui/app.js")
		if err != nil {
			writeErr(w, r, h.Logger, err)
			return
		}
		w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=300")
		_, _ = w.Write(script)
	default:
		NotFoundHandler{}.ServeHTTP(w, r)
	}
}

func (h UIHandler) solve(w http.ResponseWriter, r *http.Request) {
	page := uiPage{Tab: TabSolver}
	req, err := h.solveFormRequest(w, r)
	page.Solver.Prompt = req.Prompt
	page.Solver.Thinking = req.Thinking
	if err != nil {
		page.Solver.Error = uiMessage(err, core.MsgSolveFailed)
		h.render(w, http.StatusOK, page)
		return
	}

	ctx, cancel := withHandlerTimeout(r.Context(), h.Config.HandlerTimeout)
	defer cancel()
	res, err := h.Solver.Solve(ctx, req)
	if err != nil {
		page.Solver.Error = uiMessage(genericProviderError(r, h.Logger, err, core.MsgSolveFailed), core.MsgSolveFailed)
		h.render(w, http.StatusOK, page)
		return
	}

	rendered := renderSolve(res, h.Logger)
	page.Solver.Result = &res
	// Both fragments come from goldmark and the chart renderer, which escape their input.
	page.Solver.SolutionHTML = template.HTML(rendered.SolutionHTML)
	page.Solver.ChartSVG = template.HTML(rendered.ChartSVG)
	h.render(w, http.StatusOK, page)
}

func (h UIHandler) solveFormRequest(w http.ResponseWriter, r *http.Request) (solve.Request, error) {
	if h.Config.MaxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.Config.MaxBodyBytes)
	}
	var req solve.Request
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(h.Config.MaxImageBytes); err != nil {
			return req, err
		}
	} else if err := r.ParseForm(); err != nil {
		return req, err
	}
	req.Prompt = r.PostFormValue("prompt")
	req.Thinking = r.PostFormValue("thinking") != ""

	file, header, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return req, nil
	}
	if err != nil {
		return req, err
	}
	defer file.Close()

	limit := h.Config.MaxImageBytes
	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		return req, err
	}
	if len(data) == 0 {
		return req, nil
	}
	if limit > 0 && int64(len(data)) > limit {
		return req, imageTooLarge()
	}
	mime := header.Header.Get("Content-Type")
	if mime == "" || mime == "application/octet-stream" {
		mime = http.DetectContentType(data)
	}
	if !strings.HasPrefix(mime, "image/") {
		return req, core.NewInvalidRequestErrorWithParam("image.mime_type must be an image type", "image.mime_type")
	}
	req.Image = &solve.Image{MIMEType: mime, Data: data}
	return req, nil
}

func (h UIHandler) search(w http.ResponseWriter, r *http.Request) {
	page := uiPage{Tab: TabSearch}
	if h.Config.MaxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.Config.MaxBodyBytes)
	}
	if err := r.ParseForm(); err != nil {
		page.Search.Error = uiMessage(err, core.MsgSearchFailed)
		h.render(w, http.StatusOK, page)
		return
	}
	page.Search.Query = r.PostFormValue("query")

	ctx, cancel := withHandlerTimeout(r.Context(), h.Config.HandlerTimeout)
	defer cancel()
	res, err := h.Searcher.Search(ctx, page.Search.Query)
	if err != nil {
		page.Search.Error = uiMessage(genericProviderError(r, h.Logger, err, core.MsgSearchFailed), core.MsgSearchFailed)
		h.render(w, http.StatusOK, page)
		return
	}
	page.Search.Result = &res
	h.render(w, http.StatusOK, page)
}

func (h UIHandler) render(w http.ResponseWriter, status int, page uiPage) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := uiTemplate.Execute(w, page); err != nil && h.Logger != nil {
		h.Logger.Warn("render ui", "tab", page.Tab, "error", err)
	}
}

// uiMessage picks the text shown in a panel's error slot.
func uiMessage(err error, fallback string) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return fallback
	}
	coreErr, status := apierror.FromError(err, "")
	if coreErr == nil || status >= http.StatusInternalServerError {
		return fallback
	}
	return coreErr.Message
}

func normalizeTab(tab string) string {
	switch tab {
	case TabLive, TabSearch:
		return tab
	default:
		return TabSolver
	}
}
