package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/vango-go/scholar-lite/pkg/core"
	"github.com/vango-go/scholar-lite/pkg/core/search"
	"github.com/vango-go/scholar-lite/pkg/gateway/config"
)

type Searcher interface {
	Search(ctx context.Context, query string) (search.Result, error)
}

// SearchHandler serves POST /v1/search.
type SearchHandler struct {
	Config   config.Config
	Searcher Searcher
	Logger   *slog.Logger
}

type searchRequest struct {
	Query string `json:"query"`
}

type searchSource struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
	Label string `json:"label"`
}

type searchResponse struct {
	Text    string         `json:"text"`
	Sources []searchSource `json:"sources"`
}

func (h SearchHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var body searchRequest
	if err := decodeJSONBody(w, r, h.Config.MaxBodyBytes, &body); err != nil {
		writeErr(w, r, h.Logger, err)
		return
	}

	ctx, cancel := withHandlerTimeout(r.Context(), h.Config.HandlerTimeout)
	defer cancel()

	res, err := h.Searcher.Search(ctx, body.Query)
	if err != nil {
		writeErr(w, r, h.Logger, genericProviderError(r, h.Logger, err, core.MsgSearchFailed))
		return
	}

	out := searchResponse{Text: res.Text, Sources: make([]searchSource, 0, len(res.Sources))}
	for _, s := range res.Sources {
		out.Sources = append(out.Sources, searchSource{URI: s.URI, Title: s.Title, Label: s.Label()})
	}
	w.Header().Set("X-Model", h.Config.Profile.SearchModel)
	writeJSON(w, http.StatusOK, out)
}
