// Package search answers free-text questions with web-grounded citations.
package search

import (
	"context"
	"errors"
	"strings"

	"github.com/vango-go/scholar-lite/pkg/core"
)

const DefaultModel = "gemini-2.5-flash"

// Source is one grounding chunk that carried a web URI.
type Source struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
}

// Label is the link text shown for a source.
func (s Source) Label() string {
	if t := strings.TrimSpace(s.Title); t != "" {
		return t
	}
	return s.URI
}

type Result struct {
	Text    string   `json:"text"`
	Sources []Source `json:"sources"`
}

// HasSources reports whether a sources section should be rendered.
func (r Result) HasSources() bool { return len(r.Sources) > 0 }

type Searcher interface {
	Search(ctx context.Context, query string) (Result, error)
}

// Validate rejects blank queries before any network call.
func Validate(query string) error {
	if strings.TrimSpace(query) == "" {
		return core.NewInvalidRequestErrorWithParam(core.MsgSearchEmpty, "query")
	}
	return nil
}

// Service validates queries and delegates to a Searcher.
type Service struct {
	Searcher Searcher
}

func (s Service) Search(ctx context.Context, query string) (Result, error) {
	if err := Validate(query); err != nil {
		return Result{}, err
	}
	if s.Searcher == nil {
		return Result{}, core.NewAPIError("search is not configured")
	}
	res, err := s.Searcher.Search(ctx, query)
	if err != nil {
		var coreErr *core.Error
		if errors.As(err, &coreErr) && coreErr != nil {
			return Result{}, coreErr
		}
		return Result{}, core.NewProviderError("gemini", err)
	}
	if res.Sources == nil {
		res.Sources = []Source{}
	}
	return res, nil
}

// FilterSources keeps sources with a non-empty URI, preserving order.
func FilterSources(in []Source) []Source {
	out := make([]Source, 0, len(in))
	for _, s := range in {
		if strings.TrimSpace(s.URI) == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}
