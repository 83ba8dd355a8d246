package gemini

import (
	"context"

	"google.golang.org/genai"

	"github.com/vango-go/scholar-lite/pkg/core/search"
	"github.com/vango-go/scholar-lite/pkg/core/solve"
	"github.com/vango-go/scholar-lite/pkg/core/speech"
)

var (
	_ solve.Generator    = (*Provider)(nil)
	_ speech.Synthesizer = (*Provider)(nil)
	_ search.Searcher    = (*Provider)(nil)
)

// Generate runs a schema-constrained solve request and returns the raw JSON text.
func (p *Provider) Generate(ctx context.Context, req solve.GenerateRequest) (string, error) {
	model := req.Model
	if model == "" {
		model = solve.DefaultModel
	}
	resp, err := p.client.Models.GenerateContent(ctx, model, buildSolveContents(req), buildSolveConfig(req))
	if err != nil {
		return "", wrapError(err)
	}
	return responseText(resp), nil
}

// Synthesize returns raw 24 kHz mono s16le PCM for text.
func (p *Provider) Synthesize(ctx context.Context, text string) ([]byte, error) {
	resp, err := p.client.Models.GenerateContent(ctx, p.speechModel, buildSpeechContents(text), buildSpeechConfig(p.voice))
	if err != nil {
		return nil, wrapError(err)
	}
	pcm := extractAudio(resp)
	if len(pcm) == 0 {
		return nil, speech.ErrNoAudio
	}
	return pcm, nil
}

// Search answers query with Google Search grounding.
func (p *Provider) Search(ctx context.Context, query string) (search.Result, error) {
	resp, err := p.client.Models.GenerateContent(ctx, p.searchModel, genai.Text(query), buildSearchConfig())
	if err != nil {
		return search.Result{}, wrapError(err)
	}
	return search.Result{
		Text:    responseText(resp),
		Sources: extractSources(resp),
	}, nil
}
