// Package gemini implements the tutor's model operations on top of the
// Google Gen AI SDK: structured solve, text-to-speech, grounded search and the
// live audio session.
package gemini

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/vango-go/scholar-lite/pkg/core/search"
	"github.com/vango-go/scholar-lite/pkg/core/speech"
)

const providerName = "gemini"

// Config selects the backend. An API key selects the Gemini API; otherwise
// Project and Location select Vertex AI with application default credentials.
type Config struct {
	APIKey   string
	Project  string
	Location string
}

func (c Config) clientConfig() (*genai.ClientConfig, error) {
	if key := strings.TrimSpace(c.APIKey); key != "" {
		return &genai.ClientConfig{APIKey: key, Backend: genai.BackendGeminiAPI}, nil
	}
	if strings.TrimSpace(c.Project) != "" && strings.TrimSpace(c.Location) != "" {
		return &genai.ClientConfig{
			Backend:  genai.BackendVertexAI,
			Project:  c.Project,
			Location: c.Location,
		}, nil
	}
	return nil, errors.New("gemini: an API key or a Vertex project and location is required")
}

// Provider is safe for concurrent use.
type Provider struct {
	client *genai.Client

	speechModel string
	voice       string
	searchModel string
	httpClient  *http.Client
	baseURL     string
}

func New(ctx context.Context, cfg Config, opts ...Option) (*Provider, error) {
	p := &Provider{
		speechModel: speech.DefaultModel,
		voice:       speech.DefaultVoice,
		searchModel: search.DefaultModel,
	}
	for _, opt := range opts {
		opt(p)
	}
	cc, err := cfg.clientConfig()
	if err != nil {
		return nil, err
	}
	if p.httpClient != nil {
		cc.HTTPClient = p.httpClient
	}
	if p.baseURL != "" {
		cc.HTTPOptions.BaseURL = p.baseURL
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, wrapError(err)
	}
	p.client = client
	return p, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return providerName
}
