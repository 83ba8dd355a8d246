package gemini

import "net/http"

// Option configures the Provider.
type Option func(*Provider)

// WithSpeechModel overrides the text-to-speech model.
func WithSpeechModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.speechModel = model
		}
	}
}

// WithVoice sets the prebuilt voice used for text-to-speech.
func WithVoice(voice string) Option {
	return func(p *Provider) {
		if voice != "" {
			p.voice = voice
		}
	}
}

// WithSearchModel overrides the grounded search model.
func WithSearchModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.searchModel = model
		}
	}
}

// WithHTTPClient sets the HTTP client for REST calls.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = client
	}
}

// WithBaseURL points REST calls at a different endpoint.
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		p.baseURL = url
	}
}
