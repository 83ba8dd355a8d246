// Package scholar is the Go client for the tutor.
//
// In proxy mode (WithBaseURL) every call goes to a scholar gateway over HTTP
// and the live conversation uses the gateway WebSocket. In direct mode
// (WithDirect) the same operations run in-process against a provider such as
// *gemini.Provider.
package scholar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vango-go/scholar-lite/pkg/core"
	"github.com/vango-go/scholar-lite/pkg/core/audio"
	"github.com/vango-go/scholar-lite/pkg/core/chart"
	"github.com/vango-go/scholar-lite/pkg/core/live"
	"github.com/vango-go/scholar-lite/pkg/core/markdown"
	"github.com/vango-go/scholar-lite/pkg/core/search"
	"github.com/vango-go/scholar-lite/pkg/core/solve"
	"github.com/vango-go/scholar-lite/pkg/core/speech"
)

const defaultSpeechCacheTTL = 30 * time.Minute

// Backend is an in-process provider for direct mode.
type Backend interface {
	solve.Generator
	speech.Synthesizer
	search.Searcher
	live.Connector
}

// Client is the main entry point for the SDK.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	direct    Backend
	models    solve.Models
	speechTTL time.Duration
	speech    *speech.Cache
}

// NewClient creates a client. Without WithBaseURL or WithDirect every call
// fails with an invalid_request_error.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: newDefaultHTTPClient(),
		logger:     slog.Default(),
		models:     solve.DefaultModels(),
		speechTTL:  defaultSpeechCacheTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.direct != nil {
		c.speech = speech.NewCache(c.direct, c.speechTTL)
	}
	return c
}

// IsDirect reports whether calls run in-process.
func (c *Client) IsDirect() bool { return c.direct != nil }

// SolveResponse is a solve result plus its rendered forms.
type SolveResponse struct {
	solve.Result
	SolutionHTML string
	ChartSVG     string
	Model        string
}

// SpeechResponse holds 24 kHz mono PCM.
type SpeechResponse struct {
	PCM    []byte
	Format audio.Format
	Model  string
	Cached bool
}

// Model describes one entry of GET /v1/models.
type Model struct {
	ID             string `json:"id"`
	Feature        string `json:"feature"`
	Voice          string `json:"voice,omitempty"`
	ThinkingBudget int32  `json:"thinking_budget,omitempty"`
}

func (c *Client) Solve(ctx context.Context, req solve.Request) (*SolveResponse, error) {
	if c.direct != nil {
		model, _ := c.models.Options(req.Thinking)
		res, err := solve.Solver{Generator: c.direct, Models: c.models}.Solve(ctx, req)
		if err != nil {
			return nil, err
		}
		out := &SolveResponse{Result: res, Model: model}
		out.render(c.logger)
		return out, nil
	}

	body := map[string]any{"prompt": req.Prompt, "thinking": req.Thinking}
	if req.Image != nil && len(req.Image.Data) > 0 {
		body["image"] = map[string]string{
			"mime_type": req.Image.MIMEType,
			"data_b64":  audio.EncodeBase64(req.Image.Data),
		}
	}
	var wire struct {
		Solution     string           `json:"solution"`
		Explanation  string           `json:"explanation"`
		ChartData    *solve.ChartData `json:"chart_data"`
		SolutionHTML string           `json:"solution_html"`
		ChartSVG     string           `json:"chart_svg"`
	}
	hdr, err := c.postJSON(ctx, "/v1/solve", body, &wire)
	if err != nil {
		return nil, err
	}
	return &SolveResponse{
		Result:       solve.Result{Solution: wire.Solution, Explanation: wire.Explanation, Chart: wire.ChartData},
		SolutionHTML: wire.SolutionHTML,
		ChartSVG:     wire.ChartSVG,
		Model:        hdr.Get("X-Model"),
	}, nil
}

func (r *SolveResponse) render(logger *slog.Logger) {
	html, err := markdown.ToHTML(r.Solution)
	if err != nil {
		logger.Warn("render solution markdown", "error", err)
	}
	r.SolutionHTML = html
	if r.Chart != nil {
		svg, err := chart.SVG(*r.Chart, chart.DefaultWidth, chart.DefaultHeight)
		if err != nil {
			logger.Warn("render chart", "error", err)
			return
		}
		r.ChartSVG = svg
	}
}

// Speak synthesizes text. Repeated text is served from the cache.
func (c *Client) Speak(ctx context.Context, text string) (*SpeechResponse, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, core.NewInvalidRequestErrorWithParam("text is required", "text")
	}
	if c.direct != nil {
		cached := c.speech.Has(text)
		pcm, err := c.speech.Synthesize(ctx, text)
		if err != nil {
			return nil, err
		}
		if len(pcm) == 0 {
			return nil, speech.ErrNoAudio
		}
		return &SpeechResponse{PCM: pcm, Format: audio.OutputFormat, Cached: cached}, nil
	}

	var wire struct {
		AudioB64     string `json:"audio_b64"`
		SampleRateHz int    `json:"sample_rate_hz"`
		Channels     int    `json:"channels"`
	}
	hdr, err := c.postJSON(ctx, "/v1/speech", map[string]string{"text": text}, &wire)
	if err != nil {
		return nil, err
	}
	pcm, err := audio.DecodeBase64(wire.AudioB64)
	if err != nil {
		return nil, &core.Error{Type: core.ErrAPI, Message: "gateway returned invalid audio", RequestID: hdr.Get("X-Request-ID")}
	}
	f := audio.OutputFormat
	if wire.SampleRateHz > 0 {
		f.SampleRateHz = wire.SampleRateHz
	}
	if wire.Channels > 0 {
		f.Channels = wire.Channels
	}
	return &SpeechResponse{
		PCM:    pcm,
		Format: f,
		Model:  hdr.Get("X-Model"),
		Cached: hdr.Get("X-Speech-Cache") == "hit",
	}, nil
}

// Synthesizer adapts Speak to speech.Synthesizer for a speech.Player.
func (c *Client) Synthesizer() speech.Synthesizer {
	return speech.SynthesizerFunc(func(ctx context.Context, text string) ([]byte, error) {
		res, err := c.Speak(ctx, text)
		if err != nil {
			return nil, err
		}
		return res.PCM, nil
	})
}

func (c *Client) Search(ctx context.Context, query string) (search.Result, error) {
	if c.direct != nil {
		return search.Service{Searcher: c.direct}.Search(ctx, query)
	}
	var res search.Result
	if _, err := c.postJSON(ctx, "/v1/search", map[string]string{"query": query}, &res); err != nil {
		return search.Result{}, err
	}
	if res.Sources == nil {
		res.Sources = []search.Source{}
	}
	return res, nil
}

// Models lists the gateway's model assignments.
func (c *Client) Models(ctx context.Context) ([]Model, error) {
	if c.direct != nil {
		return nil, core.NewInvalidRequestError("models are only listed by a gateway")
	}
	var wire struct {
		Models []Model `json:"models"`
	}
	if _, err := c.do(ctx, http.MethodGet, "/v1/models", nil, &wire); err != nil {
		return nil, err
	}
	return wire.Models, nil
}

// Live returns the connector for live conversations: the backend itself in
// direct mode, or a LiveConnector for the gateway's /v1/live.
func (c *Client) Live(voice string) (live.Connector, error) {
	if c.direct != nil {
		return c.direct, nil
	}
	endpoint, err := c.endpoint("/v1/live")
	if err != nil {
		return nil, err
	}
	u, _ := url.Parse(endpoint)
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return &LiveConnector{URL: u.String(), Voice: voice, Binary: true, Logger: c.logger}, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) (http.Header, error) {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) (http.Header, error) {
	endpoint, err := c.endpoint(path)
	if err != nil {
		return nil, err
	}
	var rdr io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, core.NewInvalidRequestError("failed to encode request: " + err.Error())
		}
		rdr = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, rdr)
	if err != nil {
		return nil, &TransportError{Op: method, URL: endpoint, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, &TransportError{Op: method, URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.Header, decodeGatewayErrorResponse(resp, endpoint, method)
	}
	if out == nil {
		return resp.Header, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.Header, &core.Error{
			Type:      core.ErrAPI,
			Message:   "failed to decode gateway response",
			RequestID: resp.Header.Get("X-Request-ID"),
		}
	}
	return resp.Header, nil
}

func (c *Client) endpoint(path string) (string, error) {
	if strings.TrimSpace(c.baseURL) == "" {
		return "", core.NewInvalidRequestError("no gateway base URL configured")
	}
	base, err := url.Parse(c.baseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return "", core.NewInvalidRequestError("invalid gateway base URL")
	}
	base.RawQuery = ""
	base.Fragment = ""

	cleanPath := "/" + strings.TrimLeft(path, "/")
	basePath := strings.TrimSuffix(base.Path, "/")
	if basePath == "" || basePath == "/" {
		base.Path = cleanPath
	} else {
		base.Path = basePath + cleanPath
	}
	base.RawPath = ""
	return base.String(), nil
}
