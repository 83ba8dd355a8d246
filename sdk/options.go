package scholar

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/vango-go/scholar-lite/pkg/core/solve"
)

// ClientOption is a function that configures a Client.
type ClientOption func(*Client)

// WithBaseURL points the client at a scholar gateway.
func WithBaseURL(url string) ClientOption {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithDirect runs every operation in-process against b instead of a gateway.
func WithDirect(b Backend) ClientOption {
	return func(c *Client) {
		c.direct = b
	}
}

// WithSolveModels overrides the direct-mode model selection.
func WithSolveModels(m solve.Models) ClientOption {
	return func(c *Client) {
		c.models = m
	}
}

// WithSpeechCacheTTL sets how long direct-mode speech buffers are kept.
func WithSpeechCacheTTL(d time.Duration) ClientOption {
	return func(c *Client) {
		c.speechTTL = d
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithLogger sets the logger for the client.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}
