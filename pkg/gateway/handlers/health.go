package handlers

import (
	"net/http"

	"github.com/vango-go/scholar-lite/pkg/gateway/config"
	"github.com/vango-go/scholar-lite/pkg/gateway/lifecycle"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// LiveCounter reports open live sessions.
type LiveCounter interface {
	Count() int
}

type ReadyHandler struct {
	Config       config.Config
	Lifecycle    *lifecycle.Lifecycle
	LiveSessions LiveCounter
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK           bool     `json:"ok"`
		Draining     bool     `json:"draining"`
		Backend      string   `json:"backend"`
		LiveSessions int      `json:"live_sessions"`
		UptimeMS     int64    `json:"uptime_ms"`
		Issues       []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)

	if !h.Config.HasCredentials() {
		issues = append(issues, "no gemini credentials configured")
	}
	if h.Config.MaxBodyBytes <= 0 {
		issues = append(issues, "max_body_bytes must be > 0")
	}
	if h.Config.MaxImageBytes <= 0 || h.Config.MaxImageBytes > h.Config.MaxBodyBytes {
		issues = append(issues, "max_image_bytes must be > 0 and <= max_body_bytes")
	}
	if h.Config.LiveMaxSessions <= 0 {
		issues = append(issues, "live max sessions must be > 0")
	}
	if h.Config.ReadHeaderTimeout <= 0 || h.Config.ReadTimeout <= 0 || h.Config.HandlerTimeout <= 0 {
		issues = append(issues, "timeouts must be > 0")
	}

	draining := h.Lifecycle.IsDraining()
	if draining {
		issues = append(issues, "draining")
	}

	backend := "gemini_api"
	if h.Config.GeminiAPIKey == "" {
		backend = "vertex"
	}
	liveCount := 0
	if h.LiveSessions != nil {
		liveCount = h.LiveSessions.Count()
	}

	ok := len(issues) == 0
	status := http.StatusOK
	switch {
	case draining:
		status = http.StatusServiceUnavailable
	case !ok:
		status = http.StatusInternalServerError
	}

	writeJSON(w, status, readyResp{
		OK:           ok,
		Draining:     draining,
		Backend:      backend,
		LiveSessions: liveCount,
		UptimeMS:     h.Lifecycle.Uptime().Milliseconds(),
		Issues:       issues,
	})
}
