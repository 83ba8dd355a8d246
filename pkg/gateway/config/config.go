package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr string

	// Provider credentials. An API key selects the Gemini API; otherwise the
	// Vertex project and location are used.
	GeminiAPIKey   string
	VertexProject  string
	VertexLocation string

	// Profile holds model IDs, voices and the thinking budget.
	Profile Profile

	CORSAllowedOrigins map[string]struct{} // empty => disabled

	MaxBodyBytes int64
	// MaxImageBytes caps the decoded size of a solve image.
	MaxImageBytes int64
	// MaxSpeechTextBytes caps the text sent for synthesis.
	MaxSpeechTextBytes int
	SpeechCacheTTL     time.Duration

	// Live WebSocket mode (/v1/live).
	LiveMaxSessions         int
	LiveMaxAudioFrameBytes  int
	LiveMaxJSONMessageBytes int64
	LiveMaxSessionDuration  time.Duration
	LiveWSPingInterval      time.Duration
	LiveWSWriteTimeout      time.Duration
	LiveHandshakeTimeout    time.Duration

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	HandlerTimeout      time.Duration
	ShutdownGracePeriod time.Duration

	LogLevel  string
	LogFormat string
	LogFile   string
}

// HasCredentials reports whether the provider can be constructed.
func (c Config) HasCredentials() bool {
	return c.GeminiAPIKey != "" || (c.VertexProject != "" && c.VertexLocation != "")
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                    envOr("SCHOLAR_ADDR", ":8080"),
		GeminiAPIKey:            firstEnv("GEMINI_API_KEY", "GOOGLE_API_KEY", "API_KEY"),
		VertexProject:           firstEnv("SCHOLAR_VERTEX_PROJECT", "GOOGLE_CLOUD_PROJECT"),
		VertexLocation:          firstEnv("SCHOLAR_VERTEX_LOCATION", "GOOGLE_CLOUD_LOCATION"),
		CORSAllowedOrigins:      make(map[string]struct{}),
		MaxBodyBytes:            envInt64Or("SCHOLAR_MAX_BODY_BYTES", 16<<20), // 16 MiB
		MaxImageBytes:           envInt64Or("SCHOLAR_MAX_IMAGE_BYTES", 8<<20), // 8 MiB decoded
		MaxSpeechTextBytes:      envIntOr("SCHOLAR_MAX_SPEECH_TEXT_BYTES", 8<<10),
		SpeechCacheTTL:          envDurationOr("SCHOLAR_SPEECH_CACHE_TTL", 30*time.Minute),
		LiveMaxSessions:         envIntOr("SCHOLAR_LIVE_MAX_SESSIONS", 8),
		LiveMaxAudioFrameBytes:  envIntOr("SCHOLAR_LIVE_MAX_AUDIO_FRAME_BYTES", 16384),
		LiveMaxJSONMessageBytes: envInt64Or("SCHOLAR_LIVE_MAX_JSON_MESSAGE_BYTES", 64*1024),
		LiveMaxSessionDuration:  envDurationOr("SCHOLAR_LIVE_MAX_DURATION", 30*time.Minute),
		LiveWSPingInterval:      envDurationOr("SCHOLAR_LIVE_WS_PING_INTERVAL", 20*time.Second),
		LiveWSWriteTimeout:      envDurationOr("SCHOLAR_LIVE_WS_WRITE_TIMEOUT", 5*time.Second),
		LiveHandshakeTimeout:    envDurationOr("SCHOLAR_LIVE_HANDSHAKE_TIMEOUT", 5*time.Second),
		ReadHeaderTimeout:       envDurationOr("SCHOLAR_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:             envDurationOr("SCHOLAR_READ_TIMEOUT", 30*time.Second),
		HandlerTimeout:          envDurationOr("SCHOLAR_TOTAL_REQUEST_TIMEOUT", 3*time.Minute),
		ShutdownGracePeriod:     envDurationOr("SCHOLAR_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
		LogLevel:                envOr("SCHOLAR_LOG_LEVEL", "info"),
		LogFormat:               envOr("SCHOLAR_LOG_FORMAT", "text"),
		LogFile:                 envOr("SCHOLAR_LOG_FILE", ""),
	}

	profile, err := LoadProfile(os.Getenv("SCHOLAR_PROFILE"))
	if err != nil {
		return Config{}, err
	}
	cfg.Profile = profile

	for _, origin := range splitCSV(os.Getenv("SCHOLAR_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if !cfg.HasCredentials() {
		return Config{}, fmt.Errorf("GEMINI_API_KEY (or GOOGLE_CLOUD_PROJECT and GOOGLE_CLOUD_LOCATION) must be set")
	}
	if cfg.MaxBodyBytes <= 0 {
		return Config{}, fmt.Errorf("SCHOLAR_MAX_BODY_BYTES must be > 0")
	}
	if cfg.MaxImageBytes <= 0 {
		return Config{}, fmt.Errorf("SCHOLAR_MAX_IMAGE_BYTES must be > 0")
	}
	if cfg.MaxImageBytes > cfg.MaxBodyBytes {
		return Config{}, fmt.Errorf("SCHOLAR_MAX_IMAGE_BYTES must be <= SCHOLAR_MAX_BODY_BYTES")
	}
	if cfg.MaxSpeechTextBytes <= 0 {
		return Config{}, fmt.Errorf("SCHOLAR_MAX_SPEECH_TEXT_BYTES must be > 0")
	}
	if cfg.SpeechCacheTTL <= 0 {
		return Config{}, fmt.Errorf("SCHOLAR_SPEECH_CACHE_TTL must be > 0")
	}
	if cfg.LiveMaxSessions <= 0 {
		return Config{}, fmt.Errorf("SCHOLAR_LIVE_MAX_SESSIONS must be > 0")
	}
	if cfg.LiveMaxAudioFrameBytes <= 0 {
		return Config{}, fmt.Errorf("SCHOLAR_LIVE_MAX_AUDIO_FRAME_BYTES must be > 0")
	}
	if cfg.LiveMaxJSONMessageBytes <= 0 {
		return Config{}, fmt.Errorf("SCHOLAR_LIVE_MAX_JSON_MESSAGE_BYTES must be > 0")
	}
	if cfg.LiveMaxSessionDuration <= 0 {
		return Config{}, fmt.Errorf("SCHOLAR_LIVE_MAX_DURATION must be > 0")
	}
	if cfg.LiveWSPingInterval <= 0 {
		return Config{}, fmt.Errorf("SCHOLAR_LIVE_WS_PING_INTERVAL must be > 0")
	}
	if cfg.LiveWSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("SCHOLAR_LIVE_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.LiveHandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("SCHOLAR_LIVE_HANDSHAKE_TIMEOUT must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("SCHOLAR_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("SCHOLAR_READ_TIMEOUT must be > 0")
	}
	if cfg.HandlerTimeout <= 0 {
		return Config{}, fmt.Errorf("SCHOLAR_TOTAL_REQUEST_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("SCHOLAR_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
