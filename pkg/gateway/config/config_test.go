package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vango-go/scholar-lite/pkg/core/live"
	"github.com/vango-go/scholar-lite/pkg/core/solve"
)

var gatewayEnvKeys = []string{
	"SCHOLAR_ADDR",
	"GEMINI_API_KEY",
	"GOOGLE_API_KEY",
	"API_KEY",
	"SCHOLAR_VERTEX_PROJECT",
	"SCHOLAR_VERTEX_LOCATION",
	"GOOGLE_CLOUD_PROJECT",
	"GOOGLE_CLOUD_LOCATION",
	"SCHOLAR_PROFILE",
	"SCHOLAR_CORS_ORIGINS",
	"SCHOLAR_MAX_BODY_BYTES",
	"SCHOLAR_MAX_IMAGE_BYTES",
	"SCHOLAR_MAX_SPEECH_TEXT_BYTES",
	"SCHOLAR_SPEECH_CACHE_TTL",
	"SCHOLAR_LIVE_MAX_SESSIONS",
	"SCHOLAR_LIVE_MAX_AUDIO_FRAME_BYTES",
	"SCHOLAR_LIVE_MAX_JSON_MESSAGE_BYTES",
	"SCHOLAR_LIVE_MAX_DURATION",
	"SCHOLAR_LIVE_WS_PING_INTERVAL",
	"SCHOLAR_LIVE_WS_WRITE_TIMEOUT",
	"SCHOLAR_LIVE_HANDSHAKE_TIMEOUT",
	"SCHOLAR_READ_HEADER_TIMEOUT",
	"SCHOLAR_READ_TIMEOUT",
	"SCHOLAR_TOTAL_REQUEST_TIMEOUT",
	"SCHOLAR_SHUTDOWN_GRACE_PERIOD",
	"SCHOLAR_LOG_LEVEL",
	"SCHOLAR_LOG_FORMAT",
	"SCHOLAR_LOG_FILE",
}

func clearGatewayEnv(t *testing.T) {
	t.Helper()
	for _, key := range gatewayEnvKeys {
		t.Setenv(key, "")
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("GEMINI_API_KEY", "k")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("Addr=%q", cfg.Addr)
	}
	if cfg.GeminiAPIKey != "k" {
		t.Fatalf("GeminiAPIKey=%q", cfg.GeminiAPIKey)
	}
	if cfg.LiveMaxSessions != 8 {
		t.Fatalf("LiveMaxSessions=%d", cfg.LiveMaxSessions)
	}
	if cfg.ShutdownGracePeriod != 30*time.Second {
		t.Fatalf("ShutdownGracePeriod=%v", cfg.ShutdownGracePeriod)
	}
	if cfg.LiveMaxAudioFrameBytes != 16384 || cfg.LiveMaxSessionDuration != 30*time.Minute {
		t.Fatalf("live limits=%d/%v", cfg.LiveMaxAudioFrameBytes, cfg.LiveMaxSessionDuration)
	}
	if cfg.Profile != DefaultProfile() {
		t.Fatalf("Profile=%+v", cfg.Profile)
	}
	if len(cfg.CORSAllowedOrigins) != 0 {
		t.Fatalf("CORS should be disabled by default")
	}
}

func TestLoadFromEnv_CredentialFallbacks(t *testing.T) {
	clearGatewayEnv(t)
	if _, err := LoadFromEnv(); err == nil || !strings.Contains(err.Error(), "GEMINI_API_KEY") {
		t.Fatalf("expected missing credentials error, got %v", err)
	}

	t.Setenv("GOOGLE_API_KEY", "google")
	cfg, err := LoadFromEnv()
	if err != nil || cfg.GeminiAPIKey != "google" {
		t.Fatalf("GOOGLE_API_KEY fallback: %+v %v", cfg.GeminiAPIKey, err)
	}

	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("GOOGLE_CLOUD_PROJECT", "proj")
	t.Setenv("GOOGLE_CLOUD_LOCATION", "us-central1")
	cfg, err = LoadFromEnv()
	if err != nil || cfg.VertexProject != "proj" || cfg.GeminiAPIKey != "" {
		t.Fatalf("vertex: %+v %v", cfg, err)
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("GEMINI_API_KEY", "k")
	t.Setenv("SCHOLAR_ADDR", ":9999")
	t.Setenv("SCHOLAR_CORS_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("SCHOLAR_LIVE_MAX_SESSIONS", "3")
	t.Setenv("SCHOLAR_SPEECH_CACHE_TTL", "5m")
	t.Setenv("SCHOLAR_MAX_SPEECH_TEXT_BYTES", "not-a-number")
	t.Setenv("SCHOLAR_READ_TIMEOUT", "not-a-duration")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.Addr != ":9999" || cfg.LiveMaxSessions != 3 || cfg.SpeechCacheTTL != 5*time.Minute {
		t.Fatalf("cfg=%+v", cfg)
	}
	if _, ok := cfg.CORSAllowedOrigins["https://b.example"]; !ok || len(cfg.CORSAllowedOrigins) != 2 {
		t.Fatalf("origins=%v", cfg.CORSAllowedOrigins)
	}
	if cfg.ReadTimeout != 30*time.Second {
		t.Fatalf("invalid duration should fall back, got %v", cfg.ReadTimeout)
	}
	if cfg.MaxSpeechTextBytes != 8<<10 {
		t.Fatalf("invalid int should fall back, got %d", cfg.MaxSpeechTextBytes)
	}
}

func TestLoadFromEnv_Validation(t *testing.T) {
	tests := []struct {
		key, val, want string
	}{
		{"SCHOLAR_MAX_BODY_BYTES", "0", "SCHOLAR_MAX_BODY_BYTES"},
		{"SCHOLAR_MAX_IMAGE_BYTES", "999999999", "SCHOLAR_MAX_IMAGE_BYTES must be <="},
		{"SCHOLAR_LIVE_MAX_SESSIONS", "0", "SCHOLAR_LIVE_MAX_SESSIONS"},
		{"SCHOLAR_LIVE_WS_WRITE_TIMEOUT", "0s", "SCHOLAR_LIVE_WS_WRITE_TIMEOUT"},
		{"SCHOLAR_LIVE_MAX_AUDIO_FRAME_BYTES", "-1", "SCHOLAR_LIVE_MAX_AUDIO_FRAME_BYTES"},
		{"SCHOLAR_SHUTDOWN_GRACE_PERIOD", "-1s", "SCHOLAR_SHUTDOWN_GRACE_PERIOD"},
		{"SCHOLAR_SPEECH_CACHE_TTL", "0s", "SCHOLAR_SPEECH_CACHE_TTL"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			clearGatewayEnv(t)
			t.Setenv("GEMINI_API_KEY", "k")
			t.Setenv(tt.key, tt.val)
			_, err := LoadFromEnv()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err=%v, want %q", err, tt.want)
			}
		})
	}
}

func TestLoadProfile(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "profile.yaml")
	if err := os.WriteFile(yamlPath, []byte("solve_model: gemini-x\nlive_voice: Puck\nthinking_budget: 1024\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	p, err := LoadProfile(yamlPath)
	if err != nil {
		t.Fatalf("LoadProfile yaml: %v", err)
	}
	if p.SolveModel != "gemini-x" || p.LiveVoice != "Puck" || p.ThinkingBudget != 1024 {
		t.Fatalf("profile=%+v", p)
	}
	if p.ThinkingModel != solve.DefaultThinkingModel || p.LiveModel != live.DefaultModel {
		t.Fatalf("unset fields must keep defaults: %+v", p)
	}
	if m, budget := p.SolveModels().Options(true); m != solve.DefaultThinkingModel || budget != 1024 {
		t.Fatalf("thinking options=%s,%d", m, budget)
	}
	if lc := p.LiveConfig(); lc.Voice != "Puck" || lc.Model != live.DefaultModel {
		t.Fatalf("live config=%+v", lc)
	}

	jsonPath := filepath.Join(dir, "profile.json")
	if err := os.WriteFile(jsonPath, []byte(`{"speech_voice":"Charon"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	p, err = LoadProfile(jsonPath)
	if err != nil || p.SpeechVoice != "Charon" {
		t.Fatalf("json profile=%+v err=%v", p, err)
	}

	if _, err := LoadProfile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatalf("missing profile must fail")
	}
	badPath := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(badPath, []byte("thinking_budget: -5\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadProfile(badPath); err == nil {
		t.Fatalf("negative budget must fail")
	}
}

func TestLoadFromEnv_ProfileError(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("GEMINI_API_KEY", "k")
	t.Setenv("SCHOLAR_PROFILE", filepath.Join(t.TempDir(), "nope.yaml"))
	if _, err := LoadFromEnv(); err == nil || !strings.Contains(err.Error(), "read profile") {
		t.Fatalf("err=%v", err)
	}
}
