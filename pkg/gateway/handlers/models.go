package handlers

import (
	"net/http"

	"github.com/vango-go/scholar-lite/pkg/gateway/config"
)

// ModelsHandler lists the models the active profile routes each feature to.
type ModelsHandler struct {
	Config config.Config
}

type modelsResponse struct {
	Models []modelInfo `json:"models"`
}

type modelInfo struct {
	ID             string             `json:"id"`
	Feature        string             `json:"feature"`
	Voice          string             `json:"voice,omitempty"`
	ThinkingBudget int32              `json:"thinking_budget,omitempty"`
	Capabilities   *modelCapabilities `json:"capabilities,omitempty"`
}

type modelCapabilities struct {
	Vision           *bool `json:"vision,omitempty"`
	StructuredOutput *bool `json:"structured_output,omitempty"`
	Thinking         *bool `json:"thinking,omitempty"`
	NativeWebSearch  *bool `json:"native_web_search,omitempty"`
	AudioOut         *bool `json:"audio_out,omitempty"`
	AudioIn          *bool `json:"audio_in,omitempty"`
}

func (h ModelsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=300")
	writeJSON(w, http.StatusOK, modelsResponse{Models: h.listModels()})
}

func (h ModelsHandler) listModels() []modelInfo {
	p := h.Config.Profile
	yes := true
	return []modelInfo{
		{
			ID:      p.SolveModel,
			Feature: "solve",
			Capabilities: &modelCapabilities{
				Vision:           &yes,
				StructuredOutput: &yes,
			},
		},
		{
			ID:             p.ThinkingModel,
			Feature:        "solve_thinking",
			ThinkingBudget: p.ThinkingBudget,
			Capabilities: &modelCapabilities{
				Vision:           &yes,
				StructuredOutput: &yes,
				Thinking:         &yes,
			},
		},
		{
			ID:           p.SearchModel,
			Feature:      "search",
			Capabilities: &modelCapabilities{NativeWebSearch: &yes},
		},
		{
			ID:           p.SpeechModel,
			Feature:      "speech",
			Voice:        p.SpeechVoice,
			Capabilities: &modelCapabilities{AudioOut: &yes},
		},
		{
			ID:           p.LiveModel,
			Feature:      "live",
			Voice:        p.LiveVoice,
			Capabilities: &modelCapabilities{AudioIn: &yes, AudioOut: &yes},
		},
	}
}
