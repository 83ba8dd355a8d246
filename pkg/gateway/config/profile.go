package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v2"

	"github.com/vango-go/scholar-lite/pkg/core/live"
	"github.com/vango-go/scholar-lite/pkg/core/search"
	"github.com/vango-go/scholar-lite/pkg/core/solve"
	"github.com/vango-go/scholar-lite/pkg/core/speech"
)

// Profile selects models and voices. Zero fields keep their defaults.
type Profile struct {
	SolveModel            string `yaml:"solve_model" json:"solve_model"`
	ThinkingModel         string `yaml:"thinking_model" json:"thinking_model"`
	ThinkingBudget        int32  `yaml:"thinking_budget" json:"thinking_budget"`
	SearchModel           string `yaml:"search_model" json:"search_model"`
	SpeechModel           string `yaml:"speech_model" json:"speech_model"`
	SpeechVoice           string `yaml:"speech_voice" json:"speech_voice"`
	LiveModel             string `yaml:"live_model" json:"live_model"`
	LiveVoice             string `yaml:"live_voice" json:"live_voice"`
	LiveSystemInstruction string `yaml:"live_system_instruction" json:"live_system_instruction"`
}

func DefaultProfile() Profile {
	return Profile{
		SolveModel:     solve.DefaultModel,
		ThinkingModel:  solve.DefaultThinkingModel,
		ThinkingBudget: solve.DefaultThinkingBudget,
		SearchModel:    search.DefaultModel,
		SpeechModel:    speech.DefaultModel,
		SpeechVoice:    speech.DefaultVoice,
		LiveModel:      live.DefaultModel,
		LiveVoice:      live.DefaultVoice,
	}
}

// SolveModels adapts the profile for solve.Solver.
func (p Profile) SolveModels() solve.Models {
	return solve.Models{Default: p.SolveModel, Thinking: p.ThinkingModel, ThinkingBudget: p.ThinkingBudget}
}

// LiveConfig adapts the profile for live.Conversation.
func (p Profile) LiveConfig() live.Config {
	cfg := live.DefaultConfig()
	if p.LiveModel != "" {
		cfg.Model = p.LiveModel
	}
	if p.LiveVoice != "" {
		cfg.Voice = p.LiveVoice
	}
	cfg.SystemInstruction = p.LiveSystemInstruction
	return cfg
}

// LoadProfile reads a YAML or JSON profile. An empty path returns the defaults.
func LoadProfile(path string) (Profile, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return DefaultProfile(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("read profile: %w", err)
	}

	p := DefaultProfile()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, &p); err != nil {
			return Profile{}, fmt.Errorf("parse json profile: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &p); err != nil {
			return Profile{}, fmt.Errorf("parse yaml profile: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &p); err != nil {
			if jerr := json.Unmarshal(data, &p); jerr != nil {
				return Profile{}, fmt.Errorf("unsupported profile format: %s", filepath.Ext(path))
			}
		}
	}
	if p.ThinkingBudget < 0 {
		return Profile{}, fmt.Errorf("profile thinking_budget must be >= 0")
	}
	return p.withDefaults(), nil
}

func (p Profile) withDefaults() Profile {
	d := DefaultProfile()
	fill := func(v *string, def string) {
		if strings.TrimSpace(*v) == "" {
			*v = def
		}
	}
	fill(&p.SolveModel, d.SolveModel)
	fill(&p.ThinkingModel, d.ThinkingModel)
	fill(&p.SearchModel, d.SearchModel)
	fill(&p.SpeechModel, d.SpeechModel)
	fill(&p.SpeechVoice, d.SpeechVoice)
	fill(&p.LiveModel, d.LiveModel)
	fill(&p.LiveVoice, d.LiveVoice)
	if p.ThinkingBudget == 0 {
		p.ThinkingBudget = d.ThinkingBudget
	}
	return p
}
