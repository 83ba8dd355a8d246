package gemini

import (
	"strings"

	"google.golang.org/genai"

	"github.com/vango-go/scholar-lite/pkg/core/live"
	"github.com/vango-go/scholar-lite/pkg/core/solve"
	"github.com/vango-go/scholar-lite/pkg/core/speech"
)

// solveSchema constrains solve output to {solution, explanation, chartData|null}.
func solveSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"solution": {
				Type:        genai.TypeString,
				Description: "A detailed, step-by-step solution to the problem, formatted in Markdown.",
			},
			"explanation": {
				Type:        genai.TypeString,
				Description: "A concise explanation of the core concepts, suitable for text-to-speech.",
			},
			"chartData": {
				Type:        genai.TypeObject,
				Nullable:    genai.Ptr(true),
				Description: "Optional data for a chart. Null if no chart is relevant.",
				Properties: map[string]*genai.Schema{
					"type": {
						Type: genai.TypeString,
						Enum: []string{string(solve.ChartBar), string(solve.ChartLine)},
					},
					"data": {
						Type: genai.TypeArray,
						Items: &genai.Schema{
							Type: genai.TypeObject,
							Properties: map[string]*genai.Schema{
								"name":  {Type: genai.TypeString},
								"value": {Type: genai.TypeNumber},
							},
							Required: []string{"name", "value"},
						},
					},
					"dataKey": {Type: genai.TypeString},
				},
				Required: []string{"type", "data", "dataKey"},
			},
		},
		Required:         []string{"solution", "explanation"},
		PropertyOrdering: []string{"solution", "explanation", "chartData"},
	}
}

// buildSolveContents puts the image part, when present, before the prompt.
func buildSolveContents(req solve.GenerateRequest) []*genai.Content {
	var parts []*genai.Part
	if req.Image != nil && len(req.Image.Data) > 0 {
		parts = append(parts, genai.NewPartFromBytes(req.Image.Data, req.Image.MIMEType))
	}
	if strings.TrimSpace(req.Prompt) != "" {
		parts = append(parts, genai.NewPartFromText(req.Prompt))
	}
	return []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
}

func buildSolveConfig(req solve.GenerateRequest) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   solveSchema(),
	}
	if req.SystemInstruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemInstruction, genai.RoleUser)
	}
	if req.ThinkingBudget > 0 {
		cfg.ThinkingConfig = &genai.ThinkingConfig{ThinkingBudget: genai.Ptr(req.ThinkingBudget)}
	}
	return cfg
}

func speechConfig(voice string) *genai.SpeechConfig {
	return &genai.SpeechConfig{
		VoiceConfig: &genai.VoiceConfig{
			PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
		},
	}
}

func buildSpeechContents(text string) []*genai.Content {
	return genai.Text(speech.PromptPrefix + text)
}

func buildSpeechConfig(voice string) *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		ResponseModalities: []string{string(genai.ModalityAudio)},
		SpeechConfig:       speechConfig(voice),
	}
}

func buildSearchConfig() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		Tools: []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}},
	}
}

func buildLiveConfig(cfg live.Config) *genai.LiveConnectConfig {
	out := &genai.LiveConnectConfig{
		ResponseModalities:       []genai.Modality{genai.ModalityAudio},
		SpeechConfig:             speechConfig(cfg.Voice),
		InputAudioTranscription:  &genai.AudioTranscriptionConfig{},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
	}
	if strings.TrimSpace(cfg.SystemInstruction) != "" {
		out.SystemInstruction = genai.NewContentFromText(cfg.SystemInstruction, genai.RoleUser)
	}
	return out
}
