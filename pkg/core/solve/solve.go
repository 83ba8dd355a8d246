// Package solve turns a homework prompt (text and/or image) into a structured
// tutor answer: a Markdown solution, a short explanation, and an optional chart.
package solve

import (
	"context"
	"strings"

	"github.com/vango-go/scholar-lite/pkg/core"
)

const (
	DefaultModel          = "gemini-2.5-flash"
	DefaultThinkingModel  = "gemini-2.5-pro"
	DefaultThinkingBudget = 32768
)

// SystemInstruction frames every solve request.
const SystemInstruction = "You are an expert tutor. Your goal is to help students understand and solve problems. " +
	"Provide a clear, step-by-step solution. Format the 'solution' field using Markdown for clarity " +
	"(e.g., use lists, bold text). Then, provide a concise 'explanation' of the key concepts involved, " +
	"suitable for being read aloud. If the problem involves data that can be visualized, provide 'chartData' " +
	"in the specified JSON format; the 'dataKey' should always be 'value'. " +
	"If no visualization is relevant, 'chartData' should be null."

type ChartType string

const (
	ChartBar  ChartType = "bar"
	ChartLine ChartType = "line"
)

type DataPoint struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// ChartData describes an optional visualization attached to a solution.
type ChartData struct {
	Type    ChartType   `json:"type"`
	Data    []DataPoint `json:"data"`
	DataKey string      `json:"dataKey"`
}

// Result is the per-request answer. It is discarded on the next submission.
type Result struct {
	Solution    string     `json:"solution"`
	Explanation string     `json:"explanation"`
	Chart       *ChartData `json:"chartData,omitempty"`
}

type Image struct {
	MIMEType string
	Data     []byte
}

type Request struct {
	Prompt   string
	Image    *Image
	Thinking bool
}

// GenerateRequest is what a Generator receives. Its shape does not depend on
// thinking mode; only Model and ThinkingBudget change.
type GenerateRequest struct {
	Model             string
	Prompt            string
	Image             *Image
	SystemInstruction string
	ThinkingBudget    int32
}

// Generator produces raw model text for a structured solve request.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// Models selects which model serves each mode.
type Models struct {
	Default        string
	Thinking       string
	ThinkingBudget int32
}

func DefaultModels() Models {
	return Models{
		Default:        DefaultModel,
		Thinking:       DefaultThinkingModel,
		ThinkingBudget: DefaultThinkingBudget,
	}
}

// Options returns the model and reasoning budget for the given mode.
func (m Models) Options(thinking bool) (model string, budget int32) {
	d := DefaultModels()
	if strings.TrimSpace(m.Default) != "" {
		d.Default = m.Default
	}
	if strings.TrimSpace(m.Thinking) != "" {
		d.Thinking = m.Thinking
	}
	if m.ThinkingBudget > 0 {
		d.ThinkingBudget = m.ThinkingBudget
	}
	if thinking {
		return d.Thinking, d.ThinkingBudget
	}
	return d.Default, 0
}

// Validate rejects requests with neither a prompt nor an image.
func Validate(req Request) error {
	hasImage := req.Image != nil && len(req.Image.Data) > 0
	if strings.TrimSpace(req.Prompt) == "" && !hasImage {
		return core.NewInvalidRequestErrorWithParam(core.MsgSolveEmpty, "prompt")
	}
	if hasImage && strings.TrimSpace(req.Image.MIMEType) == "" {
		return core.NewInvalidRequestErrorWithParam("image mime type is required", "image.mime_type")
	}
	return nil
}

// Solver validates, selects a model, generates, and parses.
type Solver struct {
	Generator Generator
	Models    Models
}

func (s Solver) Solve(ctx context.Context, req Request) (Result, error) {
	if err := Validate(req); err != nil {
		return Result{}, err
	}
	if s.Generator == nil {
		return Result{}, core.NewAPIError("solver is not configured")
	}
	model, budget := s.Models.Options(req.Thinking)
	raw, err := s.Generator.Generate(ctx, buildGenerateRequest(req, model, budget))
	if err != nil {
		var coreErr *core.Error
		if asCoreError(err, &coreErr) {
			return Result{}, coreErr
		}
		return Result{}, core.NewProviderError("gemini", err)
	}
	return ParseResult(raw), nil
}

func buildGenerateRequest(req Request, model string, budget int32) GenerateRequest {
	return GenerateRequest{
		Model:             model,
		Prompt:            req.Prompt,
		Image:             req.Image,
		SystemInstruction: SystemInstruction,
		ThinkingBudget:    budget,
	}
}
