package solve

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/vango-go/scholar-lite/pkg/core"
)

// ParseResult decodes the model's JSON answer. Anything that does not decode,
// or decodes with a blank solution or explanation, falls back to the trimmed
// raw text as the solution. The JSON shape is never assumed
// downstream of this function.
func ParseResult(raw string) Result {
	text := stripFence(strings.TrimSpace(raw))

	var wire struct {
		Solution    *string         `json:"solution"`
		Explanation *string         `json:"explanation"`
		ChartData   json.RawMessage `json:"chartData"`
	}
	if err := json.Unmarshal([]byte(text), &wire); err != nil || blank(wire.Solution) || blank(wire.Explanation) {
		return Result{Solution: strings.TrimSpace(raw), Explanation: core.MsgExplanationEmpty}
	}

	return Result{
		Solution:    *wire.Solution,
		Explanation: *wire.Explanation,
		Chart:       parseChart(wire.ChartData),
	}
}

func blank(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}

// parseChart drops descriptors that cannot be rendered.
func parseChart(raw json.RawMessage) *ChartData {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var c ChartData
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil
	}
	switch c.Type {
	case ChartBar, ChartLine:
	default:
		return nil
	}
	if len(c.Data) == 0 {
		return nil
	}
	if strings.TrimSpace(c.DataKey) == "" {
		c.DataKey = "value"
	}
	return &c
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func asCoreError(err error, target **core.Error) bool {
	return errors.As(err, target) && *target != nil
}
