package chart

import (
	"strings"
	"testing"

	"github.com/vango-go/scholar-lite/pkg/core/solve"
)

func sample(kind solve.ChartType) solve.ChartData {
	return solve.ChartData{
		Type:    kind,
		DataKey: "value",
		Data: []solve.DataPoint{
			{Name: "Mon", Value: 3},
			{Name: "Tue", Value: 7.5},
			{Name: "<Wed>", Value: 0},
		},
	}
}

func TestSVG_Bar(t *testing.T) {
	out, err := SVG(sample(solve.ChartBar), 0, 0)
	if err != nil {
		t.Fatalf("SVG: %v", err)
	}
	if !strings.HasPrefix(out, "<svg") || !strings.HasSuffix(out, "</svg>") {
		t.Fatalf("not an svg document: %q", out[:40])
	}
	if got := strings.Count(out, "<rect"); got != 3 {
		t.Fatalf("rects=%d, want 3", got)
	}
	if !strings.Contains(out, `width="640"`) {
		t.Fatalf("default width not applied")
	}
	if !strings.Contains(out, "&lt;Wed&gt;") || strings.Contains(out, "<Wed>") {
		t.Fatalf("labels must be escaped")
	}
}

func TestSVG_Line(t *testing.T) {
	out, err := SVG(sample(solve.ChartLine), 400, 200)
	if err != nil {
		t.Fatalf("SVG: %v", err)
	}
	if strings.Count(out, "<polyline") != 1 || strings.Count(out, "<circle") != 3 {
		t.Fatalf("unexpected line markup: %s", out)
	}
}

func TestSVG_Errors(t *testing.T) {
	if _, err := SVG(solve.ChartData{Type: "pie", Data: []solve.DataPoint{{Name: "a", Value: 1}}}, 0, 0); err == nil {
		t.Fatalf("expected unsupported type error")
	}
	if _, err := SVG(solve.ChartData{Type: solve.ChartBar}, 0, 0); err == nil {
		t.Fatalf("expected empty data error")
	}
}

func TestBounds_IncludeZero(t *testing.T) {
	lo, hi := bounds([]solve.DataPoint{{Value: 5}, {Value: 9}})
	if lo != 0 || hi != 9 {
		t.Fatalf("bounds=%v,%v", lo, hi)
	}
	lo, hi = bounds([]solve.DataPoint{{Value: -2}, {Value: -1}})
	if lo != -2 || hi != 0 {
		t.Fatalf("negative bounds=%v,%v", lo, hi)
	}
	lo, hi = bounds([]solve.DataPoint{{Value: 0}})
	if hi <= lo {
		t.Fatalf("flat bounds must be non-empty")
	}
}
