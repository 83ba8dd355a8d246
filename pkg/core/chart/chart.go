// Package chart renders solve.ChartData as a standalone SVG image.
package chart

import (
	"fmt"
	"html"
	"math"
	"strings"

	"github.com/vango-go/scholar-lite/pkg/core/solve"
)

const (
	DefaultWidth  = 640
	DefaultHeight = 320

	marginLeft   = 56
	marginRight  = 16
	marginTop    = 16
	marginBottom = 40
	ticks        = 5

	barColor  = "#8884d8"
	lineColor = "#82ca9d"
	axisColor = "#666"
	gridColor = "#ddd"
)

// SVG renders a bar or line chart. Non-positive sizes fall back to the defaults.
func SVG(data solve.ChartData, width, height int) (string, error) {
	if data.Type != solve.ChartBar && data.Type != solve.ChartLine {
		return "", fmt.Errorf("chart: unsupported type %q", data.Type)
	}
	if len(data.Data) == 0 {
		return "", fmt.Errorf("chart: no data points")
	}
	if width <= 0 {
		width = DefaultWidth
	}
	if height <= 0 {
		height = DefaultHeight
	}

	plotW := float64(width - marginLeft - marginRight)
	plotH := float64(height - marginTop - marginBottom)
	lo, hi := bounds(data.Data)
	scaleY := func(v float64) float64 {
		return marginTop + plotH - (v-lo)/(hi-lo)*plotH
	}
	band := plotW / float64(len(data.Data))
	centerX := func(i int) float64 {
		return marginLeft + band*float64(i) + band/2
	}

	var b strings.Builder
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d" font-family="sans-serif" font-size="11">`, width, height, width, height)
	b.WriteString("\n")

	step := (hi - lo) / ticks
	for i := 0; i <= ticks; i++ {
		v := lo + step*float64(i)
		y := scaleY(v)
		fmt.Fprintf(&b, `<line x1="%d" y1="%.1f" x2="%d" y2="%.1f" stroke="%s" stroke-dasharray="3 3"/>`+"\n",
			marginLeft, y, width-marginRight, y, gridColor)
		fmt.Fprintf(&b, `<text x="%d" y="%.1f" text-anchor="end" dominant-baseline="middle" fill="%s">%s</text>`+"\n",
			marginLeft-6, y, axisColor, formatTick(v))
	}

	zeroY := scaleY(0)
	fmt.Fprintf(&b, `<line x1="%d" y1="%d" x2="%d" y2="%d" stroke="%s"/>`+"\n",
		marginLeft, marginTop, marginLeft, height-marginBottom, axisColor)
	fmt.Fprintf(&b, `<line x1="%d" y1="%.1f" x2="%d" y2="%.1f" stroke="%s"/>`+"\n",
		marginLeft, zeroY, width-marginRight, zeroY, axisColor)

	switch data.Type {
	case solve.ChartBar:
		barW := band * 0.7
		for i, p := range data.Data {
			y := scaleY(p.Value)
			top, h := y, zeroY-y
			if h < 0 {
				top, h = zeroY, -h
			}
			fmt.Fprintf(&b, `<rect x="%.1f" y="%.1f" width="%.1f" height="%.1f" fill="%s"><title>%s: %s</title></rect>`+"\n",
				centerX(i)-barW/2, top, barW, h, barColor, html.EscapeString(p.Name), formatTick(p.Value))
		}
	case solve.ChartLine:
		pts := make([]string, len(data.Data))
		for i, p := range data.Data {
			pts[i] = fmt.Sprintf("%.1f,%.1f", centerX(i), scaleY(p.Value))
		}
		fmt.Fprintf(&b, `<polyline points="%s" fill="none" stroke="%s" stroke-width="2"/>`+"\n", strings.Join(pts, " "), lineColor)
		for i, p := range data.Data {
			fmt.Fprintf(&b, `<circle cx="%.1f" cy="%.1f" r="3" fill="%s"><title>%s: %s</title></circle>`+"\n",
				centerX(i), scaleY(p.Value), lineColor, html.EscapeString(p.Name), formatTick(p.Value))
		}
	}

	for i, p := range data.Data {
		fmt.Fprintf(&b, `<text x="%.1f" y="%d" text-anchor="middle" fill="%s">%s</text>`+"\n",
			centerX(i), height-marginBottom+16, axisColor, html.EscapeString(p.Name))
	}
	b.WriteString("</svg>")
	return b.String(), nil
}

// bounds returns a y-range that always includes zero and is never empty.
func bounds(points []solve.DataPoint) (lo, hi float64) {
	for _, p := range points {
		lo = math.Min(lo, p.Value)
		hi = math.Max(hi, p.Value)
	}
	if hi == lo {
		hi = lo + 1
	}
	return lo, hi
}

func formatTick(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.2f", v)
}
