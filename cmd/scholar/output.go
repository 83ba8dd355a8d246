package main

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/vango-go/scholar-lite/pkg/core/live"
	"github.com/vango-go/scholar-lite/pkg/core/search"
	"github.com/vango-go/scholar-lite/pkg/core/solve"
	scholar "github.com/vango-go/scholar-lite/sdk"
)

const chartBarWidth = 30

func printSolution(w io.Writer, res *scholar.SolveResponse) {
	fmt.Fprintln(w, "Solution:")
	fmt.Fprintln(w, strings.TrimSpace(res.Solution))
	if res.Explanation != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Explanation:")
		fmt.Fprintln(w, strings.TrimSpace(res.Explanation))
	}
	if res.Chart != nil {
		fmt.Fprintln(w)
		printChart(w, *res.Chart)
	}
	if res.Model != "" {
		fmt.Fprintf(w, "\n(model %s)\n", res.Model)
	}
}

// printChart draws a horizontal bar per point, scaled to the largest
// magnitude.
func printChart(w io.Writer, c solve.ChartData) {
	fmt.Fprintf(w, "Chart (%s):\n", c.Type)
	nameWidth := 0
	maxAbs := 0.0
	for _, p := range c.Data {
		nameWidth = max(nameWidth, len(p.Name))
		maxAbs = max(maxAbs, math.Abs(p.Value))
	}
	for _, p := range c.Data {
		n := 0
		if maxAbs > 0 {
			n = int(math.Round(math.Abs(p.Value) / maxAbs * chartBarWidth))
		}
		fmt.Fprintf(w, "  %-*s | %s %g\n", nameWidth, p.Name, strings.Repeat("#", n), p.Value)
	}
}

func printSearch(w io.Writer, res search.Result) {
	fmt.Fprintln(w, strings.TrimSpace(res.Text))
	if !res.HasSources() {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Sources:")
	for i, s := range res.Sources {
		if s.Title != "" && s.Title != s.URI {
			fmt.Fprintf(w, "  [%d] %s - %s\n", i+1, s.Title, s.URI)
			continue
		}
		fmt.Fprintf(w, "  [%d] %s\n", i+1, s.Label())
	}
}

// printUpdate renders one live update as a transcript line. Partial updates
// are skipped unless verbose is set.
func printUpdate(w io.Writer, u live.Update, verbose bool) {
	switch u.Kind {
	case live.UpdateState:
		fmt.Fprintf(w, "[%s]\n", u.State)
	case live.UpdateEntry:
		speaker := "You"
		if u.Entry.Speaker == live.SpeakerModel {
			speaker = "Tutor"
		}
		fmt.Fprintf(w, "%s: %s\n", speaker, u.Entry.Text)
	case live.UpdatePartial:
		if verbose {
			fmt.Fprintf(w, "... you=%q tutor=%q\n", u.Input, u.Output)
		}
	case live.UpdateInterrupted:
		fmt.Fprintln(w, "[interrupted]")
	case live.UpdateError:
		fmt.Fprintf(w, "error: %s\n", describeError(u.Err))
	}
}
