package viz

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/rxsim/internal/dynamo"
)

// StatusText renders the status of a run, marking degraded ones.
func StatusText(res *dynamo.Result) string {
	switch {
	case res.Status == dynamo.StatusFailed:
		return StatusFailed.Render("failed")
	case res.Diagnostics.Degraded:
		return StatusDegraded.Render("finished (degraded)")
	}
	return StatusFinished.Render(res.Status.String())
}

func row(b *strings.Builder, label string, value any) {
	fmt.Fprintf(b, "%s %s\n", MetricLabel.Render(fmt.Sprintf("%-14s", label)), MetricValue.Render(fmt.Sprint(value)))
}

// Summary is the one-panel report of a run.
func Summary(info dynamo.Info, res *dynamo.Result) string {
	var b strings.Builder
	b.WriteString(Title.Render(info.Name) + "  " + StatusText(res) + "\n")

	d := res.Diagnostics
	row(&b, "steps", fmt.Sprintf("%d (%d rejected)", d.Steps, d.RejectedSteps))
	row(&b, "rhs evals", d.RHSEvals)
	row(&b, "jacobians", d.JacEvals)
	row(&b, "factorizations", fmt.Sprintf("%d numeric, %d symbolic", d.NumericFactorizations, d.SymbolicFactorizations))
	row(&b, "linear solver", d.LinearSolver)
	if d.ConvFailures > 0 {
		row(&b, "conv failures", d.ConvFailures)
	}
	if d.StepsB > 0 {
		row(&b, "backward steps", fmt.Sprintf("%d (%d checkpoints)", d.StepsB, d.Checkpoints))
	}
	if len(res.Events) > 0 {
		row(&b, "events", len(res.Events))
	}
	if res.Posteq != nil {
		row(&b, "steady state", fmt.Sprintf("%s, %d iterations, wrms %.2g", res.Posteq.Strategy, res.Posteq.Iterations, res.Posteq.WRMS))
	}
	if res.Res != nil {
		row(&b, "llh", fmt.Sprintf("%.6g", res.LLH))
		row(&b, "chi2", fmt.Sprintf("%.6g", res.Chi2))
	}
	for i, g := range res.SLLH {
		row(&b, "dllh/d"+name(info.Parameters, "p", i), fmt.Sprintf("%.6g", g))
	}

	names := make([]string, 0, len(res.Metrics))
	for k := range res.Metrics {
		names = append(names, k)
	}
	slices.Sort(names)
	for _, k := range names {
		row(&b, k, fmt.Sprintf("%.6g", res.Metrics[k]))
	}
	for _, m := range d.Messages {
		b.WriteString(Subtle.Render("note: "+m) + "\n")
	}
	return Panel.Render(strings.TrimRight(b.String(), "\n"))
}

func name(names []string, prefix string, i int) string {
	if i < len(names) && names[i] != "" {
		return names[i]
	}
	return fmt.Sprintf("%s%d", prefix, i)
}

// Series extracts state j over the finite output times.
func Series(times []float64, states [][]float64, j int) []float64 {
	out := make([]float64, 0, len(states))
	for i, x := range states {
		if i < len(times) && math.IsInf(times[i], 1) {
			continue
		}
		if j < len(x) {
			out = append(out, x[j])
		}
	}
	return out
}

// Plot draws one series; fewer than two points produce no graph.
func Plot(caption string, data []float64, width, height int) string {
	if len(data) < 2 {
		return ""
	}
	return asciigraph.Plot(data,
		asciigraph.Height(height),
		asciigraph.Width(width),
		asciigraph.Caption(caption),
	)
}

// PlotStates draws up to limit states of a trajectory, one graph each.
func PlotStates(info dynamo.Info, times []float64, states [][]float64, limit int) string {
	if len(states) == 0 {
		return ""
	}
	n := min(len(states[0]), limit)
	graphs := make([]string, 0, n)
	for j := 0; j < n; j++ {
		g := Plot(name(info.States, "x", j)+" vs time", Series(times, states, j), 80, 10)
		if g != "" {
			graphs = append(graphs, g)
		}
	}
	return strings.Join(graphs, "\n\n")
}
