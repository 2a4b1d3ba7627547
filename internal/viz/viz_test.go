package viz

import (
	"math"
	"strings"
	"testing"

	"github.com/san-kum/rxsim/internal/dynamo"
)

func TestSparkline(t *testing.T) {
	if got := Sparkline([]float64{0, 1}); got != "▁█" {
		t.Errorf("unexpected sparkline %q", got)
	}
	if got := Sparkline([]float64{2, 2, 2}); got != "▁▁▁" {
		t.Errorf("flat series should stay low, got %q", got)
	}
	if Sparkline(nil) != "" {
		t.Error("expected empty sparkline")
	}
}

func TestSeriesSkipsSteadyState(t *testing.T) {
	times := []float64{0, 1, math.Inf(1)}
	states := [][]float64{{1, 2}, {3, 4}, {5, 6}}
	got := Series(times, states, 1)
	if len(got) != 2 || got[0] != 2 || got[1] != 4 {
		t.Errorf("unexpected series %v", got)
	}
}

func TestSummary(t *testing.T) {
	res := &dynamo.Result{
		Status:  dynamo.StatusFinished,
		Res:     []float64{0.1},
		LLH:     -3.5,
		SLLH:    []float64{0.25},
		Metrics: map[string]float64{"peak_x": 1},
		Diagnostics: dynamo.Diagnostics{
			Steps:        42,
			LinearSolver: "dense",
			Degraded:     true,
			Messages:     []string{"jacobian singular"},
		},
	}
	out := Summary(dynamo.Info{Name: "decay", Parameters: []string{"k"}}, res)
	for _, want := range []string{"decay", "degraded", "42", "-3.5", "dllh/dk", "peak_x", "jacobian singular"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary is missing %q:\n%s", want, out)
		}
	}
}

func TestPlotStates(t *testing.T) {
	times := []float64{0, 1, 2}
	states := [][]float64{{1, 0}, {0.5, 0.5}, {0.25, 0.75}}
	out := PlotStates(dynamo.Info{States: []string{"A"}}, times, states, 6)
	if !strings.Contains(out, "A vs time") || !strings.Contains(out, "x1 vs time") {
		t.Errorf("unexpected plot:\n%s", out)
	}
	if Plot("single", []float64{1}, 80, 10) != "" {
		t.Error("single point should not plot")
	}
}
