package storage

import (
	"encoding/json"
	"io"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/rxsim/internal/dynamo"
)

type ExportData struct {
	Model       string             `json:"model"`
	Status      string             `json:"status"`
	Steps       int                `json:"steps"`
	Times       []float64          `json:"times"`
	States      [][]float64        `json:"states"`
	Observables [][]float64        `json:"observables,omitempty"`
	Sx          [][][]float64      `json:"sx,omitempty"`
	SteadyState []float64          `json:"x_ss,omitempty"`
	Events      []ExportEvent      `json:"events,omitempty"`
	LLH         *float64           `json:"llh,omitempty"`
	Gradient    []float64          `json:"gradient,omitempty"`
	FIM         [][]float64        `json:"fim,omitempty"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
}

type ExportEvent struct {
	Index   int       `json:"index"`
	Time    float64   `json:"time"`
	Root    int       `json:"root"`
	Name    string    `json:"name"`
	XBefore []float64 `json:"x_before,omitempty"`
	XAfter  []float64 `json:"x_after,omitempty"`
}

// NewExportData flattens a result for JSON. The +Inf output time has no
// JSON encoding; its state is exported as the steady state instead.
func NewExportData(model string, result *dynamo.Result) ExportData {
	data := ExportData{
		Model:       model,
		Status:      result.Status.String(),
		Steps:       result.Diagnostics.Steps,
		SteadyState: result.XSS,
		Gradient:    result.Gradient,
		Metrics:     result.Metrics,
	}
	for i, x := range result.X {
		if math.IsInf(result.Times[i], 1) {
			continue
		}
		data.Times = append(data.Times, result.Times[i])
		data.States = append(data.States, x)
		if i < len(result.Y) {
			data.Observables = append(data.Observables, result.Y[i])
		}
		if i < len(result.Sx) && result.Sx[i] != nil {
			data.Sx = append(data.Sx, matrixRows(result.Sx[i]))
		}
	}
	for _, e := range result.Events {
		data.Events = append(data.Events, ExportEvent{
			Index:   e.Index,
			Time:    e.Time,
			Root:    e.Root,
			Name:    e.Name,
			XBefore: e.XBefore,
			XAfter:  e.XAfter,
		})
	}
	if result.Res != nil {
		llh := result.LLH
		data.LLH = &llh
	}
	data.FIM = matrixRows(result.FIM)
	return data
}

func matrixRows(m *mat.Dense) [][]float64 {
	if m == nil {
		return nil
	}
	r, _ := m.Dims()
	rows := make([][]float64, r)
	for i := range rows {
		rows[i] = mat.Row(nil, i, m)
	}
	return rows
}

func ExportJSON(w io.Writer, model string, result *dynamo.Result) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(NewExportData(model, result))
}

// ExportRun writes a stored run in the same shape as ExportJSON.
func (s *Store) ExportRun(w io.Writer, runID string) error {
	meta, err := s.Load(runID)
	if err != nil {
		return err
	}
	states, times, err := s.LoadStates(runID)
	if err != nil {
		return err
	}
	events, err := s.LoadEvents(runID)
	if err != nil {
		return err
	}
	res := &dynamo.Result{
		Times:       times,
		Events:      events,
		XSS:         meta.XSS,
		Gradient:    meta.Gradient,
		Metrics:     meta.Metrics,
		Diagnostics: meta.Diagnostics,
	}
	for _, x := range states {
		res.X = append(res.X, x)
	}
	switch meta.Status {
	case dynamo.StatusFinished.String():
		res.Status = dynamo.StatusFinished
	case dynamo.StatusFailed.String():
		res.Status = dynamo.StatusFailed
	}
	data := NewExportData(meta.Model, res)
	data.LLH = meta.LLH
	data.FIM = meta.FIM
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
