// Package storage keeps finished runs on disk, one directory per run:
//
//	<dir>/<id>/metadata.json
//	<dir>/<id>/states.csv
//	<dir>/<id>/sensitivities.csv
//	<dir>/<id>/events.csv
package storage

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/san-kum/rxsim/internal/dynamo"
)

var ErrNotPersistable = errors.New("storage: run has not finished")

type Store struct {
	baseDir string
	now     func() time.Time
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir, now: time.Now}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

type RunMetadata struct {
	ID          string             `json:"id"`
	Model       string             `json:"model"`
	Timestamp   time.Time          `json:"timestamp"`
	Status      string             `json:"status"`
	Error       string             `json:"error,omitempty"`
	Method      string             `json:"method"`
	Sensitivity string             `json:"sensitivity"`
	States      []string           `json:"states"`
	Parameters  []string           `json:"parameters"`
	Theta       []float64          `json:"theta"`
	LLH         *float64           `json:"llh,omitempty"`
	Chi2        *float64           `json:"chi2,omitempty"`
	Gradient    []float64          `json:"gradient,omitempty"`
	FIM         [][]float64        `json:"fim,omitempty"`
	XSS         []float64          `json:"x_ss,omitempty"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
	Diagnostics dynamo.Diagnostics `json:"diagnostics"`
}

// Save writes a finished or failed run and returns its id. runErr is the
// error the run returned, if any.
func (s *Store) Save(meta RunMetadata, result *dynamo.Result, runErr error) (string, error) {
	if result == nil || result.Status == dynamo.StatusNotRun {
		return "", ErrNotPersistable
	}
	meta.ID = uuid.NewString()
	meta.Timestamp = s.now().UTC()
	meta.Status = result.Status.String()
	if runErr != nil {
		meta.Error = runErr.Error()
	}
	meta.Metrics = result.Metrics
	meta.Diagnostics = result.Diagnostics
	meta.XSS = result.XSS
	if result.Res != nil || result.Gradient != nil {
		llh, chi2 := result.LLH, result.Chi2
		meta.LLH, meta.Chi2 = &llh, &chi2
		meta.Gradient = result.Gradient
	}
	meta.FIM = matrixRows(result.FIM)

	runDir := filepath.Join(s.baseDir, meta.ID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "metadata.json"), meta); err != nil {
		return "", err
	}
	if err := writeCSV(filepath.Join(runDir, "states.csv"), stateRows(meta.States, result)); err != nil {
		return "", err
	}
	if err := writeCSV(filepath.Join(runDir, "sensitivities.csv"), sensitivityRows(result)); err != nil {
		return "", err
	}
	if err := writeCSV(filepath.Join(runDir, "events.csv"), eventRows(meta.States, result)); err != nil {
		return "", err
	}
	return meta.ID, nil
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeCSV(path string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.WriteAll(rows); err != nil {
		return err
	}
	return f.Close()
}

func format(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

func stateRows(names []string, res *dynamo.Result) [][]string {
	header := []string{"time"}
	nx := len(names)
	if len(res.X) > 0 {
		nx = len(res.X[0])
	}
	for i := 0; i < nx; i++ {
		if i < len(names) {
			header = append(header, names[i])
		} else {
			header = append(header, fmt.Sprintf("x%d", i))
		}
	}
	rows := [][]string{header}
	for i, x := range res.X {
		row := []string{format(res.Times[i])}
		for _, v := range x {
			row = append(row, format(v))
		}
		rows = append(rows, row)
	}
	return rows
}

// sensitivityRows is the long format: one row per time, state and
// parameter.
func sensitivityRows(res *dynamo.Result) [][]string {
	rows := [][]string{{"time", "state", "parameter", "value"}}
	for i, sx := range res.Sx {
		if sx == nil {
			continue
		}
		r, c := sx.Dims()
		for j := 0; j < r; j++ {
			for k := 0; k < c; k++ {
				rows = append(rows, []string{format(res.Times[i]), strconv.Itoa(j), strconv.Itoa(k), format(sx.At(j, k))})
			}
		}
	}
	return rows
}

// eventRows writes one row per event with the state before and after it.
func eventRows(names []string, res *dynamo.Result) [][]string {
	header := []string{"index", "time", "root", "name"}
	nx := 0
	if len(res.Events) > 0 {
		nx = len(res.Events[0].XBefore)
	}
	for _, prefix := range []string{"before_", "after_"} {
		for i := 0; i < nx; i++ {
			name := fmt.Sprintf("x%d", i)
			if i < len(names) {
				name = names[i]
			}
			header = append(header, prefix+name)
		}
	}
	rows := [][]string{header}
	for _, e := range res.Events {
		row := []string{strconv.Itoa(e.Index), format(e.Time), strconv.Itoa(e.Root), e.Name}
		for _, v := range e.XBefore {
			row = append(row, format(v))
		}
		for _, v := range e.XAfter {
			row = append(row, format(v))
		}
		rows = append(rows, row)
	}
	return rows
}

// List returns the metadata of every stored run, oldest first.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}
	slices.SortStableFunc(runs, func(a, b RunMetadata) int { return a.Timestamp.Compare(b.Timestamp) })
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, "metadata.json"))
	if err != nil {
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("run %s: %w", runID, err)
	}
	return &meta, nil
}

func (s *Store) readCSV(runID, name string) ([][]string, error) {
	f, err := os.Open(filepath.Join(s.baseDir, runID, name))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("run %s: %s: %w", runID, name, err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[1:], nil
}

func parseRow(record []string) ([]float64, error) {
	out := make([]float64, len(record))
	for i, f := range record {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// LoadStates returns the stored trajectory and its output times.
func (s *Store) LoadStates(runID string) ([][]float64, []float64, error) {
	records, err := s.readCSV(runID, "states.csv")
	if err != nil {
		return nil, nil, err
	}
	times := make([]float64, 0, len(records))
	states := make([][]float64, 0, len(records))
	for i, record := range records {
		row, err := parseRow(record)
		if err != nil {
			return nil, nil, fmt.Errorf("run %s: states row %d: %w", runID, i+1, err)
		}
		times = append(times, row[0])
		states = append(states, row[1:])
	}
	return states, times, nil
}

// Sensitivity is one entry of sensitivities.csv.
type Sensitivity struct {
	Time      float64
	State     int
	Parameter int
	Value     float64
}

func (s *Store) LoadSensitivities(runID string) ([]Sensitivity, error) {
	records, err := s.readCSV(runID, "sensitivities.csv")
	if err != nil {
		return nil, err
	}
	out := make([]Sensitivity, 0, len(records))
	for i, record := range records {
		row, err := parseRow(record)
		if err != nil || len(row) != 4 {
			return nil, fmt.Errorf("run %s: sensitivities row %d is malformed", runID, i+1)
		}
		out = append(out, Sensitivity{Time: row[0], State: int(row[1]), Parameter: int(row[2]), Value: row[3]})
	}
	return out, nil
}

func (s *Store) LoadEvents(runID string) ([]dynamo.EventRecord, error) {
	records, err := s.readCSV(runID, "events.csv")
	if err != nil {
		return nil, err
	}
	out := make([]dynamo.EventRecord, 0, len(records))
	for i, record := range records {
		if len(record) < 4 || (len(record)-4)%2 != 0 {
			return nil, fmt.Errorf("run %s: events row %d is malformed", runID, i+1)
		}
		index, err := strconv.Atoi(record[0])
		if err != nil {
			return nil, fmt.Errorf("run %s: events row %d: %w", runID, i+1, err)
		}
		t, err := strconv.ParseFloat(record[1], 64)
		if err != nil {
			return nil, fmt.Errorf("run %s: events row %d: %w", runID, i+1, err)
		}
		root, err := strconv.Atoi(record[2])
		if err != nil {
			return nil, fmt.Errorf("run %s: events row %d: %w", runID, i+1, err)
		}
		xs, err := parseRow(record[4:])
		if err != nil {
			return nil, fmt.Errorf("run %s: events row %d: %w", runID, i+1, err)
		}
		nx := len(xs) / 2
		out = append(out, dynamo.EventRecord{
			Index:   index,
			Time:    t,
			Root:    root,
			Name:    record[3],
			XBefore: xs[:nx],
			XAfter:  xs[nx:],
		})
	}
	return out, nil
}
