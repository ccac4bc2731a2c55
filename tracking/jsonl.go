package tracking

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

// JSONLines writes each run to <Dir>/<sweep>/<run id>.jsonl, one Record per line, and its summary
// to <Dir>/<sweep>/<run id>.summary.json.
type JSONLines struct {
	Dir string

	run RunInfo
	f   *os.File
	enc *json.Encoder
}

var _ Sink = (*JSONLines)(nil)

// Summary is the content of the summary file of a run.
type Summary struct {
	Run        RunInfo            `json:"run"`
	Metrics    map[string]float64 `json:"metrics,omitempty"`
	Error      string             `json:"error,omitempty"`
	FinishedAt time.Time          `json:"finished_at"`
}

func (j *JSONLines) runDir() string {
	sweep := j.run.Sweep
	if sweep == "" {
		sweep = "runs"
	}
	return filepath.Join(j.Dir, sweep)
}

// HistoryPath returns the path of the history file of the current run.
func (j *JSONLines) HistoryPath() string {
	return filepath.Join(j.runDir(), j.run.ID+".jsonl")
}

// SummaryPath returns the path of the summary file of the current run.
func (j *JSONLines) SummaryPath() string {
	return filepath.Join(j.runDir(), j.run.ID+".summary.json")
}

// Start implements Sink.
func (j *JSONLines) Start(run RunInfo) error {
	if j.f != nil {
		_ = j.f.Close()
		j.f = nil
	}
	j.run = run
	if err := os.MkdirAll(j.runDir(), 0755); err != nil {
		return errors.Wrapf(err, "failed to create tracking directory %q", j.runDir())
	}
	f, err := os.Create(j.HistoryPath())
	if err != nil {
		return errors.Wrapf(err, "failed to create %q", j.HistoryPath())
	}
	j.f = f
	j.enc = json.NewEncoder(f)
	return nil
}

// Log implements Sink.
func (j *JSONLines) Log(step int, metrics map[string]float64) error {
	if j.f == nil {
		return errors.New("JSONLines.Log called before Start")
	}
	return errors.Wrapf(j.enc.Encode(Record{Step: step, Metrics: metrics}),
		"failed to write to %q", j.HistoryPath())
}

// Finish implements Sink.
func (j *JSONLines) Finish(summary map[string]float64, runErr error) error {
	if j.f == nil {
		return errors.New("JSONLines.Finish called before Start")
	}
	err := j.f.Close()
	j.f = nil
	if err != nil {
		return errors.Wrapf(err, "failed to close %q", j.HistoryPath())
	}
	s := Summary{Run: j.run, Metrics: summary, FinishedAt: time.Now()}
	if runErr != nil {
		s.Error = runErr.Error()
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode run summary")
	}
	return errors.Wrapf(os.WriteFile(j.SummaryPath(), data, 0644), "failed to write %q", j.SummaryPath())
}

// LoadHistory reads a history file written by JSONLines and returns it as Points.
func LoadHistory(filePath string) (Points, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open history %q", filePath)
	}
	defer func() { _ = f.Close() }()
	dec := json.NewDecoder(f)
	points := make(Points)
	for dec.More() {
		var record Record
		if err := dec.Decode(&record); err != nil {
			return nil, errors.Wrapf(err, "failed to decode history %q", filePath)
		}
		for name, value := range record.Metrics {
			points.Add(Point{Metric: name, Step: record.Step, Value: value})
		}
	}
	return points, nil
}

// LoadSummary reads a summary file written by JSONLines.
func LoadSummary(filePath string) (*Summary, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read summary %q", filePath)
	}
	s := &Summary{}
	if err = json.Unmarshal(data, s); err != nil {
		return nil, errors.Wrapf(err, "failed to decode summary %q", filePath)
	}
	return s, nil
}
