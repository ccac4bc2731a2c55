// Package tracking receives the metrics of training runs: one record per epoch with the loss and
// the validation/test ranking metrics, plus a final summary per run.
//
// A Sink handles one run at a time: Start, followed by any number of Log calls and a Finish.
// Sweeps call them once per trial, sequentially.
package tracking

import (
	"maps"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"
)

// RunInfo identifies a run.
type RunInfo struct {
	ID        string         `json:"id"`
	Sweep     string         `json:"sweep,omitempty"`
	Name      string         `json:"name,omitempty"`
	Config    map[string]any `json:"config,omitempty"`
	StartedAt time.Time      `json:"started_at"`
}

// NewRunInfo creates a RunInfo with a new random ID.
func NewRunInfo(sweep, name string, config map[string]any) RunInfo {
	return RunInfo{
		ID:        uuid.NewString(),
		Sweep:     sweep,
		Name:      name,
		Config:    config,
		StartedAt: time.Now(),
	}
}

// Sink receives the metrics of runs.
type Sink interface {
	// Start a new run.
	Start(run RunInfo) error

	// Log the metrics of one step (epoch) of the current run.
	Log(step int, metrics map[string]float64) error

	// Finish the current run with its summary metrics. runErr is the error that aborted the run, if any.
	Finish(summary map[string]float64, runErr error) error
}

// Multi fans out to several sinks. The first error is returned, but all sinks are always called.
type Multi []Sink

var _ Sink = Multi(nil)

// Start implements Sink.
func (m Multi) Start(run RunInfo) error {
	var firstErr error
	for _, s := range m {
		if err := s.Start(run); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Log implements Sink.
func (m Multi) Log(step int, metrics map[string]float64) error {
	var firstErr error
	for _, s := range m {
		if err := s.Log(step, metrics); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Finish implements Sink.
func (m Multi) Finish(summary map[string]float64, runErr error) error {
	var firstErr error
	for _, s := range m {
		if err := s.Finish(summary, runErr); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Discard ignores everything.
type Discard struct{}

func (Discard) Start(RunInfo) error { return nil }

func (Discard) Log(int, map[string]float64) error { return nil }

func (Discard) Finish(map[string]float64, error) error { return nil }

// Logger logs every step with klog, at the given verbosity level.
type Logger struct {
	Level klog.Level
	run   RunInfo
}

// Start implements Sink.
func (l *Logger) Start(run RunInfo) error {
	l.run = run
	klog.V(l.Level).Infof("Run %s (%s) started: %v", run.Name, run.ID, run.Config)
	return nil
}

// Log implements Sink.
func (l *Logger) Log(step int, metrics map[string]float64) error {
	if !klog.V(l.Level).Enabled() {
		return nil
	}
	klog.Infof("Run %s, step %d: %s", l.run.Name, step, formatMetrics(metrics))
	return nil
}

// Finish implements Sink.
func (l *Logger) Finish(summary map[string]float64, runErr error) error {
	if runErr != nil {
		klog.Errorf("Run %s (%s) failed: %+v", l.run.Name, l.run.ID, runErr)
		return nil
	}
	klog.V(l.Level).Infof("Run %s (%s) finished: %s", l.run.Name, l.run.ID, formatMetrics(summary))
	return nil
}

// Memory keeps the metrics of the last run in memory.
type Memory struct {
	Run     RunInfo
	History []Record
	Summary map[string]float64
	Err     error
}

// Record of one step.
type Record struct {
	Step    int                `json:"step"`
	Metrics map[string]float64 `json:"metrics"`
}

// Start implements Sink.
func (m *Memory) Start(run RunInfo) error {
	*m = Memory{Run: run}
	return nil
}

// Log implements Sink.
func (m *Memory) Log(step int, metrics map[string]float64) error {
	m.History = append(m.History, Record{Step: step, Metrics: maps.Clone(metrics)})
	return nil
}

// Finish implements Sink.
func (m *Memory) Finish(summary map[string]float64, runErr error) error {
	m.Summary = maps.Clone(summary)
	m.Err = runErr
	return nil
}

// Points returns the recorded history as Points.
func (m *Memory) Points() Points {
	points := make(Points)
	for _, record := range m.History {
		for name, value := range record.Metrics {
			points.Add(Point{Metric: name, Step: record.Step, Value: value})
		}
	}
	return points
}

// formatMetrics returns the metrics sorted by name, as "name=value" pairs.
func formatMetrics(metrics map[string]float64) string {
	var out []byte
	for ii, name := range slices.Sorted(maps.Keys(metrics)) {
		if ii > 0 {
			out = append(out, ", "...)
		}
		out = append(out, name...)
		out = append(out, '=')
		out = strconv.AppendFloat(out, metrics[name], 'g', 6, 64)
	}
	return string(out)
}
