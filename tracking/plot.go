package tracking

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// DefaultPlotMetrics are the curves drawn by Plot if none are given.
var DefaultPlotMetrics = []string{"loss", "valid_ndcg", "test_ndcg"}

// Plot saves a PNG with the learning curves of each run, as <Dir>/<sweep>/<run id>.png.
type Plot struct {
	Dir     string
	Metrics []string

	memory Memory
}

var _ Sink = (*Plot)(nil)

// Start implements Sink.
func (p *Plot) Start(run RunInfo) error { return p.memory.Start(run) }

// Log implements Sink.
func (p *Plot) Log(step int, metrics map[string]float64) error { return p.memory.Log(step, metrics) }

// Finish implements Sink. Failed runs are not plotted.
func (p *Plot) Finish(summary map[string]float64, runErr error) error {
	if runErr != nil || len(p.memory.History) == 0 {
		return nil
	}
	run := p.memory.Run
	sweep := run.Sweep
	if sweep == "" {
		sweep = "runs"
	}
	dir := filepath.Join(p.Dir, sweep)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "failed to create plot directory %q", dir)
	}
	metrics := p.Metrics
	if len(metrics) == 0 {
		metrics = DefaultPlotMetrics
	}
	title := run.Name
	if title == "" {
		title = run.ID
	}
	return SavePlot(filepath.Join(dir, run.ID+".png"), title, p.memory.Points(), metrics...)
}

// SavePlot draws one line per metric, against the step.
func SavePlot(filePath, title string, points Points, metrics ...string) error {
	pl := plot.New()
	pl.Title.Text = title
	pl.X.Label.Text = "epoch"
	pl.Y.Label.Text = "value"
	pl.Add(plotter.NewGrid())

	var numLines int
	for _, metric := range metrics {
		steps, values := points.Series(metric)
		if len(steps) == 0 {
			continue
		}
		xys := make(plotter.XYs, len(steps))
		for ii := range steps {
			xys[ii].X, xys[ii].Y = steps[ii], values[ii]
		}
		line, err := plotter.NewLine(xys)
		if err != nil {
			return errors.Wrapf(err, "failed to plot metric %q", metric)
		}
		line.Color = plotutil.Color(numLines)
		pl.Add(line)
		pl.Legend.Add(metric, line)
		numLines++
	}
	if numLines == 0 {
		return errors.Errorf("none of the metrics %v has points to plot", metrics)
	}
	return errors.Wrapf(pl.Save(10*vg.Inch, 6*vg.Inch, filePath), "failed to save plot to %q", filePath)
}
