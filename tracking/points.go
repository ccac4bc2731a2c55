package tracking

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/pkg/errors"
)

// Point is one metric value measured at one step.
type Point struct {
	Metric string  `json:"metric"`
	Step   int     `json:"step"`
	Value  float64 `json:"value"`
}

// Points is a collection of Point organized by their step.
type Points map[int][]Point

// Add a point.
func (points Points) Add(p Point) {
	points[p.Step] = append(points[p.Step], p)
}

// Steps returns the sorted steps with points.
func (points Points) Steps() []int {
	return slices.Sorted(maps.Keys(points))
}

// MetricsNames returns the sorted names of all metrics in the collection.
func (points Points) MetricsNames() []string {
	names := make(map[string]bool)
	for _, stepPoints := range points {
		for _, p := range stepPoints {
			names[p.Metric] = true
		}
	}
	return slices.Sorted(maps.Keys(names))
}

// Series returns the steps and values of one metric, in step order.
func (points Points) Series(metric string) (steps, values []float64) {
	for _, step := range points.Steps() {
		for _, p := range points[step] {
			if p.Metric == metric {
				steps = append(steps, float64(step))
				values = append(values, p.Value)
			}
		}
	}
	return
}

// TableForMetrics returns a table with the first column being the step followed by the columns
// given by the metrics names. If metrics is empty, it includes all metrics.
func (points Points) TableForMetrics(metrics ...string) string {
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	headerStyle := lipgloss.NewStyle().Padding(0, 1).Bold(true).Reverse(true)
	table := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == lgtable.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	if len(metrics) == 0 {
		metrics = points.MetricsNames()
	}
	table.Headers(append([]string{"Step"}, metrics...)...)
	for _, step := range points.Steps() {
		row := make([]string, 1+len(metrics))
		row[0] = fmt.Sprintf("%d", step)
		for _, p := range points[step] {
			if idx := slices.Index(metrics, p.Metric); idx != -1 {
				row[idx+1] = fmt.Sprintf("%.4f", p.Value)
			}
		}
		table.Row(row...)
	}
	return table.String()
}

// String implements fmt.Stringer.
func (points Points) String() string {
	return points.TableForMetrics()
}

// WritePoints writes the points, one JSON object per line, in step order.
func WritePoints(w io.Writer, points Points) error {
	enc := json.NewEncoder(w)
	for _, step := range points.Steps() {
		for _, p := range points[step] {
			if err := enc.Encode(p); err != nil {
				return errors.Wrapf(err, "failed to encode point %v", p)
			}
		}
	}
	return nil
}

// LoadPoints parses points saved with WritePoints.
func LoadPoints(filePath string) (Points, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read points file %q", filePath)
	}
	defer func() { _ = f.Close() }()
	dec := json.NewDecoder(f)
	points := make(Points)
	for {
		var p Point
		err := dec.Decode(&p)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "error while decoding points file %q", filePath)
		}
		points.Add(p)
	}
	return points, nil
}
