package tracking

import (
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// logRun runs a short fake training through sink.
func logRun(t *testing.T, sink Sink, run RunInfo, runErr error) {
	require.NoError(t, sink.Start(run))
	for step := range 3 {
		require.NoError(t, sink.Log(step, map[string]float64{
			"loss":       1.0 / float64(step+1),
			"valid_ndcg": 0.1 * float64(step),
			"test_ndcg":  0.2 * float64(step),
		}))
	}
	require.NoError(t, sink.Finish(map[string]float64{"valid_ndcg": 0.2}, runErr))
}

func TestMemory(t *testing.T) {
	m := &Memory{}
	run := NewRunInfo("sweep", "trial-1", map[string]any{"learning_rate": 0.01})
	logRun(t, m, run, nil)
	assert.Equal(t, run.ID, m.Run.ID)
	require.Len(t, m.History, 3)
	assert.Equal(t, 2, m.History[2].Step)
	assert.InDelta(t, 0.2, m.Summary["valid_ndcg"], 1e-9)
	assert.NoError(t, m.Err)

	points := m.Points()
	assert.Equal(t, []int{0, 1, 2}, points.Steps())
	assert.Equal(t, []string{"loss", "test_ndcg", "valid_ndcg"}, points.MetricsNames())
	steps, values := points.Series("loss")
	assert.Equal(t, []float64{0, 1, 2}, steps)
	assert.InDeltaSlice(t, []float64{1, 0.5, 1.0 / 3.0}, values, 1e-9)

	table := points.TableForMetrics("loss")
	assert.Contains(t, table, "Step")
	assert.Contains(t, table, "0.5000")
	assert.NotContains(t, table, "valid_ndcg")
}

func TestMulti(t *testing.T) {
	m1, m2 := &Memory{}, &Memory{}
	runErr := errors.New("diverged")
	logRun(t, Multi{m1, Discard{}, m2}, NewRunInfo("", "run", nil), runErr)
	assert.Len(t, m1.History, 3)
	assert.Len(t, m2.History, 3)
	assert.ErrorIs(t, m2.Err, runErr)
}

func TestFormatMetrics(t *testing.T) {
	assert.Equal(t, "a=1, b=0.25", formatMetrics(map[string]float64{"b": 0.25, "a": 1}))
	assert.Equal(t, "", formatMetrics(nil))
}

func TestPointsRoundTrip(t *testing.T) {
	points := make(Points)
	points.Add(Point{Metric: "loss", Step: 1, Value: 0.5})
	points.Add(Point{Metric: "loss", Step: 0, Value: 1})
	filePath := filepath.Join(t.TempDir(), "points.jsonl")
	f, err := os.Create(filePath)
	require.NoError(t, err)
	require.NoError(t, WritePoints(f, points))
	require.NoError(t, f.Close())

	loaded, err := LoadPoints(filePath)
	require.NoError(t, err)
	assert.Equal(t, points, loaded)
}

func TestJSONLines(t *testing.T) {
	dir := t.TempDir()
	j := &JSONLines{Dir: dir}
	require.Error(t, j.Log(0, nil), "Log before Start")

	run := NewRunInfo("grid", "trial", map[string]any{"emb_dim": 64})
	logRun(t, j, run, nil)
	assert.Equal(t, filepath.Join(dir, "grid", run.ID+".jsonl"), j.HistoryPath())

	points, err := LoadHistory(j.HistoryPath())
	require.NoError(t, err)
	assert.Len(t, points.Steps(), 3)
	_, values := points.Series("test_ndcg")
	assert.InDeltaSlice(t, []float64{0, 0.2, 0.4}, values, 1e-9)

	summary, err := LoadSummary(j.SummaryPath())
	require.NoError(t, err)
	assert.Equal(t, run.ID, summary.Run.ID)
	assert.Empty(t, summary.Error)
	assert.InDelta(t, 0.2, summary.Metrics["valid_ndcg"], 1e-9)

	// Failed run without sweep name.
	failed := NewRunInfo("", "failed", nil)
	logRun(t, j, failed, errors.New("no training rows"))
	summary, err = LoadSummary(j.SummaryPath())
	require.NoError(t, err)
	assert.Equal(t, "no training rows", summary.Error)
	assert.Equal(t, filepath.Join(dir, "runs"), filepath.Dir(j.SummaryPath()))
}

func TestPrometheus(t *testing.T) {
	p := NewPrometheus()
	run := NewRunInfo("grid", "trial", nil)
	logRun(t, p, run, nil)
	logRun(t, p, NewRunInfo("grid", "other", nil), errors.New("failed"))

	server := httptest.NewServer(p.Handler())
	defer server.Close()
	resp, err := server.Client().Get(server.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(body)
	assert.Contains(t, text, `pathwaygnn_metric{metric="valid_ndcg",run="`+run.ID+`",sweep="grid"} 0.2`)
	assert.Contains(t, text, `pathwaygnn_runs_total{status="ok",sweep="grid"} 1`)
	assert.Contains(t, text, `pathwaygnn_runs_total{status="failed",sweep="grid"} 1`)
	assert.Contains(t, text, `pathwaygnn_step{run="`+run.ID+`",sweep="grid"} 2`)

	_, err = p.Serve("")
	require.Error(t, err)
}

func TestPlot(t *testing.T) {
	dir := t.TempDir()
	p := &Plot{Dir: dir}
	run := NewRunInfo("grid", "trial", nil)
	logRun(t, p, run, nil)
	info, err := os.Stat(filepath.Join(dir, "grid", run.ID+".png"))
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	require.Error(t, SavePlot(filepath.Join(dir, "empty.png"), "empty", make(Points), "loss"))
}

func TestTrack(t *testing.T) {
	m := &Memory{}
	run := NewRunInfo("grid", "ok", nil)
	err := Track(m, run, func() (map[string]float64, error) {
		require.NoError(t, m.Log(0, map[string]float64{"loss": 1}))
		return map[string]float64{"valid_ndcg": 0.5}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0.5, m.Summary["valid_ndcg"])

	runErr := errors.New("empty mask")
	err = Track(m, NewRunInfo("grid", "failed", nil), func() (map[string]float64, error) {
		return nil, runErr
	})
	assert.ErrorIs(t, err, runErr)
	assert.ErrorIs(t, m.Err, runErr)
}

func TestContextConfig(t *testing.T) {
	ctx := context.New()
	ctx.SetParams(map[string]any{"learning_rate": 0.01, "model": "HGNN"})
	ctx.In("model").SetParam("emb_dim", 64)
	config := ContextConfig(ctx)
	assert.Equal(t, 0.01, config["learning_rate"])
	assert.Equal(t, "HGNN", config["model"])
	assert.Equal(t, 64, config["/model/emb_dim"])
}
