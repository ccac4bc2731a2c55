package sweep

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/default"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	mlcontext "github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reactome-gnn/pathwaygnn/gnn"
	"github.com/reactome-gnn/pathwaygnn/mf"
	"github.com/reactome-gnn/pathwaygnn/partition"
	"github.com/reactome-gnn/pathwaygnn/pathway"
	"github.com/reactome-gnn/pathwaygnn/store"
	"github.com/reactome-gnn/pathwaygnn/tracking"
)

const testConfig = `
name: test-sweep
program: gnn
metric:
  name: valid_ndcg
parameters:
  learning_rate:
    values: [0.05, 0.01]
  emb_dim:
    values: [16, 32, 64]
  model_name:
    values: [HGNN]
`

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig(strings.NewReader(testConfig))
	require.NoError(t, err)
	assert.Equal(t, "test-sweep", cfg.Name)
	assert.Equal(t, GNN, cfg.Program)
	assert.Equal(t, Grid, cfg.Method, "grid is the default method")
	assert.Equal(t, Metric{Name: "valid_ndcg", Goal: Maximize}, cfg.Metric)
	require.Len(t, cfg.Parameters, 3)
	assert.Equal(t, []any{0.05, 0.01}, cfg.Parameters["learning_rate"].Values)
	assert.Equal(t, []any{16, 32, 64}, cfg.Parameters["emb_dim"].Values)

	var buf bytes.Buffer
	require.NoError(t, cfg.Write(&buf))
	again, err := ParseConfig(&buf)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)

	for _, bad := range []string{
		"name: x\nprogram: gnn\nmetric: {name: m}\nunknown_field: 1\n",
		"program: gnn\nmetric: {name: m}\n",
		"name: x\nprogram: svm\nmetric: {name: m}\n",
		"name: x\nprogram: mf\nmethod: random\nmetric: {name: m}\n",
		"name: x\nprogram: mf\nmethod: bayes\nmetric: {name: m}\n",
		"name: x\nprogram: mf\nmetric: {name: m, goal: up}\n",
		"name: x\nprogram: mf\n",
		"name: x\nprogram: mf\nmetric: {name: m}\nparameters: {emb_dim: {values: []}}\n",
	} {
		_, err := ParseConfig(strings.NewReader(bad))
		assert.Error(t, err, "configuration %q should fail", bad)
	}
}

func TestExpandGrid(t *testing.T) {
	cfg, err := ParseConfig(strings.NewReader(testConfig))
	require.NoError(t, err)
	trials, err := Expand(cfg)
	require.NoError(t, err)
	require.Len(t, trials, 6)

	// Parameters sorted by name: emb_dim, learning_rate, model_name; the last varies fastest.
	var got []string
	for ii, trial := range trials {
		assert.Equal(t, ii, trial.Index)
		got = append(got, fmt.Sprintf("%v/%v", trial.Params["emb_dim"], trial.Params["learning_rate"]))
		assert.Equal(t, "HGNN", trial.Params["model_name"])
	}
	assert.Equal(t, []string{"16/0.05", "16/0.01", "32/0.05", "32/0.01", "64/0.05", "64/0.01"}, got)
	assert.Equal(t, "001,emb_dim=16,learning_rate=0.01,model_name=HGNN", trials[1].Name())

	// No parameters: a single trial with the defaults.
	cfg.Parameters = nil
	trials, err = Expand(cfg)
	require.NoError(t, err)
	require.Len(t, trials, 1)
	assert.Empty(t, trials[0].Params)
}

func TestExpandRandom(t *testing.T) {
	cfg, err := ParseConfig(strings.NewReader(testConfig))
	require.NoError(t, err)
	cfg.Method = Random
	cfg.Count = 20
	cfg.Seed = 7
	trials, err := Expand(cfg)
	require.NoError(t, err)
	require.Len(t, trials, 20)
	for _, trial := range trials {
		assert.Contains(t, cfg.Parameters["learning_rate"].Values, trial.Params["learning_rate"])
		assert.Contains(t, cfg.Parameters["emb_dim"].Values, trial.Params["emb_dim"])
	}
	again, err := Expand(cfg)
	require.NoError(t, err)
	assert.Equal(t, trials, again, "same seed must give the same trials")

	cfg.Count = 0
	_, err = Expand(cfg)
	require.Error(t, err)
}

func TestPresets(t *testing.T) {
	for _, tc := range []struct {
		cfg       *Config
		numTrials int
	}{
		{DefaultGCNAttribute(), 4 * 4 * 6},
		{DefaultGNN("HGNNP", store.InputLinkTask, "Signal Transduction"), 3 * 3 * 3},
		{DefaultMF(store.OutputLinkTask, "Immune System"), 3 * 3 * 3},
	} {
		trials, err := Expand(tc.cfg)
		require.NoError(t, err, tc.cfg.Name)
		assert.Len(t, trials, tc.numTrials, tc.cfg.Name)
		assert.Equal(t, DefaultMetric, tc.cfg.Metric)
	}
	assert.Equal(t, "HGNNP-input_link-signal_transduction",
		DefaultGNN("HGNNP", store.InputLinkTask, "Signal Transduction").Name)

	configs := AllGNN("GCN")
	require.Len(t, configs, len(LinkTasks)*len(LinkDatasets))
	assert.Equal(t, []any{string(store.OutputLinkTask)}, configs[0].Parameters[ParamTask].Values)
	assert.Equal(t, []any{"Immune System"}, configs[0].Parameters[ParamDataset].Values)
	assert.Len(t, AllMF(), len(LinkTasks)*len(LinkDatasets))
	assert.Equal(t, []any{"MF"}, AllMF()[0].Parameters[ParamModelName].Values)
}

func TestTrialContext(t *testing.T) {
	r := &Runner{Settings: "num_epochs=7"}
	ctx, err := r.TrialContext(GNN, Trial{Params: map[string]any{
		ParamLearningRate: 0.005,
		"emb_dim":         128.0,
		"drop_out":        0,
		ParamModelName:    "GCN",
		ParamTask:         "output link prediction dataset",
	}})
	require.NoError(t, err)
	assert.Equal(t, 0.005, mlcontext.GetParamOr(ctx, optimizers.ParamLearningRate, 0.0))
	assert.Equal(t, 128, mlcontext.GetParamOr(ctx, gnn.ParamEmbDim, 0))
	assert.Equal(t, 0.0, mlcontext.GetParamOr(ctx, gnn.ParamDropout, -1.0))
	assert.Equal(t, 7, mlcontext.GetParamOr(ctx, gnn.ParamNumEpochs, 0))
	assert.Equal(t, false, mlcontext.GetParamOr(ctx, gnn.ParamProgressBar, true))
	model, err := gnn.ModelFromContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "GCN", model)

	// "num_epochs" only exists for GNNs, and is skipped by MF trials.
	r.Settings = "num_epochs=7; max_epoch=3; emb_dim=32"
	ctx, err = r.TrialContext(MF, Trial{Params: map[string]any{"batch_size": 64, ParamModelName: "MF"}})
	require.NoError(t, err)
	assert.Equal(t, 3, mlcontext.GetParamOr(ctx, mf.ParamMaxEpoch, 0))
	assert.Equal(t, 32, mlcontext.GetParamOr(ctx, mf.ParamEmbDim, 0))
	assert.Equal(t, 64, mlcontext.GetParamOr(ctx, mf.ParamBatchSize, 0))
	_, found := ctx.GetParam(gnn.ParamNumEpochs)
	assert.False(t, found)
	ctx, err = r.TrialContext(GNN, Trial{})
	require.NoError(t, err)
	assert.Equal(t, 7, mlcontext.GetParamOr(ctx, gnn.ParamNumEpochs, 0))
	assert.Equal(t, 32, mlcontext.GetParamOr(ctx, gnn.ParamEmbDim, 0))
	r.Settings = "num_epochs=7"

	for _, bad := range []struct {
		program Program
		params  map[string]any
	}{
		{GNN, map[string]any{"no_such_param": 1}},
		{GNN, map[string]any{"emb_dim": 1.5}},
		{GNN, map[string]any{"emb_dim": "large"}},
		{GNN, map[string]any{ParamDataset: 3}},
		{MF, map[string]any{ParamModelName: "HGNN"}},
		{MF, map[string]any{"drop_out": 0.5}},
	} {
		_, err := r.TrialContext(bad.program, Trial{Params: bad.params})
		assert.Error(t, err, "%s with %v should fail", bad.program, bad.params)
	}

	r.Settings = "no_such_param=1"
	_, err = r.TrialContext(GNN, Trial{})
	require.Error(t, err)
}

// recorder is a sink that keeps the name, the summary and the error of every run.
type recorder struct {
	names     []string
	summaries []map[string]float64
	errs      []error
	steps     int
}

func (r *recorder) Start(run tracking.RunInfo) error {
	r.names = append(r.names, run.Name)
	return nil
}

func (r *recorder) Log(int, map[string]float64) error {
	r.steps++
	return nil
}

func (r *recorder) Finish(summary map[string]float64, runErr error) error {
	r.summaries = append(r.summaries, summary)
	r.errs = append(r.errs, runErr)
	return nil
}

// saveTestPartitions divides a small pathway and saves it under dataDir as the "Disease" dataset.
func saveTestPartitions(t *testing.T, dataDir string) {
	p := &pathway.Pathway{Name: "Disease", Vocabulary: []string{"protein", "complex", "small molecule", "dna"}}
	for ii := range 40 {
		p.Entities = append(p.Entities, pathway.Entity{ID: fmt.Sprintf("E-%d", ii), Attributes: []int{ii % 4}})
	}
	for ii := range 36 {
		p.Reactions = append(p.Reactions, pathway.Reaction{
			ID:      fmt.Sprintf("R-%d", ii),
			Inputs:  []int{ii, ii + 1},
			Outputs: []int{ii + 2, (ii + 3) % 40},
		})
	}
	parts, err := partition.Divide(p, partition.DefaultConfig())
	require.NoError(t, err)
	s, err := store.Open(store.Path(dataDir, p.Name))
	require.NoError(t, err)
	defer func() { require.NoError(t, s.Close()) }()
	for _, part := range parts {
		require.NoError(t, s.Save(context.Background(), part))
	}
}

func TestRunner(t *testing.T) {
	dataDir := t.TempDir()
	saveTestPartitions(t, dataDir)

	var trained []store.Task
	fakeTrain := func(ctx *mlcontext.Context, _ backends.Backend, part *store.Partition, sink tracking.Sink) (map[string]float64, error) {
		trained = append(trained, part.Task)
		lr := mlcontext.GetParamOr(ctx, optimizers.ParamLearningRate, 0.0)
		if lr == 0.01 {
			return nil, errors.New("diverged")
		}
		if err := sink.Log(0, map[string]float64{"loss": 1}); err != nil {
			return nil, err
		}
		return map[string]float64{"valid_ndcg": lr * 10}, nil
	}
	sink := &recorder{}
	r := &Runner{
		DataDir: dataDir,
		Sink:    sink,
		Train:   map[Program]TrainFn{GNN: fakeTrain},
	}
	cfg := &Config{
		Name:    "fake",
		Program: GNN,
		Method:  Grid,
		Metric:  DefaultMetric,
		Parameters: map[string]Parameter{
			ParamLearningRate: values(0.05, 0.01, 0.005),
			ParamDataset:      values("Disease", "Metabolism"),
			ParamTask:         values(string(store.InputLinkTask)),
		},
	}
	result, err := r.Run(context.Background(), cfg)
	require.NoError(t, err)
	require.Len(t, result.Trials, 6)

	// "Metabolism" was never partitioned, and learning_rate=0.01 fails: only 2 trials succeed.
	assert.Equal(t, 4, result.Failed())
	require.NotNil(t, result.Best)
	assert.Equal(t, 0.05, result.Best.Trial.Params[ParamLearningRate])
	assert.Equal(t, "Disease", result.Best.Trial.Params[ParamDataset])
	assert.InDelta(t, 0.5, result.Best.Summary["valid_ndcg"], 1e-9)
	assert.Len(t, trained, 3)
	for _, task := range trained {
		assert.Equal(t, store.InputLinkTask, task)
	}

	require.Len(t, sink.names, 6, "every trial is reported, including the failed ones")
	assert.Equal(t, 2, sink.steps)
	var failed int
	for _, err := range sink.errs {
		if err != nil {
			failed++
		}
	}
	assert.Equal(t, 4, failed)

	// Minimizing picks the smallest learning rate.
	cfg.Metric.Goal = Minimize
	result, err = r.Run(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, result.Best)
	assert.Equal(t, 0.005, result.Best.Trial.Params[ParamLearningRate])

	var buf bytes.Buffer
	require.NoError(t, result.WriteSummary(&buf))
	summary := buf.String()
	assert.Contains(t, summary, `Sweep "fake" (gnn, grid): 6 trials, 4 failed`)
	assert.Contains(t, summary, "valid_ndcg (minimize) of each trial is taken at its best validation epoch")
	assert.Contains(t, summary, "failed")
	assert.Contains(t, summary, "valid_ndcg: mean=0.2750")
	assert.Contains(t, summary, "(trial")

	// A cancelled context interrupts the sweep.
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	result, err = r.Run(cancelled, cfg)
	require.Error(t, err)
	assert.Empty(t, result.Trials)
}

func TestRunnerPanics(t *testing.T) {
	r := &Runner{
		DataDir: t.TempDir(),
		Train: map[Program]TrainFn{MF: func(*mlcontext.Context, backends.Backend, *store.Partition, tracking.Sink) (map[string]float64, error) {
			panic(errors.New("graph building failed"))
		}},
	}
	saveTestPartitions(t, r.DataDir)
	cfg := DefaultMF(store.OutputLinkTask, "Disease")
	cfg.Parameters = map[string]Parameter{ParamDataset: values("Disease")}
	result, err := r.Run(context.Background(), cfg)
	require.NoError(t, err)
	require.Len(t, result.Trials, 1)
	require.Error(t, result.Trials[0].Err)
	assert.Contains(t, result.Trials[0].Err.Error(), "graph building failed")
	assert.Nil(t, result.Best)
}

func TestCatchPanics(t *testing.T) {
	train := CatchPanics(func(ctx *mlcontext.Context, _ backends.Backend, _ *store.Partition, _ tracking.Sink) (map[string]float64, error) {
		switch mlcontext.GetParamOr(ctx, "mode", "") {
		case "panic":
			panic(errors.New("invalid shapes"))
		case "error":
			return nil, errors.New("empty mask")
		}
		return map[string]float64{"valid_ndcg": 0.5}, nil
	})
	ctx := mlcontext.New()
	summary, err := train(ctx, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.5, summary["valid_ndcg"])

	ctx.SetParam("mode", "panic")
	_, err = train(ctx, nil, nil, nil)
	require.ErrorContains(t, err, "invalid shapes")

	ctx.SetParam("mode", "error")
	_, err = train(ctx, nil, nil, nil)
	require.ErrorContains(t, err, "empty mask")
}

func TestRunnerTraining(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping training test in short mode")
	}
	dataDir := t.TempDir()
	saveTestPartitions(t, dataDir)
	sink := &tracking.Memory{}
	r := &Runner{
		DataDir:  dataDir,
		Backend:  graphtest.BuildTestBackend(),
		Sink:     sink,
		Settings: "num_epochs=3;emb_dim=8",
	}
	cfg := DefaultGNN("HGNN", store.OutputLinkTask, "Disease")
	cfg.Parameters[ParamLearningRate] = values(0.01)
	cfg.Parameters["drop_out"] = values(0.5)
	cfg.Parameters["emb_dim"] = values(8, 16)
	result, err := r.Run(context.Background(), cfg)
	require.NoError(t, err)
	require.Len(t, result.Trials, 2)
	assert.Zero(t, result.Failed())
	require.NotNil(t, result.Best)
	assert.Contains(t, result.Best.Summary, "valid_ndcg")
	assert.Len(t, sink.History, 3)

	cfg = DefaultMF(store.OutputLinkTask, "Disease")
	cfg.Parameters = map[string]Parameter{ParamDataset: values("Disease"), "emb_dim": values(8)}
	r.Settings = "max_epoch=2;eval_negatives=9"
	result, err = r.Run(context.Background(), cfg)
	require.NoError(t, err)
	require.Len(t, result.Trials, 1)
	require.NoError(t, result.Trials[0].Err)
	assert.Len(t, sink.History, 2)
}
