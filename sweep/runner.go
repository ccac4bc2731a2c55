package sweep

import (
	stdcontext "context"
	"fmt"
	"io"
	"math"
	"slices"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
	"k8s.io/klog/v2"

	"github.com/reactome-gnn/pathwaygnn/gnn"
	"github.com/reactome-gnn/pathwaygnn/mf"
	"github.com/reactome-gnn/pathwaygnn/store"
	"github.com/reactome-gnn/pathwaygnn/tracking"
)

// TrainFn trains one trial, configured by ctx, on the partition and returns its summary metrics.
type TrainFn func(ctx *context.Context, backend backends.Backend, part *store.Partition, sink tracking.Sink) (map[string]float64, error)

// TrainGNN is the TrainFn of the GNN program.
func TrainGNN(ctx *context.Context, backend backends.Backend, part *store.Partition, sink tracking.Sink) (map[string]float64, error) {
	result, err := gnn.Run(ctx, backend, part, sink)
	if result == nil {
		return nil, err
	}
	return result.Summary(), err
}

// TrainMF is the TrainFn of the MF program.
func TrainMF(ctx *context.Context, backend backends.Backend, part *store.Partition, sink tracking.Sink) (map[string]float64, error) {
	result, err := mf.Run(ctx, backend, part, sink)
	if result == nil {
		return nil, err
	}
	return result.Summary(), err
}

// CatchPanics returns a TrainFn that converts the panics of train, as raised while building the
// graphs, into returned errors.
func CatchPanics(train TrainFn) TrainFn {
	return func(ctx *context.Context, backend backends.Backend, part *store.Partition, sink tracking.Sink) (summary map[string]float64, err error) {
		err = exceptions.TryCatch[error](func() {
			var trainErr error
			summary, trainErr = train(ctx, backend, part, sink)
			if trainErr != nil {
				panic(trainErr)
			}
		})
		return summary, err
	}
}

// Runner executes the trials of sweeps, one at a time.
type Runner struct {
	// DataDir holds the partition databases, see store.Path.
	DataDir string

	Backend backends.Backend

	// Sink receives the metrics of every trial. If nil, metrics are discarded.
	Sink tracking.Sink

	// Settings are context settings (see commandline.ParseContextSettings) applied to every
	// trial before its own parameters.
	Settings string

	// ProgressBar enables the progress bar of each trial.
	ProgressBar bool

	// Train overrides the training of the programs. If not set, TrainGNN and TrainMF are used.
	Train map[Program]TrainFn

	muPartitions sync.Mutex
	partitions   map[partitionKey]*store.Partition
}

type partitionKey struct {
	dataset string
	task    store.Task
}

// TrialResult is the outcome of one trial.
type TrialResult struct {
	Trial   Trial
	RunID   string
	Summary map[string]float64
	Err     error
}

// Metric returns the value of the named metric in the trial summary, and whether the trial
// succeeded and reported it.
func (tr *TrialResult) Metric(name string) (float64, bool) {
	if tr.Err != nil {
		return 0, false
	}
	value, found := tr.Summary[name]
	if !found || math.IsNaN(value) {
		return 0, false
	}
	return value, true
}

// Result of a sweep.
type Result struct {
	Config *Config
	Trials []*TrialResult

	// Best is the successful trial with the best metric, or nil if no trial succeeded.
	Best *TrialResult
}

// Failed returns the number of failed trials.
func (r *Result) Failed() int {
	var count int
	for _, tr := range r.Trials {
		if tr.Err != nil {
			count++
		}
	}
	return count
}

// Run executes all trials of the sweep sequentially.
//
// A trial that fails, be it a configuration error or an error during training, is recorded in
// its TrialResult and reported to the sink, and the sweep continues with the next trial.
// An error is returned only if the configuration is invalid or ctx is cancelled; in the latter
// case the results of the trials executed so far are returned along with the error.
func (r *Runner) Run(ctx stdcontext.Context, cfg *Config) (*Result, error) {
	trials, err := Expand(cfg)
	if err != nil {
		return nil, err
	}
	trainFn, err := r.trainFn(cfg.Program)
	if err != nil {
		return nil, err
	}
	sink := r.Sink
	if sink == nil {
		sink = tracking.Discard{}
	}
	klog.Infof("Sweep %q: %s trials of %s", cfg.Name, humanize.Comma(int64(len(trials))), cfg.Program)

	result := &Result{Config: cfg}
	var bestValue float64
	for _, trial := range trials {
		if err := ctx.Err(); err != nil {
			return result, errors.WithMessagef(err, "sweep %q interrupted after %d trials", cfg.Name, len(result.Trials))
		}
		tr := r.runTrial(ctx, cfg, trial, trainFn, sink)
		result.Trials = append(result.Trials, tr)
		value, ok := tr.Metric(cfg.Metric.Name)
		if tr.Err != nil {
			klog.Errorf("Sweep %q: trial %s failed: %+v", cfg.Name, trial.Name(), tr.Err)
		} else if !ok {
			klog.Warningf("Sweep %q: trial %s did not report metric %q", cfg.Name, trial.Name(), cfg.Metric.Name)
		} else {
			klog.V(1).Infof("Sweep %q: trial %s: %s=%.4f", cfg.Name, trial.Name(), cfg.Metric.Name, value)
		}
		if ok && (result.Best == nil || cfg.Metric.Better(value, bestValue)) {
			result.Best, bestValue = tr, value
		}
	}
	return result, nil
}

func (r *Runner) trainFn(program Program) (TrainFn, error) {
	if fn, found := r.Train[program]; found && fn != nil {
		return fn, nil
	}
	switch program {
	case GNN:
		return TrainGNN, nil
	case MF:
		return TrainMF, nil
	}
	return nil, errors.Errorf("unknown program %q", program)
}

// runTrial builds the context of the trial, loads its partition and trains it, all inside a
// tracked run.
func (r *Runner) runTrial(ctx stdcontext.Context, cfg *Config, trial Trial, trainFn TrainFn, sink tracking.Sink) *TrialResult {
	tr := &TrialResult{Trial: trial}
	trialCtx, ctxErr := r.TrialContext(cfg.Program, trial)
	config := trial.Params
	if ctxErr == nil {
		config = tracking.ContextConfig(trialCtx)
	}
	run := tracking.NewRunInfo(cfg.Name, trial.Name(), config)
	tr.RunID = run.ID
	tr.Err = tracking.Track(sink, run, func() (map[string]float64, error) {
		if ctxErr != nil {
			return nil, ctxErr
		}
		part, err := r.partition(ctx, trialCtx)
		if err != nil {
			return nil, err
		}
		summary, err := CatchPanics(trainFn)(trialCtx, r.Backend, part, sink)
		tr.Summary = summary
		return summary, err
	})
	return tr
}

// defaultContexts creates the default hyperparameters of each program.
var defaultContexts = map[Program]func() *context.Context{
	GNN: gnn.CreateDefaultContext,
	MF:  mf.CreateDefaultContext,
}

// TrialContext returns the hyperparameters of a trial: the defaults of the program, overwritten
// by the Runner settings and then by the trial parameters.
//
// Settings of parameters that only other programs define (e.g. "num_epochs" for MF) are skipped,
// so one set of settings can serve sweeps of every program.
//
// Parameters must already exist in the program defaults, and their values are converted to the
// type of the default. "model_name" selects the GNN model, and must be "MF" if set for the
// MF program.
func (r *Runner) TrialContext(program Program, trial Trial) (*context.Context, error) {
	newContext, found := defaultContexts[program]
	if !found {
		return nil, errors.Errorf("unknown program %q", program)
	}
	ctx := newContext()
	ctx.SetParam(gnn.ParamProgressBar, r.ProgressBar)
	if settings := programSettings(program, ctx, r.Settings); settings != "" {
		if _, err := commandline.ParseContextSettings(ctx, settings); err != nil {
			return nil, errors.WithMessage(err, "invalid context settings")
		}
	}
	for _, name := range sortedKeys(trial.Params) {
		value := trial.Params[name]
		key := name
		if name == ParamModelName {
			if program == MF {
				if value != "MF" {
					return nil, errors.Errorf("parameter %q must be \"MF\" for the mf program, got %v", name, value)
				}
				continue
			}
			key = gnn.ParamModel
		}
		if err := setParam(ctx, key, value); err != nil {
			return nil, err
		}
	}
	return ctx, nil
}

// programSettings returns the settings that apply to program, whose defaults are in ctx: a
// "param=value" entry is dropped if ctx doesn't know param but another program does.
func programSettings(program Program, ctx *context.Context, settings string) string {
	var kept []string
	for _, setting := range strings.Split(settings, ";") {
		setting = strings.TrimSpace(setting)
		if setting == "" {
			continue
		}
		if key, _, isParam := strings.Cut(setting, "="); isParam && !strings.HasPrefix(setting, "file:") {
			key = strings.TrimSpace(key)
			if idx := strings.LastIndex(key, "/"); idx >= 0 {
				key = key[idx+1:]
			}
			if _, known := ctx.GetParam(key); !known && knownToOtherProgram(program, key) {
				klog.V(2).Infof("setting %q skipped for the %s program", setting, program)
				continue
			}
		}
		kept = append(kept, setting)
	}
	return strings.Join(kept, ";")
}

func knownToOtherProgram(program Program, key string) bool {
	for other, newContext := range defaultContexts {
		if other == program {
			continue
		}
		if _, found := newContext().GetParam(key); found {
			return true
		}
	}
	return false
}

// setParam sets an existing parameter of ctx, converting value to the type of its current value.
func setParam(ctx *context.Context, key string, value any) error {
	current, found := ctx.GetParam(key)
	if !found {
		return errors.Errorf("unknown parameter %q", key)
	}
	converted, err := convertLike(current, value)
	if err != nil {
		return errors.WithMessagef(err, "parameter %q", key)
	}
	ctx.SetParam(key, converted)
	return nil
}

func convertLike(current, value any) (any, error) {
	switch current.(type) {
	case float64:
		switch v := value.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		}
	case int, int64:
		var asInt int64
		switch v := value.(type) {
		case int:
			asInt = int64(v)
		case int64:
			asInt = v
		case float64:
			if v != math.Trunc(v) {
				return nil, errors.Errorf("value %v is not an integer", v)
			}
			asInt = int64(v)
		default:
			return nil, errors.Errorf("value %v (%T) is not an integer", value, value)
		}
		if _, isInt := current.(int); isInt {
			return int(asInt), nil
		}
		return asInt, nil
	case string:
		if v, ok := value.(string); ok {
			return v, nil
		}
	case bool:
		if v, ok := value.(bool); ok {
			return v, nil
		}
	}
	return nil, errors.Errorf("value %v (%T) can't be converted to %T", value, value, current)
}

// partition returns the partition selected by the "dataset" and "task" parameters of the trial.
// Partitions are loaded once per Runner.
func (r *Runner) partition(ctx stdcontext.Context, trialCtx *context.Context) (*store.Partition, error) {
	dataset := context.GetParamOr(trialCtx, ParamDataset, "")
	if dataset == "" {
		return nil, errors.Errorf("parameter %q not set", ParamDataset)
	}
	task, err := store.ParseTask(context.GetParamOr(trialCtx, ParamTask, ""))
	if err != nil {
		return nil, err
	}
	key := partitionKey{dataset: dataset, task: task}

	r.muPartitions.Lock()
	defer r.muPartitions.Unlock()
	if part, found := r.partitions[key]; found {
		return part, nil
	}
	part, err := store.LoadPartition(ctx, r.DataDir, dataset, task)
	if err != nil {
		return nil, err
	}
	if r.partitions == nil {
		r.partitions = make(map[partitionKey]*store.Partition)
	}
	r.partitions[key] = part
	return part, nil
}

// WriteSummary prints a table with one row per trial, its parameters, the sweep metric and its
// status, followed by the mean and standard deviation of the metric over the successful trials.
func (r *Result) WriteSummary(w io.Writer) error {
	metric := r.Config.Metric.Name
	params := sortedKeys(r.Config.Parameters)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	headerStyle := lipgloss.NewStyle().Padding(0, 1).Bold(true).Reverse(true)
	bestStyle := cellStyle.Foreground(lipgloss.Color("10")).Bold(true)
	bestRow := -1
	if r.Best != nil {
		bestRow = slices.Index(r.Trials, r.Best)
	}
	table := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch row {
			case lgtable.HeaderRow:
				return headerStyle
			case bestRow:
				return bestStyle
			}
			return cellStyle
		})
	table.Headers(slices.Concat([]string{"Trial"}, params, []string{metric, "Status"})...)

	var values []float64
	for _, tr := range r.Trials {
		row := []string{fmt.Sprintf("%d", tr.Trial.Index)}
		for _, name := range params {
			row = append(row, fmt.Sprintf("%v", tr.Trial.Params[name]))
		}
		value, ok := tr.Metric(metric)
		if ok {
			values = append(values, value)
			row = append(row, fmt.Sprintf("%.4f", value))
		} else {
			row = append(row, "-")
		}
		status := "ok"
		if tr.Err != nil {
			status = "failed"
		}
		row = append(row, status)
		table.Row(row...)
	}

	_, err := fmt.Fprintf(w, "Sweep %q (%s, %s): %d trials, %d failed\n"+
		"%s (%s) of each trial is taken at its best validation epoch, not the last one.\n%s\n",
		r.Config.Name, r.Config.Program, r.Config.Method, len(r.Trials), r.Failed(),
		metric, r.Config.Metric.Goal, table.String())
	if err != nil {
		return errors.Wrap(err, "failed to write sweep summary")
	}
	if len(values) > 0 {
		mean, stdDev := stat.MeanStdDev(values, nil)
		if len(values) == 1 {
			stdDev = 0
		}
		_, err = fmt.Fprintf(w, "%s: mean=%.4f stddev=%.4f", metric, mean, stdDev)
		if err == nil && r.Best != nil {
			best, _ := r.Best.Metric(metric)
			_, err = fmt.Fprintf(w, " best=%.4f (trial %d)", best, r.Best.Trial.Index)
		}
		if err == nil {
			_, err = fmt.Fprintln(w)
		}
	}
	return errors.Wrap(err, "failed to write sweep summary")
}
