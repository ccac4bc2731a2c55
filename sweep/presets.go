package sweep

import (
	"fmt"

	"github.com/reactome-gnn/pathwaygnn/pathway"
	"github.com/reactome-gnn/pathwaygnn/store"
)

// Names of the sweep parameters with a meaning of their own. Any other parameter is set as is in
// the hyperparameters of the trial.
const (
	ParamModelName    = "model_name"
	ParamLearningRate = "learning_rate"
	ParamDataset      = "dataset"
	ParamTask         = "task"
)

// DefaultMetric is the metric maximized by the preset sweeps.
var DefaultMetric = Metric{Name: "valid_ndcg", Goal: Maximize}

func values[T any](vs ...T) Parameter {
	p := Parameter{Values: make([]any, len(vs))}
	for ii, v := range vs {
		p.Values[ii] = v
	}
	return p
}

// DefaultGCNAttribute returns the grid of the GCN baseline on the attribute prediction task
// of the "Disease" pathway.
func DefaultGCNAttribute() *Config {
	return &Config{
		Name:    "gcn-attribute",
		Program: GNN,
		Method:  Grid,
		Metric:  DefaultMetric,
		Parameters: map[string]Parameter{
			ParamLearningRate: values(0.05, 0.01, 0.005, 0.0001),
			"emb_dim":         values(32, 64, 128, 256),
			"drop_out":        values(0.0, 0.1, 0.2, 0.3, 0.4, 0.5),
			"weight_decay":    values(5e-4),
			ParamModelName:    values("GCN"),
			ParamTask:         values(string(store.AttributeTask)),
			ParamDataset:      values("Disease"),
		},
	}
}

// DefaultGNN returns the grid of a graph model on one link prediction task and pathway.
func DefaultGNN(model string, task store.Task, dataset string) *Config {
	return &Config{
		Name:    fmt.Sprintf("%s-%s-%s", model, task, pathway.Slug(dataset)),
		Program: GNN,
		Method:  Grid,
		Metric:  DefaultMetric,
		Parameters: map[string]Parameter{
			ParamLearningRate: values(0.05, 0.01, 0.005),
			"emb_dim":         values(64, 128, 256),
			"drop_out":        values(0.5, 0.6, 0.7),
			"weight_decay":    values(5e-4),
			ParamModelName:    values(model),
			ParamTask:         values(string(task)),
			ParamDataset:      values(dataset),
		},
	}
}

// DefaultMF returns the grid of the matrix factorization baseline on one link prediction task
// and pathway.
func DefaultMF(task store.Task, dataset string) *Config {
	return &Config{
		Name:    fmt.Sprintf("mf-%s-%s", task, pathway.Slug(dataset)),
		Program: MF,
		Method:  Grid,
		Metric:  DefaultMetric,
		Parameters: map[string]Parameter{
			ParamLearningRate: values(0.05, 0.01, 0.005),
			"emb_dim":         values(64, 128, 256),
			"batch_size":      values(64, 128, 256),
			ParamModelName:    values("MF"),
			ParamTask:         values(string(task)),
			ParamDataset:      values(dataset),
		},
	}
}

// LinkTasks in the order the link sweeps are run.
var LinkTasks = []store.Task{store.OutputLinkTask, store.InputLinkTask}

// LinkDatasets in the order the link sweeps are run.
var LinkDatasets = []string{"Immune System", "Metabolism", "Signal Transduction", "Disease"}

// AllGNN returns the sweeps of a graph model over every link task and pathway.
func AllGNN(model string) []*Config {
	var configs []*Config
	for _, task := range LinkTasks {
		for _, dataset := range LinkDatasets {
			configs = append(configs, DefaultGNN(model, task, dataset))
		}
	}
	return configs
}

// AllMF returns the sweeps of the matrix factorization over every link task and pathway.
func AllMF() []*Config {
	var configs []*Config
	for _, task := range LinkTasks {
		for _, dataset := range LinkDatasets {
			configs = append(configs, DefaultMF(task, dataset))
		}
	}
	return configs
}
