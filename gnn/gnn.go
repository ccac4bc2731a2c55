// Package gnn trains graph (GCN) and hypergraph (HGNN, HGNNP) convolutional networks on the
// partitions of a pathway.
//
// For the attribute task the model predicts the attributes of each entity (node). For the link
// tasks it predicts the missing member of each reaction (hyperedge): the hyperedge embedding,
// the mean of its members' features, is scored against every node embedding.
//
// Hyperparameters are given as context parameters, see CreateDefaultContext and the Param*
// constants.
package gnn

import (
	"slices"

	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"

	"github.com/reactome-gnn/pathwaygnn/pathway"
	"github.com/reactome-gnn/pathwaygnn/store"
)

const (
	// ParamModel selects the model, one of ValidModels.
	ParamModel = "model"

	// ParamDataset is the name of the pathway to train on.
	ParamDataset = "dataset"

	// ParamTask is the task, see store.Tasks.
	ParamTask = "task"

	// ParamEmbDim is the dimension of the hidden node embeddings.
	ParamEmbDim = "emb_dim"

	// ParamDropout is the dropout rate applied after the hidden layer's activation.
	ParamDropout = "drop_out"

	// ParamWeightDecay is the decoupled weight decay of the Adam optimizer.
	ParamWeightDecay = "weight_decay"

	// ParamNumEpochs is the number of full-batch training steps.
	ParamNumEpochs = "num_epochs"

	// ParamUseBatchNorm enables batch normalization of the transformed node states of every layer.
	ParamUseBatchNorm = "use_bn"

	// ParamDataDir is the directory holding the partition databases.
	ParamDataDir = "data_dir"

	// ParamCheckpoint is the checkpoint directory, relative to the data directory. Empty disables checkpoints.
	ParamCheckpoint = "checkpoint"

	// ParamNumCheckpoints is the number of checkpoints to keep.
	ParamNumCheckpoints = "num_checkpoints"

	// ParamProgressBar attaches a progress bar to the training loop.
	ParamProgressBar = "progress_bar"
)

var (
	// DType used by the models.
	DType = dtypes.Float32

	// ValidModels is the list of models supported.
	ValidModels = []string{"GCN", "HGNN", "HGNNP"}

	// ParamsExcludedFromSaving are the parameters that are not saved along the checkpoints, and may be
	// overwritten in further training sessions.
	ParamsExcludedFromSaving = []string{
		ParamDataDir, ParamCheckpoint, ParamNumCheckpoints, ParamNumEpochs, ParamProgressBar,
	}
)

// CreateDefaultContext returns a context with the default hyperparameters.
func CreateDefaultContext() *context.Context {
	ctx := context.New()
	ctx.SetParams(map[string]any{
		ParamModel:   "HGNN",
		ParamDataset: pathway.Names[0],
		ParamTask:    string(store.AttributeTask),

		optimizers.ParamOptimizer:    "adam",
		optimizers.ParamLearningRate: 0.01,
		ParamWeightDecay:             5e-4,

		ParamEmbDim:       64,
		ParamDropout:      0.5,
		ParamUseBatchNorm: true,
		ParamNumEpochs:    200,

		ParamDataDir:        "~/work/pathwaygnn",
		ParamCheckpoint:     "",
		ParamNumCheckpoints: 3,
		ParamProgressBar:    true,
	})
	return ctx
}

// ModelFromContext returns the model selected in ctx, or an error if it is not one of ValidModels.
func ModelFromContext(ctx *context.Context) (string, error) {
	model := context.GetParamOr(ctx, ParamModel, ValidModels[0])
	if !slices.Contains(ValidModels, model) {
		return "", errors.Errorf("parameter %q must take one value from %v, got %q", ParamModel, ValidModels, model)
	}
	return model, nil
}

// TaskFromContext returns the task selected in ctx.
func TaskFromContext(ctx *context.Context) (store.Task, error) {
	return store.ParseTask(context.GetParamOr(ctx, ParamTask, string(store.AttributeTask)))
}

// newOptimizer returns Adam configured from the context hyperparameters.
func newOptimizer(ctx *context.Context) optimizers.Interface {
	return optimizers.Adam().
		FromContext(ctx).
		LearningRate(context.GetParamOr(ctx, optimizers.ParamLearningRate, 0.01)).
		WeightDecay(context.GetParamOr(ctx, ParamWeightDecay, 5e-4)).
		Done()
}
