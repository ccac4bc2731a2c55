package gnn

import (
	"maps"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/reactome-gnn/pathwaygnn/store"
	"github.com/reactome-gnn/pathwaygnn/tracking"
)

// Result of a training run.
type Result struct {
	// Epochs trained.
	Epochs int

	// BestEpoch is the epoch with the highest validation NDCG, and Best the metrics logged at it.
	BestEpoch     int
	BestValidNDCG float64
	Best          map[string]float64

	// Last are the metrics logged at the last epoch.
	Last map[string]float64
}

// Summary returns the metrics of the best epoch, plus "best_epoch".
func (r *Result) Summary() map[string]float64 {
	summary := maps.Clone(r.Best)
	if summary == nil {
		summary = make(map[string]float64)
	}
	summary["best_epoch"] = float64(r.BestEpoch)
	return summary
}

// Run trains the model configured in ctx on the partition.
//
// Each epoch is one full-batch training step on the train rows, followed by the evaluation of
// the validation and test rows. The metrics of each epoch ("loss", "epoch", "valid_*" and
// "test_*", see ranking.Evaluate) are logged to sink, which can be nil.
//
// Configuration errors (unknown model, empty masks, invalid partition) are returned before
// any training.
func Run(ctx *context.Context, backend backends.Backend, part *store.Partition, sink tracking.Sink) (*Result, error) {
	model, err := ModelFromContext(ctx)
	if err != nil {
		return nil, err
	}
	numEpochs := context.GetParamOr(ctx, ParamNumEpochs, 200)
	if numEpochs <= 0 {
		return nil, errors.Errorf("parameter %q must be > 0, got %d", ParamNumEpochs, numEpochs)
	}
	if sink == nil {
		sink = tracking.Discard{}
	}
	data, err := NewData(part, model)
	if err != nil {
		return nil, err
	}
	defer data.Finalize()

	// Checkpoints saving.
	var checkpoint *checkpoints.Handler
	if checkpointPath := context.GetParamOr(ctx, ParamCheckpoint, ""); checkpointPath != "" {
		dataDir := context.GetParamOr(ctx, ParamDataDir, "")
		numCheckpointsToKeep := context.GetParamOr(ctx, ParamNumCheckpoints, 3)
		checkpoint, err = checkpoints.Build(ctx).
			DirFromBase(checkpointPath, dataDir).
			Keep(numCheckpointsToKeep).
			ExcludeParams(ParamsExcludedFromSaving...).
			Done()
		if err != nil {
			return nil, errors.WithMessagef(err, "while setting up checkpoint to %q", checkpointPath)
		}
		klog.V(1).Infof("Checkpointing model to %q", checkpoint.Dir())
	}

	ctx = ctx.In("model") // Convention scope used for model creation.
	trainer := train.NewTrainer(backend, ctx, ModelGraph, MaskedCrossEntropy, newOptimizer(ctx), nil, nil)
	if optimizers.GetGlobalStep(ctx) > 0 {
		trainer.SetContext(ctx.Reuse())
	}
	loop := train.NewLoop(trainer)
	if context.GetParamOr(ctx, ParamProgressBar, true) {
		commandline.AttachProgressBar(loop)
	}

	evaluator, err := NewEvaluator(backend, ctx, data)
	if err != nil {
		return nil, err
	}
	result := &Result{BestEpoch: -1}
	loop.OnStep("evaluate", 0, func(loop *train.Loop, metrics []*tensors.Tensor) error {
		record := map[string]float64{
			"loss":  shapes.ConvertTo[float64](metrics[0].Value()),
			"epoch": float64(loop.Epoch),
		}
		for _, split := range []struct {
			split  store.Split
			prefix string
		}{{store.Validation, "valid"}, {store.Test, "test"}} {
			splitMetrics, err := evaluator.Evaluate(split.split, split.prefix)
			if err != nil {
				return errors.WithMessagef(err, "epoch %d", loop.Epoch)
			}
			maps.Copy(record, splitMetrics)
		}
		if err := sink.Log(loop.Epoch, record); err != nil {
			return err
		}
		result.Epochs = loop.Epoch + 1
		result.Last = record
		if result.BestEpoch < 0 || record["valid_ndcg"] > result.BestValidNDCG {
			result.BestEpoch = loop.Epoch
			result.BestValidNDCG = record["valid_ndcg"]
			result.Best = record
		}
		return nil
	})
	if checkpoint != nil {
		loop.OnEnd("checkpoint", 0, func(loop *train.Loop, metrics []*tensors.Tensor) error {
			return checkpoint.Save()
		})
	}

	if _, err = loop.RunEpochs(data.NewDataset(store.Train), numEpochs); err != nil {
		return result, errors.WithMessagef(err, "training %s on %s/%s", model, part.Pathway, part.Task)
	}
	klog.V(1).Infof("%s on %s/%s: best valid_ndcg=%.4f at epoch %d", model, part.Pathway, part.Task,
		result.BestValidNDCG, result.BestEpoch)
	return result, nil
}
