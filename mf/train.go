package mf

import (
	"maps"
	randv1 "math/rand"
	"math/rand/v2"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/datasets"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/reactome-gnn/pathwaygnn/partition"
	"github.com/reactome-gnn/pathwaygnn/ranking"
	"github.com/reactome-gnn/pathwaygnn/store"
	"github.com/reactome-gnn/pathwaygnn/tracking"
)

// Result of a training run.
type Result struct {
	Epochs        int
	BestEpoch     int
	BestValidNDCG float64
	Best, Last    map[string]float64
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

// evalSet holds the evaluation inputs of one split.
type evalSet struct {
	edges, candidates *tensors.Tensor
	numSamples        int
}

func newEvalSet(samples []Sample, candidates [][]int) *evalSet {
	edges, _ := Columns(samples)
	rows := make([][]int32, len(candidates))
	for ii, row := range candidates {
		rows[ii] = make([]int32, len(row))
		for jj, node := range row {
			rows[ii][jj] = int32(node)
		}
	}
	return &evalSet{
		edges:      tensors.FromValue(edges),
		candidates: tensors.FromValue(rows),
		numSamples: len(samples),
	}
}

func (es *evalSet) finalize() {
	es.edges.FinalizeAll()
	es.candidates.FinalizeAll()
}

// evaluate scores the candidates and returns the ranking metrics prefixed by prefix.
func (es *evalSet) evaluate(exec *context.Exec, prefix string) (map[string]float64, error) {
	var outputs []*tensors.Tensor
	err := exceptions.TryCatch[error](func() {
		var err error
		outputs, err = exec.Exec(es.edges, es.candidates)
		if err != nil {
			panic(err)
		}
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "while scoring %s candidates", prefix)
	}
	scores := outputs[0]
	defer scores.FinalizeAll()
	flat := tensors.MustCopyFlatData[float32](scores)
	predictions := make([]float64, len(flat))
	for ii, v := range flat {
		predictions[ii] = float64(v)
	}
	return ranking.EvaluateCandidates(predictions, es.numSamples, prefix)
}

// Run trains the matrix factorization configured in ctx on a link partition.
//
// Each epoch goes once over the shuffled training triplets in minibatches of "batch_size", and is
// followed by the evaluation of the validation and test samples. The metrics of each epoch
// ("loss", "epoch", "valid_*" and "test_*") are logged to sink, which can be nil.
func Run(ctx *context.Context, backend backends.Backend, part *store.Partition, sink tracking.Sink) (*Result, error) {
	numEpochs := context.GetParamOr(ctx, ParamMaxEpoch, 100)
	batchSize := context.GetParamOr(ctx, ParamBatchSize, 128)
	if numEpochs <= 0 || batchSize <= 0 {
		return nil, errors.Errorf("parameters %q and %q must be > 0, got %d and %d",
			ParamMaxEpoch, ParamBatchSize, numEpochs, batchSize)
	}
	if sink == nil {
		sink = tracking.Discard{}
	}
	seed := context.GetParamOr(ctx, ParamSeed, int64(partition.DefaultSeed))
	rng := rand.New(rand.NewPCG(uint64(seed), 0x6d66))
	samples, err := NewSamples(part, context.GetParamOr(ctx, ParamEvalNegatives, 99), rng)
	if err != nil {
		return nil, err
	}

	spec := &Spec{NumEdges: samples.NumEdges, NumNodes: samples.NumNodes}
	edges, positives := Columns(samples.Train)
	negatives := make([]int32, len(samples.Negatives))
	for ii, node := range samples.Negatives {
		negatives[ii] = int32(node)
	}
	ds, err := datasets.InMemoryFromData(backend, "mf-train", []any{edges, positives, negatives}, nil)
	if err != nil {
		return nil, errors.WithMessage(err, "while creating training dataset")
	}
	defer ds.FinalizeAll()
	ds.WithSpec(spec).BatchSize(batchSize, false).Shuffle().WithRand(randv1.New(randv1.NewSource(seed)))
	stepsPerEpoch := (len(samples.Train) + batchSize - 1) / batchSize

	validation := newEvalSet(samples.Validation, samples.ValidationCandidates)
	defer validation.finalize()
	test := newEvalSet(samples.Test, samples.TestCandidates)
	defer test.finalize()

	ctx = ctx.In("model")
	trainer := train.NewTrainer(backend, ctx, ModelGraph, BPRLoss, optimizers.FromContext(ctx), nil, nil)
	loop := train.NewLoop(trainer)
	if context.GetParamOr(ctx, ParamProgressBar, true) {
		commandline.AttachProgressBar(loop)
	}
	exec, err := context.NewExec(backend, ctx.Reuse(), func(ctx *context.Context, edges, candidates *Node) *Node {
		return ScoreGraph(ctx, spec, edges, candidates)
	})
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create scoring graph")
	}

	result := &Result{BestEpoch: -1}
	var epochLoss float64
	var epochSteps int
	loop.OnStep("evaluate", 0, func(loop *train.Loop, metrics []*tensors.Tensor) error {
		epochLoss += shapes.ConvertTo[float64](metrics[0].Value())
		epochSteps++
		if epochSteps < stepsPerEpoch {
			return nil
		}
		epoch := result.Epochs
		record := map[string]float64{
			"loss":  epochLoss / float64(epochSteps),
			"epoch": float64(epoch),
		}
		epochLoss, epochSteps = 0, 0
		for _, split := range []struct {
			set    *evalSet
			prefix string
		}{{validation, "valid"}, {test, "test"}} {
			splitMetrics, err := split.set.evaluate(exec, split.prefix)
			if err != nil {
				return errors.WithMessagef(err, "epoch %d", epoch)
			}
			maps.Copy(record, splitMetrics)
		}
		if err := sink.Log(epoch, record); err != nil {
			return err
		}
		result.Epochs = epoch + 1
		result.Last = record
		if result.BestEpoch < 0 || record["valid_ndcg"] > result.BestValidNDCG {
			result.BestEpoch = epoch
			result.BestValidNDCG = record["valid_ndcg"]
			result.Best = record
		}
		return nil
	})

	if _, err = loop.RunEpochs(ds, numEpochs); err != nil {
		return result, errors.WithMessagef(err, "training MF on %s/%s", part.Pathway, part.Task)
	}
	klog.V(1).Infof("MF on %s/%s: best valid_ndcg=%.4f at epoch %d", part.Pathway, part.Task,
		result.BestValidNDCG, result.BestEpoch)
	return result, nil
}
