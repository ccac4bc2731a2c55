package mf

import (
	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
)

// Spec of the model graph: the sizes of the embedding tables.
type Spec struct {
	NumEdges, NumNodes int
}

// embed returns the embeddings of the reactions and entities indexed by the inputs: edges is
// shaped [batch_size] and nodes [batch_size, n] with n > 1.
func (s *Spec) embed(ctx *context.Context, edges, nodes *Node) (edgeEmb, nodeEmb *Node) {
	embDim := context.GetParamOr(ctx, ParamEmbDim, 64)
	edgeEmb = layers.Embedding(ctx.In("reactions"), InsertAxes(edges, -1), DType, s.NumEdges, embDim)
	nodeEmb = layers.Embedding(ctx.In("entities"), nodes, DType, s.NumNodes, embDim)
	return
}

// ModelGraph implements train.ModelFn for the BPR training: spec must be a *Spec, and the inputs
// are the reactions, the positive entities and the negative entities, each shaped [batch_size].
//
// It returns the score difference between the positive and the negative entity, shaped [batch_size].
func ModelGraph(ctx *context.Context, spec any, inputs []*Node) []*Node {
	s := spec.(*Spec)
	if len(inputs) != 3 {
		Panicf("mf.ModelGraph expects 3 inputs (reactions, positives, negatives), got %d", len(inputs))
	}
	candidates := Concatenate([]*Node{InsertAxes(inputs[1], -1), InsertAxes(inputs[2], -1)}, -1)
	scores := ScoreGraph(ctx, s, inputs[0], candidates)
	positive := Squeeze(Slice(scores, AxisRange(), AxisElem(0)), 1)
	negative := Squeeze(Slice(scores, AxisRange(), AxisElem(1)), 1)
	return []*Node{Sub(positive, negative)}
}

// ScoreGraph returns the scores of the candidate entities of each reaction: edges is shaped
// [num_samples] and candidates [num_samples, num_candidates].
func ScoreGraph(ctx *context.Context, s *Spec, edges, candidates *Node) *Node {
	edgeEmb, candidatesEmb := s.embed(ctx, edges, candidates)
	edgeEmb = BroadcastToShape(InsertAxes(edgeEmb, 1), candidatesEmb.Shape())
	return ReduceSum(Mul(edgeEmb, candidatesEmb), -1)
}

// BPRLoss implements train.LossFn: the mean of -log(sigmoid(diff)) over the batch, where diff are
// the predictions of ModelGraph. Labels are not used.
func BPRLoss(labels, predictions []*Node) *Node {
	return ReduceAllMean(softplus(Neg(predictions[0])))
}

// softplus computes log(1+exp(x)) without overflowing for large x.
func softplus(x *Node) *Node {
	return Add(Max(x, ZerosLike(x)), Log1p(Exp(Neg(Abs(x)))))
}
