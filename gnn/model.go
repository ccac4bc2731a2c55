package gnn

import (
	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gomlx/pkg/ml/layers/batchnorm"
	"github.com/gomlx/gomlx/pkg/ml/train/losses"
)

// Spec describes the inputs of the model graph. It is yielded by the datasets as the spec of every batch.
//
// The inputs are, in order:
//
//   - node features, shaped [NumNodes, NumFeatures].
//   - the propagation operator: for GCN the rows, columns and values of the sparse normalized
//     adjacency (3 tensors, each [nnz]); for HGNN and HGNNP the node and hyperedge indices of the
//     incidence (each [nnz]) followed by the node input scale [NumNodes], the hyperedge scale
//     [NumStructureEdges] and the node output scale [NumNodes].
//   - for link tasks only, the hyperedge embeddings, shaped [NumEdges, NumFeatures].
type Spec struct {
	Model                 string
	Link                  bool
	NumNodes, NumFeatures int

	// NumEdges is the number of hyperedges scored in link tasks.
	NumEdges int
}

// numOperatorInputs returns the number of inputs of the propagation operator.
func (s *Spec) numOperatorInputs() int {
	if s.Model == "GCN" {
		return 3
	}
	return 5
}

// NumInputs returns the number of model inputs.
func (s *Spec) NumInputs() int {
	n := 1 + s.numOperatorInputs()
	if s.Link {
		n++
	}
	return n
}

// propagator returns the function that smooths node states with the operator given in the inputs.
func (s *Spec) propagator(operator []*Node) func(x *Node) *Node {
	switch s.Model {
	case "GCN":
		return func(x *Node) *Node {
			return SparsePropagate(x, operator[0], operator[1], operator[2])
		}
	case "HGNN", "HGNNP":
		return func(x *Node) *Node {
			return HypergraphPropagate(x, operator[0], operator[1], operator[2], operator[3], operator[4])
		}
	default:
		Panicf("unknown model %q, valid models are %v", s.Model, ValidModels)
		panic(nil)
	}
}

// ModelGraph implements train.ModelFn. spec must be a *Spec.
//
// It returns the logits: [NumNodes, NumFeatures] attribute scores for the attribute task, or
// [NumEdges, NumNodes] membership scores for the link tasks.
func ModelGraph(ctx *context.Context, spec any, inputs []*Node) []*Node {
	s := spec.(*Spec)
	if len(inputs) != s.NumInputs() {
		Panicf("model %s expects %d inputs, got %d", s.Model, s.NumInputs(), len(inputs))
	}
	features := inputs[0]
	features.AssertDims(s.NumNodes, s.NumFeatures)
	propagate := s.propagator(inputs[1 : 1+s.numOperatorInputs()])

	embDim := context.GetParamOr(ctx, ParamEmbDim, 64)
	x := convolution(ctx.In("conv_0"), features, embDim, propagate, false)
	x = convolution(ctx.In("conv_1"), x, s.NumFeatures, propagate, true)
	if !s.Link {
		return []*Node{x}
	}

	edgeEmbeddings := inputs[len(inputs)-1]
	edgeEmbeddings.AssertDims(s.NumEdges, s.NumFeatures)
	scores := Einsum("ef,nf->en", edgeEmbeddings, x)
	return []*Node{scores}
}

// convolution is one graph convolution: a linear transformation, batch normalization (if
// enabled) and the propagation. Hidden layers are followed by a ReLU and dropout.
func convolution(ctx *context.Context, x *Node, outputDim int, propagate func(*Node) *Node, isLast bool) *Node {
	x = layers.Dense(ctx.In("theta"), x, true, outputDim)
	if context.GetParamOr(ctx, ParamUseBatchNorm, true) {
		x = batchnorm.New(ctx.In("batchnorm"), x, -1).Done()
	}
	x = propagate(x)
	if isLast {
		return x
	}
	x = activations.Relu(x)
	dropoutRate := context.GetParamOr(ctx, ParamDropout, 0.5)
	if dropoutRate > 0 {
		x = layers.Dropout(ctx.In("dropout"), x, Scalar(x.Graph(), x.DType(), dropoutRate))
	}
	return x
}

// SparsePropagate returns A·x, with A given in coordinate format: values[i] at (rows[i], cols[i]).
//
// x is shaped [numNodes, dim], rows and cols are integer vectors with the same length as values.
func SparsePropagate(x, rows, cols, values *Node) *Node {
	if x.Rank() != 2 {
		Panicf("SparsePropagate(): x must be shaped [num_nodes, dim], got %s", x.Shape())
	}
	if rows.Rank() != 1 || !rows.Shape().Equal(cols.Shape()) || values.Rank() != 1 ||
		values.Shape().Dimensions[0] != rows.Shape().Dimensions[0] {
		Panicf("SparsePropagate(): rows, cols and values must be vectors of the same length, got %s, %s and %s",
			rows.Shape(), cols.Shape(), values.Shape())
	}
	messages := Gather(x, InsertAxes(cols, -1))
	messages = Mul(messages, BroadcastToShape(InsertAxes(ConvertDType(values, x.DType()), -1), messages.Shape()))
	return ScatterSum(ZerosLike(x), InsertAxes(rows, -1), messages, false, false)
}

// HypergraphPropagate returns diag(nodeScaleOut)·H·diag(edgeScale)·Hᵀ·diag(nodeScaleIn)·x, where
// the incidence matrix H has a one at each (nodes[i], edges[i]).
//
// x is shaped [numNodes, dim], nodeScaleIn and nodeScaleOut [numNodes], edgeScale [numEdges].
func HypergraphPropagate(x, nodes, edges, nodeScaleIn, edgeScale, nodeScaleOut *Node) *Node {
	if x.Rank() != 2 {
		Panicf("HypergraphPropagate(): x must be shaped [num_nodes, dim], got %s", x.Shape())
	}
	if nodes.Rank() != 1 || !nodes.Shape().Equal(edges.Shape()) {
		Panicf("HypergraphPropagate(): nodes and edges must be vectors of the same length, got %s and %s",
			nodes.Shape(), edges.Shape())
	}
	numNodes, dim := x.Shape().Dimensions[0], x.Shape().Dimensions[1]
	numEdges := edgeScale.Shape().Dimensions[0]
	dtype := x.DType()
	nodeScaleIn.AssertDims(numNodes)
	nodeScaleOut.AssertDims(numNodes)
	scale := func(v, scale *Node) *Node {
		return Mul(v, BroadcastToShape(InsertAxes(ConvertDType(scale, dtype), -1), v.Shape()))
	}
	g := x.Graph()
	nodes = InsertAxes(nodes, -1)
	edges = InsertAxes(edges, -1)

	x = scale(x, nodeScaleIn)
	edgeStates := ScatterSum(Zeros(g, shapes.Make(dtype, numEdges, dim)), edges, Gather(x, nodes), false, false)
	edgeStates = scale(edgeStates, edgeScale)
	x = ScatterSum(Zeros(g, shapes.Make(dtype, numNodes, dim)), nodes, Gather(edgeStates, edges), false, false)
	return scale(x, nodeScaleOut)
}

// MaskedCrossEntropy implements train.LossFn: the soft-target cross-entropy of the logits, averaged
// over the rows selected by the mask.
//
// labels are the targets, shaped like the logits, followed by the boolean row mask.
func MaskedCrossEntropy(labels, predictions []*Node) *Node {
	if len(labels) != 2 {
		Panicf("MaskedCrossEntropy expects labels to be targets and mask, got %d labels", len(labels))
	}
	logits := predictions[0]
	rowLosses := losses.CategoricalCrossEntropyLogits(labels, predictions)
	count := ReduceAllSum(ConvertDType(labels[1], logits.DType()))
	count = MaxScalar(count, 1) // To avoid division by 0.
	return Div(ReduceAllSum(rowLosses), count)
}
