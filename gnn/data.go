package gnn

import (
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/reactome-gnn/pathwaygnn/hyper"
	"github.com/reactome-gnn/pathwaygnn/ranking"
	"github.com/reactome-gnn/pathwaygnn/store"
)

// SplitData holds the model inputs and labels of one split, already converted to tensors.
type SplitData struct {
	Split  store.Split
	Inputs []*tensors.Tensor

	// Labels are the targets and the boolean mask of the rows in the split.
	Labels []*tensors.Tensor

	// Truth are the targets of the rows selected by the mask, in order.
	Truth *mat.Dense
	Rows  []int
}

// Data holds the tensors of the train, validation and test splits of a partition.
type Data struct {
	Spec   *Spec
	Task   store.Task
	Splits map[store.Split]*SplitData
}

// NewData converts the partition into the tensors used by the given model.
//
// For the link tasks every split propagates over the train edge list, so held-out members are
// never propagated over, while the hyperedge embeddings of each split are the mean of the members
// in the split's own edge list. For the attribute task each split uses its own edge list.
//
// It returns an error if the model is unknown, if the partition is invalid, or if any of the
// train, validation or test masks selects no row.
func NewData(part *store.Partition, model string) (*Data, error) {
	if !slices.Contains(ValidModels, model) {
		return nil, errors.Errorf("unknown model %q, valid models are %v", model, ValidModels)
	}
	if err := part.Validate(); err != nil {
		return nil, err
	}
	masks := part.Masks()
	for _, split := range []store.Split{store.Train, store.Validation, store.Test} {
		mask, _ := masks.Get(split)
		if !slices.Contains(mask, true) {
			return nil, errors.Errorf("partition %s/%s: %s mask selects no rows", part.Pathway, part.Task, split)
		}
	}

	spec := &Spec{
		Model:       model,
		Link:        part.Task.IsLink(),
		NumNodes:    part.NumNodes,
		NumFeatures: part.NumFeatures,
		NumEdges:    part.NumEdges,
	}
	var (
		targets *mat.Dense
		err     error
	)
	if spec.Link {
		targets, err = hyper.EncodeMembership(part.Edges[store.Raw], part.NumEdges, part.NumNodes)
		if err != nil {
			return nil, err
		}
	} else {
		targets = part.Features[store.Raw]
	}
	targetsTensor := denseToTensor(targets)

	data := &Data{Spec: spec, Task: part.Task, Splits: make(map[store.Split]*SplitData)}
	for _, split := range []store.Split{store.Train, store.Validation, store.Test} {
		features := part.Features[split]
		structure := part.Edges[split]
		if spec.Link {
			structure = part.Edges[store.Train]
		}
		operator, err := operatorTensors(model, part.NumNodes, structure)
		if err != nil {
			return nil, errors.WithMessagef(err, "partition %s/%s, %s split", part.Pathway, part.Task, split)
		}
		inputs := append([]*tensors.Tensor{denseToTensor(features)}, operator...)
		if spec.Link {
			edgeEmbeddings, err := hyper.AggregateEdges(part.Edges[split], features)
			if err != nil {
				return nil, errors.WithMessagef(err, "partition %s/%s, %s split", part.Pathway, part.Task, split)
			}
			inputs = append(inputs, denseToTensor(edgeEmbeddings))
		}
		mask, _ := masks.Get(split)
		sd := &SplitData{
			Split:  split,
			Inputs: inputs,
			Labels: []*tensors.Tensor{targetsTensor, tensors.FromValue(slices.Clone(mask))},
		}
		for row, selected := range mask {
			if selected {
				sd.Rows = append(sd.Rows, row)
			}
		}
		sd.Truth = selectRows(targets, sd.Rows)
		data.Splits[split] = sd
	}
	return data, nil
}

// operatorTensors returns the propagation operator inputs of the model.
func operatorTensors(model string, numNodes int, edges [][]int) ([]*tensors.Tensor, error) {
	h, err := hyper.New(numNodes, edges)
	if err != nil {
		return nil, err
	}
	if h.NumEdges() == 0 {
		return nil, errors.New("no hyperedges to build the propagation operator")
	}
	switch model {
	case "GCN":
		op := h.Clique().GCNOperator()
		return []*tensors.Tensor{
			tensors.FromValue(op.Rows),
			tensors.FromValue(op.Cols),
			tensors.FromValue(op.Values),
		}, nil
	case "HGNN", "HGNNP":
		inc := h.HGNNOperator()
		if model == "HGNNP" {
			inc = h.HGNNPOperator()
		}
		return []*tensors.Tensor{
			tensors.FromValue(inc.Nodes),
			tensors.FromValue(inc.Edges),
			tensors.FromValue(inc.NodeScaleIn),
			tensors.FromValue(inc.EdgeScale),
			tensors.FromValue(inc.NodeScaleOut),
		}, nil
	}
	return nil, errors.Errorf("unknown model %q", model)
}

// denseToTensor converts a gonum matrix to a [rows, cols] tensor of DType.
func denseToTensor(m mat.Matrix) *tensors.Tensor {
	rows, cols := m.Dims()
	flat := make([]float32, 0, rows*cols)
	for row := range rows {
		for col := range cols {
			flat = append(flat, float32(m.At(row, col)))
		}
	}
	return tensors.FromFlatDataAndDimensions(flat, rows, cols)
}

// selectRows returns a copy of the given rows of m.
func selectRows(m mat.Matrix, rows []int) *mat.Dense {
	_, cols := m.Dims()
	out := mat.NewDense(len(rows), cols, nil)
	for ii, row := range rows {
		for col := range cols {
			out.Set(ii, col, m.At(row, col))
		}
	}
	return out
}

// Finalize frees the tensors of all splits immediately.
func (data *Data) Finalize() {
	seen := make(map[*tensors.Tensor]bool)
	for _, sd := range data.Splits {
		for _, t := range slices.Concat(sd.Inputs, sd.Labels) {
			if !seen[t] {
				seen[t] = true
				t.FinalizeAll()
			}
		}
	}
}

// Evaluator scores the splits with the current model variables, in inference mode.
type Evaluator struct {
	data *Data
	exec *context.Exec
}

// NewEvaluator creates an Evaluator for data, reusing the model variables in ctx.
func NewEvaluator(backend backends.Backend, ctx *context.Context, data *Data) (*Evaluator, error) {
	spec := data.Spec
	exec, err := context.NewExec(backend, ctx.Reuse(), func(ctx *context.Context, inputs []*Node) *Node {
		return ModelGraph(ctx, spec, inputs)[0]
	})
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create evaluation graph")
	}
	return &Evaluator{data: data, exec: exec}, nil
}

// Scores returns the model scores of the rows selected by the split mask.
func (e *Evaluator) Scores(split store.Split) (*mat.Dense, error) {
	sd, found := e.data.Splits[split]
	if !found {
		return nil, errors.Errorf("no data for split %q", split)
	}
	args := make([]any, len(sd.Inputs))
	for ii, t := range sd.Inputs {
		args[ii] = t
	}
	var outputs []*tensors.Tensor
	err := exceptions.TryCatch[error](func() {
		var err error
		outputs, err = e.exec.Exec(args...)
		if err != nil {
			panic(err)
		}
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "while evaluating %s split", split)
	}
	logits := outputs[0]
	defer logits.FinalizeAll()
	dims := logits.Shape().Dimensions
	flat := tensors.MustCopyFlatData[float32](logits)
	scores := mat.NewDense(len(sd.Rows), dims[1], nil)
	for ii, row := range sd.Rows {
		for col := range dims[1] {
			scores.Set(ii, col, float64(flat[row*dims[1]+col]))
		}
	}
	return scores, nil
}

// Evaluate returns the ranking metrics of the split, with keys prefixed by prefix (see ranking.Evaluate).
func (e *Evaluator) Evaluate(split store.Split, prefix string) (map[string]float64, error) {
	scores, err := e.Scores(split)
	if err != nil {
		return nil, err
	}
	return ranking.Evaluate(e.data.Splits[split].Truth, scores, prefix)
}
