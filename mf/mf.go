// Package mf implements the matrix factorization baseline for the link prediction tasks.
//
// Reactions and entities get one embedding each, and the score of an entity for a reaction is the
// dot product of their embeddings. It is trained with the BPR loss over (reaction, member,
// non-member) triplets, and evaluated by ranking the held-out member of each validation or test
// reaction among sampled non-members.
package mf

import (
	"math/rand/v2"
	"slices"

	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"

	"github.com/reactome-gnn/pathwaygnn/partition"
	"github.com/reactome-gnn/pathwaygnn/pathway"
	"github.com/reactome-gnn/pathwaygnn/store"
)

const (
	ParamDataset       = "dataset"
	ParamTask          = "task"
	ParamEmbDim        = "emb_dim"
	ParamBatchSize     = "batch_size"
	ParamMaxEpoch      = "max_epoch"
	ParamEvalNegatives = "eval_negatives"
	ParamSeed          = "seed"
	ParamDataDir       = "data_dir"
	ParamProgressBar   = "progress_bar"
)

// DType used by the model.
var DType = dtypes.Float32

// CreateDefaultContext returns a context with the default hyperparameters.
func CreateDefaultContext() *context.Context {
	ctx := context.New()
	ctx.SetParams(map[string]any{
		ParamDataset: pathway.Names[0],
		ParamTask:    string(store.OutputLinkTask),

		optimizers.ParamOptimizer:    "adam",
		optimizers.ParamLearningRate: 0.01,

		ParamEmbDim:        64,
		ParamBatchSize:     128,
		ParamMaxEpoch:      100,
		ParamEvalNegatives: 99,
		ParamSeed:          int64(partition.DefaultSeed),
		ParamDataDir:       "~/work/pathwaygnn",
		ParamProgressBar:   true,
	})
	return ctx
}

// Sample is one (reaction, entity) pair.
type Sample struct {
	Edge, Node int
}

// Samples are the training triplets and the evaluation candidates derived from a link partition.
type Samples struct {
	NumEdges, NumNodes int

	// Train holds one pair per member of each train edge list entry, and Negatives one
	// non-member of the same reaction per pair.
	Train     []Sample
	Negatives []int

	// Validation and Test hold the held-out (reaction, entity) pairs of the validation and test
	// reactions. Their candidates are the held-out entity followed by sampled non-members.
	Validation, Test                     []Sample
	ValidationCandidates, TestCandidates [][]int
}

// NewSamples derives the samples of a link partition, with numNegatives non-members per
// evaluation sample. Non-members are sampled uniformly, with replacement, among the entities not
// in the complete reaction.
func NewSamples(part *store.Partition, numNegatives int, rng *rand.Rand) (*Samples, error) {
	if !part.Task.IsLink() {
		return nil, errors.Errorf("matrix factorization requires a link task, got %q", part.Task)
	}
	if numNegatives < 1 {
		return nil, errors.Errorf("the number of evaluation negatives must be >= 1, got %d", numNegatives)
	}
	if err := part.Validate(); err != nil {
		return nil, err
	}
	raw := part.Edges[store.Raw]
	nonMembers := make([][]int, len(raw))
	for edge, members := range raw {
		for node := range part.NumNodes {
			if !slices.Contains(members, node) {
				nonMembers[edge] = append(nonMembers[edge], node)
			}
		}
	}
	negative := func(edge int) (int, error) {
		candidates := nonMembers[edge]
		if len(candidates) == 0 {
			return 0, errors.Errorf("reaction #%d contains every entity, no negatives to sample", edge)
		}
		return candidates[rng.IntN(len(candidates))], nil
	}

	s := &Samples{NumEdges: part.NumEdges, NumNodes: part.NumNodes}
	for edge, members := range part.Edges[store.Train] {
		for _, node := range members {
			neg, err := negative(edge)
			if err != nil {
				return nil, err
			}
			s.Train = append(s.Train, Sample{Edge: edge, Node: node})
			s.Negatives = append(s.Negatives, neg)
		}
	}

	heldOut := partition.HeldOut(part, store.Train)
	for edge, missing := range heldOut {
		var samples *[]Sample
		var candidates *[][]int
		switch {
		case part.EdgeMasks.Validation[edge]:
			samples, candidates = &s.Validation, &s.ValidationCandidates
		case part.EdgeMasks.Test[edge]:
			samples, candidates = &s.Test, &s.TestCandidates
		default:
			continue
		}
		for _, node := range missing {
			row := make([]int, 0, numNegatives+1)
			row = append(row, node)
			for range numNegatives {
				neg, err := negative(edge)
				if err != nil {
					return nil, err
				}
				row = append(row, neg)
			}
			*samples = append(*samples, Sample{Edge: edge, Node: node})
			*candidates = append(*candidates, row)
		}
	}
	if len(s.Train) == 0 || len(s.Validation) == 0 || len(s.Test) == 0 {
		return nil, errors.Errorf("partition %s/%s has %d train, %d validation and %d test samples, all must be > 0",
			part.Pathway, part.Task, len(s.Train), len(s.Validation), len(s.Test))
	}
	return s, nil
}

// Columns returns the edge and node indices of the samples as separate int32 columns.
func Columns(samples []Sample) (edges, nodes []int32) {
	edges = make([]int32, len(samples))
	nodes = make([]int32, len(samples))
	for ii, sample := range samples {
		edges[ii], nodes[ii] = int32(sample.Edge), int32(sample.Node)
	}
	return
}
