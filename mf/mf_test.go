package mf

import (
	"fmt"
	"math"
	"math/rand/v2"
	"testing"

	_ "github.com/gomlx/gomlx/backends/default"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reactome-gnn/pathwaygnn/partition"
	"github.com/reactome-gnn/pathwaygnn/pathway"
	"github.com/reactome-gnn/pathwaygnn/store"
	"github.com/reactome-gnn/pathwaygnn/tracking"
)

func chainPathway(numEntities int) *pathway.Pathway {
	p := &pathway.Pathway{Name: "Chain", Vocabulary: []string{"protein", "complex", "small molecule"}}
	for ii := range numEntities {
		p.Entities = append(p.Entities, pathway.Entity{ID: fmt.Sprintf("E-%d", ii), Attributes: []int{ii % 3}})
	}
	for ii := range numEntities - 2 {
		p.Reactions = append(p.Reactions, pathway.Reaction{
			ID:      fmt.Sprintf("R-%d", ii),
			Inputs:  []int{ii, ii + 1},
			Outputs: []int{ii + 2},
		})
	}
	return p
}

func linkPartition(t *testing.T, task store.Task) *store.Partition {
	part, err := partition.ForTask(chainPathway(30), task, partition.DefaultConfig())
	require.NoError(t, err)
	return part
}

func TestNewSamples(t *testing.T) {
	part := linkPartition(t, store.InputLinkTask)
	rng := rand.New(rand.NewPCG(1, 2))
	s, err := NewSamples(part, 5, rng)
	require.NoError(t, err)
	assert.Equal(t, part.NumEdges, s.NumEdges)
	assert.Equal(t, part.NumNodes, s.NumNodes)

	raw := part.Edges[store.Raw]
	require.Len(t, s.Negatives, len(s.Train))
	for ii, sample := range s.Train {
		assert.Contains(t, part.Edges[store.Train][sample.Edge], sample.Node)
		assert.NotContains(t, raw[sample.Edge], s.Negatives[ii])
	}

	_, numValidation, numTest := part.EdgeMasks.Count()
	assert.Len(t, s.Validation, numValidation)
	assert.Len(t, s.Test, numTest)
	for ii, sample := range s.Validation {
		assert.True(t, part.EdgeMasks.Validation[sample.Edge])
		row := s.ValidationCandidates[ii]
		require.Len(t, row, 6)
		assert.Equal(t, sample.Node, row[0], "true positive must be the first candidate")
		assert.Contains(t, raw[sample.Edge], row[0])
		assert.NotContains(t, part.Edges[store.Validation][sample.Edge], row[0])
		for _, neg := range row[1:] {
			assert.NotContains(t, raw[sample.Edge], neg)
		}
	}
	for _, sample := range s.Test {
		assert.True(t, part.EdgeMasks.Test[sample.Edge])
	}

	edges, nodes := Columns(s.Test)
	require.Len(t, edges, len(s.Test))
	assert.Equal(t, int32(s.Test[0].Edge), edges[0])
	assert.Equal(t, int32(s.Test[0].Node), nodes[0])
}

func TestNewSamplesErrors(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	attr, err := partition.ForTask(chainPathway(30), store.AttributeTask, partition.DefaultConfig())
	require.NoError(t, err)
	_, err = NewSamples(attr, 5, rng)
	require.Error(t, err, "attribute partitions have no reactions to factorize")

	part := linkPartition(t, store.OutputLinkTask)
	_, err = NewSamples(part, 0, rng)
	require.Error(t, err)

	// A reaction with every entity has no negatives.
	everyEntity := make([]int, part.NumNodes)
	for node := range everyEntity {
		everyEntity[node] = node
	}
	part.Edges[store.Raw][0] = everyEntity
	_, err = NewSamples(part, 5, rng)
	require.Error(t, err)
}

func TestBPRLoss(t *testing.T) {
	graphtest.RunTestGraphFn(t, "BPRLoss", func(g *Graph) (inputs, outputs []*Node) {
		diff := Const(g, []float32{0, 100, -100})
		inputs = []*Node{diff}
		outputs = []*Node{BPRLoss(nil, []*Node{diff})}
		return
	}, []any{
		// (log(2) + 0 + 100) / 3
		float32((math.Ln2 + 100) / 3),
	}, 1e-3)
}

func TestRun(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping training test in short mode")
	}
	backend := graphtest.BuildTestBackend()
	part := linkPartition(t, store.OutputLinkTask)
	ctx := CreateDefaultContext()
	ctx.SetParams(map[string]any{
		ParamMaxEpoch:      3,
		ParamBatchSize:     16,
		ParamEmbDim:        8,
		ParamEvalNegatives: 9,
		ParamProgressBar:   false,
	})
	sink := &tracking.Memory{}
	result, err := Run(ctx, backend, part, sink)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Epochs)
	require.Len(t, sink.History, 3)
	for ii, record := range sink.History {
		assert.Equal(t, ii, record.Step)
		assert.Equal(t, float64(ii), record.Metrics["epoch"])
		for _, key := range []string{"loss", "valid_ndcg", "valid_acc_3", "test_ndcg_15", "test_acc"} {
			assert.Contains(t, record.Metrics, key)
		}
		assert.GreaterOrEqual(t, record.Metrics["valid_ndcg"], 0.0)
		assert.LessOrEqual(t, record.Metrics["valid_ndcg"], 1.0)
	}
	assert.Equal(t, result.BestValidNDCG, result.Best["valid_ndcg"])

	ctx.SetParam(ParamBatchSize, 0)
	_, err = Run(ctx, backend, part, nil)
	require.Error(t, err)
}
