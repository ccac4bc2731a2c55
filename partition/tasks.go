package partition

import (
	"math"
	"slices"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/reactome-gnn/pathwaygnn/pathway"
	"github.com/reactome-gnn/pathwaygnn/store"
)

// AttributePrediction partitions the entities of the pathway for the attribute prediction task.
//
// Nodes with at least one attribute are split into train, validation and test; nodes without
// attributes always go to train. The raw features are the labels. Each split's feature matrix hides
// information about the nodes it is asked to predict:
//
//   - train: validation and test nodes are zeroed, and train nodes have a fraction of their
//     attributes hidden.
//   - validation: test nodes are zeroed, and validation nodes have a fraction of their attributes
//     hidden.
//   - test: test nodes have a fraction of their attributes hidden.
//
// All splits share the same edge list: every reaction with all its entities.
func AttributePrediction(p *pathway.Pathway, cfg Config) (*store.Partition, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if err := checkPathway(p); err != nil {
		return nil, err
	}
	rng := cfg.newRNG(store.AttributeTask)
	part := newPartition(p, store.AttributeTask, cfg)

	var eligible []int
	for node, entity := range p.Entities {
		if len(entity.Attributes) > 0 {
			eligible = append(eligible, node)
		}
	}
	if len(eligible) < 3 {
		return nil, errors.Errorf("pathway %q has only %d entities with attributes, at least 3 are needed",
			p.Name, len(eligible))
	}
	part.NodeMasks = cfg.assign(rng, p.NumNodes(), eligible)

	raw := p.Features()
	part.Features[store.Raw] = raw
	hide := func(features *mat.Dense, mask []bool) {
		for node, selected := range mask {
			attributes := p.Entities[node].Attributes
			if !selected || len(attributes) == 0 {
				continue
			}
			numHidden := max(1, int(math.Floor(cfg.AttributeMaskRatio*float64(len(attributes)))))
			for _, idx := range rng.Perm(len(attributes))[:numHidden] {
				features.Set(node, attributes[idx], 0)
			}
		}
	}
	zero := func(features *mat.Dense, mask []bool) {
		for node, selected := range mask {
			if selected {
				features.SetRow(node, make([]float64, p.NumFeatures()))
			}
		}
	}

	masks := part.NodeMasks
	train := mat.DenseCopyOf(raw)
	zero(train, masks.Validation)
	zero(train, masks.Test)
	hide(train, masks.Train)
	part.Features[store.Train] = train

	validation := mat.DenseCopyOf(raw)
	zero(validation, masks.Test)
	hide(validation, masks.Validation)
	part.Features[store.Validation] = validation

	test := mat.DenseCopyOf(raw)
	hide(test, masks.Test)
	part.Features[store.Test] = test

	edges := p.Hyperedges(pathway.AllEntities)
	part.NumEdges = len(edges)
	for _, split := range store.Splits {
		part.Edges[split] = edges
	}
	return part, nil
}

// InputLinkPrediction partitions the reactions of the pathway for predicting a missing input entity.
func InputLinkPrediction(p *pathway.Pathway, cfg Config) (*store.Partition, error) {
	return linkPrediction(p, store.InputLinkTask, pathway.Inputs, cfg)
}

// OutputLinkPrediction partitions the reactions of the pathway for predicting a missing output entity.
func OutputLinkPrediction(p *pathway.Pathway, cfg Config) (*store.Partition, error) {
	return linkPrediction(p, store.OutputLinkTask, pathway.Outputs, cfg)
}

// linkPrediction partitions the reactions (hyperedges of all their entities). Reactions with at
// least 2 entities, and at least one in the given role, are split into train, validation and
// test; the others go to train. One entity of the role is held out of each validation and test
// reaction:
//
//   - raw edge list: complete reactions, used as labels.
//   - train and validation edge lists: validation and test reactions without their held-out entity.
//   - test edge list: validation reactions restored, test reactions without their held-out entity.
//
// Node features are the raw features in every split.
func linkPrediction(p *pathway.Pathway, task store.Task, role pathway.Role, cfg Config) (*store.Partition, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if err := checkPathway(p); err != nil {
		return nil, err
	}
	rng := cfg.newRNG(task)
	part := newPartition(p, task, cfg)

	raw := p.Hyperedges(pathway.AllEntities)
	roleEdges := p.Hyperedges(role)
	var eligible []int
	for edge := range raw {
		if len(raw[edge]) >= 2 && len(roleEdges[edge]) >= 1 {
			eligible = append(eligible, edge)
		}
	}
	if len(eligible) < 3 {
		return nil, errors.Errorf("pathway %q has only %d reactions eligible for %s, at least 3 are needed",
			p.Name, len(eligible), task)
	}
	part.NumEdges = len(raw)
	part.EdgeMasks = cfg.assign(rng, len(raw), eligible)

	heldOut := func(edge int) []int {
		candidates := roleEdges[edge]
		removed := candidates[rng.IntN(len(candidates))]
		return slices.DeleteFunc(slices.Clone(raw[edge]), func(node int) bool { return node == removed })
	}
	masks := part.EdgeMasks
	train := make([][]int, len(raw))
	test := make([][]int, len(raw))
	for edge := range raw {
		switch {
		case masks.Validation[edge]:
			train[edge] = heldOut(edge)
			test[edge] = raw[edge]
		case masks.Test[edge]:
			train[edge] = heldOut(edge)
			test[edge] = train[edge]
		default:
			train[edge] = raw[edge]
			test[edge] = raw[edge]
		}
	}
	part.Edges[store.Raw] = raw
	part.Edges[store.Train] = train
	part.Edges[store.Validation] = train
	part.Edges[store.Test] = test

	features := p.Features()
	for _, split := range store.Splits {
		part.Features[split] = features
	}
	return part, nil
}

// HeldOut returns, for each hyperedge, the nodes present in the raw edge list but missing from
// the edge list of the given split.
func HeldOut(part *store.Partition, split store.Split) [][]int {
	missing := make([][]int, part.NumEdges)
	for edge, members := range part.Edges[store.Raw] {
		present := part.Edges[split][edge]
		for _, node := range members {
			if !slices.Contains(present, node) {
				missing[edge] = append(missing[edge], node)
			}
		}
	}
	return missing
}
