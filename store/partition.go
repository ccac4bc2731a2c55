// Package store defines the partitioned datasets (Partition) and persists them in a SQLite
// database, one per pathway.
//
// A Partition holds everything a training run needs for one task of one pathway: the feature
// matrices and edge lists of each split, and the boolean masks selecting which rows (nodes or
// edges) belong to the train, validation and test splits. It is materialized once, when loaded,
// and never modified during a run.
package store

import (
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Task is the prediction task a Partition was built for.
type Task string

const (
	// AttributeTask predicts the attributes (features) of entities.
	AttributeTask Task = "attribute"
	// InputLinkTask predicts the missing input entity of reactions.
	InputLinkTask Task = "input_link"
	// OutputLinkTask predicts the missing output entity of reactions.
	OutputLinkTask Task = "output_link"
)

// Tasks lists all tasks, in the order they are built.
var Tasks = []Task{AttributeTask, InputLinkTask, OutputLinkTask}

var taskAliases = map[string]Task{
	"attribute":                      AttributeTask,
	"attribute prediction dataset":   AttributeTask,
	"input_link":                     InputLinkTask,
	"input link prediction dataset":  InputLinkTask,
	"output_link":                    OutputLinkTask,
	"output link prediction dataset": OutputLinkTask,
}

// ParseTask converts a task name, or one of its long descriptive aliases, to a Task.
func ParseTask(name string) (Task, error) {
	task, found := taskAliases[strings.ToLower(strings.TrimSpace(name))]
	if !found {
		return "", errors.Errorf("unknown task %q, valid values are %q", name, Tasks)
	}
	return task, nil
}

// IsLink returns whether the task is one of the link prediction tasks.
func (t Task) IsLink() bool { return t == InputLinkTask || t == OutputLinkTask }

// Split of the data.
type Split string

const (
	Raw        Split = "raw"
	Train      Split = "train"
	Validation Split = "validation"
	Test       Split = "test"
)

// Splits with their own feature matrices and edge lists.
var Splits = []Split{Raw, Train, Validation, Test}

// Masks selects the rows of each split. The three masks have the same length, are disjoint and
// together cover every row.
type Masks struct {
	Train, Validation, Test []bool
}

// Get returns the mask of the given split.
func (m *Masks) Get(split Split) ([]bool, error) {
	switch split {
	case Train:
		return m.Train, nil
	case Validation:
		return m.Validation, nil
	case Test:
		return m.Test, nil
	}
	return nil, errors.Errorf("no mask for split %q", split)
}

// Count returns the number of selected rows of each split.
func (m *Masks) Count() (train, validation, test int) {
	for ii := range m.Train {
		switch {
		case m.Train[ii]:
			train++
		case m.Validation[ii]:
			validation++
		case m.Test[ii]:
			test++
		}
	}
	return
}

func (m *Masks) validate(numRows int) error {
	if len(m.Train) != numRows || len(m.Validation) != numRows || len(m.Test) != numRows {
		return errors.Errorf("masks have lengths (%d, %d, %d), expected %d",
			len(m.Train), len(m.Validation), len(m.Test), numRows)
	}
	for ii := range numRows {
		var count int
		for _, selected := range []bool{m.Train[ii], m.Validation[ii], m.Test[ii]} {
			if selected {
				count++
			}
		}
		if count != 1 {
			return errors.Errorf("row %d is selected by %d masks, it must be selected by exactly one", ii, count)
		}
	}
	return nil
}

// Partition is the dataset of one task of one pathway.
type Partition struct {
	Pathway string
	Task    Task
	Seed    int64

	NumNodes, NumFeatures, NumEdges int

	// Features per split, each [NumNodes, NumFeatures]. Features[Raw] are also the attribute task labels.
	Features map[Split]*mat.Dense

	// Edges per split, each with NumEdges hyperedges. Edges[Raw] are the link task labels.
	Edges map[Split][][]int

	// NodeMasks is set for the attribute task, EdgeMasks for the link tasks.
	NodeMasks, EdgeMasks *Masks
}

// Masks returns the masks over the rows that are scored for the task: nodes for the attribute
// task, edges for the link tasks.
func (p *Partition) Masks() *Masks {
	if p.Task.IsLink() {
		return p.EdgeMasks
	}
	return p.NodeMasks
}

// Validate checks the invariants of the partition.
func (p *Partition) Validate() error {
	if _, err := ParseTask(string(p.Task)); err != nil {
		return err
	}
	if p.NumNodes <= 0 || p.NumFeatures <= 0 {
		return errors.Errorf("partition %s/%s: invalid dimensions nodes=%d, features=%d",
			p.Pathway, p.Task, p.NumNodes, p.NumFeatures)
	}
	for _, split := range Splits {
		features, found := p.Features[split]
		if !found {
			return errors.Errorf("partition %s/%s: missing %s features", p.Pathway, p.Task, split)
		}
		if rows, cols := features.Dims(); rows != p.NumNodes || cols != p.NumFeatures {
			return errors.Errorf("partition %s/%s: %s features shaped [%d, %d], expected [%d, %d]",
				p.Pathway, p.Task, split, rows, cols, p.NumNodes, p.NumFeatures)
		}
		edges := p.Edges[split]
		if len(edges) != p.NumEdges {
			return errors.Errorf("partition %s/%s: %s edge list has %d edges, expected %d",
				p.Pathway, p.Task, split, len(edges), p.NumEdges)
		}
		for edgeIdx, edge := range edges {
			if len(edge) == 0 {
				return errors.Errorf("partition %s/%s: %s edge #%d is empty", p.Pathway, p.Task, split, edgeIdx)
			}
			for _, node := range edge {
				if node < 0 || node >= p.NumNodes {
					return errors.Errorf("partition %s/%s: %s edge #%d has node %d out of range",
						p.Pathway, p.Task, split, edgeIdx, node)
				}
			}
		}
	}
	if p.Task.IsLink() {
		if p.EdgeMasks == nil {
			return errors.Errorf("partition %s/%s: missing edge masks", p.Pathway, p.Task)
		}
		return errors.WithMessagef(p.EdgeMasks.validate(p.NumEdges), "partition %s/%s edge masks", p.Pathway, p.Task)
	}
	if p.NodeMasks == nil {
		return errors.Errorf("partition %s/%s: missing node masks", p.Pathway, p.Task)
	}
	return errors.WithMessagef(p.NodeMasks.validate(p.NumNodes), "partition %s/%s node masks", p.Pathway, p.Task)
}

// Get returns a partition field by key. Keys:
//
//   - "raw_nodes_features", "train_nodes_features", "validation_nodes_features", "test_nodes_features":
//     *mat.Dense.
//   - "raw_edge_list", "train_edge_list", "validation_edge_list", "test_edge_list", and "edge_list"
//     (alias to "raw_edge_list"): [][]int.
//   - "train_node_mask", "val_node_mask", "test_node_mask", "train_edge_mask", "val_edge_mask",
//     "test_edge_mask": []bool.
//   - "num_nodes", "num_features", "num_edges": int.
func (p *Partition) Get(key string) (any, error) {
	switch key {
	case "num_nodes":
		return p.NumNodes, nil
	case "num_features":
		return p.NumFeatures, nil
	case "num_edges":
		return p.NumEdges, nil
	case "edge_list":
		return p.Edges[Raw], nil
	}

	if name, found := strings.CutSuffix(key, "_nodes_features"); found {
		if features, ok := p.Features[Split(name)]; ok {
			return features, nil
		}
	} else if name, found := strings.CutSuffix(key, "_edge_list"); found {
		if edges, ok := p.Edges[Split(name)]; ok {
			return edges, nil
		}
	} else if name, found := strings.CutSuffix(key, "_node_mask"); found && p.NodeMasks != nil {
		return p.NodeMasks.Get(maskSplit(name))
	} else if name, found := strings.CutSuffix(key, "_edge_mask"); found && p.EdgeMasks != nil {
		return p.EdgeMasks.Get(maskSplit(name))
	}
	return nil, errors.Errorf("partition %s/%s has no field %q", p.Pathway, p.Task, key)
}

func maskSplit(name string) Split {
	if name == "val" {
		return Validation
	}
	return Split(name)
}
