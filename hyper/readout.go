package hyper

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// AggregateEdges computes one embedding per hyperedge by mean pooling the feature rows of its
// members. The result has shape [len(edges), numFeatures].
//
// Hyperedges may have any arity, and members are taken as listed: a node listed twice
// counts twice. It fails on an empty hyperedge or on a node index out of range.
func AggregateEdges(edges [][]int, features mat.Matrix) (*mat.Dense, error) {
	numNodes, numFeatures := features.Dims()
	if len(edges) == 0 {
		return nil, errors.New("AggregateEdges: no hyperedges given")
	}
	out := mat.NewDense(len(edges), numFeatures, nil)
	row := make([]float64, numFeatures)
	for edgeIdx, edge := range edges {
		if len(edge) == 0 {
			return nil, errors.Errorf("AggregateEdges: hyperedge #%d is empty", edgeIdx)
		}
		for ii := range row {
			row[ii] = 0
		}
		for _, node := range edge {
			if node < 0 || node >= numNodes {
				return nil, errors.Errorf("AggregateEdges: hyperedge #%d has node %d out of range [0, %d)",
					edgeIdx, node, numNodes)
			}
			floats.Add(row, mat.Row(nil, node, features))
		}
		if len(edge) > 1 {
			floats.Scale(1/float64(len(edge)), row)
		}
		out.SetRow(edgeIdx, row)
	}
	return out, nil
}

// EncodeMembership returns the [numEdges, numNodes] membership matrix of the hyperedges:
// entry (e, n) is 1 if node n is a member of hyperedge e, 0 otherwise.
//
// Rows after len(edges) are left empty. It fails if there are more hyperedges than numEdges or
// if a node index is out of range.
func EncodeMembership(edges [][]int, numEdges, numNodes int) (*mat.Dense, error) {
	if numEdges <= 0 || numNodes <= 0 {
		return nil, errors.Errorf("EncodeMembership: invalid dimensions numEdges=%d, numNodes=%d", numEdges, numNodes)
	}
	if len(edges) > numEdges {
		return nil, errors.Errorf("EncodeMembership: %d hyperedges given, but numEdges=%d", len(edges), numEdges)
	}
	out := mat.NewDense(numEdges, numNodes, nil)
	for edgeIdx, edge := range edges {
		for _, node := range edge {
			if node < 0 || node >= numNodes {
				return nil, errors.Errorf("EncodeMembership: hyperedge #%d has node %d out of range [0, %d)",
					edgeIdx, node, numNodes)
			}
			out.Set(edgeIdx, node, 1)
		}
	}
	return out, nil
}
