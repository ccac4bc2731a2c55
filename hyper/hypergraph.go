// Package hyper holds the hypergraph structures used by the models: the hypergraph itself,
// its clique expansion and the sparse propagation operators derived from them.
//
// It also implements the two host-side read-outs used by the link prediction tasks:
// AggregateEdges (mean pooling of member features into one embedding per hyperedge) and
// EncodeMembership (multi-hot membership targets).
package hyper

import (
	"fmt"
	"math"
	"slices"

	"github.com/pkg/errors"
)

// Hypergraph over NumNodes vertices. Each hyperedge is a sorted set of vertex indices.
type Hypergraph struct {
	NumNodes int
	Edges    [][]int
}

// New creates a Hypergraph, validating vertex indices and normalizing each hyperedge into
// a sorted set. Empty hyperedges are not allowed.
//
// Hyperedges with the same set of vertices are merged into one, so the hypergraph may have fewer
// hyperedges than given.
func New(numNodes int, edges [][]int) (*Hypergraph, error) {
	if numNodes <= 0 {
		return nil, errors.Errorf("hypergraph needs at least one vertex, got numNodes=%d", numNodes)
	}
	h := &Hypergraph{NumNodes: numNodes, Edges: make([][]int, 0, len(edges))}
	seen := make(map[string]struct{}, len(edges))
	for edgeIdx, edge := range edges {
		if len(edge) == 0 {
			return nil, errors.Errorf("hyperedge #%d is empty", edgeIdx)
		}
		members := slices.Clone(edge)
		for _, node := range members {
			if node < 0 || node >= numNodes {
				return nil, errors.Errorf("hyperedge #%d has vertex %d out of range [0, %d)", edgeIdx, node, numNodes)
			}
		}
		slices.Sort(members)
		members = slices.Compact(members)
		key := fmt.Sprint(members)
		if _, found := seen[key]; found {
			continue
		}
		seen[key] = struct{}{}
		h.Edges = append(h.Edges, members)
	}
	return h, nil
}

// NumEdges returns the number of hyperedges.
func (h *Hypergraph) NumEdges() int { return len(h.Edges) }

// VertexDegrees returns the number of hyperedges incident to each vertex.
func (h *Hypergraph) VertexDegrees() []float64 {
	degrees := make([]float64, h.NumNodes)
	for _, edge := range h.Edges {
		for _, node := range edge {
			degrees[node]++
		}
	}
	return degrees
}

// EdgeDegrees returns the cardinality of each hyperedge.
func (h *Hypergraph) EdgeDegrees() []float64 {
	degrees := make([]float64, len(h.Edges))
	for ii, edge := range h.Edges {
		degrees[ii] = float64(len(edge))
	}
	return degrees
}

// Incidence is the vertex-hyperedge incidence structure with the scaling factors for one
// round of vertex->hyperedge->vertex message passing:
//
//	out = diag(NodeScaleOut) · H · diag(EdgeScale) · Hᵀ · diag(NodeScaleIn) · x
//
// H is [NumNodes, NumEdges], with one non-zero per (Nodes[i], Edges[i]) pair.
type Incidence struct {
	NumNodes, NumEdges int
	Nodes, Edges       []int32

	NodeScaleIn, EdgeScale, NodeScaleOut []float32
}

func (h *Hypergraph) incidence() *Incidence {
	inc := &Incidence{NumNodes: h.NumNodes, NumEdges: len(h.Edges)}
	for edgeIdx, edge := range h.Edges {
		for _, node := range edge {
			inc.Nodes = append(inc.Nodes, int32(node))
			inc.Edges = append(inc.Edges, int32(edgeIdx))
		}
	}
	return inc
}

// HGNNOperator returns the incidence for the HGNN smoothing Dv^-1/2 H De^-1 Hᵀ Dv^-1/2.
// Isolated vertices get a zero scale.
func (h *Hypergraph) HGNNOperator() *Incidence {
	inc := h.incidence()
	invSqrtDv := inversePower(h.VertexDegrees(), -0.5)
	inc.NodeScaleIn = invSqrtDv
	inc.NodeScaleOut = invSqrtDv
	inc.EdgeScale = inversePower(h.EdgeDegrees(), -1)
	return inc
}

// HGNNPOperator returns the incidence for the HGNN+ two-stage mean Dv^-1 H De^-1 Hᵀ:
// hyperedges average their vertices, then vertices average their hyperedges.
func (h *Hypergraph) HGNNPOperator() *Incidence {
	inc := h.incidence()
	inc.NodeScaleIn = make([]float32, h.NumNodes)
	for ii := range inc.NodeScaleIn {
		inc.NodeScaleIn[ii] = 1
	}
	inc.EdgeScale = inversePower(h.EdgeDegrees(), -1)
	inc.NodeScaleOut = inversePower(h.VertexDegrees(), -1)
	return inc
}

// inversePower returns values^power, with 0 for zero entries.
func inversePower(values []float64, power float64) []float32 {
	out := make([]float32, len(values))
	for ii, v := range values {
		if v > 0 {
			out[ii] = float32(math.Pow(v, power))
		}
	}
	return out
}
