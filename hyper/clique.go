package hyper

import (
	"cmp"
	"math"
	"slices"
)

// Graph is an undirected weighted graph, stored as the upper triangle (From < To) of its
// adjacency matrix.
type Graph struct {
	NumNodes int
	Weights  map[[2]int]float64
}

// Clique returns the clique expansion of the hypergraph: every pair of vertices sharing a
// hyperedge is connected, with weight equal to the number of hyperedges they share.
func (h *Hypergraph) Clique() *Graph {
	g := &Graph{NumNodes: h.NumNodes, Weights: make(map[[2]int]float64)}
	for _, edge := range h.Edges {
		for ii, from := range edge {
			for _, to := range edge[ii+1:] {
				g.Weights[[2]int{from, to}]++
			}
		}
	}
	return g
}

// NumEdges returns the number of distinct undirected edges.
func (g *Graph) NumEdges() int { return len(g.Weights) }

// Sparse is a matrix in coordinate format: entry (Rows[i], Cols[i]) holds Values[i].
// Repeated coordinates are summed.
type Sparse struct {
	NumRows, NumCols int
	Rows, Cols       []int32
	Values           []float32
}

// Dense returns the sparse matrix as a row-major [NumRows][NumCols] slice. Used for tests and
// debugging of small graphs.
func (s *Sparse) Dense() [][]float32 {
	dense := make([][]float32, s.NumRows)
	for ii := range dense {
		dense[ii] = make([]float32, s.NumCols)
	}
	for ii := range s.Values {
		dense[s.Rows[ii]][s.Cols[ii]] += s.Values[ii]
	}
	return dense
}

// GCNOperator returns the symmetric normalized adjacency with self-loops, D^-1/2 (A+I) D^-1/2,
// where D is the weighted degree of A+I.
func (g *Graph) GCNOperator() *Sparse {
	degrees := make([]float64, g.NumNodes)
	for ii := range degrees {
		degrees[ii] = 1 // Self-loop.
	}
	keys := make([][2]int, 0, len(g.Weights))
	for key, w := range g.Weights {
		degrees[key[0]] += w
		degrees[key[1]] += w
		keys = append(keys, key)
	}
	// Deterministic ordering of the coordinates.
	slices.SortFunc(keys, func(a, b [2]int) int {
		return cmp.Or(cmp.Compare(a[0], b[0]), cmp.Compare(a[1], b[1]))
	})

	invSqrt := make([]float64, g.NumNodes)
	for ii, d := range degrees {
		invSqrt[ii] = 1 / math.Sqrt(d)
	}
	nnz := g.NumNodes + 2*len(keys)
	s := &Sparse{
		NumRows: g.NumNodes, NumCols: g.NumNodes,
		Rows:   make([]int32, 0, nnz),
		Cols:   make([]int32, 0, nnz),
		Values: make([]float32, 0, nnz),
	}
	add := func(row, col int, value float64) {
		s.Rows = append(s.Rows, int32(row))
		s.Cols = append(s.Cols, int32(col))
		s.Values = append(s.Values, float32(value))
	}
	for node := range g.NumNodes {
		add(node, node, invSqrt[node]*invSqrt[node])
	}
	for _, key := range keys {
		value := g.Weights[key] * invSqrt[key[0]] * invSqrt[key[1]]
		add(key[0], key[1], value)
		add(key[1], key[0], value)
	}
	return s
}
