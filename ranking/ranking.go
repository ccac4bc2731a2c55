// Package ranking implements the ranking metrics used to evaluate link and attribute predictions:
// normalized discounted cumulative gain (NDCG), accuracy and top-k accuracy.
//
// All metrics take a ground-truth matrix and a score matrix of the same shape [n, m]: each row is
// one query (a node or a hyperedge), each column one candidate (a feature or a node). The semantics
// follow scikit-learn's ndcg_score, accuracy_score and top_k_accuracy_score, so numbers are
// comparable with results reported by Python pipelines.
package ranking

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Ks are the cut-offs reported by Evaluate, besides the un-truncated metrics.
var Ks = []int{3, 5, 10, 15}

func checkShapes(truth, scores mat.Matrix) (rows, cols int, err error) {
	rows, cols = truth.Dims()
	sRows, sCols := scores.Dims()
	if rows != sRows || cols != sCols {
		return 0, 0, errors.Errorf("truth shape [%d, %d] and scores shape [%d, %d] differ", rows, cols, sRows, sCols)
	}
	if rows == 0 {
		return 0, 0, errors.New("no rows to evaluate")
	}
	return
}

// NDCG returns the mean normalized discounted cumulative gain over the rows, truncated at the top k
// positions (k <= 0 means no truncation).
//
// Tied scores share the average gain of the tie group. Rows whose ideal DCG is 0 (no relevant
// column) score 0. Truth values must be non-negative.
func NDCG(truth, scores mat.Matrix, k int) (float64, error) {
	rows, cols, err := checkShapes(truth, scores)
	if err != nil {
		return 0, errors.WithMessage(err, "NDCG")
	}
	if cols < 2 {
		return 0, errors.Errorf("NDCG is only meaningful with more than one column, got %d", cols)
	}
	if k <= 0 || k > cols {
		k = cols
	}
	discounts := make([]float64, cols)
	for ii := range k {
		discounts[ii] = 1 / math.Log2(float64(ii)+2)
	}

	truthRow := make([]float64, cols)
	scoreRow := make([]float64, cols)
	var total float64
	for row := range rows {
		mat.Row(truthRow, row, truth)
		mat.Row(scoreRow, row, scores)
		for _, v := range truthRow {
			if v < 0 {
				return 0, errors.Errorf("NDCG requires non-negative truth values, got %g at row %d", v, row)
			}
		}
		ideal := idealDCG(truthRow, discounts)
		if ideal == 0 {
			continue
		}
		total += tieAveragedDCG(truthRow, scoreRow, discounts) / ideal
	}
	return total / float64(rows), nil
}

// idealDCG is the DCG of the truth values sorted in decreasing order.
func idealDCG(truth, discounts []float64) float64 {
	sorted := slices.Clone(truth)
	slices.SortFunc(sorted, func(a, b float64) int { return cmp.Compare(b, a) })
	return floats.Dot(sorted, discounts)
}

// tieAveragedDCG ranks the columns by decreasing score. Each group of tied scores contributes the
// mean gain of the group times the sum of the discounts of the positions it occupies.
func tieAveragedDCG(truth, scores, discounts []float64) float64 {
	order := make([]int, len(scores))
	for ii := range order {
		order[ii] = ii
	}
	slices.SortStableFunc(order, func(a, b int) int { return cmp.Compare(scores[b], scores[a]) })

	var dcg float64
	for start := 0; start < len(order); {
		end := start + 1
		for end < len(order) && scores[order[end]] == scores[order[start]] {
			end++
		}
		var gain, discount float64
		for _, col := range order[start:end] {
			gain += truth[col]
		}
		for pos := start; pos < end; pos++ {
			discount += discounts[pos]
		}
		dcg += gain / float64(end-start) * discount
		start = end
	}
	return dcg
}

// argMax returns the index of the first maximum value.
func argMax(values []float64) int {
	best := 0
	for ii, v := range values {
		if v > values[best] {
			best = ii
		}
	}
	return best
}

// Accuracy returns the fraction of rows where the first highest-scored column is the first
// highest truth column.
func Accuracy(truth, scores mat.Matrix) (float64, error) {
	rows, cols, err := checkShapes(truth, scores)
	if err != nil {
		return 0, errors.WithMessage(err, "Accuracy")
	}
	truthRow := make([]float64, cols)
	scoreRow := make([]float64, cols)
	var hits int
	for row := range rows {
		mat.Row(truthRow, row, truth)
		mat.Row(scoreRow, row, scores)
		if argMax(truthRow) == argMax(scoreRow) {
			hits++
		}
	}
	return float64(hits) / float64(rows), nil
}

// TopKAccuracy returns the fraction of rows where the first highest truth column is among the k
// highest scored columns. Columns with equal scores are ranked by decreasing column index.
func TopKAccuracy(truth, scores mat.Matrix, k int) (float64, error) {
	rows, cols, err := checkShapes(truth, scores)
	if err != nil {
		return 0, errors.WithMessage(err, "TopKAccuracy")
	}
	if k <= 0 {
		return 0, errors.Errorf("TopKAccuracy: k must be positive, got %d", k)
	}
	truthRow := make([]float64, cols)
	scoreRow := make([]float64, cols)
	var hits int
	for row := range rows {
		mat.Row(truthRow, row, truth)
		mat.Row(scoreRow, row, scores)
		target := argMax(truthRow)
		targetScore := scoreRow[target]
		var rank int
		for col, score := range scoreRow {
			if score > targetScore || (score == targetScore && col > target) {
				rank++
			}
		}
		if rank < k {
			hits++
		}
	}
	return float64(hits) / float64(rows), nil
}

// Evaluate computes all metrics for one split, keyed by "<prefix>_ndcg", "<prefix>_ndcg_<k>",
// "<prefix>_acc" and "<prefix>_acc_<k>" for each k in Ks.
func Evaluate(truth, scores mat.Matrix, prefix string) (map[string]float64, error) {
	results := make(map[string]float64, 2+2*len(Ks))
	var err error
	if results[prefix+"_ndcg"], err = NDCG(truth, scores, 0); err != nil {
		return nil, err
	}
	if results[prefix+"_acc"], err = Accuracy(truth, scores); err != nil {
		return nil, err
	}
	for _, k := range Ks {
		if results[fmt.Sprintf("%s_ndcg_%d", prefix, k)], err = NDCG(truth, scores, k); err != nil {
			return nil, err
		}
		if results[fmt.Sprintf("%s_acc_%d", prefix, k)], err = TopKAccuracy(truth, scores, k); err != nil {
			return nil, err
		}
	}
	return results, nil
}
