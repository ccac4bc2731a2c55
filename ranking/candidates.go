package ranking

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// CandidateMatrices reshapes a flat list of per-candidate predictions into a score matrix
// [nSamples, candidates] and builds the matching truth matrix.
//
// Predictions must be laid out sample by sample, each sample being its true positive followed by
// its sampled negatives. So column 0 of every row is the true positive.
func CandidateMatrices(predictions []float64, nSamples int) (truth, scores *mat.Dense, err error) {
	if nSamples <= 0 {
		return nil, nil, errors.Errorf("CandidateMatrices: nSamples must be positive, got %d", nSamples)
	}
	if len(predictions) == 0 || len(predictions)%nSamples != 0 {
		return nil, nil, errors.Errorf("CandidateMatrices: %d predictions can't be split into %d samples",
			len(predictions), nSamples)
	}
	candidates := len(predictions) / nSamples
	scores = mat.NewDense(nSamples, candidates, append([]float64(nil), predictions...))
	truth = mat.NewDense(nSamples, candidates, nil)
	for row := range nSamples {
		truth.Set(row, 0, 1)
	}
	return truth, scores, nil
}

// EvaluateCandidates is Evaluate over the CandidateMatrices layout.
func EvaluateCandidates(predictions []float64, nSamples int, prefix string) (map[string]float64, error) {
	truth, scores, err := CandidateMatrices(predictions, nSamples)
	if err != nil {
		return nil, err
	}
	return Evaluate(truth, scores, prefix)
}
