package ranking

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestNDCG(t *testing.T) {
	truth := mat.NewDense(1, 3, []float64{1, 0, 0})
	scores := mat.NewDense(1, 3, []float64{0.1, 0.5, 0.2})
	got, err := NDCG(truth, scores, 0)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, got, 1e-9)

	got, err = NDCG(truth, scores, 2)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, got, 1e-9)

	t.Run("Ties", func(t *testing.T) {
		scores := mat.NewDense(1, 3, []float64{0.5, 0.5, 0.1})
		got, err := NDCG(truth, scores, 0)
		require.NoError(t, err)
		assert.InDelta(t, 0.5*(1+1/math.Log2(3)), got, 1e-9)
	})

	t.Run("MultipleRelevant", func(t *testing.T) {
		truth := mat.NewDense(2, 4, []float64{
			1, 1, 0, 0,
			0, 0, 0, 0,
		})
		scores := mat.NewDense(2, 4, []float64{
			0.9, 0.1, 0.8, 0.2,
			0.1, 0.2, 0.3, 0.4,
		})
		got, err := NDCG(truth, scores, 0)
		require.NoError(t, err)
		ideal := 1 + 1/math.Log2(3)
		dcg := 1 + 1/math.Log2(5)
		// Rows without relevant columns count as 0.
		assert.InDelta(t, dcg/ideal/2, got, 1e-9)
	})

	t.Run("Errors", func(t *testing.T) {
		_, err := NDCG(truth, mat.NewDense(1, 2, nil), 0)
		require.Error(t, err)
		_, err = NDCG(mat.NewDense(1, 3, []float64{-1, 0, 0}), scores, 0)
		require.Error(t, err)
		_, err = NDCG(mat.NewDense(1, 1, []float64{1}), mat.NewDense(1, 1, []float64{1}), 0)
		require.Error(t, err)
	})
}

func TestAccuracy(t *testing.T) {
	truth := mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, 1, 0,
		0, 0, 1,
	})
	scores := mat.NewDense(3, 3, []float64{
		0.7, 0.2, 0.1,
		0.7, 0.2, 0.1,
		0.3, 0.3, 0.3,
	})
	got, err := Accuracy(truth, scores)
	require.NoError(t, err)
	assert.InDelta(t, 1.0/3.0, got, 1e-9)

	for k, want := range map[int]float64{1: 2.0 / 3.0, 2: 1, 3: 1} {
		got, err = TopKAccuracy(truth, scores, k)
		require.NoError(t, err)
		assert.InDelta(t, want, got, 1e-9, "top-%d accuracy", k)
	}

	// Ties are broken in favor of higher column indices.
	tied := mat.NewDense(1, 3, []float64{1, 1, 1})
	got, err = TopKAccuracy(mat.NewDense(1, 3, []float64{1, 0, 0}), tied, 2)
	require.NoError(t, err)
	assert.Equal(t, 0.0, got)
	got, err = TopKAccuracy(mat.NewDense(1, 3, []float64{0, 0, 1}), tied, 1)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got)

	_, err = TopKAccuracy(truth, scores, 0)
	require.Error(t, err)
}

func TestCandidateMatrices(t *testing.T) {
	// 3 samples with 1 positive and 4 negatives each, positive always ranked first.
	rng := rand.New(rand.NewPCG(1, 2))
	const nSamples, nCandidates = 3, 5
	predictions := make([]float64, 0, nSamples*nCandidates)
	for range nSamples {
		predictions = append(predictions, 10+rng.Float64())
		for range nCandidates - 1 {
			predictions = append(predictions, rng.Float64())
		}
	}
	truth, scores, err := CandidateMatrices(predictions, nSamples)
	require.NoError(t, err)
	rows, cols := scores.Dims()
	assert.Equal(t, nSamples, rows)
	assert.Equal(t, nCandidates, cols)
	for row := range nSamples {
		assert.Equal(t, 1.0, truth.At(row, 0))
		assert.Equal(t, predictions[row*nCandidates], scores.At(row, 0))
	}

	results, err := EvaluateCandidates(predictions, nSamples, "valid")
	require.NoError(t, err)
	assert.Len(t, results, 10)
	for name, value := range results {
		assert.InDelta(t, 1.0, value, 1e-9, "metric %q", name)
	}

	_, _, err = CandidateMatrices(predictions[:len(predictions)-1], nSamples)
	require.Error(t, err)
	_, _, err = CandidateMatrices(predictions, 0)
	require.Error(t, err)
}

func TestEvaluateKeys(t *testing.T) {
	truth := mat.NewDense(2, 3, []float64{1, 0, 0, 0, 1, 1})
	scores := mat.NewDense(2, 3, []float64{0.2, 0.3, 0.1, 0.1, 0.5, 0.9})
	results, err := Evaluate(truth, scores, "test")
	require.NoError(t, err)
	for _, key := range []string{
		"test_ndcg", "test_ndcg_3", "test_ndcg_5", "test_ndcg_10", "test_ndcg_15",
		"test_acc", "test_acc_3", "test_acc_5", "test_acc_10", "test_acc_15",
	} {
		assert.Contains(t, results, key)
	}
	assert.InDelta(t, 0.0, results["test_acc"], 1e-9)
	assert.InDelta(t, 1.0, results["test_acc_3"], 1e-9)
}
