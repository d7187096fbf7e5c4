package ml

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insiderwatch/internal/config"
)

func testDetector() *Detector {
	return New(config.Default().ML)
}

func cluster(n, dims int, seed int64) [][]float64 {
	rng := rand.New(rand.NewSource(seed))
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = make([]float64, dims)
		for f := range rows[i] {
			rows[i][f] = rng.NormFloat64()
		}
	}
	return rows
}

func TestInsufficientData(t *testing.T) {
	_, err := testDetector().FitScore(context.Background(), cluster(5, 4, 1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientData))
}

func TestOutlierStandsOut(t *testing.T) {
	rows := cluster(120, 6, 7)
	rows = append(rows, []float64{40, -40, 40, -40, 40, -40})

	res, err := testDetector().FitScore(context.Background(), rows)
	require.NoError(t, err)
	require.Len(t, res.Scores, len(rows))

	last := res.Scores[len(rows)-1]
	assert.True(t, last.Outlier)
	for i, s := range res.Scores[:len(rows)-1] {
		assert.Less(t, s.Raw, last.Raw, "row %d", i)
	}
	assert.Greater(t, last.Anomaly, 0.5)
}

func TestScoresAreBounded(t *testing.T) {
	rows := cluster(60, 3, 3)
	rows[10][1] = 1e300
	res, err := testDetector().FitScore(context.Background(), rows)
	require.NoError(t, err)
	for _, s := range res.Scores {
		assert.GreaterOrEqual(t, s.Anomaly, 0.0)
		assert.LessOrEqual(t, s.Anomaly, 1.0)
		assert.GreaterOrEqual(t, s.Confidence, 0.0)
		assert.LessOrEqual(t, s.Confidence, 1.0)
	}
}

func TestConfidenceOnIsolationScale(t *testing.T) {
	rows := cluster(80, 4, 5)
	rows = append(rows, []float64{25, -25, 25, -25})
	res, err := testDetector().FitScore(context.Background(), rows)
	require.NoError(t, err)
	for _, s := range res.Scores {
		assert.InDelta(t, math.Min(1, 2*math.Abs(s.Raw-res.Threshold)), s.Confidence, 1e-12)
	}
}

func TestDeterministic(t *testing.T) {
	rows := cluster(80, 5, 11)
	a, err := testDetector().FitScore(context.Background(), rows)
	require.NoError(t, err)
	b, err := testDetector().FitScore(context.Background(), rows)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestConstantBatchIsNeutral(t *testing.T) {
	rows := make([][]float64, 20)
	for i := range rows {
		rows[i] = []float64{1, 2, 3}
	}
	res, err := testDetector().FitScore(context.Background(), rows)
	require.NoError(t, err)
	for _, s := range res.Scores {
		assert.InDelta(t, 0.5, s.Anomaly, 1e-9)
		assert.Equal(t, 0.0, s.Confidence)
	}
}

func TestRaggedRowsRejected(t *testing.T) {
	rows := cluster(12, 3, 5)
	rows[4] = []float64{1}
	_, err := testDetector().FitScore(context.Background(), rows)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrInsufficientData))
}

func TestAveragePathLength(t *testing.T) {
	assert.Equal(t, 0.0, averagePathLength(1))
	assert.Equal(t, 1.0, averagePathLength(2))
	assert.InDelta(t, 10.24, averagePathLength(256), 0.01)
}
