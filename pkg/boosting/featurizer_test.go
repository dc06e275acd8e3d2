package boosting

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WarmUp-Consulting-Organization/service-auto-analyzer/pkg/models"
	"github.com/WarmUp-Consulting-Organization/service-auto-analyzer/pkg/similarity"
)

func TestGatherFeatures(t *testing.T) {
	f := NewWeightedSimilarityFeaturizer(similarity.NewScorer(nil, 0))
	queried := models.LogDocument{Source: models.LogSource{
		Message: "connection refused by host",
	}}

	t.Run("aggregates per issue type", func(t *testing.T) {
		pairs := []models.CandidatePair{{
			Log: queried,
			Hits: []models.Hit{
				hitWithType("pb001", 6, 55),
				hitWithType("pb001", 2, 56),
				hitWithType("ab001", 2, 57),
			},
		}}
		result, err := f.GatherFeatures(pairs, Config{}, nil)
		require.NoError(t, err)

		assert.Equal(t, []string{"ab001", "pb001"}, result.IssueTypeNames, "names are sorted")
		require.Len(t, result.FeatureMatrix, 2)

		pb := result.ScoresByIssueType["pb001"]
		assert.InDelta(t, 0.8, pb.Score, 1e-9, "pb001 holds 8 of 10 total score")
		assert.Equal(t, int64(55), pb.MrHit.Source.TestItem, "most relevant hit has the top score")

		// Full feature rows: identical messages give similarity 1.
		pbRow := result.FeatureMatrix[1]
		require.Len(t, pbRow, 5)
		assert.InDelta(t, 0.8, pbRow[0], 1e-9)
		assert.InDelta(t, 1.0, pbRow[1], 1e-9)
	})

	t.Run("feature selection respects ids", func(t *testing.T) {
		pairs := []models.CandidatePair{{
			Log:  queried,
			Hits: []models.Hit{hitWithType("pb001", 6, 55)},
		}}
		result, err := f.GatherFeatures(pairs, Config{}, []int{1, 3})
		require.NoError(t, err)
		require.Len(t, result.FeatureMatrix, 1)
		assert.Len(t, result.FeatureMatrix[0], 2)
	})

	t.Run("hits without issue type are skipped", func(t *testing.T) {
		pairs := []models.CandidatePair{{
			Log:  queried,
			Hits: []models.Hit{{Score: 5}},
		}}
		result, err := f.GatherFeatures(pairs, Config{}, nil)
		require.NoError(t, err)
		assert.Empty(t, result.FeatureMatrix)
	})

	t.Run("no candidates", func(t *testing.T) {
		result, err := f.GatherFeatures(nil, Config{}, nil)
		require.NoError(t, err)
		assert.Empty(t, result.FeatureMatrix)
		assert.Empty(t, result.IssueTypeNames)
	})
}
