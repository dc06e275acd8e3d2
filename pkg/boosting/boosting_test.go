package boosting

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/WarmUp-Consulting-Organization/service-auto-analyzer/pkg/models"
)

func TestChooseIssueType(t *testing.T) {
	names := []string{"ab001", "pb001", "ti001"}
	scores := map[string]IssueTypeScore{
		"ab001": {Score: 0.2},
		"pb001": {Score: 0.7},
		"ti001": {Score: 0.1},
	}

	t.Run("highest positive probability wins", func(t *testing.T) {
		winner := ChooseIssueType(
			[]int{1, 1, 0},
			[][]float64{{0.4, 0.6}, {0.1, 0.9}, {0.8, 0.2}},
			names, scores)
		assert.Equal(t, "pb001", winner)
	})

	t.Run("probability ties break on aggregate score", func(t *testing.T) {
		winner := ChooseIssueType(
			[]int{1, 1, 0},
			[][]float64{{0.2, 0.8}, {0.2, 0.8}, {0.9, 0.1}},
			names, scores)
		assert.Equal(t, "pb001", winner)
	})

	t.Run("no positive label yields empty", func(t *testing.T) {
		winner := ChooseIssueType(
			[]int{0, 0, 0},
			[][]float64{{0.9, 0.1}, {0.8, 0.2}, {0.7, 0.3}},
			names, scores)
		assert.Empty(t, winner)
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Empty(t, ChooseIssueType(nil, nil, nil, nil))
	})
}

func TestNoopNamespaceFinder(t *testing.T) {
	assert.Nil(t, NoopNamespaceFinder{}.ChosenNamespaces(42))
}

func hitWithType(issueType string, score float64, testItem int64) models.Hit {
	return models.Hit{
		Score: score,
		Source: models.LogSource{
			TestItem:  testItem,
			IssueType: issueType,
			Message:   "connection refused by host",
		},
	}
}
