package boosting

import (
	"sort"

	"github.com/WarmUp-Consulting-Organization/service-auto-analyzer/pkg/models"
	"github.com/WarmUp-Consulting-Organization/service-auto-analyzer/pkg/similarity"
)

// WeightedSimilarityFeaturizer gathers per-issue-type features from the hit
// pools using the weighted similarity scorer. Feature ids index the fixed
// feature vector below; unknown ids are ignored.
//
// Feature vector per issue type:
//
//	0: normalized aggregate backend score
//	1: max message similarity between the queried log and hits of this type
//	2: max merged-small-logs similarity
//	3: share of hits carrying this issue type
//	4: max detected-message similarity
type WeightedSimilarityFeaturizer struct {
	scorer *similarity.Scorer
}

// NewWeightedSimilarityFeaturizer creates a featurizer over the given scorer.
func NewWeightedSimilarityFeaturizer(scorer *similarity.Scorer) *WeightedSimilarityFeaturizer {
	return &WeightedSimilarityFeaturizer{scorer: scorer}
}

var _ Featurizer = (*WeightedSimilarityFeaturizer)(nil)

const featureCount = 5

type issueTypeAccumulator struct {
	totalScore       float64
	hitCount         int
	maxMessageSim    float64
	maxMergedSim     float64
	maxDetectedSim   float64
	mrHit            models.Hit
	mrHitScore       float64
	mrHitInitialized bool
}

// GatherFeatures implements Featurizer.
func (f *WeightedSimilarityFeaturizer) GatherFeatures(candidates []models.CandidatePair, cfg Config, featureIDs []int) (FeaturizerResult, error) {
	accumulators := make(map[string]*issueTypeAccumulator)
	var allScores float64
	var totalHits int

	for _, pair := range candidates {
		for _, hit := range pair.Hits {
			if hit.Source.IssueType == "" {
				continue
			}
			acc, ok := accumulators[hit.Source.IssueType]
			if !ok {
				acc = &issueTypeAccumulator{}
				accumulators[hit.Source.IssueType] = acc
			}
			acc.totalScore += hit.Score
			acc.hitCount++
			allScores += hit.Score
			totalHits++
			if !acc.mrHitInitialized || hit.Score > acc.mrHitScore {
				acc.mrHit = hit
				acc.mrHitScore = hit.Score
				acc.mrHitInitialized = true
			}

			msgScore := f.fieldSimilarity(pair.Log.Source.Message, hit.Source.Message,
				pair.Log.Source.MergedSmallLogs, hit.Source.MergedSmallLogs)
			if msgScore > acc.maxMessageSim {
				acc.maxMessageSim = msgScore
			}
			mergedScore := f.scorer.Score(pair.Log.Source.MergedSmallLogs, hit.Source.MergedSmallLogs)
			if !mergedScore.BothEmpty && mergedScore.Similarity > acc.maxMergedSim {
				acc.maxMergedSim = mergedScore.Similarity
			}
			detectedScore := f.scorer.Score(pair.Log.Source.DetectedMessage, hit.Source.DetectedMessage)
			if !detectedScore.BothEmpty && detectedScore.Similarity > acc.maxDetectedSim {
				acc.maxDetectedSim = detectedScore.Similarity
			}
		}
	}

	names := make([]string, 0, len(accumulators))
	for name := range accumulators {
		names = append(names, name)
	}
	sort.Strings(names)

	result := FeaturizerResult{
		IssueTypeNames:    names,
		ScoresByIssueType: make(map[string]IssueTypeScore, len(names)),
	}
	for _, name := range names {
		acc := accumulators[name]
		normalizedScore := 0.0
		if allScores > 0 {
			normalizedScore = acc.totalScore / allScores
		}
		hitShare := 0.0
		if totalHits > 0 {
			hitShare = float64(acc.hitCount) / float64(totalHits)
		}
		full := []float64{
			normalizedScore,
			acc.maxMessageSim,
			acc.maxMergedSim,
			hitShare,
			acc.maxDetectedSim,
		}
		result.FeatureMatrix = append(result.FeatureMatrix, selectFeatures(full, featureIDs))
		result.ScoresByIssueType[name] = IssueTypeScore{Score: normalizedScore, MrHit: acc.mrHit}
	}
	return result, nil
}

// fieldSimilarity scores messages, falling back to merged_small_logs when both
// messages are empty.
func (f *WeightedSimilarityFeaturizer) fieldSimilarity(queriedMsg, hitMsg, queriedMerged, hitMerged string) float64 {
	score := f.scorer.Score(queriedMsg, hitMsg)
	if score.BothEmpty {
		score = f.scorer.Score(queriedMerged, hitMerged)
		if score.BothEmpty {
			return 0
		}
	}
	return score.Similarity
}

func selectFeatures(full []float64, featureIDs []int) []float64 {
	if len(featureIDs) == 0 {
		return full
	}
	selected := make([]float64, 0, len(featureIDs))
	for _, id := range featureIDs {
		if id >= 0 && id < len(full) {
			selected = append(selected, full[id])
		}
	}
	return selected
}
