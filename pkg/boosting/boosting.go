// Package boosting hosts the ranking stage of auto-analysis: feature
// gathering over search candidates, the decision model abstraction, per
// project model selection, and the final issue-type choice.
package boosting

import (
	"github.com/WarmUp-Consulting-Organization/service-auto-analyzer/pkg/models"
)

// ModelKind selects which model family to load for a project.
type ModelKind string

// The two model kinds kept per project.
const (
	AutoAnalysisModel ModelKind = "auto_analysis_model"
	DefectTypeModel   ModelKind = "defect_type_model"
)

// Config carries the knobs the featurizer needs for one candidate batch.
type Config struct {
	MaxQueryTerms    int
	MinShouldMatch   float64 // fraction in [0,1]
	MinWordLength    int
	NumberOfLogLines int
	// FilterMinShouldMatch lists the fields a hit must match strictly before
	// it may contribute features.
	FilterMinShouldMatch []string
	// ChosenNamespaces are the per-project package namespaces used to weigh
	// stacktrace tokens.
	ChosenNamespaces map[string]int
}

// IssueTypeScore aggregates the evidence for one issue type across hits.
type IssueTypeScore struct {
	// Score is the normalized aggregate backend score.
	Score float64
	// MrHit is the most relevant hit carrying this issue type.
	MrHit models.Hit
}

// FeaturizerResult is what the featurizer hands to the model: one feature row
// per distinct issue type, aligned with IssueTypeNames.
type FeaturizerResult struct {
	FeatureMatrix     [][]float64
	IssueTypeNames    []string
	ScoresByIssueType map[string]IssueTypeScore
}

// Featurizer turns search candidates into the model's feature matrix.
type Featurizer interface {
	GatherFeatures(candidates []models.CandidatePair, cfg Config, featureIDs []int) (FeaturizerResult, error)
}

// Model is the boosting classifier abstraction.
type Model interface {
	// Predict returns one binary label and one [p0, p1] probability pair per
	// feature row.
	Predict(features [][]float64) (labels []int, probabilities [][]float64, err error)
	FeatureIDs() []int
	Info() []string
}

// ModelChooser resolves the model to use for a project. customModelProb is
// the probability of picking a project-specific model over the global one.
type ModelChooser interface {
	ChooseModel(project int64, kind ModelKind, customModelProb float64) (Model, error)
}

// NamespaceFinder resolves the chosen package namespaces of a project.
type NamespaceFinder interface {
	ChosenNamespaces(project int64) map[string]int
}

// NoopNamespaceFinder reports no chosen namespaces for any project.
type NoopNamespaceFinder struct{}

// ChosenNamespaces implements NamespaceFinder.
func (NoopNamespaceFinder) ChosenNamespaces(int64) map[string]int { return nil }

// ChooseIssueType picks the winning issue type: the positive label with the
// highest probability, ties broken by the per-issue-type aggregate score.
// Returns "" when no label is positive.
func ChooseIssueType(labels []int, probabilities [][]float64, issueTypeNames []string,
	scores map[string]IssueTypeScore) string {
	winner := ""
	bestProb := -1.0
	bestScore := -1.0
	for i, label := range labels {
		if label != 1 || i >= len(issueTypeNames) {
			continue
		}
		prob := 0.0
		if i < len(probabilities) && len(probabilities[i]) > 1 {
			prob = probabilities[i][1]
		}
		name := issueTypeNames[i]
		score := scores[name].Score
		if prob > bestProb || (prob == bestProb && score > bestScore) {
			winner = name
			bestProb = prob
			bestScore = score
		}
	}
	return winner
}
