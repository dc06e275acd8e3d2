// Package similarity computes weighted-cosine similarity between log fields.
// Token weights come from an external artifact folder; absent weights default
// to 1, so the scorer degrades to plain cosine similarity.
package similarity

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/WarmUp-Consulting-Organization/service-auto-analyzer/pkg/logprep"
)

// WeightsFileName is the expected artifact file inside SimilarityWeightsFolder.
const WeightsFileName = "weights.json"

// similarityDriftEpsilon absorbs the few ulps of float error the cosine can
// land below 1 on identical inputs.
const similarityDriftEpsilon = 1e-9

// Score is the result of comparing two token strings.
type Score struct {
	// Similarity is the weighted cosine similarity in [0,1].
	Similarity float64
	// BothEmpty is true when both inputs have no tokens; Similarity is then 0
	// and callers fall back to a secondary field.
	BothEmpty bool
}

// Scorer computes symmetric similarity scores over tokenized fields.
type Scorer struct {
	weights       map[string]float64
	minWordLength int
}

// NewScorer builds a scorer. weights may be nil (uniform weights).
func NewScorer(weights map[string]float64, minWordLength int) *Scorer {
	return &Scorer{weights: weights, minWordLength: minWordLength}
}

// LoadWeights reads the weights artifact from folder. A missing folder or file
// is not an error: nil weights are returned and the scorer stays uniform.
func LoadWeights(folder string) (map[string]float64, error) {
	if folder == "" {
		return nil, nil
	}
	data, err := os.ReadFile(filepath.Join(folder, WeightsFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read similarity weights: %w", err)
	}
	var weights map[string]float64
	if err := json.Unmarshal(data, &weights); err != nil {
		return nil, fmt.Errorf("failed to parse similarity weights: %w", err)
	}
	return weights, nil
}

func (s *Scorer) weight(token string) float64 {
	if s.weights == nil {
		return 1
	}
	if w, ok := s.weights[token]; ok {
		return w
	}
	return 1
}

// Score compares two token strings and returns their weighted cosine
// similarity. The score is symmetric in its arguments.
func (s *Scorer) Score(first, second string) Score {
	a := s.vector(first)
	b := s.vector(second)
	if len(a) == 0 && len(b) == 0 {
		return Score{BothEmpty: true}
	}
	if len(a) == 0 || len(b) == 0 {
		return Score{}
	}
	var dot, normA, normB float64
	for token, countA := range a {
		w := s.weight(token)
		wa := w * countA
		normA += wa * wa
		if countB, ok := b[token]; ok {
			dot += wa * w * countB
		}
	}
	for token, countB := range b {
		w := s.weight(token)
		wb := w * countB
		normB += wb * wb
	}
	if normA == 0 || normB == 0 {
		return Score{}
	}
	sim := dot / math.Sqrt(normA*normB)
	// Snap float drift at the boundary so identical inputs score exactly 1
	// and survive a 100% threshold.
	if sim > 1-similarityDriftEpsilon {
		sim = 1
	}
	return Score{Similarity: sim}
}

func (s *Scorer) vector(text string) map[string]float64 {
	tokens := logprep.SplitWords(text, s.minWordLength)
	if len(tokens) == 0 {
		return nil
	}
	vec := make(map[string]float64, len(tokens))
	for _, tok := range tokens {
		vec[tok]++
	}
	return vec
}
