package boosting

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// modelFileName is the expected artifact inside each model folder.
const modelFileName = "model.json"

// LogisticModel is a serialized binary classifier: one weight per feature plus
// a bias. The on-disk format is an implementation detail of the model folder.
type LogisticModel struct {
	Weights   []float64 `json:"weights"`
	Bias      float64   `json:"bias"`
	Features  []int     `json:"feature_ids"`
	ModelInfo []string  `json:"model_info"`
}

var _ Model = (*LogisticModel)(nil)

// Predict implements Model.
func (m *LogisticModel) Predict(features [][]float64) (labels []int, probabilities [][]float64, err error) {
	labels = make([]int, 0, len(features))
	probabilities = make([][]float64, 0, len(features))
	for _, row := range features {
		if len(row) != len(m.Weights) {
			return nil, nil, fmt.Errorf("feature row has %d values, model expects %d", len(row), len(m.Weights))
		}
		z := m.Bias
		for i, v := range row {
			z += m.Weights[i] * v
		}
		p := 1 / (1 + math.Exp(-z))
		label := 0
		if p >= 0.5 {
			label = 1
		}
		labels = append(labels, label)
		probabilities = append(probabilities, []float64{1 - p, p})
	}
	return labels, probabilities, nil
}

// FeatureIDs implements Model.
func (m *LogisticModel) FeatureIDs() []int { return m.Features }

// Info implements Model.
func (m *LogisticModel) Info() []string { return m.ModelInfo }

// defaultModel is used when no model artifact is available: it accepts an
// issue type when its aggregate evidence clears a fixed bar. Keeps the
// pipeline usable on a fresh deployment with no trained models.
func defaultModel() *LogisticModel {
	return &LogisticModel{
		Weights:   []float64{2.0, 4.0},
		Bias:      -3.0,
		Features:  []int{0, 1},
		ModelInfo: []string{"default_model"},
	}
}

// FilesystemModelChooser loads models from the boost model folder. Layout:
//
//	<folder>/<kind>/model.json                    — global model
//	<folder>/<kind>/project_<id>/model.json       — project-specific model
//
// A project-specific model is picked with probability customModelProb when it
// exists; otherwise the global model; otherwise the built-in default. Loaded
// models are cached for the lifetime of the chooser.
type FilesystemModelChooser struct {
	folder string
	randFn func() float64

	mu    sync.Mutex
	cache map[string]Model
}

var _ ModelChooser = (*FilesystemModelChooser)(nil)

// NewFilesystemModelChooser creates a chooser over folder. folder may be
// empty; every choice then falls back to the default model.
func NewFilesystemModelChooser(folder string) *FilesystemModelChooser {
	return &FilesystemModelChooser{
		folder: folder,
		randFn: rand.Float64,
		cache:  make(map[string]Model),
	}
}

// ChooseModel implements ModelChooser.
func (c *FilesystemModelChooser) ChooseModel(project int64, kind ModelKind, customModelProb float64) (Model, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.folder == "" {
		return defaultModel(), nil
	}

	if customModelProb > 0 && c.randFn() < customModelProb {
		customPath := filepath.Join(c.folder, string(kind), "project_"+strconv.FormatInt(project, 10))
		if model, err := c.loadCached(customPath); err == nil {
			return model, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	globalPath := filepath.Join(c.folder, string(kind))
	model, err := c.loadCached(globalPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultModel(), nil
		}
		return nil, err
	}
	return model, nil
}

func (c *FilesystemModelChooser) loadCached(dir string) (Model, error) {
	if model, ok := c.cache[dir]; ok {
		return model, nil
	}
	data, err := os.ReadFile(filepath.Join(dir, modelFileName))
	if err != nil {
		return nil, err
	}
	var model LogisticModel
	if err := json.Unmarshal(data, &model); err != nil {
		return nil, fmt.Errorf("failed to parse model %q: %w", dir, err)
	}
	c.cache[dir] = &model
	return &model, nil
}
