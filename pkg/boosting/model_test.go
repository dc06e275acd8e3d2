package boosting

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogisticModelPredict(t *testing.T) {
	model := &LogisticModel{
		Weights:   []float64{2, 4},
		Bias:      -3,
		Features:  []int{0, 1},
		ModelInfo: []string{"test_model"},
	}

	t.Run("strong evidence labels positive", func(t *testing.T) {
		labels, probs, err := model.Predict([][]float64{{1, 1}})
		require.NoError(t, err)
		assert.Equal(t, []int{1}, labels)
		assert.Greater(t, probs[0][1], 0.5)
		assert.InDelta(t, 1.0, probs[0][0]+probs[0][1], 1e-9)
	})

	t.Run("weak evidence labels negative", func(t *testing.T) {
		labels, probs, err := model.Predict([][]float64{{0.1, 0.1}})
		require.NoError(t, err)
		assert.Equal(t, []int{0}, labels)
		assert.Less(t, probs[0][1], 0.5)
	})

	t.Run("row length mismatch fails", func(t *testing.T) {
		_, _, err := model.Predict([][]float64{{1, 1, 1}})
		assert.Error(t, err)
	})
}

func writeModel(t *testing.T, dir string, model *LogisticModel) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	data, err := json.Marshal(model)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, modelFileName), data, 0o600))
}

func TestFilesystemModelChooser(t *testing.T) {
	t.Run("empty folder falls back to the default model", func(t *testing.T) {
		chooser := NewFilesystemModelChooser("")
		model, err := chooser.ChooseModel(1, AutoAnalysisModel, 1.0)
		require.NoError(t, err)
		assert.Equal(t, []string{"default_model"}, model.Info())
	})

	t.Run("missing artifacts fall back to the default model", func(t *testing.T) {
		chooser := NewFilesystemModelChooser(t.TempDir())
		model, err := chooser.ChooseModel(1, AutoAnalysisModel, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"default_model"}, model.Info())
	})

	t.Run("global model is used when present", func(t *testing.T) {
		folder := t.TempDir()
		writeModel(t, filepath.Join(folder, string(AutoAnalysisModel)), &LogisticModel{
			Weights: []float64{1}, Features: []int{0}, ModelInfo: []string{"global_model"},
		})
		chooser := NewFilesystemModelChooser(folder)
		model, err := chooser.ChooseModel(1, AutoAnalysisModel, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"global_model"}, model.Info())
	})

	t.Run("custom model wins under the probability", func(t *testing.T) {
		folder := t.TempDir()
		writeModel(t, filepath.Join(folder, string(AutoAnalysisModel)), &LogisticModel{
			Weights: []float64{1}, Features: []int{0}, ModelInfo: []string{"global_model"},
		})
		writeModel(t, filepath.Join(folder, string(AutoAnalysisModel), "project_1"), &LogisticModel{
			Weights: []float64{1}, Features: []int{0}, ModelInfo: []string{"custom_model"},
		})
		chooser := NewFilesystemModelChooser(folder)
		chooser.randFn = func() float64 { return 0.0 }

		model, err := chooser.ChooseModel(1, AutoAnalysisModel, 0.5)
		require.NoError(t, err)
		assert.Equal(t, []string{"custom_model"}, model.Info())
	})

	t.Run("custom model skipped above the probability", func(t *testing.T) {
		folder := t.TempDir()
		writeModel(t, filepath.Join(folder, string(AutoAnalysisModel)), &LogisticModel{
			Weights: []float64{1}, Features: []int{0}, ModelInfo: []string{"global_model"},
		})
		writeModel(t, filepath.Join(folder, string(AutoAnalysisModel), "project_1"), &LogisticModel{
			Weights: []float64{1}, Features: []int{0}, ModelInfo: []string{"custom_model"},
		})
		chooser := NewFilesystemModelChooser(folder)
		chooser.randFn = func() float64 { return 0.99 }

		model, err := chooser.ChooseModel(1, AutoAnalysisModel, 0.5)
		require.NoError(t, err)
		assert.Equal(t, []string{"global_model"}, model.Info())
	})

	t.Run("missing custom model falls through to global", func(t *testing.T) {
		folder := t.TempDir()
		writeModel(t, filepath.Join(folder, string(AutoAnalysisModel)), &LogisticModel{
			Weights: []float64{1}, Features: []int{0}, ModelInfo: []string{"global_model"},
		})
		chooser := NewFilesystemModelChooser(folder)
		chooser.randFn = func() float64 { return 0.0 }

		model, err := chooser.ChooseModel(1, AutoAnalysisModel, 1.0)
		require.NoError(t, err)
		assert.Equal(t, []string{"global_model"}, model.Info())
	})

	t.Run("malformed artifact is an error", func(t *testing.T) {
		folder := t.TempDir()
		dir := filepath.Join(folder, string(DefectTypeModel))
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, modelFileName), []byte("{"), 0o600))

		chooser := NewFilesystemModelChooser(folder)
		_, err := chooser.ChooseModel(1, DefectTypeModel, 0)
		assert.Error(t, err)
	})
}
