package main

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrainingMetricsRecord(t *testing.T) {
	m := NewTrainingMetrics()
	m.Record(1, 0.9, 0.8, 0.0016)
	m.Record(2, 0.6, 0.55, 0.0008)

	assert.Equal(t, []int{1, 2}, m.Evals)
	assert.Equal(t, []float64{0.9, 0.6}, m.TrainLoss)
	assert.Equal(t, []float64{0.8, 0.55}, m.ValLoss)
	assert.Equal(t, []float64{0.0016, 0.0008}, m.LR)
}

func TestSaveHTML(t *testing.T) {
	m := NewTrainingMetrics()
	m.Record(1, 0.9, 0.8, 0.0016)
	m.Record(2, 0.6, 0.55, 0.0016)
	m.Record(3, 0.4, 0.5, 0.0008)

	path := filepath.Join(t.TempDir(), "train_layer1.html")
	require.NoError(t, m.SaveHTML(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	html := string(data)

	assert.Contains(t, html, "Probe Training Curve")
	assert.Contains(t, html, "[1,2,3]", "eval indexes")
	assert.Contains(t, html, "[0.9,0.6,0.4]", "train loss series")
	assert.Contains(t, html, "[0.8,0.55,0.5]", "validation loss series")
	assert.Contains(t, html, "[0.0016,0.0016,0.0008]", "learning rate series")

	// Summary cards: best validation loss and the final LR.
	assert.Contains(t, html, "0.5000")
	assert.Contains(t, html, "8.00e-04")
}

func TestSaveHTMLEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.html")

	err := NewTrainingMetrics().SaveHTML(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no metrics to save")

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestFormatJSArray(t *testing.T) {
	assert.Equal(t, "[]", formatJSArray(nil))
	assert.Equal(t, "[7]", formatJSArray([]int{7}))
	assert.Equal(t, "[1,2,3]", formatJSArray([]int{1, 2, 3}))
}

func TestFormatJSArrayFloat(t *testing.T) {
	assert.Equal(t, "[]", formatJSArrayFloat(nil))
	assert.Equal(t, "[0.5]", formatJSArrayFloat([]float64{0.5}))

	// Non-finite values have no JSON spelling and must not leak through.
	got := formatJSArrayFloat([]float64{0.5, math.NaN(), math.Inf(1), math.Inf(-1), 1234567})
	assert.Equal(t, "[0.5,null,1e308,-1e308,1.23457e+06]", got)
}
