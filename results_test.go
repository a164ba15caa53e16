package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultsTableLayers(t *testing.T) {
	table := ResultsTable{
		3:  {F1: 0.3},
		1:  {F1: 0.1},
		2:  {F1: 0.2},
		10: {F1: 1.0},
	}
	// Numeric order, not the lexical "1", "10", "2", "3".
	assert.Equal(t, []int{1, 2, 3, 10}, table.Layers())
}

func TestResultsSaveLoadRoundTrip(t *testing.T) {
	table := ResultsTable{
		1: {Loss: 0.5, Accuracy: 0.8, F1: 0.75},
		2: {Loss: 0.4, Accuracy: 0.85, F1: 0.8},
		3: {Loss: 0.45, Accuracy: 0.82, F1: 0.78},
	}

	path := filepath.Join(t.TempDir(), "results.json")
	require.NoError(t, table.Save(path))

	loaded, err := LoadResults(path)
	require.NoError(t, err)
	assert.Equal(t, table, loaded)
}

func TestResultsFileKeysAreStrings(t *testing.T) {
	table := ResultsTable{
		1: {Loss: 0.5, Accuracy: 0.8, F1: 0.75},
		2: {Loss: 0.4, Accuracy: 0.85, F1: 0.8},
	}

	path := filepath.Join(t.TempDir(), "results.json")
	require.NoError(t, table.Save(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	content := string(raw)
	assert.Contains(t, content, `"1"`)
	assert.Contains(t, content, `"2"`)
	assert.Contains(t, content, `"f1_score"`)
	assert.Contains(t, content, `"accuracy"`)
	assert.Contains(t, content, `"loss"`)
}

func TestResultsSaveOverwrites(t *testing.T) {
	// The sweep rewrites the whole file after each layer; a reread must
	// see the grown table, not the first snapshot.
	path := filepath.Join(t.TempDir(), "results.json")

	table := ResultsTable{1: {F1: 0.5}}
	require.NoError(t, table.Save(path))

	table[2] = LayerResult{F1: 0.6}
	require.NoError(t, table.Save(path))

	loaded, err := LoadResults(path)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, loaded.Layers())
	assert.Equal(t, 0.6, loaded[2].F1)
}

func TestResultsSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "results.json")
	require.NoError(t, ResultsTable{1: {F1: 0.5}}.Save(path))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "results.json", entries[0].Name())
}

func TestLoadResultsErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadResults(filepath.Join(dir, "missing.json"))
	require.Error(t, err)

	badKey := filepath.Join(dir, "badkey.json")
	require.NoError(t, os.WriteFile(badKey, []byte(`{"layer1": {"loss": 0.1}}`), 0644))
	_, err = LoadResults(badKey)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"layer1"`)

	garbage := filepath.Join(dir, "garbage.json")
	require.NoError(t, os.WriteFile(garbage, []byte("not json"), 0644))
	_, err = LoadResults(garbage)
	require.Error(t, err)
}
