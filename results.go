package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

// LayerResult is the metric triple recorded for one probed layer.
type LayerResult struct {
	Loss     float64 `json:"loss"`
	Accuracy float64 `json:"accuracy"`
	F1       float64 `json:"f1_score"`
}

// ResultsTable maps layer depth to that layer's test metrics. On disk the
// keys are decimal strings ("1", "2", ...) since JSON objects cannot key on
// integers; in memory they are ints so layers sort numerically, not
// lexically.
type ResultsTable map[int]LayerResult

// Layers returns the probed depths in ascending order.
func (r ResultsTable) Layers() []int {
	layers := make([]int, 0, len(r))
	for layer := range r {
		layers = append(layers, layer)
	}
	sort.Ints(layers)
	return layers
}

// Save writes the full table to path as JSON. The sweep calls this after
// every layer so a long run keeps its finished layers even if killed; the
// write goes through a temp file and rename so the file on disk is never a
// torn half-update.
func (r ResultsTable) Save(path string) error {
	byKey := make(map[string]LayerResult, len(r))
	for layer, res := range r {
		byKey[strconv.Itoa(layer)] = res
	}

	data, err := json.MarshalIndent(byKey, "", "  ")
	if err != nil {
		return fmt.Errorf("results: marshal: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".results-*.json")
	if err != nil {
		return fmt.Errorf("results: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("results: write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("results: write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("results: %w", err)
	}
	return nil
}

// LoadResults reads a results file written by Save.
func LoadResults(path string) (ResultsTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("results: %w", err)
	}

	var byKey map[string]LayerResult
	if err := json.Unmarshal(data, &byKey); err != nil {
		return nil, fmt.Errorf("results: parse %s: %w", path, err)
	}

	table := make(ResultsTable, len(byKey))
	for key, res := range byKey {
		layer, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("results: %s: layer key %q is not an integer", path, key)
		}
		table[layer] = res
	}
	return table, nil
}
