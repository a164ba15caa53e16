package main

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/montanaflynn/stats"
)

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// The sweep controller, the outermost loop of a probing run. For each layer
// depth, ascending:
//
//	1. view the frozen encoder truncated to that depth   (shared weights)
//	2. build a FRESH probe head and a FRESH Adam          (nothing carries over)
//	3. train to the stopping condition, test, record
//	4. rewrite results.json with the full table so far
//
// The per-iteration freshness is the invariant that makes the sweep readable
// as an experiment: layer k's score reflects layer k's representation, not
// leftover optimizer moments or a warm-started head from layer k-1. The only
// thing layers share is the encoder, and that is read-only throughout.
//
// results.json is rewritten whole after every layer rather than appended to.
// A sweep over 24 layers of a real encoder runs for hours; killing it at
// layer 17 leaves a valid results file with 17 entries.
//
// ===========================================================================

// SweepConfig configures one probing sweep. Mirrors the recognized options
// of the probe command.
type SweepConfig struct {
	Encoder   *Encoder
	ModelName string // display name for progress output
	TaskType  string // TaskSingleSpan or TaskTwoSpan
	Layers    []int  // layer depths to probe, any order

	Train *AlignedDataset
	Val   *AlignedDataset
	Test  *AlignedDataset

	// Training hyperparameters, zero values defaulted as in TrainConfig.
	BatchSize    int
	Loss         LossFunc
	LR           float64
	MaxEvals     int
	PatienceLR   int
	Patience     int
	EvalInterval int

	// Seed derives each layer's head init and shuffle order (seed+layer),
	// so single layers can be reproduced outside a full sweep.
	Seed int64

	// ResultsDir receives results.json and per-layer training-curve HTML.
	// Empty means nothing is written to disk.
	ResultsDir string
}

// RunSweep probes every configured layer and returns the accumulated
// results table.
//
// An unknown task type reports and returns nil results with a nil error;
// everything else that goes wrong is an error. The returned table is also
// on disk (when ResultsDir is set) regardless of which layer a failure
// interrupted.
func RunSweep(cfg SweepConfig) (ResultsTable, error) {
	strategy, ok := strategyForTask(cfg.TaskType)
	if !ok {
		fmt.Printf("%s is not a valid task type\n", cfg.TaskType)
		return nil, nil
	}

	if err := validateSweepData(cfg); err != nil {
		return nil, err
	}
	if len(cfg.Layers) == 0 {
		return nil, fmt.Errorf("sweep: no layers to probe")
	}

	layers := append([]int(nil), cfg.Layers...)
	sort.Ints(layers)
	for _, layer := range layers {
		if layer < 1 || layer > cfg.Encoder.NumLayers() {
			return nil, fmt.Errorf("sweep: layer %d outside encoder depth 1..%d",
				layer, cfg.Encoder.NumLayers())
		}
	}

	fmt.Printf("Probing model %s\n", cfg.ModelName)

	results := make(ResultsTable, len(layers))
	lastLayer := layers[len(layers)-1]

	for _, layer := range layers {
		fmt.Printf("Probing layer %d of %d\n", layer, lastLayer)

		model := NewProbeModel(cfg.Encoder.Truncated(layer), strategy,
			cfg.Train.NumLabels, cfg.Seed+int64(layer))
		opt := newProbeOptimizer(model.Params())
		metrics := NewTrainingMetrics()

		trainCfg := TrainConfig{
			Train:        cfg.Train,
			Val:          cfg.Val,
			BatchSize:    cfg.BatchSize,
			Loss:         cfg.Loss,
			LR:           cfg.LR,
			MaxEvals:     cfg.MaxEvals,
			PatienceLR:   cfg.PatienceLR,
			Patience:     cfg.Patience,
			EvalInterval: cfg.EvalInterval,
			Seed:         cfg.Seed + int64(layer),
		}.withDefaults()

		if _, err := trainProbe(model, opt, trainCfg, metrics); err != nil {
			return nil, fmt.Errorf("sweep: layer %d: %w", layer, err)
		}

		res := testProbe(model, cfg.Test, trainCfg.BatchSize, trainCfg.Loss)
		fmt.Printf("Test loss: %g, accuracy: %g, f1_score: %g\n",
			res.Loss, res.Accuracy, res.F1)
		results[layer] = res

		if cfg.ResultsDir != "" {
			if err := results.Save(filepath.Join(cfg.ResultsDir, "results.json")); err != nil {
				return nil, fmt.Errorf("sweep: layer %d: %w", layer, err)
			}
			curvePath := filepath.Join(cfg.ResultsDir, fmt.Sprintf("train_layer%d.html", layer))
			if err := metrics.SaveHTML(curvePath); err != nil {
				return nil, fmt.Errorf("sweep: layer %d: %w", layer, err)
			}
		}
	}

	printSweepSummary(results)
	return results, nil
}

func validateSweepData(cfg SweepConfig) error {
	if cfg.Encoder == nil {
		return fmt.Errorf("sweep: no encoder")
	}
	for _, ds := range []struct {
		name string
		data *AlignedDataset
	}{
		{"train", cfg.Train},
		{"validation", cfg.Val},
		{"test", cfg.Test},
	} {
		if ds.data == nil || ds.data.Len() == 0 {
			return fmt.Errorf("sweep: empty %s set", ds.name)
		}
		if ds.data.NumLabels != cfg.Train.NumLabels {
			return fmt.Errorf("sweep: %s set has %d labels, train set has %d",
				ds.name, ds.data.NumLabels, cfg.Train.NumLabels)
		}
		if cfg.TaskType == TaskTwoSpan && !ds.data.TwoSpan {
			return fmt.Errorf("sweep: task type %s needs two-span datasets, %s set is single-span",
				cfg.TaskType, ds.name)
		}
	}
	return nil
}

// printSweepSummary reports F1 distribution statistics across the probed
// layers, the quick read on where in the stack the task's signal lives.
func printSweepSummary(results ResultsTable) {
	layers := results.Layers()

	f1s := make([]float64, 0, len(layers))
	bestLayer := layers[0]
	for _, layer := range layers {
		f1 := results[layer].F1
		f1s = append(f1s, f1)
		if f1 > results[bestLayer].F1 {
			bestLayer = layer
		}
	}

	mean, _ := stats.Mean(f1s)
	median, _ := stats.Median(f1s)
	stdev, _ := stats.StandardDeviation(f1s)

	fmt.Printf("Probed %d layers: f1_score mean %.4f, median %.4f, stdev %.4f\n",
		len(layers), mean, median, stdev)
	fmt.Printf("Best layer: %d (f1_score %.4f)\n", bestLayer, results[bestLayer].F1)
}
