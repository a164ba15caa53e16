package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

// ===========================================================================
// PROBING CLI
// ===========================================================================
//
// The probe command wires the whole pipeline together: vocabulary, encoder,
// corpora, span alignment, then the per-layer sweep. Everything upstream of
// RunSweep is deliberately front-loaded here so that a typo'd path or an
// unknown label fails in seconds, before any training starts.
//
// With no -model flag the encoder is freshly initialized from the seed.
// Random weights sound useless but are the standard control run: probing
// an untrained encoder shows how much of a task a classifier head can
// solve from tokenization artifacts alone, the baseline real layers have
// to beat.
//
// ===========================================================================

// RunProbeCommand implements the probe CLI.
func RunProbeCommand(args []string) error {
	fs := flag.NewFlagSet("probe", flag.ExitOnError)

	// Data
	trainPath := fs.String("train", "", "Training corpus (jiant line-delimited JSON)")
	valPath := fs.String("val", "", "Validation corpus")
	testPath := fs.String("test", "", "Test corpus")
	vocabPath := fs.String("vocab", "", "WordPiece vocab.txt")
	labels := fs.String("labels", "", "Comma-separated label set (default: collect from training data)")

	// Model
	modelPath := fs.String("model", "", "Encoder checkpoint (default: fresh random encoder)")
	modelName := fs.String("model-name", "bert-base-uncased", "Model identifier, decides the family")
	maxSeqLen := fs.Int("max-seq-len", 128, "Token sequence length")

	// Sweep
	taskType := fs.String("task-type", TaskSingleSpan, "Task type: single_span or two_span")
	layerList := fs.String("layers", "", "Comma-separated layer depths (default: every layer)")
	resultsDir := fs.String("results-dir", "", "Directory for results.json and training curves (default: none written)")

	// Training hyperparameters
	lossName := fs.String("loss", "cross_entropy", "Loss function: cross_entropy or bce")
	lr := fs.Float64("lr", 0.0001, "Learning rate")
	batchSize := fs.Int("batch", 32, "Batch size")
	maxEvals := fs.Int("max-evals", 0, "Stop after this many evaluations (0 = unbounded)")
	patience := fs.Int("patience", 20, "Non-improving evaluations before stopping")
	patienceLR := fs.Int("patience-lr", 5, "Non-improving evaluations between LR halvings")
	evalInterval := fs.Int("eval-interval", 100, "Batches between evaluations")
	seed := fs.Int64("seed", 42, "Base seed for head init and shuffling")

	// Compute
	device := fs.String("device", "parallel", "Matmul backend: naive, parallel or blocked")
	workers := fs.Int("workers", 0, "Worker goroutines for the parallel backend (0 = all CPUs)")

	if err := fs.Parse(args); err != nil {
		return err
	}
	for _, required := range []struct{ name, val string }{
		{"-train", *trainPath}, {"-val", *valPath}, {"-test", *testPath}, {"-vocab", *vocabPath},
	} {
		if required.val == "" {
			return fmt.Errorf("missing required flag %s", required.name)
		}
	}

	if err := ConfigureBackend(*device, *workers); err != nil {
		return err
	}
	loss, err := ResolveLoss(*lossName)
	if err != nil {
		return err
	}
	traits, err := ResolveFamily(*modelName)
	if err != nil {
		return err
	}

	fmt.Println("Step 1: Loading WordPiece vocabulary")
	wp, err := LoadWordPiece(*vocabPath, traits.lowercase)
	if err != nil {
		return err
	}
	fmt.Printf("  Vocabulary size: %s tokens\n", humanize.Comma(int64(wp.VocabSize())))
	fmt.Println()

	fmt.Println("Step 2: Preparing the encoder")
	var enc *Encoder
	if *modelPath != "" {
		enc, err = LoadEncoder(*modelPath)
		if err != nil {
			return err
		}
		if info, err := os.Stat(*modelPath); err == nil {
			fmt.Printf("  Loaded %s checkpoint from %s (%s)\n",
				enc.Config().Family, *modelPath, humanize.Bytes(uint64(info.Size())))
		}
		if enc.Config().VocabSize != wp.VocabSize() {
			return fmt.Errorf("checkpoint vocabulary size %d does not match vocab.txt (%d tokens)",
				enc.Config().VocabSize, wp.VocabSize())
		}
	} else {
		enc = NewEncoder(DefaultEncoderConfig(traits, wp.VocabSize()), *seed)
		fmt.Printf("  Fresh random %s encoder (control run)\n", traits.family)
	}
	if *maxSeqLen > enc.Config().MaxSeqLen {
		return fmt.Errorf("-max-seq-len %d exceeds the encoder maximum %d",
			*maxSeqLen, enc.Config().MaxSeqLen)
	}
	fmt.Printf("  %d layers, %d hidden, %s parameters\n",
		enc.NumLayers(), enc.Config().HiddenDim, humanize.Comma(int64(enc.NumParams())))
	fmt.Println()

	fmt.Println("Step 3: Loading task corpora")
	trainData, err := ReadJiantDataset(*trainPath)
	if err != nil {
		return err
	}
	valData, err := ReadJiantDataset(*valPath)
	if err != nil {
		return err
	}
	testData, err := ReadJiantDataset(*testPath)
	if err != nil {
		return err
	}
	fmt.Printf("  %d train / %d validation / %d test targets\n",
		trainData.Len(), valData.Len(), testData.Len())

	var vocab *LabelVocab
	if *labels != "" {
		vocab, err = NewLabelVocab(strings.Split(*labels, ","))
		if err != nil {
			return err
		}
	} else {
		vocab = LabelVocabFromData(trainData.Labels)
	}
	fmt.Printf("  Label set: %s\n", strings.Join(vocab.Labels(), ", "))
	fmt.Println()

	fmt.Println("Step 4: Aligning spans to wordpiece tokens")
	twoSpan := *taskType == TaskTwoSpan
	var sets [3]*AlignedDataset
	for i, src := range []struct {
		name string
		data *JiantData
	}{
		{"train", trainData}, {"validation", valData}, {"test", testData},
	} {
		aligned, alignStats, err := AlignDataset(wp, src.data, vocab, *maxSeqLen, twoSpan)
		if err != nil {
			return fmt.Errorf("%s set: %w", src.name, err)
		}
		fmt.Printf("  %s: %s\n", src.name, alignStats.Summary())
		sets[i] = aligned
	}
	fmt.Println()

	layers, err := parseLayers(*layerList, enc.NumLayers())
	if err != nil {
		return err
	}
	if *resultsDir != "" {
		if err := os.MkdirAll(*resultsDir, 0755); err != nil {
			return err
		}
	}

	fmt.Println("Step 5: Running the probing sweep")
	results, err := RunSweep(SweepConfig{
		Encoder:      enc,
		ModelName:    *modelName,
		TaskType:     *taskType,
		Layers:       layers,
		Train:        sets[0],
		Val:          sets[1],
		Test:         sets[2],
		BatchSize:    *batchSize,
		Loss:         loss,
		LR:           *lr,
		MaxEvals:     *maxEvals,
		PatienceLR:   *patienceLR,
		Patience:     *patience,
		EvalInterval: *evalInterval,
		Seed:         *seed,
		ResultsDir:   *resultsDir,
	})
	if err != nil {
		return err
	}
	if results == nil {
		return nil
	}

	if *resultsDir != "" {
		fmt.Println()
		fmt.Printf("Results written to %s/results.json. Try:\n", *resultsDir)
		fmt.Printf("  edge-probe plot -results=%s/results.json -out=f1.png\n", *resultsDir)
	}
	return nil
}

// parseLayers parses a comma-separated layer list; empty means every layer.
func parseLayers(list string, numLayers int) ([]int, error) {
	if list == "" {
		layers := make([]int, numLayers)
		for i := range layers {
			layers[i] = i + 1
		}
		return layers, nil
	}

	var layers []int
	for _, field := range strings.Split(list, ",") {
		layer, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil {
			return nil, fmt.Errorf("invalid layer %q in -layers", field)
		}
		layers = append(layers, layer)
	}
	return layers, nil
}
