package main

import (
	"flag"
	"fmt"

	"github.com/dustin/go-humanize"
)

// RunQACommand answers one question against one context passage and prints
// the ranked candidate answers.
func RunQACommand(args []string) error {
	fs := flag.NewFlagSet("qa", flag.ExitOnError)

	modelPath := fs.String("model", "", "QA checkpoint (default: fresh random model, demo mode)")
	vocabPath := fs.String("vocab", "", "WordPiece vocab.txt")
	modelName := fs.String("model-name", "bert-base-uncased", "Model identifier, decides family and casing")
	question := fs.String("question", "", "Question to answer")
	context := fs.String("context", "", "Context passage to answer from")
	seed := fs.Int64("seed", 42, "Seed for demo-mode weights")
	device := fs.String("device", "parallel", "Matmul backend: naive, parallel or blocked")
	workers := fs.Int("workers", 0, "Worker goroutines for the parallel backend (0 = all CPUs)")

	if err := fs.Parse(args); err != nil {
		return err
	}
	for _, required := range []struct{ name, val string }{
		{"-vocab", *vocabPath}, {"-question", *question}, {"-context", *context},
	} {
		if required.val == "" {
			return fmt.Errorf("missing required flag %s", required.name)
		}
	}

	if err := ConfigureBackend(*device, *workers); err != nil {
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

	model, err := loadOrInitQAModel(*modelPath, traits, wp, *seed)
	if err != nil {
		return err
	}
	fmt.Println()

	fmt.Println("Step 3: Answering")
	pred, _, features, err := model.Predict(wp, *question, *context)
	if err != nil {
		return err
	}
	fmt.Printf("  Featurized into %d window(s)\n", len(features))
	fmt.Println()

	fmt.Printf("Question: %s\n", *question)
	fmt.Printf("Answer:   %q\n", pred.Answer)
	fmt.Println()
	fmt.Println("Candidates:")
	fmt.Print(pred.debugString())
	return nil
}

// loadOrInitQAModel loads a checkpoint, or builds a random model sized for
// the vocabulary when no checkpoint is given. Random weights answer
// nonsense; demo mode exists to exercise the pipeline end to end without a
// converted model file.
func loadOrInitQAModel(path string, traits familyTraits, wp *WordPiece, seed int64) (*QAModel, error) {
	if path != "" {
		fmt.Println("Step 2: Loading the QA model")
		model, err := LoadQAModel(path)
		if err != nil {
			return nil, err
		}
		if model.Encoder().Config().VocabSize != wp.VocabSize() {
			return nil, fmt.Errorf("checkpoint vocabulary size %d does not match vocab.txt (%d tokens)",
				model.Encoder().Config().VocabSize, wp.VocabSize())
		}
		fmt.Printf("  %s parameters from %s\n", humanize.Comma(int64(model.NumParams())), path)
		return model, nil
	}

	fmt.Println("Step 2: Initializing a random QA model (demo mode)")
	model := NewQAModel(DefaultEncoderConfig(traits, wp.VocabSize()), seed)
	fmt.Printf("  %s parameters, random weights\n", humanize.Comma(int64(model.NumParams())))
	return model, nil
}
