package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
)

// RunHiddenCommand projects one layer's token hidden states to 2D and
// renders them as a scatter PNG, with a JSON sidecar naming each point's
// token. The model runs the same featurization as the qa command; only the
// first window is projected.
func RunHiddenCommand(args []string) error {
	fs := flag.NewFlagSet("hidden", flag.ExitOnError)

	modelPath := fs.String("model", "", "QA checkpoint (default: fresh random model)")
	vocabPath := fs.String("vocab", "", "WordPiece vocab.txt")
	modelName := fs.String("model-name", "bert-base-uncased", "Model identifier, decides family and casing")
	question := fs.String("question", "What is this passage about?", "Question paired with the context")
	context := fs.String("context", "", "Context passage to encode")
	layer := fs.Int("layer", -1, "Layer to project: 0 = embedding output, N = block N (default: last)")
	out := fs.String("out", "hidden_layer.png", "Output scatter PNG path")
	jsonOut := fs.String("json", "", "Token coordinate JSON path (default: PNG path with .json)")
	seed := fs.Int64("seed", 42, "Seed for random weights and the PCA start vectors")
	device := fs.String("device", "parallel", "Matmul backend: naive, parallel or blocked")
	workers := fs.Int("workers", 0, "Worker goroutines for the parallel backend (0 = all CPUs)")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *vocabPath == "" {
		return fmt.Errorf("missing required flag -vocab")
	}
	if *context == "" {
		return fmt.Errorf("missing required flag -context")
	}
	if *jsonOut == "" {
		*jsonOut = strings.TrimSuffix(*out, ".png") + ".json"
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
	fmt.Println()

	model, err := loadOrInitQAModel(*modelPath, traits, wp, *seed)
	if err != nil {
		return err
	}
	fmt.Println()

	fmt.Println("Step 3: Encoding the input")
	_, hidden, features, err := model.Predict(wp, *question, *context)
	if err != nil {
		return err
	}

	// hidden[0] is the embedding output, hidden[i] the output of block i.
	if *layer < 0 {
		*layer = len(hidden) - 1
	}
	if *layer >= len(hidden) {
		return fmt.Errorf("-layer %d out of range: model has layers 0..%d", *layer, len(hidden)-1)
	}

	// Rows past the token count are padding; only real tokens get projected.
	tokens := features[0].Tokens
	states := hidden[*layer]
	hiddenDim := states.Shape()[1]
	vecs := NewTensor(len(tokens), hiddenDim)
	for i := range tokens {
		copy(vecs.Row(i), states.Row(i))
	}
	fmt.Printf("  Layer %d: %d token vectors of dim %d\n", *layer, len(tokens), hiddenDim)
	fmt.Println()

	fmt.Println("Step 4: Projecting to 2D")
	points, err := PCA2D(vecs, *seed)
	if err != nil {
		return err
	}

	title := fmt.Sprintf("Layer %d token states", *layer)
	if err := PlotScatter(*out, title, points); err != nil {
		return err
	}
	if err := writeTokenPoints(*jsonOut, tokens, points); err != nil {
		return err
	}
	fmt.Printf("Saved %s and %s\n", *out, *jsonOut)
	return nil
}

type tokenPoint struct {
	Token string  `json:"token"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
}

// writeTokenPoints dumps the projected coordinates with their token texts,
// for tools that want labeled points rather than an image.
func writeTokenPoints(path string, tokens []string, points *Tensor) error {
	list := make([]tokenPoint, len(tokens))
	for i, tok := range tokens {
		row := points.Row(i)
		list[i] = tokenPoint{Token: tok, X: row[0], Y: row[1]}
	}

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("hidden: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("hidden: %w", err)
	}
	return nil
}
