package main

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopIndexes(t *testing.T) {
	logits := []float64{0.1, 0.9, 0.5, 0.7}

	assert.Equal(t, []int{1, 3}, topIndexes(logits, 2))
	assert.Equal(t, []int{1, 3, 2, 0}, topIndexes(logits, 10), "n past the end returns everything")

	// Ties keep the earlier position first.
	assert.Equal(t, []int{0, 2, 1}, topIndexes([]float64{0.5, 0.1, 0.5}, 3))
}

// qaFeature builds a synthetic window over a three-word context:
//
//	position: 0     1   2     3  4  5  6
//	token:    [CLS] q   [SEP] w0 w1 w2 [SEP]
//
// with position 5 not max-context, and logit slices padded to length 8.
func qaFeature() (*SQuADExample, *InputFeatures) {
	ex := &SQuADExample{Question: "q", DocTokens: []string{"alpha", "beta", "gamma"}}
	feat := &InputFeatures{
		Tokens:            []string{"[CLS]", "q", "[SEP]", "w0", "w1", "w2", "[SEP]"},
		TokenToOrig:       map[int]int{3: 0, 4: 1, 5: 2},
		TokenIsMaxContext: map[int]bool{3: true, 4: true, 5: false},
	}
	return ex, feat
}

func TestParseCandidatesFilters(t *testing.T) {
	ex, feat := qaFeature()

	startLogits := []float64{0, 0, 0, 3, 2, 1, 0, 9}
	endLogits := []float64{0, 0, 0, 1, 2, 3, 0, 9}

	got := parseCandidates(ex, feat, startLogits, endLogits)

	// With n-best wider than the window every pair is considered, so the
	// output is exactly the set passing the filters: starts at 3 or 4
	// (position 5 is not max-context, specials lack TokenToOrig, position
	// 7 is past the window), ends at 3..5, end not before start.
	texts := make(map[string]bool)
	for _, c := range got {
		texts[c.Text] = true
		assert.Equal(t, c.StartLogit+c.EndLogit, c.Score)
	}

	want := []string{"alpha", "alpha beta", "alpha beta gamma", "beta", "beta gamma"}
	require.Len(t, got, len(want))
	for _, text := range want {
		assert.True(t, texts[text], "missing candidate %q", text)
	}
}

func TestParseCandidatesAnswerLength(t *testing.T) {
	// A 40-word context in one window: spans longer than qaMaxAnswerLen
	// tokens must never come out, even when their logits dominate.
	words := make([]string, 40)
	for i := range words {
		words[i] = "w"
	}
	ex := &SQuADExample{Question: "q", DocTokens: words}

	feat := &InputFeatures{
		Tokens:            make([]string, 43),
		TokenToOrig:       make(map[int]int, 40),
		TokenIsMaxContext: map[int]bool{2: true},
	}
	for i := 0; i < 40; i++ {
		feat.TokenToOrig[2+i] = i
	}

	startLogits := make([]float64, 43)
	endLogits := make([]float64, 43)
	startLogits[2] = 5
	endLogits[2+35] = 5 // 36-token span, over the limit
	endLogits[2+20] = 4 // 21-token span, allowed

	got := parseCandidates(ex, feat, startLogits, endLogits)
	require.NotEmpty(t, got)
	for _, c := range got {
		assert.LessOrEqual(t, len(strings.Fields(c.Text)), qaMaxAnswerLen, "candidate %q too long", c.Text)
	}
}

func TestRankCandidates(t *testing.T) {
	candidates := []AnswerCandidate{
		{Text: "beta", Score: 1.0},
		{Text: "alpha", Score: 3.0},
		{Text: "alpha", Score: 2.5}, // duplicate text, lower score
		{Text: "gamma", Score: 2.0},
	}

	pred := rankCandidates(candidates)

	assert.Equal(t, "alpha", pred.Answer)
	require.Len(t, pred.NBest, 3)
	assert.Equal(t, "alpha", pred.NBest[0].Text)
	assert.Equal(t, "gamma", pred.NBest[1].Text)
	assert.Equal(t, "beta", pred.NBest[2].Text)
	assert.Equal(t, 3.0, pred.NBest[0].Score, "the higher-scoring duplicate wins")
}

func TestRankCandidatesCap(t *testing.T) {
	var candidates []AnswerCandidate
	for i := 0; i < 25; i++ {
		candidates = append(candidates, AnswerCandidate{
			Text:  strings.Repeat("x", i+1),
			Score: float64(i),
		})
	}

	pred := rankCandidates(candidates)
	assert.Len(t, pred.NBest, qaNBest)
}

func TestRankCandidatesEmpty(t *testing.T) {
	pred := rankCandidates(nil)
	assert.Empty(t, pred.Answer)
	assert.Empty(t, pred.NBest)
	assert.Equal(t, "no answer found", pred.debugString())
}

func TestQAPredictionDebugString(t *testing.T) {
	pred := QAPrediction{
		Answer: "alpha",
		NBest: []AnswerCandidate{
			{Text: "alpha", StartLogit: 1.5, EndLogit: 2.0, Score: 3.5},
		},
	}

	s := pred.debugString()
	assert.Contains(t, s, `"alpha"`)
	assert.Contains(t, s, "3.500")
}

func TestNewQAModel(t *testing.T) {
	cfg := tinyEncoderConfig(t, "bert-base-uncased")

	a := NewQAModel(cfg, 3)
	b := NewQAModel(cfg, 3)
	assert.Equal(t, a.startW.data, b.startW.data, "same seed, same head")

	h := cfg.HiddenDim
	assert.Equal(t, []int{h, 1}, a.startW.Shape())
	assert.Equal(t, []int{h, 1}, a.endW.Shape())
	assert.Equal(t, a.Encoder().NumParams()+2*(h+1), a.NumParams())

	names := a.tensors()
	tail := names[len(names)-4:]
	assert.Equal(t, "qa.start.w", tail[0].name)
	assert.Equal(t, "qa.end.b", tail[3].name)
}

func TestQAPredictSmoke(t *testing.T) {
	wp := testVocab(t)
	cfg := tinyEncoderConfig(t, "bert-base-uncased")
	model := NewQAModel(cfg, 17)

	pred, hidden, features, err := model.Predict(wp, "named person", "james wrote a book")
	require.NoError(t, err)

	require.NotEmpty(t, features)
	require.Len(t, hidden, model.Encoder().NumLayers()+1)
	for li, states := range hidden {
		assert.Equal(t, []int{cfg.MaxSeqLen, cfg.HiddenDim}, states.Shape(), "layer %d", li)
		for _, v := range states.data {
			require.False(t, math.IsNaN(v), "layer %d produced NaN", li)
		}
	}

	// Random weights give arbitrary but well-formed candidates.
	for _, c := range pred.NBest {
		assert.NotEmpty(t, c.Text)
		assert.False(t, math.IsNaN(c.Score))
		assert.InDelta(t, c.StartLogit+c.EndLogit, c.Score, 1e-12)
	}
	if pred.Answer != "" {
		assert.Equal(t, pred.NBest[0].Text, pred.Answer)
	}

	again, _, _, err := model.Predict(wp, "named person", "james wrote a book")
	require.NoError(t, err)
	assert.Equal(t, pred, again, "prediction is deterministic")
}
