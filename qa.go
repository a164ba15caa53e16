package main

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"
)

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// Extractive question answering over the encoder: every token gets a START
// logit and an END logit, and an answer is a (start, end) token pair scored
// by startLogit + endLogit. No decoding loop, no generation; the answer is
// literally a substring of the context.
//
// Candidate parsing is where all the care lives. The raw argmax pair is
// frequently garbage (end before start, a span inside the question, a
// 200-token "answer"), so instead: take the top-n starts and top-n ends,
// form the n² pairs, and filter
//
//	start and end must map into the context       (TokenToOrig)
//	start must be in its max-context window       (TokenIsMaxContext)
//	end ≥ start
//	length ≤ qaMaxAnswerLen
//
// then rank survivors by score and dedupe by answer text. Surviving the
// filters with an empty list is a legal outcome and yields an empty answer.
//
// The QA model doubles as the hidden-state source for the projection
// command, so Predict also hands back every layer's states for the first
// window.
//
// ===========================================================================

// Featurization and parsing parameters, the standard SQuAD settings. The
// sequence length is clamped to the encoder's own maximum at predict time.
const (
	qaMaxSeqLen    = 384
	qaDocStride    = 128
	qaMaxQueryLen  = 64
	qaNBest        = 10
	qaMaxAnswerLen = 30
)

// QAModel is the encoder plus a per-token span-logit head.
type QAModel struct {
	enc *Encoder

	startW *Tensor // (hiddenDim, 1)
	startB *Tensor // (1)
	endW   *Tensor // (hiddenDim, 1)
	endB   *Tensor // (1)
}

// NewQAModel creates a QA model with random weights. Deterministic for a
// given seed; checkpoint loading overwrites every tensor afterwards.
func NewQAModel(cfg EncoderConfig, seed int64) *QAModel {
	src := rand.New(rand.NewSource(seed + 1))
	return &QAModel{
		enc:    NewEncoder(cfg, seed),
		startW: newTensorRandFrom(src, cfg.HiddenDim, 1),
		startB: NewTensor(1),
		endW:   newTensorRandFrom(src, cfg.HiddenDim, 1),
		endB:   NewTensor(1),
	}
}

// Encoder returns the underlying encoder.
func (m *QAModel) Encoder() *Encoder {
	return m.enc
}

// NumParams returns the total parameter count.
func (m *QAModel) NumParams() int {
	return m.enc.NumParams() +
		m.startW.Size() + m.startB.Size() +
		m.endW.Size() + m.endB.Size()
}

// tensors returns every weight tensor in the fixed checkpoint order: the
// encoder block first, then the span head.
func (m *QAModel) tensors() []namedTensor {
	return append(m.enc.tensors(),
		namedTensor{"qa.start.w", m.startW},
		namedTensor{"qa.start.b", m.startB},
		namedTensor{"qa.end.w", m.endW},
		namedTensor{"qa.end.b", m.endB},
	)
}

// AnswerCandidate is one scored answer span.
type AnswerCandidate struct {
	Text       string
	StartLogit float64
	EndLogit   float64
	Score      float64 // StartLogit + EndLogit
}

// QAPrediction is the parsed output for one question.
type QAPrediction struct {
	Answer string // best candidate's text, empty when nothing survives
	NBest  []AnswerCandidate
}

// Predict answers a question against a context passage. Returns the parsed
// prediction, every layer's hidden states for the first window (index 0 is
// the embedding output, index i the output of block i), and the featurized
// windows themselves.
func (m *QAModel) Predict(wp *WordPiece, question, context string) (QAPrediction, []*Tensor, []InputFeatures, error) {
	ex, err := NewSQuADExample(question, context)
	if err != nil {
		return QAPrediction{}, nil, nil, err
	}

	maxSeq := min(qaMaxSeqLen, m.enc.config.MaxSeqLen)
	features, err := FeaturizeExample(wp, ex, maxSeq, qaDocStride, qaMaxQueryLen)
	if err != nil {
		return QAPrediction{}, nil, nil, err
	}

	var hidden []*Tensor
	var candidates []AnswerCandidate
	for fi, feat := range features {
		startLogits, endLogits, layerStates := m.spanLogits(&feat)
		if fi == 0 {
			hidden = layerStates
		}
		candidates = append(candidates, parseCandidates(ex, &feat, startLogits, endLogits)...)
	}

	return rankCandidates(candidates), hidden, features, nil
}

// spanLogits runs the encoder over one window and projects each position to
// its start and end logits.
func (m *QAModel) spanLogits(feat *InputFeatures) (startLogits, endLogits []float64, hidden []*Tensor) {
	batch := &EncodedBatch{
		IDs:     [][]int{feat.TokenIDs},
		Mask:    [][]int{feat.Mask},
		TypeIDs: [][]int{feat.TypeIDs},
	}

	states, hidden := m.enc.ForwardHidden(batch)
	start := AddBias(MatMul(states, m.startW), m.startB)
	end := AddBias(MatMul(states, m.endW), m.endB)
	return start.data, end.data, hidden
}

// parseCandidates forms the top-n × top-n start/end pairs for one window
// and keeps the ones that describe a plausible context span.
func parseCandidates(ex *SQuADExample, feat *InputFeatures, startLogits, endLogits []float64) []AnswerCandidate {
	var out []AnswerCandidate
	for _, s := range topIndexes(startLogits, qaNBest) {
		for _, e := range topIndexes(endLogits, qaNBest) {
			if s >= len(feat.Tokens) || e >= len(feat.Tokens) {
				continue
			}
			origStart, ok := feat.TokenToOrig[s]
			if !ok {
				continue
			}
			origEnd, ok := feat.TokenToOrig[e]
			if !ok {
				continue
			}
			if !feat.TokenIsMaxContext[s] {
				continue
			}
			if e < s || e-s+1 > qaMaxAnswerLen {
				continue
			}

			out = append(out, AnswerCandidate{
				Text:       strings.Join(ex.DocTokens[origStart:origEnd+1], " "),
				StartLogit: startLogits[s],
				EndLogit:   endLogits[e],
				Score:      startLogits[s] + endLogits[e],
			})
		}
	}
	return out
}

// rankCandidates orders candidates by score, drops duplicate answer texts
// (overlapping windows produce them) and keeps the top qaNBest.
func rankCandidates(candidates []AnswerCandidate) QAPrediction {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	seen := make(map[string]bool)
	var nbest []AnswerCandidate
	for _, c := range candidates {
		if seen[c.Text] {
			continue
		}
		seen[c.Text] = true
		nbest = append(nbest, c)
		if len(nbest) == qaNBest {
			break
		}
	}

	pred := QAPrediction{NBest: nbest}
	if len(nbest) > 0 {
		pred.Answer = nbest[0].Text
	}
	return pred
}

// topIndexes returns the positions of the n largest values, best first.
func topIndexes(logits []float64, n int) []int {
	idx := make([]int, len(logits))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool {
		return logits[idx[i]] > logits[idx[j]]
	})
	if len(idx) > n {
		idx = idx[:n]
	}
	return idx
}

// debugString renders a prediction for terminal output.
func (p QAPrediction) debugString() string {
	if len(p.NBest) == 0 {
		return "no answer found"
	}
	var sb strings.Builder
	for i, c := range p.NBest {
		fmt.Fprintf(&sb, "%2d. %-40q score %.3f (start %.3f, end %.3f)\n",
			i+1, c.Text, c.Score, c.StartLogit, c.EndLogit)
	}
	return sb.String()
}
