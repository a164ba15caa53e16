package main

import (
	"fmt"
	"math/rand"
)

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// The probe model: a small classifier head reading span representations off a
// frozen encoder. One probe exists per sweep layer; its encoder is a
// Truncated(k) view of the shared backbone, its head is freshly initialized,
// and only the head's four tensors ever receive gradients.
//
// The head is the same shape for both task types:
//
//	pooled span features -> Linear -> GELU -> Linear -> logits
//
// What differs between single-span and two-span probing is only the POOLING:
// one masked mean over the span, or two pooled separately and concatenated.
// That difference lives in a spanStrategy; the trainer, evaluator and sweep
// never branch on the task type again after the strategy is resolved.
//
// Backward is written by hand in reverse order of the forward: an explicit
// cache of intermediates, no tape. Gradients stop at the pooled features; the
// encoder below them is frozen, so ∂L/∂pooled is never needed and never
// computed.
//
// ===========================================================================

// Task type names as they appear in configuration and corpora.
const (
	TaskSingleSpan = "single_span"
	TaskTwoSpan    = "two_span"
)

// spanStrategy shapes encoder output into per-sample head inputs. Resolved
// once from the task type; the training control flow is written against this
// interface exactly once.
type spanStrategy interface {
	// FeatureDim is the pooled feature width for the given hidden size.
	FeatureDim(hiddenDim int) int

	// Pool reduces (batch*seqLen, hidden) encoder states to a
	// (batch, FeatureDim) tensor of span features.
	Pool(states *Tensor, batch *Batch, seqLen, hiddenDim int) *Tensor
}

// strategyForTask resolves a task-type string to its span strategy.
func strategyForTask(taskType string) (spanStrategy, bool) {
	switch taskType {
	case TaskSingleSpan:
		return singleSpanStrategy{}, true
	case TaskTwoSpan:
		return twoSpanStrategy{}, true
	default:
		return nil, false
	}
}

// singleSpanStrategy mean-pools the tokens under span1.
type singleSpanStrategy struct{}

func (singleSpanStrategy) FeatureDim(hiddenDim int) int { return hiddenDim }

func (singleSpanStrategy) Pool(states *Tensor, batch *Batch, seqLen, hiddenDim int) *Tensor {
	out := NewTensor(len(batch.Span1), hiddenDim)
	for i, mask := range batch.Span1 {
		poolSpanRow(states, mask, i, seqLen, out.data[i*hiddenDim:(i+1)*hiddenDim])
	}
	return out
}

// twoSpanStrategy pools span1 and span2 separately and concatenates them.
type twoSpanStrategy struct{}

func (twoSpanStrategy) FeatureDim(hiddenDim int) int { return 2 * hiddenDim }

func (twoSpanStrategy) Pool(states *Tensor, batch *Batch, seqLen, hiddenDim int) *Tensor {
	width := 2 * hiddenDim
	out := NewTensor(len(batch.Span1), width)
	for i := range batch.Span1 {
		row := out.data[i*width : (i+1)*width]
		poolSpanRow(states, batch.Span1[i], i, seqLen, row[:hiddenDim])
		poolSpanRow(states, batch.Span2[i], i, seqLen, row[hiddenDim:])
	}
	return out
}

// poolSpanRow writes the mean of the masked token rows into dst. Aligned
// spans always cover at least one token; the count guard keeps an empty mask
// from poisoning the batch with NaN all the same.
func poolSpanRow(states *Tensor, mask []bool, sample, seqLen int, dst []float64) {
	count := 0
	for p, on := range mask {
		if !on {
			continue
		}
		row := states.Row(sample*seqLen + p)
		for j, v := range row {
			dst[j] += v
		}
		count++
	}
	if count > 0 {
		inv := 1.0 / float64(count)
		for j := range dst {
			dst[j] *= inv
		}
	}
}

// ProbeModel is a classifier head over a (truncated) frozen encoder.
type ProbeModel struct {
	enc       *Encoder
	strategy  spanStrategy
	numLabels int

	w1, b1 *Tensor // (featureDim, hidden), (hidden)
	w2, b2 *Tensor // (hidden, numLabels), (numLabels)
}

// NewProbeModel creates a probe with a freshly initialized head. The encoder
// is used as-is (typically a Truncated view) and is never trained.
func NewProbeModel(enc *Encoder, strategy spanStrategy, numLabels int, seed int64) *ProbeModel {
	if numLabels < 2 {
		panic(fmt.Sprintf("probe: need at least 2 labels, got %d", numLabels))
	}

	hidden := enc.Config().HiddenDim
	feat := strategy.FeatureDim(hidden)
	src := rand.New(rand.NewSource(seed))

	return &ProbeModel{
		enc:       enc,
		strategy:  strategy,
		numLabels: numLabels,
		w1:        newTensorRandFrom(src, feat, hidden),
		b1:        NewTensor(hidden),
		w2:        newTensorRandFrom(src, hidden, numLabels),
		b2:        NewTensor(numLabels),
	}
}

// Params returns the trainable tensors: the head only. The frozen encoder's
// tensors are deliberately absent, which is what keeps the sweep's shared
// backbone identical across layer iterations.
func (m *ProbeModel) Params() []*Tensor {
	return []*Tensor{m.w1, m.b1, m.w2, m.b2}
}

// NumHeadParams returns the trainable parameter count.
func (m *ProbeModel) NumHeadParams() int {
	total := 0
	for _, p := range m.Params() {
		total += p.Size()
	}
	return total
}

// ProbeCache stores forward activations needed by Backward.
type ProbeCache struct {
	pooled *Tensor // span features, head input
	h1     *Tensor // first linear output, pre-GELU
	a1     *Tensor // after GELU
}

// Forward computes logits for one batch, discarding intermediates.
// Used by the evaluator and tester, which never backpropagate.
func (m *ProbeModel) Forward(batch *Batch) *Tensor {
	logits, _ := m.ForwardWithCache(batch)
	return logits
}

// ForwardWithCache computes logits and keeps the intermediates Backward
// needs: encoder forward, span pooling per the strategy, then the two-layer
// head.
func (m *ProbeModel) ForwardWithCache(batch *Batch) (*Tensor, *ProbeCache) {
	states := m.enc.Forward(batch.Enc)
	seqLen := batch.Enc.SeqLen()

	pooled := m.strategy.Pool(states, batch, seqLen, m.enc.Config().HiddenDim)
	h1 := AddBias(MatMul(pooled, m.w1), m.b1)
	a1 := GELU(h1)
	logits := AddBias(MatMul(a1, m.w2), m.b2)

	return logits, &ProbeCache{pooled: pooled, h1: h1, a1: a1}
}

// Backward accumulates head gradients from ∂L/∂logits, mirroring the forward
// in reverse. Nothing propagates below the pooled features.
func (m *ProbeModel) Backward(gradLogits *Tensor, cache *ProbeCache) {
	gradPre2, gradB2 := AddBiasBackward(gradLogits)
	gradA1, gradW2 := MatMulBackward(cache.a1, m.w2, gradPre2)
	gradH1 := GELUBackward(cache.h1, gradA1)
	gradPre1, gradB1 := AddBiasBackward(gradH1)
	gradW1 := MatMulBackwardWeight(cache.pooled, gradPre1)

	m.w1.AccumulateGrad(gradW1)
	m.b1.AccumulateGrad(gradB1)
	m.w2.AccumulateGrad(gradW2)
	m.b2.AccumulateGrad(gradB2)
}
