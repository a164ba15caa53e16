package main

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTrainState(t *testing.T) {
	s := newTrainState(0.001)
	assert.True(t, math.IsInf(s.BestValLoss, 1), "best loss starts at +Inf")
	assert.Equal(t, 0.001, s.LR)
	assert.Zero(t, s.EvalCount)
	assert.False(t, s.Stopped)
}

func TestAdvanceTrainStateFirstEvalImproves(t *testing.T) {
	cfg := TrainConfig{}.withDefaults()
	s := newTrainState(0.001)

	// Any finite loss beats +Inf, so the first evaluation always records
	// a best and resets nothing.
	next := advanceTrainState(s, 123.45, cfg)
	assert.Equal(t, 1, next.EvalCount)
	assert.Equal(t, 123.45, next.BestValLoss)
	assert.Zero(t, next.BadEvals)
	assert.Equal(t, 0.001, next.LR)
	assert.False(t, next.Stopped)
	assert.False(t, next.Halved)

	// Value semantics: the input state is untouched.
	assert.Zero(t, s.EvalCount)
	assert.True(t, math.IsInf(s.BestValLoss, 1))
}

func TestAdvanceTrainStateEqualLossCounts(t *testing.T) {
	cfg := TrainConfig{}.withDefaults()
	s := newTrainState(0.001)

	s = advanceTrainState(s, 1.0, cfg)
	// Matching the best is not an improvement; only strictly lower is.
	s = advanceTrainState(s, 1.0, cfg)
	assert.Equal(t, 1, s.BadEvals)
	assert.Equal(t, 1.0, s.BestValLoss)
}

func TestAdvanceTrainStateHalvingSchedule(t *testing.T) {
	cfg := TrainConfig{PatienceLR: 5, Patience: 20}.withDefaults()
	s := newTrainState(0.0016)

	s = advanceTrainState(s, 1.0, cfg) // establishes the best

	var halvedAt []int
	for !s.Stopped {
		s = advanceTrainState(s, 2.0, cfg)
		if s.Halved {
			halvedAt = append(halvedAt, s.BadEvals)
		}
	}

	// The rate halves at every positive multiple of PatienceLR until
	// Patience stops the run, with no halving on the stopping advance.
	assert.Equal(t, []int{5, 10, 15}, halvedAt)
	assert.Equal(t, 20, s.BadEvals)
	assert.Equal(t, 0.0016/8, s.LR)
	assert.True(t, s.Stopped)
	assert.False(t, s.Halved)
}

func TestAdvanceTrainStateImprovementResets(t *testing.T) {
	cfg := TrainConfig{PatienceLR: 5, Patience: 20}.withDefaults()
	s := newTrainState(0.001)

	s = advanceTrainState(s, 1.0, cfg)
	for i := 0; i < 4; i++ {
		s = advanceTrainState(s, 2.0, cfg)
	}
	require.Equal(t, 4, s.BadEvals)

	// A new best resets the counter, so the halving at 5 never fires.
	s = advanceTrainState(s, 0.5, cfg)
	assert.Zero(t, s.BadEvals)
	assert.Equal(t, 0.5, s.BestValLoss)
	assert.Equal(t, 0.001, s.LR)
}

func TestAdvanceTrainStateMaxEvals(t *testing.T) {
	cfg := TrainConfig{MaxEvals: 3, Patience: 100}.withDefaults()
	s := newTrainState(0.001)

	// Improving every time; MaxEvals stops the run anyway.
	losses := []float64{3.0, 2.0, 1.0, 0.5}
	for _, loss := range losses {
		if s.Stopped {
			break
		}
		s = advanceTrainState(s, loss, cfg)
	}

	assert.Equal(t, 3, s.EvalCount)
	assert.True(t, s.Stopped)
	assert.Equal(t, 1.0, s.BestValLoss)
}

func TestResolveLoss(t *testing.T) {
	ce, err := ResolveLoss("cross_entropy")
	require.NoError(t, err)
	assert.Equal(t, "cross_entropy", ce.Name)
	require.NotNil(t, ce.Value)
	require.NotNil(t, ce.Grad)

	bce, err := ResolveLoss("bce")
	require.NoError(t, err)
	assert.Equal(t, "bce", bce.Name)

	_, err = ResolveLoss("mse")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cross_entropy")
	assert.Contains(t, err.Error(), "bce")
}

func TestCrossEntropyLoss(t *testing.T) {
	// Uniform logits over two classes: loss is exactly log 2.
	logits := NewTensor(1, 2)
	targets := NewTensor(1, 2)
	targets.Set(1, 0, 0)
	assert.InDelta(t, math.Log(2), crossEntropyLoss(logits, targets), 1e-12)

	// Asymmetric case: logits (2, 0), target class 0.
	// loss = log(e^2 + e^0) - 2 = log(1 + e^-2)
	logits.Set(2, 0, 0)
	assert.InDelta(t, math.Log(1+math.Exp(-2)), crossEntropyLoss(logits, targets), 1e-12)

	// Batch of two averages the per-sample losses.
	batchLogits := NewTensor(2, 2)
	batchLogits.Set(2, 0, 0)
	batchTargets := NewTensor(2, 2)
	batchTargets.Set(1, 0, 0)
	batchTargets.Set(1, 1, 0)
	want := (math.Log(1+math.Exp(-2)) + math.Log(2)) / 2
	assert.InDelta(t, want, crossEntropyLoss(batchLogits, batchTargets), 1e-12)

	// A confident correct prediction drives the loss toward zero.
	confident := NewTensor(1, 2)
	confident.Set(30, 0, 0)
	assert.Less(t, crossEntropyLoss(confident, targets), 1e-9)
}

func TestSigmoidBCELoss(t *testing.T) {
	// Zero logits: each class contributes log 2 whatever the target is,
	// and the per-batch sum runs over classes.
	logits := NewTensor(1, 2)
	targets := NewTensor(1, 2)
	targets.Set(1, 0, 0)
	assert.InDelta(t, 2*math.Log(2), sigmoidBCELoss(logits, targets), 1e-12)

	// Saturated correct logit costs nearly nothing, saturated wrong one
	// costs about its magnitude.
	right := NewTensor(1, 1)
	right.Set(10, 0, 0)
	hot := NewTensor(1, 1)
	hot.Set(1, 0, 0)
	assert.InDelta(t, math.Log1p(math.Exp(-10)), sigmoidBCELoss(right, hot), 1e-12)

	cold := NewTensor(1, 1)
	assert.InDelta(t, 10+math.Log1p(math.Exp(-10)), sigmoidBCELoss(right, cold), 1e-12)
}

func TestCrossEntropyGradient(t *testing.T) {
	// Uniform logits, one-hot target, batch 1: probabilities are 0.5 so
	// the fused gradient is (-0.5, +0.5).
	logits := NewTensor(1, 2)
	targets := NewTensor(1, 2)
	targets.Set(1, 0, 0)

	grad := SoftmaxCrossEntropyBackward(logits, targets)
	assert.InDelta(t, -0.5, grad.At(0, 0), 1e-12)
	assert.InDelta(t, 0.5, grad.At(0, 1), 1e-12)
}

func TestAdamFirstStep(t *testing.T) {
	// After one step the bias corrections cancel exactly:
	// mHat = g, vHat = g², update = lr·g/(|g| + ε).
	p := NewTensor(2)
	p.data[0], p.data[1] = 1.0, -2.0
	p.grad[0], p.grad[1] = 0.5, -0.25

	opt := NewAdamOptimizer([]*Tensor{p}, adamBeta1, adamBeta2, adamEpsilon, 0)
	opt.Step([]*Tensor{p}, 0.1)

	assert.InDelta(t, 1.0-0.1, p.data[0], 1e-6)
	assert.InDelta(t, -2.0+0.1, p.data[1], 1e-6)
}

func TestAdamZeroGrad(t *testing.T) {
	p := NewTensor(3)
	p.grad[0], p.grad[1], p.grad[2] = 1, 2, 3

	opt := newProbeOptimizer([]*Tensor{p})
	opt.ZeroGrad([]*Tensor{p})

	assert.Equal(t, []float64{0, 0, 0}, p.grad)
}

func TestClipGradients(t *testing.T) {
	p := NewTensor(2)
	p.grad[0], p.grad[1] = 3, 4 // norm 5

	clipGradients([]*Tensor{p}, 5.0)
	assert.Equal(t, []float64{3, 4}, p.grad, "at the ceiling nothing changes")

	p.grad[0], p.grad[1] = 6, 8 // norm 10
	clipGradients([]*Tensor{p}, 5.0)
	assert.InDelta(t, 3, p.grad[0], 1e-12)
	assert.InDelta(t, 4, p.grad[1], 1e-12)
}

func TestClipGradientsGlobalNorm(t *testing.T) {
	// The norm is global across tensors, not per-tensor.
	a := NewTensor(1)
	b := NewTensor(1)
	a.grad[0], b.grad[0] = 6, 8

	clipGradients([]*Tensor{a, b}, 5.0)
	assert.InDelta(t, 3, a.grad[0], 1e-12)
	assert.InDelta(t, 4, b.grad[0], 1e-12)
}

// trainFixture builds aligned train and val sets plus a probe small enough
// for an end-to-end training run in a test.
func trainFixture(t *testing.T) (*ProbeModel, *AlignedDataset, *AlignedDataset) {
	t.Helper()

	wp := testVocab(t)
	data := &JiantData{
		Texts:  []string{"the cat sat", "the dog ran fast", "the quick brown fox"},
		Span1s: [][2]int{{0, 1}, {1, 2}, {2, 3}},
		Labels: []string{"A", "B", "A"},
	}
	vocab, err := NewLabelVocab([]string{"A", "B"})
	require.NoError(t, err)

	aligned, _, err := AlignDataset(wp, data, vocab, 8, false)
	require.NoError(t, err)

	cfg := tinyEncoderConfig(t, "bert-base-uncased")
	enc := NewEncoder(cfg, 5).Truncated(1)
	strategy, _ := strategyForTask(TaskSingleSpan)

	return NewProbeModel(enc, strategy, 2, 7), aligned, aligned
}

func TestTrainProbeValidatesInputs(t *testing.T) {
	model, train, val := trainFixture(t)
	loss, err := ResolveLoss("cross_entropy")
	require.NoError(t, err)

	_, err = trainProbe(model, newProbeOptimizer(model.Params()), TrainConfig{Val: val, Loss: loss}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "training set")

	_, err = trainProbe(model, newProbeOptimizer(model.Params()), TrainConfig{Train: train, Loss: loss}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation set")

	_, err = trainProbe(model, newProbeOptimizer(model.Params()), TrainConfig{Train: train, Val: val}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loss")
}

func TestTrainProbeStopsAtMaxEvals(t *testing.T) {
	model, train, val := trainFixture(t)
	loss, err := ResolveLoss("cross_entropy")
	require.NoError(t, err)

	metrics := NewTrainingMetrics()
	cfg := TrainConfig{
		Train:        train,
		Val:          val,
		BatchSize:    2,
		Loss:         loss,
		LR:           0.001,
		MaxEvals:     2,
		EvalInterval: 1,
		Seed:         1,
	}

	state, err := trainProbe(model, newProbeOptimizer(model.Params()), cfg, metrics)
	require.NoError(t, err)

	assert.True(t, state.Stopped)
	assert.Equal(t, 2, state.EvalCount)
	assert.Equal(t, []int{1, 2}, metrics.Evals)
	require.Len(t, metrics.ValLoss, 2)
	for _, v := range metrics.ValLoss {
		assert.False(t, math.IsNaN(v), "validation loss must stay finite")
	}
}
