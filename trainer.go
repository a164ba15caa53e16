package main

import (
	"fmt"
	"math"
	"math/rand"
)

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// The probe training loop. One probe head is trained with Adam until it stops
// improving on the validation set:
//
//	run mini-batches; every EvalInterval batches (counted cumulatively across
//	epoch boundaries) compute the validation loss and advance the TrainState:
//	  - strictly lower loss than the best so far: best recorded, counter reset
//	  - otherwise the non-improvement counter grows; at every positive
//	    multiple of PatienceLR the learning rate halves, and at Patience the
//	    training stops. A configured MaxEvals stops unconditionally first.
//
// The TrainState is a value threaded through advanceTrainState, not mutable
// state buried in an optimizer: the halving/stopping policy is a pure
// function of (state, validation loss) and is tested as one. The live
// optimizer never owns the learning rate; every Step call receives
// state.LR explicitly.
//
// The loop is written once. Task-type differences were already absorbed by
// the probe's span strategy, so there is no single-span/two-span fork here.
//
// ===========================================================================

// gradClipNorm is the global gradient-norm ceiling applied every batch.
const gradClipNorm = 5.0

// Adam moment defaults, the standard transformer settings.
const (
	adamBeta1   = 0.9
	adamBeta2   = 0.999
	adamEpsilon = 1e-8
)

// TrainConfig holds the hyperparameters for training one probe head.
type TrainConfig struct {
	Train *AlignedDataset
	Val   *AlignedDataset

	BatchSize int
	Loss      LossFunc // resolved via ResolveLoss at configuration time
	LR        float64

	// MaxEvals caps the number of validation evaluations; 0 means unbounded.
	MaxEvals int

	// PatienceLR is the non-improvement count between learning-rate halvings.
	PatienceLR int

	// Patience is the non-improvement count that stops training.
	Patience int

	// EvalInterval is the number of batches between evaluations, counted
	// cumulatively across epochs.
	EvalInterval int

	Seed int64
}

// withDefaults fills in the standard probing hyperparameters for zero fields.
func (c TrainConfig) withDefaults() TrainConfig {
	if c.BatchSize == 0 {
		c.BatchSize = 32
	}
	if c.LR == 0 {
		c.LR = 0.0001
	}
	if c.PatienceLR == 0 {
		c.PatienceLR = 5
	}
	if c.Patience == 0 {
		c.Patience = 20
	}
	if c.EvalInterval == 0 {
		c.EvalInterval = 100
	}
	return c
}

// TrainState is the training loop's control state, updated functionally by
// advanceTrainState at each evaluation boundary.
type TrainState struct {
	EvalCount   int
	BadEvals    int
	BestValLoss float64
	LR          float64
	Stopped     bool
	Halved      bool // set by the advance that halved, for logging only
}

// newTrainState returns the state before the first evaluation.
func newTrainState(lr float64) TrainState {
	return TrainState{BestValLoss: math.Inf(1), LR: lr}
}

// advanceTrainState folds one validation loss into the state. Pure: the
// receiver-free signature and value semantics are what make the stopping and
// halving policy testable without a model.
//
// Checks run in order: MaxEvals (when configured) stops first, then Patience,
// then the halving rule. Halving fires exactly when BadEvals is a positive
// multiple of PatienceLR, so a run that never improves halves at PatienceLR,
// 2·PatienceLR, ... until Patience stops it.
func advanceTrainState(s TrainState, valLoss float64, cfg TrainConfig) TrainState {
	s.Halved = false
	s.EvalCount++

	if valLoss < s.BestValLoss {
		s.BestValLoss = valLoss
		s.BadEvals = 0
	} else {
		s.BadEvals++
	}

	switch {
	case cfg.MaxEvals > 0 && s.EvalCount >= cfg.MaxEvals:
		s.Stopped = true
	case s.BadEvals >= cfg.Patience:
		s.Stopped = true
	case s.BadEvals > 0 && s.BadEvals%cfg.PatienceLR == 0:
		s.LR /= 2
		s.Halved = true
	}
	return s
}

// trainProbe trains one probe head to its stopping condition and returns the
// final state. Per batch: zero grads, forward, loss, backward, clip the
// global gradient norm to 5.0, step with the state's current learning rate.
// metrics may be nil.
func trainProbe(model *ProbeModel, opt Optimizer, cfg TrainConfig, metrics *TrainingMetrics) (TrainState, error) {
	cfg = cfg.withDefaults()
	if cfg.Train == nil || cfg.Train.Len() == 0 {
		return TrainState{}, fmt.Errorf("trainer: empty training set")
	}
	if cfg.Val == nil || cfg.Val.Len() == 0 {
		return TrainState{}, fmt.Errorf("trainer: empty validation set")
	}
	if cfg.Loss.Value == nil {
		return TrainState{}, fmt.Errorf("trainer: no loss function configured")
	}

	fmt.Println("Training the model")

	state := newTrainState(cfg.LR)
	params := model.Params()
	shuffle := rand.New(rand.NewSource(cfg.Seed))

	batchIndex := 0 // cumulative, never reset at epoch boundaries
	runningLoss, runningBatches := 0.0, 0

	for !state.Stopped {
		for _, batch := range cfg.Train.Batches(cfg.BatchSize, shuffle) {
			opt.ZeroGrad(params)

			logits, cache := model.ForwardWithCache(&batch)
			loss := cfg.Loss.Value(logits, batch.Targets)
			model.Backward(cfg.Loss.Grad(logits, batch.Targets), cache)

			clipGradients(params, gradClipNorm)
			opt.Step(params, state.LR)

			batchIndex++
			runningLoss += loss
			runningBatches++

			if batchIndex%cfg.EvalInterval != 0 {
				continue
			}

			fmt.Printf("Training run %d finished\n", state.EvalCount+1)
			valLoss := evalLoss(model, cfg.Val, cfg.BatchSize, cfg.Loss)
			fmt.Printf("Loss: %g\n", valLoss)

			state = advanceTrainState(state, valLoss, cfg)
			if metrics != nil {
				metrics.Record(state.EvalCount, runningLoss/float64(runningBatches), valLoss, state.LR)
			}
			runningLoss, runningBatches = 0.0, 0

			if state.Halved {
				fmt.Printf("No improvement for %d evaluations, halving the learning rate to %g\n",
					cfg.PatienceLR, state.LR)
			}
			if state.Stopped {
				break
			}
		}
	}

	fmt.Println("Training is finished")
	return state, nil
}

// ===========================================================================
// LOSS FUNCTIONS
// ===========================================================================

// LossFunc pairs a loss value with its fused gradient so the forward and
// backward math cannot drift apart.
type LossFunc struct {
	Name  string
	Value func(logits, targets *Tensor) float64
	Grad  func(logits, targets *Tensor) *Tensor
}

var lossRegistry = map[string]LossFunc{
	"cross_entropy": {
		Name:  "cross_entropy",
		Value: crossEntropyLoss,
		Grad:  SoftmaxCrossEntropyBackward,
	},
	"bce": {
		Name:  "bce",
		Value: sigmoidBCELoss,
		Grad:  SigmoidBCEBackward,
	},
}

// ResolveLoss maps a loss name to its implementation. Resolved once at
// configuration time; unknown names are an error there, not mid-sweep.
func ResolveLoss(name string) (LossFunc, error) {
	loss, ok := lossRegistry[name]
	if !ok {
		return LossFunc{}, fmt.Errorf("unknown loss %q (valid: cross_entropy, bce)", name)
	}
	return loss, nil
}

// crossEntropyLoss is softmax + negative log-likelihood against one-hot
// targets, averaged over the batch. Computed through log-sum-exp with the
// row max subtracted, never through explicit probabilities.
func crossEntropyLoss(logits, targets *Tensor) float64 {
	if !shapeEqual(logits.shape, targets.shape) {
		panic("crossEntropyLoss: shape mismatch")
	}

	batch, classes := logits.shape[0], logits.shape[1]
	total := 0.0

	for b := 0; b < batch; b++ {
		row := logits.Row(b)

		maxLogit := row[0]
		for _, v := range row[1:] {
			if v > maxLogit {
				maxLogit = v
			}
		}
		sumExp := 0.0
		for _, v := range row {
			sumExp += math.Exp(v - maxLogit)
		}
		logSumExp := maxLogit + math.Log(sumExp)

		for c := 0; c < classes; c++ {
			if t := targets.data[b*classes+c]; t != 0 {
				total += t * (logSumExp - row[c])
			}
		}
	}
	return total / float64(batch)
}

// sigmoidBCELoss is sigmoid + binary cross-entropy, summed over classes and
// averaged over the batch, in the logit-space form
//
//	max(x,0) - x·t + log(1 + exp(-|x|))
//
// which never exponentiates a large positive value.
func sigmoidBCELoss(logits, targets *Tensor) float64 {
	if !shapeEqual(logits.shape, targets.shape) {
		panic("sigmoidBCELoss: shape mismatch")
	}

	total := 0.0
	for i, x := range logits.data {
		t := targets.data[i]
		total += math.Max(x, 0) - x*t + math.Log1p(math.Exp(-math.Abs(x)))
	}
	return total / float64(logits.shape[0])
}

// ===========================================================================
// OPTIMIZER
// ===========================================================================

// Optimizer updates parameters from their accumulated gradients.
type Optimizer interface {
	// Step performs one update using the given learning rate.
	Step(params []*Tensor, lr float64)

	// ZeroGrad clears all gradients.
	ZeroGrad(params []*Tensor)
}

// AdamOptimizer implements Adam with bias correction.
//
//	m_t = β1·m + (1-β1)·g        v_t = β2·v + (1-β2)·g²
//	param -= lr · (m_t / (1-β1^t)) / (√(v_t / (1-β2^t)) + ε)
//
// The moment tensors are positional: Step must always receive the same
// params slice the optimizer was built from.
type AdamOptimizer struct {
	beta1       float64
	beta2       float64
	epsilon     float64
	weightDecay float64

	m []*Tensor // first moment
	v []*Tensor // second moment
	t int       // step count, drives bias correction
}

// NewAdamOptimizer creates an Adam optimizer with zeroed moments.
func NewAdamOptimizer(params []*Tensor, beta1, beta2, epsilon, weightDecay float64) *AdamOptimizer {
	m := make([]*Tensor, len(params))
	v := make([]*Tensor, len(params))
	for i, p := range params {
		m[i] = NewTensor(p.shape...)
		v[i] = NewTensor(p.shape...)
	}

	return &AdamOptimizer{
		beta1:       beta1,
		beta2:       beta2,
		epsilon:     epsilon,
		weightDecay: weightDecay,
		m:           m,
		v:           v,
	}
}

// newProbeOptimizer builds the Adam instance one sweep iteration uses, with
// the standard betas and no weight decay.
func newProbeOptimizer(params []*Tensor) *AdamOptimizer {
	return NewAdamOptimizer(params, adamBeta1, adamBeta2, adamEpsilon, 0)
}

// Step performs one Adam update.
func (opt *AdamOptimizer) Step(params []*Tensor, lr float64) {
	opt.t++

	bias1 := 1.0 - math.Pow(opt.beta1, float64(opt.t))
	bias2 := 1.0 - math.Pow(opt.beta2, float64(opt.t))

	for i, p := range params {
		for j := range p.data {
			grad := p.grad[j] + opt.weightDecay*p.data[j]

			opt.m[i].data[j] = opt.beta1*opt.m[i].data[j] + (1.0-opt.beta1)*grad
			opt.v[i].data[j] = opt.beta2*opt.v[i].data[j] + (1.0-opt.beta2)*grad*grad

			mHat := opt.m[i].data[j] / bias1
			vHat := opt.v[i].data[j] / bias2

			p.data[j] -= lr * mHat / (math.Sqrt(vHat) + opt.epsilon)
		}
	}
}

// ZeroGrad clears gradients.
func (opt *AdamOptimizer) ZeroGrad(params []*Tensor) {
	for _, p := range params {
		p.ZeroGrad()
	}
}

// clipGradients rescales all gradients so their global L2 norm does not
// exceed maxNorm.
func clipGradients(params []*Tensor, maxNorm float64) {
	globalNorm := 0.0
	for _, p := range params {
		for _, g := range p.grad {
			globalNorm += g * g
		}
	}
	globalNorm = math.Sqrt(globalNorm)

	if globalNorm > maxNorm {
		scale := maxNorm / globalNorm
		for _, p := range params {
			for i := range p.grad {
				p.grad[i] *= scale
			}
		}
	}
}
