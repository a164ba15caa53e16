package main

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// Backward-pass primitives for the probe head. There is no tape and no graph:
// the only trainable parameters in the whole program are the head's two
// linear layers, so probe.go calls these helpers in reverse order by hand,
// exactly mirroring its forward pass.
//
// The encoder is frozen. Gradients stop at the pooled span features: nothing
// below them ever needs ∂L/∂x, which is why MatMulBackwardWeight exists. At
// the head's first layer the input is a constant and computing its gradient
// would be a wasted matmul.
//
// Loss gradients are fused with their activations (softmax+NLL, sigmoid+BCE)
// because the fused form is both cheaper and numerically safer than chaining
// through the activation's Jacobian.
//
// ===========================================================================

import (
	"math"
)

// MatMulBackward computes both input gradients for C = A @ B.
//
//	gradA = ∂L/∂A = gradC @ B^T
//	gradB = ∂L/∂B = A^T @ gradC
//
// Derivation: C[i,j] = Σ_k A[i,k]·B[k,j], so ∂L/∂A[i,k] = Σ_j gradC[i,j]·B[k,j].
func MatMulBackward(a, b, gradC *Tensor) (gradA, gradB *Tensor) {
	gradA = MatMul(gradC, Transpose(b))
	gradB = MatMul(Transpose(a), gradC)
	return gradA, gradB
}

// MatMulBackwardWeight computes only the weight gradient for C = A @ B where
// A is a constant (pooled features out of the frozen encoder):
//
//	gradB = A^T @ gradC
func MatMulBackwardWeight(a, gradC *Tensor) *Tensor {
	return MatMul(Transpose(a), gradC)
}

// AddBiasBackward computes gradients for Y = X + bias (bias broadcast over
// rows). The input gradient is gradY unchanged; the bias gradient is the
// column sum of gradY.
func AddBiasBackward(gradY *Tensor) (gradX, gradBias *Tensor) {
	if len(gradY.shape) != 2 {
		panic("AddBiasBackward: requires 2D gradient")
	}

	rows, cols := gradY.shape[0], gradY.shape[1]
	gradBias = NewTensor(cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			gradBias.data[j] += gradY.data[i*cols+j]
		}
	}
	return gradY.Clone(), gradBias
}

// GELUBackward computes the gradient of the tanh-approximated GELU.
//
//	GELU(x) = 0.5x(1 + tanh(u)),  u = √(2/π)(x + 0.044715x³)
//	GELU'(x) = 0.5(1 + tanh(u)) + 0.5x·sech²(u)·√(2/π)(1 + 3·0.044715x²)
func GELUBackward(x, gradY *Tensor) *Tensor {
	gradX := NewTensor(x.shape...)

	const (
		sqrt2OverPi = 0.7978845608028654
		coeff       = 0.044715
	)

	for i := range x.data {
		v := x.data[i]
		inner := sqrt2OverPi * (v + coeff*v*v*v)
		tanhInner := math.Tanh(inner)
		sech2 := 1.0 - tanhInner*tanhInner
		innerDeriv := sqrt2OverPi * (1.0 + 3.0*coeff*v*v)
		deriv := 0.5*(1.0+tanhInner) + 0.5*v*sech2*innerDeriv

		gradX.data[i] = gradY.data[i] * deriv
	}
	return gradX
}

// SoftmaxCrossEntropyBackward computes the fused gradient of
// loss = mean_b( -Σ_c targets[b,c]·log(softmax(logits)[b,c]) )
// with one-hot float targets:
//
//	gradLogits = (softmax(logits) - targets) / batch
//
// The fused form avoids dividing by near-zero probabilities.
func SoftmaxCrossEntropyBackward(logits, targets *Tensor) *Tensor {
	if !shapeEqual(logits.shape, targets.shape) {
		panic("SoftmaxCrossEntropyBackward: shape mismatch")
	}

	probs := Softmax(logits)
	batch := float64(logits.shape[0])

	grad := NewTensor(logits.shape...)
	for i := range grad.data {
		grad.data[i] = (probs.data[i] - targets.data[i]) / batch
	}
	return grad
}

// SigmoidBCEBackward computes the fused gradient of
// loss = mean_b( Σ_c BCE(sigmoid(logits)[b,c], targets[b,c]) ):
//
//	gradLogits = (sigmoid(logits) - targets) / batch
//
// Same closed form as softmax+NLL; the two losses differ only in forward
// value and in how the probabilities are normalized.
func SigmoidBCEBackward(logits, targets *Tensor) *Tensor {
	if !shapeEqual(logits.shape, targets.shape) {
		panic("SigmoidBCEBackward: shape mismatch")
	}

	probs := Sigmoid(logits)
	batch := float64(logits.shape[0])

	grad := NewTensor(logits.shape...)
	for i := range grad.data {
		grad.data[i] = (probs.data[i] - targets.data[i]) / batch
	}
	return grad
}

// AccumulateGrad adds grad into the tensor's gradient buffer.
func (t *Tensor) AccumulateGrad(grad *Tensor) {
	if !shapeEqual(t.shape, grad.shape) {
		panic("AccumulateGrad: shape mismatch")
	}
	for i := range t.grad {
		t.grad[i] += grad.data[i]
	}
}
