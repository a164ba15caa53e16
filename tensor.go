package main

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

// Tensors here are deliberately small-scale: the probing workloads this tool
// runs (frozen encoder forward passes, a two-layer classifier head) never
// need views, broadcasting, or dtype zoo. Everything is float64, row-major,
// eagerly allocated. Gradients live alongside the data because only the head
// parameters ever receive them; encoder tensors simply never have their grad
// touched.

// ErrShapeMismatch indicates incompatible tensor shapes. Operations panic on
// shape errors (programmer bugs); checkpoint loading wraps this error instead,
// because a truncated or foreign model file is a runtime condition.
var ErrShapeMismatch = errors.New("tensor: shape mismatch")

// Tensor is a multi-dimensional array of float64 values in row-major order.
//
// Not safe for concurrent mutation. The sweep shares encoder tensors across
// layer iterations read-only; that is the only cross-owner sharing in the
// program.
type Tensor struct {
	data  []float64 // Flat backing array
	shape []int     // Dimensions, e.g. [batch*seq, hidden]
	grad  []float64 // Gradient accumulator, same layout as data
}

// NewTensor creates a zero tensor with the given shape.
// Panics if the shape is empty or has non-positive dimensions.
func NewTensor(shape ...int) *Tensor {
	if len(shape) == 0 {
		panic("tensor: shape cannot be empty")
	}

	size := 1
	for i, dim := range shape {
		if dim <= 0 {
			panic(fmt.Sprintf("tensor: shape[%d] must be positive, got %d", i, dim))
		}
		size *= dim
	}

	shapeCopy := make([]int, len(shape))
	copy(shapeCopy, shape)

	return &Tensor{
		data:  make([]float64, size),
		shape: shapeCopy,
		grad:  make([]float64, size),
	}
}

// NewTensorRand creates a tensor initialized from N(0, 0.02) using the shared
// package source. Prefer NewTensorRandSeeded anywhere reproducibility matters
// (probe head init, encoder init for tests).
func NewTensorRand(shape ...int) *Tensor {
	t := NewTensor(shape...)
	fillNormal(t.data, rand.Float64)
	return t
}

// NewTensorRandSeeded creates a tensor initialized from N(0, 0.02) using a
// private source. Each sweep iteration seeds its head from the run seed plus
// the layer index, so a sweep is reproducible layer by layer.
func NewTensorRandSeeded(seed int64, shape ...int) *Tensor {
	t := NewTensor(shape...)
	src := rand.New(rand.NewSource(seed))
	fillNormal(t.data, src.Float64)
	return t
}

// newTensorRandFrom creates a tensor initialized from N(0, 0.02) drawing from
// an existing source. Model constructors thread one source through all their
// tensors so a whole model is reproducible from one seed.
func newTensorRandFrom(src *rand.Rand, shape ...int) *Tensor {
	t := NewTensor(shape...)
	fillNormal(t.data, src.Float64)
	return t
}

// fillNormal fills dst with Box-Muller samples scaled to stddev 0.02.
func fillNormal(dst []float64, next func() float64) {
	for i := 0; i < len(dst); i += 2 {
		u1, u2 := next(), next()
		for u1 == 0 {
			u1 = next()
		}
		mag := 0.02 * math.Sqrt(-2*math.Log(u1))
		dst[i] = mag * math.Cos(2*math.Pi*u2)
		if i+1 < len(dst) {
			dst[i+1] = mag * math.Sin(2*math.Pi*u2)
		}
	}
}

// Shape returns a copy of the tensor's shape.
func (t *Tensor) Shape() []int {
	shape := make([]int, len(t.shape))
	copy(shape, t.shape)
	return shape
}

// Dims returns the number of dimensions (rank) of the tensor.
func (t *Tensor) Dims() int {
	return len(t.shape)
}

// Size returns the total number of elements in the tensor.
func (t *Tensor) Size() int {
	return len(t.data)
}

// At returns the element at the given indices. Panics on invalid indices.
func (t *Tensor) At(indices ...int) float64 {
	return t.data[t.flatIndex(indices)]
}

// Set sets the element at the given indices. Panics on invalid indices.
func (t *Tensor) Set(value float64, indices ...int) {
	t.data[t.flatIndex(indices)] = value
}

// Row returns the i-th row of a 2D tensor as a slice sharing the backing
// array. Used for per-token logit parsing and span pooling; callers must not
// hold the slice across a mutation of the tensor.
func (t *Tensor) Row(i int) []float64 {
	if len(t.shape) != 2 {
		panic("tensor: Row requires 2D tensor")
	}
	n := t.shape[1]
	return t.data[i*n : (i+1)*n]
}

// flatIndex converts multi-dimensional indices to a flat offset.
func (t *Tensor) flatIndex(indices []int) int {
	if len(indices) != len(t.shape) {
		panic(fmt.Sprintf("tensor: expected %d indices, got %d", len(t.shape), len(indices)))
	}

	idx := 0
	stride := 1
	for i := len(indices) - 1; i >= 0; i-- {
		if indices[i] < 0 || indices[i] >= t.shape[i] {
			panic(fmt.Sprintf("tensor: index[%d]=%d out of bounds [0,%d)", i, indices[i], t.shape[i]))
		}
		idx += indices[i] * stride
		stride *= t.shape[i]
	}
	return idx
}

// ZeroGrad clears the gradient accumulator. The trainer calls this through
// the optimizer before every batch.
func (t *Tensor) ZeroGrad() {
	for i := range t.grad {
		t.grad[i] = 0
	}
}

// Clone creates a deep copy of the tensor, gradients included.
func (t *Tensor) Clone() *Tensor {
	clone := NewTensor(t.shape...)
	copy(clone.data, t.data)
	copy(clone.grad, t.grad)
	return clone
}

// Reshape returns a view with a different shape sharing data and grad.
// The element count must be unchanged.
func (t *Tensor) Reshape(newShape ...int) *Tensor {
	newSize := 1
	for _, dim := range newShape {
		newSize *= dim
	}
	if newSize != len(t.data) {
		panic(fmt.Sprintf("tensor: cannot reshape size %d to %v (size %d)", len(t.data), newShape, newSize))
	}

	shapeCopy := make([]int, len(newShape))
	copy(shapeCopy, newShape)

	return &Tensor{
		data:  t.data,
		shape: shapeCopy,
		grad:  t.grad,
	}
}

// String returns a short description for debugging.
func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, size=%d)", t.shape, len(t.data))
}

// ===========================================================================
// OPERATIONS
// ===========================================================================

// Add performs element-wise addition: out = a + b.
// Panics if shapes don't match.
func Add(a, b *Tensor) *Tensor {
	if !shapeEqual(a.shape, b.shape) {
		panic(fmt.Sprintf("tensor: cannot add shapes %v and %v", a.shape, b.shape))
	}

	out := NewTensor(a.shape...)
	for i := range out.data {
		out.data[i] = a.data[i] + b.data[i]
	}
	return out
}

// Mul performs element-wise multiplication (Hadamard product).
// Panics if shapes don't match.
func Mul(a, b *Tensor) *Tensor {
	if !shapeEqual(a.shape, b.shape) {
		panic(fmt.Sprintf("tensor: cannot multiply shapes %v and %v", a.shape, b.shape))
	}

	out := NewTensor(a.shape...)
	for i := range out.data {
		out.data[i] = a.data[i] * b.data[i]
	}
	return out
}

// Scale multiplies all elements by a scalar.
func Scale(a *Tensor, scalar float64) *Tensor {
	out := NewTensor(a.shape...)
	for i := range out.data {
		out.data[i] = a.data[i] * scalar
	}
	return out
}

// AddBias adds a bias row vector to every row of a 2D tensor:
// out[i,j] = x[i,j] + b[j]. Panics if b is not (1, N) or (N).
func AddBias(x, b *Tensor) *Tensor {
	if len(x.shape) != 2 {
		panic("tensor: AddBias requires 2D input")
	}
	n := x.shape[1]
	if b.Size() != n {
		panic(fmt.Sprintf("tensor: bias size %d does not match row width %d", b.Size(), n))
	}

	out := NewTensor(x.shape...)
	for i := 0; i < x.shape[0]; i++ {
		for j := 0; j < n; j++ {
			out.data[i*n+j] = x.data[i*n+j] + b.data[j]
		}
	}
	return out
}

// MatMul performs matrix multiplication C = A @ B through the active compute
// backend (naive, parallel, or blocked; see backend.go).
// A must be (M, K), B must be (K, N).
func MatMul(a, b *Tensor) *Tensor {
	return activeMatMul()(a, b)
}

// Transpose returns the transpose of a 2D matrix.
func Transpose(a *Tensor) *Tensor {
	if len(a.shape) != 2 {
		panic("tensor: Transpose requires 2D tensor")
	}

	m, n := a.shape[0], a.shape[1]
	out := NewTensor(n, m)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			out.data[j*m+i] = a.data[i*n+j]
		}
	}
	return out
}

// ===========================================================================
// ACTIVATIONS
// ===========================================================================

// GELU applies the Gaussian Error Linear Unit, tanh approximation:
//
//	GELU(x) ≈ 0.5 * x * (1 + tanh(√(2/π) * (x + 0.044715x³)))
//
// Both the encoder feed-forward blocks and the probe head use GELU.
func GELU(x *Tensor) *Tensor {
	out := NewTensor(x.shape...)

	const (
		sqrt2OverPi = 0.7978845608028654 // sqrt(2/π)
		coeff       = 0.044715
	)

	for i := range x.data {
		v := x.data[i]
		inner := sqrt2OverPi * (v + coeff*v*v*v)
		out.data[i] = 0.5 * v * (1.0 + math.Tanh(inner))
	}
	return out
}

// Softmax converts each row of logits to probabilities. Numerically stable:
// subtracts the row max before exponentiating. 2D only.
func Softmax(x *Tensor) *Tensor {
	if len(x.shape) != 2 {
		panic("tensor: Softmax requires 2D tensor")
	}

	batch, features := x.shape[0], x.shape[1]
	out := NewTensor(batch, features)

	for b := 0; b < batch; b++ {
		maxVal := x.data[b*features]
		for f := 1; f < features; f++ {
			if v := x.data[b*features+f]; v > maxVal {
				maxVal = v
			}
		}

		sum := 0.0
		for f := 0; f < features; f++ {
			e := math.Exp(x.data[b*features+f] - maxVal)
			out.data[b*features+f] = e
			sum += e
		}
		for f := 0; f < features; f++ {
			out.data[b*features+f] /= sum
		}
	}
	return out
}

// Sigmoid applies 1/(1+exp(-x)) element-wise. Used by the "bce" loss.
func Sigmoid(x *Tensor) *Tensor {
	out := NewTensor(x.shape...)
	for i := range x.data {
		out.data[i] = 1.0 / (1.0 + math.Exp(-x.data[i]))
	}
	return out
}

// ===========================================================================
// HELPERS
// ===========================================================================

// argmaxRow returns the index of the maximum value in a slice. Ties resolve
// to the lowest index, which keeps test metrics deterministic.
func argmaxRow(row []float64) int {
	best := 0
	for i := 1; i < len(row); i++ {
		if row[i] > row[best] {
			best = i
		}
	}
	return best
}

func shapeEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
