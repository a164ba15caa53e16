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
// PCA for the hidden-state scatter: project each token's hidden vector from
// H dimensions down to the 2 directions of greatest variance, so a layer's
// representation of one input becomes a picture.
//
//	1. center the columns
//	2. covariance C = (1/n) XᵀX
//	3. top-2 eigenvectors of C by power iteration with one deflation
//	4. project the centered rows onto them
//
// Power iteration instead of a full eigendecomposition because only two
// components are ever needed and C is symmetric positive semi-definite,
// exactly the case where repeated multiply-and-normalize converges to the
// dominant eigenvector. The covariance and projection products go through
// MatMul, so the configured backend covers the only O(n·d²) work here.
//
// ===========================================================================

const powerIterationSteps = 100

// PCA2D projects (n, d) rows onto their top 2 principal components,
// returning an (n, 2) tensor. The seed fixes the power-iteration starting
// vectors; together with the sign convention below, equal inputs give equal
// outputs.
func PCA2D(x *Tensor, seed int64) (*Tensor, error) {
	if len(x.shape) != 2 {
		return nil, fmt.Errorf("pca: want (n, d) input, got shape %v", x.shape)
	}
	n, d := x.shape[0], x.shape[1]
	if n < 2 {
		return nil, fmt.Errorf("pca: need at least 2 points, got %d", n)
	}
	if d < 2 {
		return nil, fmt.Errorf("pca: need at least 2 dimensions, got %d", d)
	}

	centered := NewTensor(n, d)
	for j := 0; j < d; j++ {
		mean := 0.0
		for i := 0; i < n; i++ {
			mean += x.At(i, j)
		}
		mean /= float64(n)
		for i := 0; i < n; i++ {
			centered.Set(x.At(i, j)-mean, i, j)
		}
	}

	cov := Scale(MatMul(Transpose(centered), centered), 1.0/float64(n))

	src := rand.New(rand.NewSource(seed))
	pc1 := powerIteration(cov, src)
	pc2 := powerIteration(deflate(cov, pc1), src)

	// Project onto the components: (n, d) x (d, 2).
	components := NewTensor(d, 2)
	for j := 0; j < d; j++ {
		components.Set(pc1[j], j, 0)
		components.Set(pc2[j], j, 1)
	}
	return MatMul(centered, components), nil
}

// powerIteration returns the dominant eigenvector of a symmetric matrix:
// start from a random unit vector, repeatedly multiply and renormalize.
// The sign is canonicalized (largest-magnitude entry positive) since an
// eigenvector's sign is arbitrary and a flipped plot between runs reads as
// a bug.
func powerIteration(matrix *Tensor, src *rand.Rand) []float64 {
	d := matrix.shape[0]

	v := make([]float64, d)
	for i := range v {
		v[i] = src.NormFloat64()
	}
	v = normalize(v)

	for iter := 0; iter < powerIterationSteps; iter++ {
		next := make([]float64, d)
		for i := 0; i < d; i++ {
			row := matrix.Row(i)
			for j, vj := range v {
				next[i] += row[j] * vj
			}
		}
		v = normalize(next)
	}

	pivot := 0
	for i := range v {
		if math.Abs(v[i]) > math.Abs(v[pivot]) {
			pivot = i
		}
	}
	if v[pivot] < 0 {
		for i := range v {
			v[i] = -v[i]
		}
	}
	return v
}

// deflate subtracts the found component so the next power iteration
// converges to the following eigenvector: A' = A - λvvᵀ with λ = vᵀAv.
func deflate(matrix *Tensor, v []float64) *Tensor {
	d := matrix.shape[0]

	av := make([]float64, d)
	for i := 0; i < d; i++ {
		row := matrix.Row(i)
		for j, vj := range v {
			av[i] += row[j] * vj
		}
	}
	lambda := 0.0
	for i := range v {
		lambda += v[i] * av[i]
	}

	out := NewTensor(d, d)
	for i := 0; i < d; i++ {
		for j := 0; j < d; j++ {
			out.Set(matrix.At(i, j)-lambda*v[i]*v[j], i, j)
		}
	}
	return out
}

func normalize(v []float64) []float64 {
	norm := 0.0
	for _, x := range v {
		norm += x * x
	}
	norm = math.Sqrt(norm)
	if norm < 1e-10 {
		return v
	}

	out := make([]float64, len(v))
	for i := range v {
		out[i] = v[i] / norm
	}
	return out
}
