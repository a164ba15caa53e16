package main

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPCA2DErrors(t *testing.T) {
	_, err := PCA2D(NewTensor(5), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "want (n, d)")

	_, err = PCA2D(NewTensor(1, 4), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 2 points")

	_, err = PCA2D(NewTensor(4, 1), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 2 dimensions")
}

func TestPCA2DShape(t *testing.T) {
	x := NewTensorRandSeeded(11, 10, 8)

	out, err := PCA2D(x, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{10, 2}, out.Shape())
}

func TestPCA2DDeterministic(t *testing.T) {
	x := NewTensorRandSeeded(11, 10, 8)

	a, err := PCA2D(x, 7)
	require.NoError(t, err)
	b, err := PCA2D(x, 7)
	require.NoError(t, err)
	assert.Equal(t, a.data, b.data)
}

// TestPCA2DRecoversPlane embeds points in the first two coordinates of a
// 4-dimensional space. The two columns are mean-zero and orthogonal with
// distinct variances, so the principal components are exactly the coordinate
// axes and the projection must reproduce the points.
func TestPCA2DRecoversPlane(t *testing.T) {
	as := []float64{-5, -3, -1, 1, 3, 5}  // variance 70/6
	bs := []float64{2, -1, -1, -1, -1, 2} // variance 2, orthogonal to as

	x := NewTensor(6, 4)
	for i := range as {
		x.Set(as[i], i, 0)
		x.Set(bs[i], i, 1)
	}

	out, err := PCA2D(x, 1)
	require.NoError(t, err)
	require.Equal(t, []int{6, 2}, out.Shape())

	for i := range as {
		assert.InDelta(t, as[i], out.At(i, 0), 1e-6, "row %d pc1", i)
		assert.InDelta(t, bs[i], out.At(i, 1), 1e-6, "row %d pc2", i)
	}
}

func TestPowerIterationDominant(t *testing.T) {
	// [[2,1],[1,2]] has eigenpairs 3:(1,1)/sqrt2 and 1:(1,-1)/sqrt2.
	m := NewTensor(2, 2)
	m.Set(2, 0, 0)
	m.Set(1, 0, 1)
	m.Set(1, 1, 0)
	m.Set(2, 1, 1)

	v := powerIteration(m, rand.New(rand.NewSource(42)))
	inv := 1 / math.Sqrt2
	assert.InDelta(t, inv, v[0], 1e-9)
	assert.InDelta(t, inv, v[1], 1e-9)
}

func TestDeflateRemovesComponent(t *testing.T) {
	m := NewTensor(2, 2)
	m.Set(2, 0, 0)
	m.Set(1, 0, 1)
	m.Set(1, 1, 0)
	m.Set(2, 1, 1)

	inv := 1 / math.Sqrt2
	deflated := deflate(m, []float64{inv, inv})

	// A - 3vv^T = [[0.5,-0.5],[-0.5,0.5]].
	assert.InDelta(t, 0.5, deflated.At(0, 0), 1e-9)
	assert.InDelta(t, -0.5, deflated.At(0, 1), 1e-9)
	assert.InDelta(t, 0.5, deflated.At(1, 1), 1e-9)

	// Its dominant direction is the second eigenvector, sign-canonicalized
	// so the first entry comes out positive.
	v := powerIteration(deflated, rand.New(rand.NewSource(42)))
	assert.InDelta(t, inv, v[0], 1e-9)
	assert.InDelta(t, -inv, v[1], 1e-9)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, []float64{0.6, 0.8}, normalize([]float64{3, 4}))

	// Near-zero vectors come back untouched rather than exploding.
	tiny := []float64{1e-11, 0}
	assert.Equal(t, tiny, normalize(tiny))
}
