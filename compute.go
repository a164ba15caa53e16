package main

import (
	"runtime"
	"sync"
)

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// The probing control flow is strictly single-threaded: load, align, then one
// layer at a time train/eval/test. The only parallelism in the program lives
// below the tensor API, inside matrix multiplication, and it is synchronous
// from the caller's point of view. A forward pass over a 128-token batch on a
// hidden size of a few hundred spends nearly all of its time in matmul, so
// this is the one place worth spending cores on.
//
// Three implementations are registered in backend.go:
//   naive    - triple loop, deterministic baseline, what the tests diff against
//   parallel - output rows split across workers (this file)
//   blocked  - cache-tiled, optionally parallel (matmul_blocked.go)
//
// Row partitioning keeps workers writing to disjoint, contiguous stretches of
// the output, so there is no synchronization inside the loop and no false
// sharing worth speaking of. Small matrices skip the goroutines entirely; the
// spawn/join overhead costs more than the multiply below MinRowsForParallel.
//
// ===========================================================================

// ComputeConfig controls how the parallel and blocked matmul backends split
// work across goroutines.
type ComputeConfig struct {
	// NumWorkers is the number of worker goroutines.
	// 0 means runtime.NumCPU().
	NumWorkers int

	// MinRowsForParallel is the minimum number of output rows before the
	// goroutine path is taken. Small matrices run single-threaded.
	MinRowsForParallel int
}

// DefaultComputeConfig returns the configuration the backends start from.
func DefaultComputeConfig() ComputeConfig {
	return ComputeConfig{
		NumWorkers:         0, // all CPUs
		MinRowsForParallel: 64,
	}
}

// numWorkers resolves the worker count.
func (c ComputeConfig) numWorkers() int {
	if c.NumWorkers > 0 {
		return c.NumWorkers
	}
	return runtime.NumCPU()
}

// shouldParallelize reports whether an operation over the given number of
// output rows is worth spreading across workers.
func (c ComputeConfig) shouldParallelize(rows int) bool {
	return rows >= c.MinRowsForParallel && c.numWorkers() > 1
}

// matmulNaive is the deterministic baseline: C = A @ B with a triple loop.
// A must be (M, K), B must be (K, N).
func matmulNaive(a, b *Tensor) *Tensor {
	m, n, k := matmulDims(a, b)
	out := NewTensor(m, n)
	matmulRows(a, b, out, 0, m, n, k)
	return out
}

// matmulParallel splits output rows across workers. Falls back to the naive
// path below the size threshold.
func matmulParallel(a, b *Tensor, cfg ComputeConfig) *Tensor {
	m, n, k := matmulDims(a, b)

	if !cfg.shouldParallelize(m) {
		out := NewTensor(m, n)
		matmulRows(a, b, out, 0, m, n, k)
		return out
	}

	out := NewTensor(m, n)
	numWorkers := cfg.numWorkers()
	rowsPerWorker := (m + numWorkers - 1) / numWorkers

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		startRow := w * rowsPerWorker
		endRow := min(startRow+rowsPerWorker, m)
		if startRow >= m {
			break
		}

		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			matmulRows(a, b, out, start, end, n, k)
		}(startRow, endRow)
	}

	wg.Wait()
	return out
}

// matmulRows computes output rows [startRow, endRow). Workers write disjoint
// row ranges, so no locking is needed.
func matmulRows(a, b, out *Tensor, startRow, endRow, n, k int) {
	for i := startRow; i < endRow; i++ {
		arow := a.data[i*k : (i+1)*k]
		orow := out.data[i*n : (i+1)*n]
		for kk := 0; kk < k; kk++ {
			av := arow[kk]
			brow := b.data[kk*n : (kk+1)*n]
			for j := 0; j < n; j++ {
				orow[j] += av * brow[j]
			}
		}
	}
}

// matmulDims validates operand shapes and returns (M, N, K).
func matmulDims(a, b *Tensor) (m, n, k int) {
	if len(a.shape) != 2 || len(b.shape) != 2 {
		panic("tensor: MatMul requires 2D tensors")
	}
	if a.shape[1] != b.shape[0] {
		panic("tensor: incompatible dimensions for matmul")
	}
	return a.shape[0], b.shape[1], a.shape[1]
}
