package main

import (
	"fmt"
	"sort"
	"strings"
)

// The compute backend is chosen once, from the -device flag, before any model
// work starts. Resolution happens here in a registry rather than by string
// checks at call sites; MatMul in tensor.go reads the active function for the
// rest of the run. The control flow is single-threaded, so a plain package
// variable is enough; there is no concurrent reconfiguration to guard.

// matmulFunc multiplies two 2D tensors.
type matmulFunc func(a, b *Tensor) *Tensor

// matmulBackends maps a device name to a constructor binding a ComputeConfig.
var matmulBackends = map[string]func(cfg ComputeConfig) matmulFunc{
	"naive": func(ComputeConfig) matmulFunc {
		return matmulNaive
	},
	"parallel": func(cfg ComputeConfig) matmulFunc {
		return func(a, b *Tensor) *Tensor { return matmulParallel(a, b, cfg) }
	},
	"blocked": func(cfg ComputeConfig) matmulFunc {
		return func(a, b *Tensor) *Tensor { return matmulBlocked(a, b, defaultBlockSize, cfg) }
	},
}

var activeBackend matmulFunc = matmulBackends["parallel"](DefaultComputeConfig())

// ConfigureBackend resolves a device name against the registry and installs
// the matching matmul implementation. Unknown names list the valid set.
func ConfigureBackend(device string, workers int) error {
	build, ok := matmulBackends[device]
	if !ok {
		return fmt.Errorf("unknown device %q (valid: %s)", device, strings.Join(BackendNames(), ", "))
	}

	cfg := DefaultComputeConfig()
	cfg.NumWorkers = workers
	activeBackend = build(cfg)
	return nil
}

// activeMatMul returns the installed matmul implementation.
func activeMatMul() matmulFunc {
	return activeBackend
}

// BackendNames returns the registered device names, sorted.
func BackendNames() []string {
	names := make([]string, 0, len(matmulBackends))
	for name := range matmulBackends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
