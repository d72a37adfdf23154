// Package diagonalize implements the Diagonalizer component: block
// eigendecomposition, with a shared-memory worker-pool backend and a
// distributed (net/rpc) backend, matching spec.md §4.2/§5.
package diagonalize

import (
	"math"
	"runtime"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/nrgchain/nrg/invariant"
)

// Task is one block Hamiltonian awaiting diagonalization.
type Task struct {
	Invariant invariant.Invariant
	Matrix    *mat.CDense
}

// Result is the diagonalization outcome for one Task: ascending
// eigenvalues and the corresponding eigenvectors as rows, or Err if
// diagonalization failed for that block.
type Result struct {
	Invariant invariant.Invariant
	Values    []float64
	Vectors   *mat.CDense
	Err       error
}

// negligibleImag is the threshold below which an off-diagonal imaginary
// residue is treated as numerical noise rather than genuine complex
// structure, resolving which of the two eigensolvers below applies.
const negligibleImag = 1e-10

// Real diagonalizes a Hermitian block whose entries are real to within
// negligibleImag, via gonum's real symmetric eigensolver
// (mat.EigenSym), grounded on MirzaevaIV-goHF/RHF.go's
// eigsym.Factorize/VectorsTo pattern.
func Real(m *mat.CDense) ([]float64, *mat.CDense, error) {
	n, cols := m.Dims()
	if n != cols {
		return nil, nil, errors.Errorf("diagonalize: matrix is %dx%d, not square", n, cols)
	}
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := m.At(i, j)
			if math.Abs(imag(v)) > negligibleImag {
				return nil, nil, errors.Errorf("diagonalize: entry (%d,%d) has non-negligible imaginary part %g", i, j, imag(v))
			}
			sym.SetSym(i, j, real(v))
		}
	}
	var eigsym mat.EigenSym
	if ok := eigsym.Factorize(sym, true); !ok {
		return nil, nil, errors.Errorf("diagonalize: EigenSym.Factorize failed on %dx%d block", n, n)
	}
	values := eigsym.Values(nil)

	var vecs mat.Dense
	eigsym.VectorsTo(&vecs)

	out := mat.NewCDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			// eigsym.VectorsTo returns eigenvectors as columns; the
			// Spectrum type stores them as rows, so transpose on copy.
			out.Set(i, j, complex(vecs.At(j, i), 0))
		}
	}
	return values, out, nil
}

// Sort by increasing eigenvalue. Run applies it to every result;
// gonum's EigenSym already returns ascending order, so it only
// reorders anything on the complex/offloaded path.
func sortAscending(values []float64, vecs *mat.CDense) {
	n := len(values)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return values[idx[a]] < values[idx[b]] })
	newValues := make([]float64, n)
	_, cols := vecs.Dims()
	newVecs := mat.NewCDense(n, cols, nil)
	for newRow, oldRow := range idx {
		newValues[newRow] = values[oldRow]
		for c := 0; c < cols; c++ {
			newVecs.Set(newRow, c, vecs.At(oldRow, c))
		}
	}
	copy(values, newValues)
	vecs.Copy(newVecs)
}

// WorkerPool is the shared-memory Diagonalizer backend: a fixed-size
// pool of goroutines draining a channel-fed queue, tasks ordered
// largest-first for load balancing, grounded on
// MirzaevaIV-goHF/RHF.go's BuildG fan-out (generalized from static
// slice-splitting to a work queue).
type WorkerPool struct {
	Workers int
}

// NewWorkerPool returns a pool sized to GOMAXPROCS if workers <= 0.
func NewWorkerPool(workers int) *WorkerPool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(-1)
	}
	return &WorkerPool{Workers: workers}
}

// Run diagonalizes every task, dispatching real-valued blocks to Real
// and complex blocks to cpx (the caller's complex-case diagonalizer,
// e.g. diagonalize.Complex), largest matrices first. Results are
// returned in the same order as tasks, independent of completion order.
func (p *WorkerPool) Run(tasks []Task, cpx func(*mat.CDense) ([]float64, *mat.CDense, error)) []Result {
	order := make([]int, len(tasks))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		ra, _ := tasks[order[a]].Matrix.Dims()
		rb, _ := tasks[order[b]].Matrix.Dims()
		return ra > rb
	})

	results := make([]Result, len(tasks))
	queue := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < p.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range queue {
				t := tasks[idx]
				values, vecs, err := Real(t.Matrix)
				if err != nil {
					values, vecs, err = cpx(t.Matrix)
				}
				if err == nil {
					sortAscending(values, vecs)
				}
				results[idx] = Result{Invariant: t.Invariant, Values: values, Vectors: vecs, Err: err}
			}
		}()
	}
	go func() {
		for _, idx := range order {
			queue <- idx
		}
		close(queue)
	}()
	wg.Wait()
	return results
}
