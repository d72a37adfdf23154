package diagonalize

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/nrgchain/nrg/invariant"
)

func TestRealDiagonalDominant(t *testing.T) {
	t.Parallel()
	m := mat.NewCDense(2, 2, nil)
	m.Set(0, 0, complex(2, 0))
	m.Set(1, 1, complex(5, 0))

	values, vecs, err := Real(m)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if math.Abs(values[0]-2) > 1e-9 || math.Abs(values[1]-5) > 1e-9 {
		t.Fatalf("values = %v, want [2,5]", values)
	}
	rows, cols := vecs.Dims()
	if rows != 2 || cols != 2 {
		t.Fatalf("vecs dims = (%d,%d), want (2,2)", rows, cols)
	}
}

func TestRealRejectsGenuinelyComplexBlock(t *testing.T) {
	t.Parallel()
	m := mat.NewCDense(2, 2, nil)
	m.Set(0, 1, complex(0, 3))
	m.Set(1, 0, complex(0, -3))
	if _, _, err := Real(m); err == nil {
		t.Fatalf("expected Real to reject a block with non-negligible imaginary parts")
	}
}

func TestWorkerPoolPreservesOrderAndCount(t *testing.T) {
	t.Parallel()
	schema := invariant.Schema{Names: []string{"Q"}, Kinds: []invariant.Kind{invariant.Additive}}
	tasks := make([]Task, 0, 3)
	for q, dim := range []int{1, 3, 2} {
		m := mat.NewCDense(dim, dim, nil)
		for i := 0; i < dim; i++ {
			m.Set(i, i, complex(float64(i), 0))
		}
		tasks = append(tasks, Task{Invariant: invariant.New(schema, int32(q)), Matrix: m})
	}
	pool := NewWorkerPool(2)
	results := pool.Run(tasks, Complex)
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for i, r := range results {
		if r.Err != nil {
			t.Fatalf("task %d: %+v", i, r.Err)
		}
		if r.Invariant != tasks[i].Invariant {
			t.Fatalf("result %d invariant mismatch", i)
		}
	}
}
