package diagonalize

import (
	_ "embed"
	"encoding/csv"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// eigsPy is the offloaded numpy.linalg.eigh driver for genuinely
// complex Hermitian blocks, adapted from exactdiag/mat/mat.go's
// //go:embed eigs.py + os/exec pattern (there is no complex-valued
// LAPACK binding anywhere in the example pack, so gonum's
// real-only mat.EigenSym cannot cover this case).
//
//go:embed eigs.py
var eigsPy []byte

// Complex diagonalizes a Hermitian block whose off-diagonal imaginary
// parts are not negligible, by writing it to a scratch directory and
// running the embedded eigs.py under a "python" interpreter found on
// PATH.
func Complex(m *mat.CDense) ([]float64, *mat.CDense, error) {
	n, cols := m.Dims()
	if n != cols {
		return nil, nil, errors.Errorf("diagonalize: matrix is %dx%d, not square", n, cols)
	}

	dir, err := os.MkdirTemp("", "nrg-diag-")
	if err != nil {
		return nil, nil, errors.Wrap(err, "diagonalize: creating scratch directory")
	}
	defer os.RemoveAll(dir)

	inPath := filepath.Join(dir, "h.csv")
	if err := writeMatrixCSV(inPath, m); err != nil {
		return nil, nil, err
	}

	scriptPath := filepath.Join(dir, "eigs.py")
	if err := os.WriteFile(scriptPath, eigsPy, 0644); err != nil {
		return nil, nil, errors.Wrapf(err, "diagonalize: writing eigs.py path=%s", scriptPath)
	}

	outPath := filepath.Join(dir, "eig.csv")
	cmd := exec.Command("python", scriptPath, fmt.Sprintf("-in=%s", inPath), fmt.Sprintf("-out=%s", outPath))
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, nil, errors.Wrapf(err, "diagonalize: eigs.py failed: %s", out)
	}

	return readResultCSV(outPath, n)
}

func writeMatrixCSV(path string, m *mat.CDense) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "diagonalize: path=%s", path)
	}
	defer f.Close()
	w := csv.NewWriter(f)
	n, cols := m.Dims()
	for i := 0; i < n; i++ {
		rec := make([]string, 0, 2*cols)
		for j := 0; j < cols; j++ {
			v := m.At(i, j)
			rec = append(rec, strconv.FormatFloat(real(v), 'g', 17, 64), strconv.FormatFloat(imag(v), 'g', 17, 64))
		}
		if err := w.Write(rec); err != nil {
			return errors.Wrapf(err, "diagonalize: path=%s", path)
		}
	}
	w.Flush()
	return w.Error()
}

func readResultCSV(path string, n int) ([]float64, *mat.CDense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "diagonalize: path=%s", path)
	}
	defer f.Close()
	r := csv.NewReader(f)

	header, err := r.Read()
	if err != nil {
		return nil, nil, errors.Wrapf(err, "diagonalize: reading eigenvalue row, path=%s", path)
	}
	values := make([]float64, len(header))
	for i, s := range header {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "diagonalize: parsing eigenvalue %q", s)
		}
		values[i] = v
	}

	vecs := mat.NewCDense(n, n, nil)
	for row := 0; row < n; row++ {
		rec, err := r.Read()
		if err != nil {
			return nil, nil, errors.Wrapf(err, "diagonalize: reading eigenvector row %d, path=%s", row, path)
		}
		for col := 0; col < n; col++ {
			re, err := strconv.ParseFloat(rec[2*col], 64)
			if err != nil {
				return nil, nil, errors.Wrap(err, "diagonalize: parsing eigenvector real part")
			}
			im, err := strconv.ParseFloat(rec[2*col+1], 64)
			if err != nil {
				return nil, nil, errors.Wrap(err, "diagonalize: parsing eigenvector imaginary part")
			}
			vecs.Set(row, col, complex(re, im))
		}
	}
	return values, vecs, nil
}
