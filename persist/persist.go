// Package persist implements binary dump/load of transformation
// matrices and density matrices between the forward and backward
// passes, grounded on the block-file header format of
// other_examples/freeeve-chessgraph__positionstore.go: a fixed magic +
// version + count + checksum header followed by variable-length records.
package persist

import (
	"encoding/binary"
	"hash/crc32"
	"io"
	"math"
	"os"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/nrgchain/nrg/invariant"
)

const (
	magic        = "NRG1"
	version      = uint8(1)
	headerSize   = 4 + 1 + 4 + 4 // magic + version + count + checksum
	invariantLen = 1 + invariant.MaxComponents*4
)

// Block is one persisted (invariant, invariant, dense complex matrix)
// record — a transformation or density-matrix block.
type Block struct {
	I1, I2 invariant.Invariant
	Matrix *mat.CDense
}

// WriteBlocks dumps blocks to path as a single binary file: a header
// (magic, version, record count, CRC32 checksum of the record bytes)
// followed by one variable-length record per block (two invariants,
// then rows, cols, then row-major re/im float64 pairs).
func WriteBlocks(path string, blocks []Block) error {
	body, err := encodeBody(blocks)
	if err != nil {
		return errors.Wrapf(err, "persist: encoding path=%s", path)
	}
	checksum := crc32.ChecksumIEEE(body)

	header := make([]byte, headerSize)
	copy(header[0:4], magic)
	header[4] = version
	binary.BigEndian.PutUint32(header[5:9], uint32(len(blocks)))
	binary.BigEndian.PutUint32(header[9:13], checksum)

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "persist: path=%s", path)
	}
	defer f.Close()
	if _, err := f.Write(header); err != nil {
		return errors.Wrapf(err, "persist: writing header path=%s", path)
	}
	if _, err := f.Write(body); err != nil {
		return errors.Wrapf(err, "persist: writing body path=%s", path)
	}
	return nil
}

// ReadBlocks loads a file written by WriteBlocks, verifying the magic,
// version, and checksum before returning the decoded blocks.
func ReadBlocks(path string) ([]Block, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "persist: path=%s", path)
	}
	defer f.Close()

	header := make([]byte, headerSize)
	if _, err := io.ReadFull(f, header); err != nil {
		return nil, errors.Wrapf(err, "persist: reading header path=%s", path)
	}
	if string(header[0:4]) != magic {
		return nil, errors.Errorf("persist: bad magic %q in path=%s", header[0:4], path)
	}
	if header[4] != version {
		return nil, errors.Errorf("persist: unsupported version %d in path=%s", header[4], path)
	}
	count := binary.BigEndian.Uint32(header[5:9])
	wantChecksum := binary.BigEndian.Uint32(header[9:13])

	body, err := io.ReadAll(f)
	if err != nil {
		return nil, errors.Wrapf(err, "persist: reading body path=%s", path)
	}
	if crc32.ChecksumIEEE(body) != wantChecksum {
		return nil, errors.Errorf("persist: checksum mismatch in path=%s", path)
	}

	return decodeBody(body, int(count), path)
}

func encodeBody(blocks []Block) ([]byte, error) {
	var buf []byte
	for _, b := range blocks {
		rows, cols := b.Matrix.Dims()
		rec := make([]byte, 2*invariantLen+8+rows*cols*16)
		off := 0
		off += encodeInvariant(rec[off:], b.I1)
		off += encodeInvariant(rec[off:], b.I2)
		binary.BigEndian.PutUint32(rec[off:], uint32(rows))
		off += 4
		binary.BigEndian.PutUint32(rec[off:], uint32(cols))
		off += 4
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				v := b.Matrix.At(r, c)
				binary.BigEndian.PutUint64(rec[off:], math.Float64bits(real(v)))
				off += 8
				binary.BigEndian.PutUint64(rec[off:], math.Float64bits(imag(v)))
				off += 8
			}
		}
		buf = append(buf, rec[:off]...)
	}
	return buf, nil
}

func decodeBody(body []byte, count int, path string) ([]Block, error) {
	out := make([]Block, 0, count)
	off := 0
	for n := 0; n < count; n++ {
		if off+2*invariantLen+8 > len(body) {
			return nil, errors.Errorf("persist: truncated record %d in path=%s", n, path)
		}
		i1, adv := decodeInvariant(body[off:])
		off += adv
		i2, adv2 := decodeInvariant(body[off:])
		off += adv2

		rows := int(binary.BigEndian.Uint32(body[off:]))
		off += 4
		cols := int(binary.BigEndian.Uint32(body[off:]))
		off += 4

		need := rows * cols * 16
		if off+need > len(body) {
			return nil, errors.Errorf("persist: truncated matrix data for record %d in path=%s", n, path)
		}
		m := mat.NewCDense(rows, cols, nil)
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				re := math.Float64frombits(binary.BigEndian.Uint64(body[off:]))
				off += 8
				im := math.Float64frombits(binary.BigEndian.Uint64(body[off:]))
				off += 8
				m.Set(r, c, complex(re, im))
			}
		}
		out = append(out, Block{I1: i1, I2: i2, Matrix: m})
	}
	return out, nil
}

// encodeInvariant writes the invariant's arity followed by its
// components, zero-padded to MaxComponents, so decodeInvariant can
// reconstruct an Invariant with the same arity it was built with.
func encodeInvariant(dst []byte, inv invariant.Invariant) int {
	dst[0] = byte(inv.Len())
	for i := 0; i < invariant.MaxComponents; i++ {
		binary.BigEndian.PutUint32(dst[1+i*4:], uint32(inv.Get(i)))
	}
	return invariantLen
}

func decodeInvariant(src []byte) (invariant.Invariant, int) {
	n := int(src[0])
	vals := make([]int32, n)
	for i := 0; i < n; i++ {
		vals[i] = int32(binary.BigEndian.Uint32(src[1+i*4:]))
	}
	schema := invariant.Schema{
		Names: make([]string, n),
		Kinds: make([]invariant.Kind, n),
	}
	return invariant.New(schema, vals...), invariantLen
}
