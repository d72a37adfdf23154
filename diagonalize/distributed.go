package diagonalize

import (
	"net"
	"net/rpc"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Tag selects which solver a distributed diagonalization worker runs
// on a Job: DiagReal or DiagComplex. Jobs travel over net/rpc with
// encoding/gob (the only concurrency-adjacent network transport in the
// standard library; no ecosystem RPC/MPI library appears anywhere in
// the example pack), and each Job carries the whole matrix in one call
// rather than row by row. There are no other message kinds: no exit,
// parameter-sync, matrix-size, matrix-line, invariant or
// eigenvector-stream messages.
type Tag int

const (
	DiagReal Tag = iota
	DiagComplex
)

// Job is the gob-encodable argument a coordinator sends a worker: a
// flattened complex matrix plus which solver to run.
type Job struct {
	Tag  Tag
	Rows int
	Cols int
	Data []complex128
}

// Outcome is the gob-encodable result a worker sends back.
type Outcome struct {
	Values []float64
	Vecs   []complex128
	Err    string
}

func toJob(m *mat.CDense, tag Tag) Job {
	rows, cols := m.Dims()
	data := make([]complex128, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			data[i*cols+j] = m.At(i, j)
		}
	}
	return Job{Tag: tag, Rows: rows, Cols: cols, Data: data}
}

func fromJob(j Job) *mat.CDense {
	m := mat.NewCDense(j.Rows, j.Cols, nil)
	for i := 0; i < j.Rows; i++ {
		for c := 0; c < j.Cols; c++ {
			m.Set(i, c, j.Data[i*j.Cols+c])
		}
	}
	return m
}

// Worker is the RPC receiver registered on a distributed-backend node.
// Its single exported method, Diagonalize, dispatches on Job.Tag.
type Worker struct{}

// Diagonalize implements the RPC-callable method a net/rpc client
// invokes with one complete Job; it runs the solver named by job.Tag.
func (w *Worker) Diagonalize(job *Job, reply *Outcome) error {
	m := fromJob(*job)
	var values []float64
	var vecs *mat.CDense
	var err error
	switch job.Tag {
	case DiagReal:
		values, vecs, err = Real(m)
	case DiagComplex:
		values, vecs, err = Complex(m)
	default:
		err = errors.Errorf("diagonalize: unknown job tag %d", job.Tag)
	}
	if err != nil {
		reply.Err = err.Error()
		return nil
	}
	rows, cols := vecs.Dims()
	flat := make([]complex128, rows*cols)
	for i := 0; i < rows; i++ {
		for c := 0; c < cols; c++ {
			flat[i*cols+c] = vecs.At(i, c)
		}
	}
	reply.Values = values
	reply.Vecs = flat
	return nil
}

// Serve registers a Worker and blocks accepting RPC connections on
// addr, until the listener is closed.
func Serve(addr string) error {
	if err := rpc.Register(&Worker{}); err != nil {
		return errors.Wrap(err, "diagonalize: registering worker")
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "diagonalize: listen addr=%s", addr)
	}
	rpc.Accept(ln)
	return nil
}

// Client dispatches diagonalization jobs to a remote Worker.
type Client struct {
	rpc *rpc.Client
}

// Dial connects to a Worker listening at addr.
func Dial(addr string) (*Client, error) {
	c, err := rpc.Dial("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "diagonalize: dial addr=%s", addr)
	}
	return &Client{rpc: c}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error { return c.rpc.Close() }

// Diagonalize sends m to the remote worker and blocks for the result.
func (c *Client) Diagonalize(m *mat.CDense, tag Tag) ([]float64, *mat.CDense, error) {
	job := toJob(m, tag)
	var out Outcome
	if err := c.rpc.Call("Worker.Diagonalize", &job, &out); err != nil {
		return nil, nil, errors.Wrap(err, "diagonalize: rpc call")
	}
	if out.Err != "" {
		return nil, nil, errors.New(out.Err)
	}
	rows := len(out.Values)
	cols := 0
	if rows > 0 {
		cols = len(out.Vecs) / rows
	}
	vecs := mat.NewCDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for c := 0; c < cols; c++ {
			vecs.Set(i, c, out.Vecs[i*cols+c])
		}
	}
	return out.Values, vecs, nil
}
