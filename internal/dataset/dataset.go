// Package dataset holds simulation samples on the host and batches them for training.
//
// Samples are gorgonia dense arrays: a field X of shape [C, H, W] and the
// simulation parameters P of shape [k] that produced it. Batches stack
// samples along a new leading axis.
package dataset

import (
	"errors"
	"fmt"

	gtensor "gorgonia.org/tensor"
)

// ErrEmpty is returned when an operation needs at least one sample.
var ErrEmpty = errors.New("dataset is empty")

// Sample is one simulation snapshot and its parameters.
type Sample struct {
	X *gtensor.Dense // [C, H, W]
	P *gtensor.Dense // [k]
}

// Dataset is an indexable collection of samples.
type Dataset interface {
	Len() int
	Get(i int) (Sample, error)
}

// InMemory is a dataset backed by two contiguous float32 arrays.
type InMemory struct {
	x, p       []float32
	xShape     []int // per-sample
	pDim       int
	xStride, n int
}

// NewInMemory builds a dataset from X of shape [N, ...] and P of shape [N, k].
// Both arrays must be float32; their backing memory is shared, not copied.
func NewInMemory(x, p *gtensor.Dense) (*InMemory, error) {
	if x.Dtype() != gtensor.Float32 || p.Dtype() != gtensor.Float32 {
		return nil, fmt.Errorf("new in-memory dataset: expected float32 arrays, got %v and %v", x.Dtype(), p.Dtype())
	}
	xs, ps := x.Shape(), p.Shape()
	if len(xs) < 2 {
		return nil, fmt.Errorf("new in-memory dataset: X must be [N, ...], got %v", xs)
	}
	if len(ps) != 2 {
		return nil, fmt.Errorf("new in-memory dataset: P must be [N, k], got %v", ps)
	}
	if xs[0] != ps[0] {
		return nil, fmt.Errorf("new in-memory dataset: X has %d samples, P has %d", xs[0], ps[0])
	}

	stride := 1
	for _, d := range xs[1:] {
		stride *= d
	}
	return &InMemory{
		x:       x.Float32s(),
		p:       p.Float32s(),
		xShape:  append([]int(nil), xs[1:]...),
		pDim:    ps[1],
		xStride: stride,
		n:       xs[0],
	}, nil
}

// Len returns the number of samples.
func (m *InMemory) Len() int {
	return m.n
}

// Get returns sample i. The returned arrays alias the dataset memory.
func (m *InMemory) Get(i int) (Sample, error) {
	if i < 0 || i >= m.n {
		return Sample{}, fmt.Errorf("get sample %d: index out of range [0, %d)", i, m.n)
	}
	x := m.x[i*m.xStride : (i+1)*m.xStride]
	p := m.p[i*m.pDim : (i+1)*m.pDim]
	return Sample{
		X: gtensor.New(gtensor.Of(gtensor.Float32), gtensor.WithShape(m.xShape...), gtensor.WithBacking(x)),
		P: gtensor.New(gtensor.Of(gtensor.Float32), gtensor.WithShape(m.pDim), gtensor.WithBacking(p)),
	}, nil
}

// SampleShape returns the shape of one X sample.
func (m *InMemory) SampleShape() []int {
	return append([]int(nil), m.xShape...)
}

// ParamDim returns the length of one P sample.
func (m *InMemory) ParamDim() int {
	return m.pDim
}
