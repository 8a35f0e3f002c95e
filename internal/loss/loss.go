// Package loss implements the differentiable losses and host-side metrics
// used to train surrogate autoencoders.
//
// Every reduction is expressed as a MatMul against a constant column so the
// whole loss stays on the gradient tape; scalar results have shape [1, 1].
package loss

import (
	"fmt"
	"slices"
	"sync"

	"github.com/AmarSaini/surrogates4sims/internal/device"
	"github.com/born-ml/born/tensor"
)

// MSE returns mean((a - b)^2) over all elements as a [1, 1] tensor.
// a and b must have the same shape.
func MSE(a, b *device.Tensor) *device.Tensor {
	if !slices.Equal(a.Shape(), b.Shape()) {
		panic(fmt.Sprintf("loss.MSE: shape mismatch %v vs %v", a.Shape(), b.Shape()))
	}
	diff := a.Sub(b)
	n := diff.NumElements()
	flat := diff.Reshape(1, n)
	return flat.Mul(flat).MatMul(meanColumn(a.Backend(), n))
}

type columnKey struct {
	backend *device.Backend
	n       int
}

var (
	columnsMu sync.Mutex
	columns   = make(map[columnKey]*device.Tensor)
)

// meanColumn returns the constant [n, 1] column of 1/n for backend, built once.
func meanColumn(backend *device.Backend, n int) *device.Tensor {
	columnsMu.Lock()
	defer columnsMu.Unlock()

	key := columnKey{backend: backend, n: n}
	if c, ok := columns[key]; ok {
		return c
	}
	c := tensor.Full(tensor.Shape{n, 1}, 1/float32(n), backend)
	columns[key] = c
	return c
}

// Scale multiplies a [1, 1] loss by a constant weight.
func Scale(l *device.Tensor, w float32) *device.Tensor {
	return l.Mul(tensor.Full(tensor.Shape{1, 1}, w, l.Backend()))
}

// LatentParams is the p-loss: the first k latent units of z are regressed onto
// the k simulation parameters p with a mean squared error.
//
// z is [n, latent] and p is [n, k] with k <= latent.
func LatentParams(z, p *device.Tensor) *device.Tensor {
	zs, ps := z.Shape(), p.Shape()
	if len(zs) != 2 || len(ps) != 2 || zs[0] != ps[0] || ps[1] > zs[1] {
		panic(fmt.Sprintf("loss.LatentParams: cannot regress z %v onto p %v", zs, ps))
	}
	latent, k := zs[1], ps[1]
	sel := make([]float32, latent*k)
	for i := 0; i < k; i++ {
		sel[i*k+i] = 1
	}
	selector, err := tensor.FromSlice(sel, tensor.Shape{latent, k}, z.Backend())
	if err != nil {
		panic(fmt.Sprintf("loss.LatentParams: %v", err))
	}
	return MSE(z.MatMul(selector), p)
}

// Reconstruction is the field reconstruction loss
//
//	MSE(xHat, x) + GradWeight * MSE(Dx xHat, Dx x)
//
// where Dx takes forward differences along the last (width) axis. With a zero
// GradWeight it is plain MSE.
type Reconstruction struct {
	GradWeight float32

	mu    sync.Mutex
	diffs map[diffKey]*device.Tensor
}

type diffKey struct {
	dev   *device.Device
	width int
}

// NewReconstruction returns a reconstruction loss with the given gradient weight.
func NewReconstruction(gradWeight float32) *Reconstruction {
	return &Reconstruction{GradWeight: gradWeight}
}

// Loss computes the reconstruction loss of xHat against x on dev.
func (r *Reconstruction) Loss(xHat, x *device.Tensor, dev *device.Device) *device.Tensor {
	l := MSE(xHat, x)
	if r.GradWeight == 0 {
		return l
	}

	shape := x.Shape()
	w := shape[len(shape)-1]
	if w < 2 {
		return l
	}
	rows := x.NumElements() / w
	d := r.diffOperator(dev, w)
	gHat := xHat.Reshape(rows, w).MatMul(d)
	g := x.Reshape(rows, w).MatMul(d)
	return l.Add(Scale(MSE(gHat, g), r.GradWeight))
}

// diffOperator returns the [w, w-1] forward-difference matrix for dev, built once.
func (r *Reconstruction) diffOperator(dev *device.Device, w int) *device.Tensor {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := diffKey{dev: dev, width: w}
	if d, ok := r.diffs[key]; ok {
		return d
	}

	data := make([]float32, w*(w-1))
	for j := 0; j < w-1; j++ {
		data[j*(w-1)+j] = -1
		data[(j+1)*(w-1)+j] = 1
	}
	d, err := dev.FromSlice(data, w, w-1)
	if err != nil {
		panic(fmt.Sprintf("loss.Reconstruction: %v", err))
	}
	if r.diffs == nil {
		r.diffs = make(map[diffKey]*device.Tensor)
	}
	r.diffs[key] = d
	return d
}
