package train

import (
	"errors"
	"iter"
	"slices"
	"testing"

	"github.com/AmarSaini/surrogates4sims/internal/dataset"
	"github.com/AmarSaini/surrogates4sims/internal/device"
	"github.com/AmarSaini/surrogates4sims/internal/loss"
	"github.com/AmarSaini/surrogates4sims/internal/model"
	"github.com/born-ml/born/optim"
	"github.com/born-ml/born/tensor"
	"github.com/stretchr/testify/require"
	gtensor "gorgonia.org/tensor"
)

// fillBatch returns a batch of n samples whose X is [n, 1, 1, 2] filled
// with v and whose P is [n, 1] filled with v.
func fillBatch(n int, v float32) dataset.Batch {
	x := make([]float32, n*2)
	p := make([]float32, n)
	for i := range x {
		x[i] = v
	}
	for i := range p {
		p[i] = v
	}
	return dataset.Batch{
		X: gtensor.New(gtensor.Of(gtensor.Float32), gtensor.WithShape(n, 1, 1, 2), gtensor.WithBacking(x)),
		P: gtensor.New(gtensor.Of(gtensor.Float32), gtensor.WithShape(n, 1), gtensor.WithBacking(p)),
	}
}

// sliceSource replays fixed batches. When failAt > 0 the failAt-th batch
// (1-indexed) is replaced by an error.
type sliceSource struct {
	batches    []dataset.Batch
	datasetLen int
	failAt     int
}

func newSliceSource(batches ...dataset.Batch) *sliceSource {
	n := 0
	for _, b := range batches {
		n += b.Len()
	}
	return &sliceSource{batches: batches, datasetLen: n}
}

func uniformSource(batches int, size int, v float32) *sliceSource {
	bs := make([]dataset.Batch, batches)
	for i := range bs {
		bs[i] = fillBatch(size, v)
	}
	return newSliceSource(bs...)
}

var errCorrupt = errors.New("corrupt batch")

func (s *sliceSource) Batches() iter.Seq2[dataset.Batch, error] {
	return func(yield func(dataset.Batch, error) bool) {
		for i, b := range s.batches {
			if s.failAt == i+1 {
				yield(dataset.Batch{}, errCorrupt)
				return
			}
			if !yield(b, nil) {
				return
			}
		}
	}
}

func (s *sliceSource) DatasetLen() int { return s.datasetLen }

// identityModel reconstructs its input and uses it as latent code.
type identityModel struct{}

func (identityModel) ForwardLatent(x *device.Tensor) (xHat, z *device.Tensor) {
	return x, x
}

type fakeOptimizer struct {
	lr        float32
	steps     int
	zeroGrads int
}

func (o *fakeOptimizer) Step(device.Grads) { o.steps++ }
func (o *fakeOptimizer) ZeroGrad()         { o.zeroGrads++ }
func (o *fakeOptimizer) GetLR() float32    { return o.lr }

// halvingScheduler halves the optimizer's learning rate on every step.
type halvingScheduler struct {
	opt   *fakeOptimizer
	steps int
}

func (s *halvingScheduler) Step() {
	s.steps++
	s.opt.lr /= 2
}

func constLatent(v float32) LatentLoss {
	return func(z, _ *device.Tensor) *device.Tensor {
		return tensor.Full(tensor.Shape{1, 1}, v, z.Backend())
	}
}

func constRecon(v float32) ReconstructionLoss {
	return func(_, _ *device.Tensor, dev *device.Device) *device.Tensor {
		return dev.Full(v, 1, 1)
	}
}

// firstValueRecon returns the first element of x as the loss.
func firstValueRecon(_, x *device.Tensor, dev *device.Device) *device.Tensor {
	return dev.Full(x.Data()[0], 1, 1)
}

func constMetric(v float64) loss.Metric {
	return loss.Metric{Name: "rmse", Fn: func(_, _ *device.Tensor) float64 { return v }}
}

// fakeTrainer wires constant losses: p-loss 0.25 and reconstruction 0.75.
func fakeTrainer(logEvery int) (*Trainer, *fakeOptimizer) {
	dev := device.CPU()
	opt := &fakeOptimizer{lr: 1}
	return &Trainer{
		Model:     identityModel{},
		Optimizer: opt,
		PLoss:     constLatent(0.25),
		Loss:      constRecon(0.75),
		Metric:    constMetric(0.5),
		Device:    dev,
		LogEvery:  logEvery,
	}, opt
}

// errWriter fails on the given tag.
type errWriter struct {
	tag string
	err error
}

func (w errWriter) AddScalar(tag string, _ float64, _ int) error {
	if tag == w.tag {
		return w.err
	}
	return nil
}

// paramValues copies every parameter of m.
func paramValues(m *model.Autoencoder[*device.Backend]) [][]float32 {
	var out [][]float32
	for _, p := range m.Parameters() {
		out = append(out, slices.Clone(p.Tensor().Data()))
	}
	return out
}

// syntheticSetup builds a small real training stack on the CPU.
func syntheticSetup(t *testing.T, samples, batchSize int, lr float32) (*Trainer, *model.Autoencoder[*device.Backend], *dataset.Loader) {
	t.Helper()
	ds, err := dataset.NewSynthetic(dataset.SyntheticConfig{Samples: samples, Height: 4, Width: 5, Seed: 3})
	require.NoError(t, err)
	loader, err := dataset.NewLoader(ds, batchSize)
	require.NoError(t, err)

	dev := device.CPU()
	m, err := model.New(model.Config{
		Channels: dataset.PlumeChannels, Height: 4, Width: 5, Hidden: []int{16}, Latent: 4,
	}, dev.Backend())
	require.NoError(t, err)

	recon := loss.NewReconstruction(0.1)
	return &Trainer{
		Model:     m,
		Optimizer: optim.NewAdam(m.Parameters(), optim.AdamConfig{LR: lr}, dev.Backend()),
		PLoss:     loss.LatentParams,
		Loss:      recon.Loss,
		Metric:    loss.RMSE,
		Device:    dev,
		LogEvery:  2,
	}, m, loader
}
