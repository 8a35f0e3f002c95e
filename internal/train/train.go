// Package train runs the per-epoch training and validation loops of a
// surrogate autoencoder.
//
// A forward pass returns a reconstruction xHat and a latent code z. The
// backpropagated loss is the sum of a reconstruction loss on xHat and a
// p-loss tying z to the simulation parameters p. Scalars are written to a
// ScalarWriter under two caller-owned step counters carried in Counters.
package train

import (
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"github.com/AmarSaini/surrogates4sims/internal/dataset"
	"github.com/AmarSaini/surrogates4sims/internal/device"
	"github.com/AmarSaini/surrogates4sims/internal/loss"
)

// Scalar tags written by the loops. The metric tag is Metric.Name.
const (
	TagLR    = "LR"
	TagLoss  = "Loss"
	TagPLoss = "p_loss"
)

var (
	// ErrNoBatches is returned by TrainEpoch when the source yields nothing.
	ErrNoBatches = errors.New("batch source yielded no batches")

	// ErrLogEvery is returned when the logging cadence is not positive.
	ErrLogEvery = errors.New("log cadence must be positive")
)

// ScalarWriter receives logged scalars.
type ScalarWriter interface {
	AddScalar(tag string, value float64, step int) error
}

// BatchSource yields one pass of batches and knows the size of the dataset
// behind them.
type BatchSource interface {
	Batches() iter.Seq2[dataset.Batch, error]
	DatasetLen() int
}

// Model maps fields to a reconstruction and a latent code.
type Model interface {
	ForwardLatent(x *device.Tensor) (xHat, z *device.Tensor)
}

// Optimizer updates parameters from a gradient map. Born's optimizers
// satisfy it.
type Optimizer interface {
	Step(grads device.Grads)
	ZeroGrad()
	GetLR() float32
}

// Scheduler advances the learning rate by one batch.
type Scheduler interface {
	Step()
}

// LatentLoss is the p-loss between the latent code z and the parameters p.
type LatentLoss func(z, p *device.Tensor) *device.Tensor

// ReconstructionLoss compares a reconstruction with its target on dev.
type ReconstructionLoss func(xHat, x *device.Tensor, dev *device.Device) *device.Tensor

// Counters are the two step counters threaded through epoch calls.
//
// Recorder advances once per logging event and indexes the Loss, p_loss
// and metric streams. Total advances once per training batch and indexes
// the LR stream. Neither is ever reset by this package.
type Counters struct {
	Recorder int
	Total    int
}

// Trainer holds the collaborators shared by both loops.
//
// Model and optimizer state are mutated in place by TrainEpoch.
type Trainer struct {
	Model     Model
	Optimizer Optimizer // TrainEpoch only
	Scheduler Scheduler // TrainEpoch only; nil means a fixed learning rate
	PLoss     LatentLoss
	Loss      ReconstructionLoss
	Metric    loss.Metric
	Device    *device.Device
	LogEvery  int // TrainEpoch logs every LogEvery-th batch
	Logger    *slog.Logger
}

func (t *Trainer) logger() *slog.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return slog.Default()
}

func (t *Trainer) check(training bool) error {
	switch {
	case t.Model == nil:
		return errors.New("trainer: nil model")
	case t.PLoss == nil || t.Loss == nil:
		return errors.New("trainer: nil loss function")
	case t.Metric.Fn == nil || t.Metric.Name == "":
		return errors.New("trainer: metric needs a name and a function")
	case t.Device == nil:
		return errors.New("trainer: nil device")
	}
	if training {
		if t.Optimizer == nil {
			return errors.New("trainer: nil optimizer")
		}
		if t.LogEvery <= 0 {
			return fmt.Errorf("trainer: %w, got %d", ErrLogEvery, t.LogEvery)
		}
	}
	return nil
}

// put moves a host batch onto the device.
func (t *Trainer) put(b dataset.Batch) (x, p *device.Tensor, err error) {
	if x, err = t.Device.Put(b.X); err != nil {
		return nil, nil, fmt.Errorf("move X to %s: %w", t.Device.Name(), err)
	}
	if p, err = t.Device.Put(b.P); err != nil {
		return nil, nil, fmt.Errorf("move p to %s: %w", t.Device.Name(), err)
	}
	return x, p, nil
}

// forward runs the model and both losses and returns the combined loss
// with its two terms.
func (t *Trainer) forward(x, p *device.Tensor) (xHat, combined, pl *device.Tensor) {
	xHat, z := t.Model.ForwardLatent(x)
	pl = t.PLoss(z, p)
	ll := t.Loss(xHat, x, t.Device)
	return xHat, pl.Add(ll), pl
}
