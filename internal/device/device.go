// Package device owns the compute backend used for training.
//
// A Device wraps Born's CPU backend in the autodiff decorator, so every tensor
// op issued through it can be recorded on the gradient tape. It is also the
// boundary where host-side sample arrays are copied into framework tensors.
package device

import (
	"errors"
	"fmt"
	"slices"

	"github.com/born-ml/born/autodiff"
	"github.com/born-ml/born/backend/cpu"
	"github.com/born-ml/born/tensor"
	gtensor "gorgonia.org/tensor"
)

// Backend is the autodiff-wrapped CPU backend all training tensors live on.
type Backend = autodiff.Backend[*cpu.Backend]

// Tensor is a float32 tensor on Backend.
type Tensor = tensor.Tensor[float32, *Backend]

// Grads maps raw tensors to their accumulated gradients.
type Grads = map[*tensor.RawTensor]*tensor.RawTensor

// ErrUnavailable is returned by Open for devices this build cannot provide.
var ErrUnavailable = errors.New("device unavailable")

// Device is a named compute device.
type Device struct {
	name    string
	backend *Backend
}

// Open returns the device with the given name. Only "cpu" is available.
func Open(name string) (*Device, error) {
	switch name {
	case "", "cpu":
		return CPU(), nil
	default:
		return nil, fmt.Errorf("open %q: %w", name, ErrUnavailable)
	}
}

// CPU returns a fresh CPU device with its own gradient tape.
func CPU() *Device {
	return &Device{
		name:    "cpu",
		backend: autodiff.New(cpu.New()),
	}
}

// Name returns the device name.
func (d *Device) Name() string {
	return d.name
}

// Backend returns the underlying autodiff backend.
func (d *Device) Backend() *Backend {
	return d.backend
}

// Put copies a float32 host array onto the device, keeping its shape.
func (d *Device) Put(host *gtensor.Dense) (*Tensor, error) {
	if host == nil {
		return nil, errors.New("put: nil host tensor")
	}
	if host.Dtype() != gtensor.Float32 {
		return nil, fmt.Errorf("put: expected float32 host tensor, got %v", host.Dtype())
	}
	if host.IsView() {
		return nil, errors.New("put: host tensor is a view, materialize it first")
	}

	shape := tensor.Shape(slices.Clone([]int(host.Shape())))
	t, err := d.FromSlice(host.Float32s(), shape...)
	if err != nil {
		return nil, fmt.Errorf("put %v: %w", shape, err)
	}
	return t, nil
}

// FromSlice copies data into a new device tensor of the given shape.
func (d *Device) FromSlice(data []float32, shape ...int) (*Tensor, error) {
	return tensor.FromSlice(slices.Clone(data), tensor.Shape(shape), d.backend)
}

// Full returns a constant tensor. Constants are never recorded on the tape.
func (d *Device) Full(value float32, shape ...int) *Tensor {
	return tensor.Full(tensor.Shape(shape), value, d.backend)
}

// Train starts recording ops on the gradient tape.
func (d *Device) Train() {
	d.backend.Tape().StartRecording()
}

// Recording reports whether the gradient tape is recording.
func (d *Device) Recording() bool {
	return d.backend.Tape().IsRecording()
}

// NoGrad runs fn with tape recording disabled and restores the previous
// recording state afterwards, also when fn panics.
func (d *Device) NoGrad(fn func() error) error {
	tape := d.backend.Tape()
	wasRecording := tape.IsRecording()
	tape.StopRecording()
	defer func() {
		if wasRecording {
			tape.StartRecording()
		}
	}()
	return fn()
}

// Backward backpropagates a single-element loss through the recorded tape.
//
// The loss must be the output of the last recorded op. An empty map is
// returned when nothing was recorded.
func (d *Device) Backward(loss *Tensor) (Grads, error) {
	if n := loss.NumElements(); n != 1 {
		return nil, fmt.Errorf("backward: loss must have one element, got shape %v", loss.Shape())
	}
	outputGrad, err := tensor.NewRaw(loss.Shape(), loss.DType(), d.backend.Device())
	if err != nil {
		return nil, fmt.Errorf("backward: %w", err)
	}
	outputGrad.AsFloat32()[0] = 1.0

	return d.backend.Tape().Backward(outputGrad, d.backend), nil
}

// ClearTape drops every recorded op.
func (d *Device) ClearTape() {
	d.backend.Tape().Clear()
}

// Scalar reads the single value of a one-element tensor.
func Scalar(t *Tensor) float64 {
	data := t.Data()
	if len(data) != 1 {
		panic(fmt.Sprintf("device.Scalar: expected one element, got shape %v", t.Shape()))
	}
	return float64(data[0])
}
