// Copyright 2025 surrogates4sims authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package train runs the per-epoch training and validation loops of a
// surrogate autoencoder.
//
// # Overview
//
// A Trainer bundles a model, an optimizer, an optional learning-rate
// schedule, the two loss terms and a logged metric. TrainEpoch makes one
// pass over a BatchSource, updating the model after every batch, and
// ValidEpoch makes one gradient-free pass returning the size-weighted loss.
// Fit alternates the two.
//
// # Step counters
//
// Scalars are logged under two counters owned by the caller and threaded
// through Counters:
//   - Recorder advances once per logging event (every LogEvery batches)
//   - Total advances once per training batch and indexes the LR stream
//
// Validation scalars are written under the Recorder value reached by the
// preceding training epoch, so both splits share an x axis.
//
// # Basic Usage
//
//	dev := device.CPU()
//	m, _ := model.New(model.Config{Channels: 2, Height: 16, Width: 16, Latent: 8}, dev.Backend())
//	t := &train.Trainer{
//	    Model:     m,
//	    Optimizer: optim.NewAdam(m.Parameters(), optim.AdamConfig{LR: 1e-3}, dev.Backend()),
//	    PLoss:     loss.LatentParams,
//	    Loss:      loss.NewReconstruction(0.1).Loss,
//	    Metric:    loss.RMSE,
//	    Device:    dev,
//	    LogEvery:  10,
//	}
//	report, err := t.Fit(ctx, trainLoader, validLoader, train.FitOptions{
//	    Epochs:    20,
//	    TrainSink: monitor.NewMemory(),
//	    ValidSink: monitor.NewMemory(),
//	})
package train
