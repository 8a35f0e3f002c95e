// Copyright 2025 surrogates4sims authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package train

import (
	"github.com/AmarSaini/surrogates4sims/internal/train"
)

// Scalar tags written by the loops. The metric tag is the metric's name.
const (
	TagLR    = train.TagLR
	TagLoss  = train.TagLoss
	TagPLoss = train.TagPLoss
)

var (
	// ErrNoBatches is returned by TrainEpoch when the source yields nothing.
	ErrNoBatches = train.ErrNoBatches

	// ErrLogEvery is returned when the logging cadence is not positive.
	ErrLogEvery = train.ErrLogEvery
)

// Trainer holds the collaborators shared by the training and validation loops.
type Trainer = train.Trainer

// Counters are the Recorder and Total step counters threaded through epochs.
type Counters = train.Counters

// ScalarWriter receives logged scalars.
type ScalarWriter = train.ScalarWriter

// BatchSource yields one pass of batches and knows its dataset size.
type BatchSource = train.BatchSource

// Model maps fields to a reconstruction and a latent code.
type Model = train.Model

// Optimizer updates parameters from gradients.
type Optimizer = train.Optimizer

// Scheduler advances the learning rate by one batch.
type Scheduler = train.Scheduler

// LatentLoss is the p-loss between latent code and simulation parameters.
type LatentLoss = train.LatentLoss

// ReconstructionLoss compares a reconstruction with its target.
type ReconstructionLoss = train.ReconstructionLoss

// FitOptions configures Trainer.Fit.
type FitOptions = train.FitOptions

// EpochResult summarizes one epoch of Fit.
type EpochResult = train.EpochResult

// FitReport is the outcome of Fit.
type FitReport = train.FitReport
