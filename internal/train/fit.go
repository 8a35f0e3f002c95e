package train

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"
)

// FitOptions configures a multi-epoch run.
type FitOptions struct {
	Epochs    int
	TrainSink ScalarWriter
	ValidSink ScalarWriter // receives ValidEpoch scalars; required when a validation source is given

	// Counters to resume from, typically the zero value.
	Counters Counters

	// OnImprove is called after an epoch whose validation loss is the best
	// so far, e.g. to checkpoint the model. An error stops the run.
	OnImprove func(epoch int, validLoss float64) error
}

// EpochResult summarizes one epoch of Fit.
type EpochResult struct {
	Epoch     int // 1-based
	TrainLoss float64
	ValidLoss float64 // NaN without a validation source
	Counters  Counters
	Duration  time.Duration
}

// FitReport is the outcome of Fit.
type FitReport struct {
	Epochs        []EpochResult
	Counters      Counters
	BestEpoch     int // 0 when no epoch was validated
	BestValidLoss float64
}

// Fit alternates TrainEpoch over trainSrc and ValidEpoch over validSrc for
// opts.Epochs epochs. Validation scalars are written under the Recorder
// value reached by the preceding training epoch.
//
// ctx is only checked between epochs; an epoch in progress always runs to
// completion. On cancellation the report so far is returned with ctx.Err().
// validSrc may be nil to skip validation.
func (t *Trainer) Fit(ctx context.Context, trainSrc, validSrc BatchSource, opts FitOptions) (FitReport, error) {
	report := FitReport{Counters: opts.Counters, BestValidLoss: math.Inf(1)}
	if opts.Epochs <= 0 {
		return report, fmt.Errorf("fit: epochs must be positive, got %d", opts.Epochs)
	}
	if opts.TrainSink == nil {
		return report, errors.New("fit: nil train sink")
	}
	if validSrc != nil && opts.ValidSink == nil {
		return report, errors.New("fit: nil validation sink")
	}

	log := t.logger()
	for epoch := 1; epoch <= opts.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("fit: stopped before epoch %d: %w", epoch, err)
		}

		start := time.Now()
		trainLoss, counters, err := t.TrainEpoch(trainSrc, opts.TrainSink, report.Counters)
		report.Counters = counters
		if err != nil {
			return report, fmt.Errorf("fit: epoch %d: %w", epoch, err)
		}

		validLoss := math.NaN()
		if validSrc != nil {
			validLoss, err = t.ValidEpoch(validSrc, opts.ValidSink, report.Counters.Recorder)
			if err != nil {
				return report, fmt.Errorf("fit: epoch %d: %w", epoch, err)
			}
		}

		res := EpochResult{
			Epoch:     epoch,
			TrainLoss: trainLoss,
			ValidLoss: validLoss,
			Counters:  report.Counters,
			Duration:  time.Since(start),
		}
		report.Epochs = append(report.Epochs, res)

		log.Info("epoch done",
			slog.Int("epoch", epoch),
			slog.Int("of", opts.Epochs),
			slog.Float64("train_loss", trainLoss),
			slog.Float64("valid_loss", validLoss),
			slog.Int("recorder_step", report.Counters.Recorder),
			slog.Int("total_steps", report.Counters.Total),
			slog.Duration("elapsed", res.Duration),
		)

		if validSrc != nil && validLoss < report.BestValidLoss {
			report.BestValidLoss = validLoss
			report.BestEpoch = epoch
			if opts.OnImprove != nil {
				if err := opts.OnImprove(epoch, validLoss); err != nil {
					return report, fmt.Errorf("fit: epoch %d: on improve: %w", epoch, err)
				}
			}
		}
	}
	return report, nil
}
