package train

import (
	"fmt"
	"log/slog"

	"github.com/AmarSaini/surrogates4sims/internal/device"
)

// TrainEpoch makes one pass over src with gradient updates.
//
// For every batch it zeroes the gradients, runs the model, backpropagates
// PLoss + Loss and steps the optimizer. It then increments c.Total, writes
// the optimizer's learning rate as "LR" under it and steps the scheduler.
// Every LogEvery-th batch (1-indexed) it increments c.Recorder and writes
// the interval means of the combined loss ("Loss"), the p-loss ("p_loss")
// and the metric (Metric.Name), then resets the three running sums. Batches
// after the last full interval are not logged.
//
// The returned loss is the raw combined loss of the last batch, not an
// average, so it is not comparable with the value ValidEpoch returns.
//
// Errors from the source, the device transfer or w end the epoch
// immediately; the returned counters reflect the batches already applied.
func (t *Trainer) TrainEpoch(src BatchSource, w ScalarWriter, c Counters) (float64, Counters, error) {
	if err := t.check(true); err != nil {
		return 0, c, err
	}

	t.Device.ClearTape()
	t.Device.Train()
	defer t.Device.ClearTape()

	var (
		batchLoss                        float64
		runningLoss, runningP, runningMt float64
		batches                          int
	)
	for b, err := range src.Batches() {
		if err != nil {
			return batchLoss, c, fmt.Errorf("train epoch: batch %d: %w", batches+1, err)
		}
		batches++

		x, p, err := t.put(b)
		if err != nil {
			return batchLoss, c, fmt.Errorf("train epoch: batch %d: %w", batches, err)
		}

		t.Optimizer.ZeroGrad()
		xHat, combined, pl := t.forward(x, p)
		grads, err := t.Device.Backward(combined)
		if err != nil {
			return batchLoss, c, fmt.Errorf("train epoch: batch %d: %w", batches, err)
		}
		t.Optimizer.Step(grads)
		t.Device.ClearTape()

		batchLoss = device.Scalar(combined)
		runningLoss += batchLoss
		runningP += device.Scalar(pl)
		runningMt += t.Metric.Fn(xHat, x)

		c.Total++
		if err := w.AddScalar(TagLR, float64(t.Optimizer.GetLR()), c.Total); err != nil {
			return batchLoss, c, fmt.Errorf("train epoch: %w", err)
		}
		if t.Scheduler != nil {
			t.Scheduler.Step()
		}

		if batches%t.LogEvery == 0 {
			c.Recorder++
			k := float64(t.LogEvery)
			if err := writeScalars(w, c.Recorder,
				scalar{TagLoss, runningLoss / k},
				scalar{TagPLoss, runningP / k},
				scalar{t.Metric.Name, runningMt / k},
			); err != nil {
				return batchLoss, c, fmt.Errorf("train epoch: %w", err)
			}
			t.logger().Debug("train interval",
				slog.Int("batch", batches),
				slog.Int("recorder_step", c.Recorder),
				slog.Float64("loss", runningLoss/k),
				slog.Float64("p_loss", runningP/k),
				slog.Float64(t.Metric.Name, runningMt/k),
			)
			runningLoss, runningP, runningMt = 0, 0, 0
		}
	}

	if batches == 0 {
		return 0, c, ErrNoBatches
	}
	return batchLoss, c, nil
}

// ValidEpoch makes one pass over src with gradient recording disabled and
// returns the dataset-size-weighted mean of the combined loss.
//
// Each batch is weighted by len(batch)/src.DatasetLen(), so the result is
// the exact size-weighted mean when the batches partition the dataset. The
// weighted loss ("Loss") and metric (Metric.Name) are written once, under
// recorder, which is not incremented. Model parameters are never modified.
// An empty source writes and returns zeros.
func (t *Trainer) ValidEpoch(src BatchSource, w ScalarWriter, recorder int) (float64, error) {
	if err := t.check(false); err != nil {
		return 0, err
	}

	n := src.DatasetLen()
	var weightedLoss, weightedMetric float64
	err := t.Device.NoGrad(func() error {
		i := 0
		for b, err := range src.Batches() {
			i++
			if err != nil {
				return fmt.Errorf("batch %d: %w", i, err)
			}
			if n <= 0 {
				return fmt.Errorf("batch %d: source reports dataset length %d", i, n)
			}
			perc := float64(b.Len()) / float64(n)

			x, p, err := t.put(b)
			if err != nil {
				return fmt.Errorf("batch %d: %w", i, err)
			}
			xHat, combined, _ := t.forward(x, p)

			weightedLoss += perc * device.Scalar(combined)
			weightedMetric += perc * t.Metric.Fn(xHat, x)
		}
		return nil
	})
	if err != nil {
		return weightedLoss, fmt.Errorf("valid epoch: %w", err)
	}

	if err := writeScalars(w, recorder,
		scalar{TagLoss, weightedLoss},
		scalar{t.Metric.Name, weightedMetric},
	); err != nil {
		return weightedLoss, fmt.Errorf("valid epoch: %w", err)
	}
	return weightedLoss, nil
}

type scalar struct {
	tag   string
	value float64
}

func writeScalars(w ScalarWriter, step int, scalars ...scalar) error {
	for _, s := range scalars {
		if err := w.AddScalar(s.tag, s.value, step); err != nil {
			return err
		}
	}
	return nil
}
