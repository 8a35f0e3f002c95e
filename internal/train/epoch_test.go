package train

import (
	"errors"
	"math"
	"testing"

	"github.com/AmarSaini/surrogates4sims/internal/dataset"
	"github.com/AmarSaini/surrogates4sims/internal/device"
	"github.com/AmarSaini/surrogates4sims/internal/loss"
	"github.com/AmarSaini/surrogates4sims/internal/monitor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrainEpoch_CounterAdvance(t *testing.T) {
	tests := []struct {
		name         string
		batches      int
		logEvery     int
		wantRecorder int
	}{
		{"10 batches every 3", 10, 3, 3},
		{"cadence equals batches", 7, 7, 1},
		{"cadence above batches", 4, 5, 0},
		{"every batch", 6, 1, 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, _ := fakeTrainer(tt.logEvery)
			sink := monitor.NewMemory()
			start := Counters{Recorder: 5, Total: 100}

			_, c, err := tr.TrainEpoch(uniformSource(tt.batches, 2, 1), sink, start)
			require.NoError(t, err)

			assert.Equal(t, start.Recorder+tt.wantRecorder, c.Recorder)
			assert.Equal(t, start.Total+tt.batches, c.Total)

			assert.Len(t, sink.Values(TagLR), tt.batches)
			assert.Len(t, sink.Values(TagLoss), tt.wantRecorder)
			assert.Len(t, sink.Values(TagPLoss), tt.wantRecorder)
			assert.Len(t, sink.Values("rmse"), tt.wantRecorder)
		})
	}
}

func TestTrainEpoch_TriggersOnMultiplesOfCadence(t *testing.T) {
	tr, _ := fakeTrainer(3)
	sink := monitor.NewMemory()

	_, c, err := tr.TrainEpoch(uniformSource(10, 1, 1), sink, Counters{})
	require.NoError(t, err)
	assert.Equal(t, Counters{Recorder: 3, Total: 10}, c)

	assert.Equal(t, []int{1, 2, 3}, sink.Steps(TagLoss))
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, sink.Steps(TagLR))
}

func TestTrainEpoch_ConstantLossAverages(t *testing.T) {
	tr, opt := fakeTrainer(5)
	sink := monitor.NewMemory()

	last, c, err := tr.TrainEpoch(uniformSource(10, 2, 1), sink, Counters{})
	require.NoError(t, err)

	assert.Equal(t, 1.0, last)
	assert.Equal(t, 2, c.Recorder)
	assert.Equal(t, []float64{1, 1}, sink.Values(TagLoss))
	assert.Equal(t, []float64{0.25, 0.25}, sink.Values(TagPLoss))
	assert.Equal(t, []float64{0.5, 0.5}, sink.Values("rmse"))

	assert.Equal(t, 10, opt.steps)
	assert.Equal(t, 10, opt.zeroGrads)
}

func TestTrainEpoch_ResetsRunningSumsAndReturnsLastBatch(t *testing.T) {
	tr, _ := fakeTrainer(3)
	tr.PLoss = constLatent(0)
	tr.Loss = firstValueRecon
	sink := monitor.NewMemory()

	var batches []dataset.Batch
	for v := 1; v <= 7; v++ {
		batches = append(batches, fillBatch(1, float32(v)))
	}

	last, c, err := tr.TrainEpoch(newSliceSource(batches...), sink, Counters{})
	require.NoError(t, err)

	// (1+2+3)/3 and (4+5+6)/3; batch 7 is never logged.
	assert.Equal(t, []float64{2, 5}, sink.Values(TagLoss))
	assert.Equal(t, 7.0, last, "raw loss of the last batch, not an average")
	assert.Equal(t, Counters{Recorder: 2, Total: 7}, c)
}

func TestTrainEpoch_LRLoggedBeforeSchedulerStep(t *testing.T) {
	tr, opt := fakeTrainer(10)
	sched := &halvingScheduler{opt: opt}
	tr.Scheduler = sched
	sink := monitor.NewMemory()

	_, _, err := tr.TrainEpoch(uniformSource(4, 1, 1), sink, Counters{Total: 20})
	require.NoError(t, err)

	assert.Equal(t, []float64{1, 0.5, 0.25, 0.125}, sink.Values(TagLR))
	assert.Equal(t, []int{21, 22, 23, 24}, sink.Steps(TagLR))
	assert.Equal(t, 4, sched.steps)
	assert.Equal(t, float32(0.0625), opt.lr)
}

func TestTrainEpoch_EmptySource(t *testing.T) {
	tr, opt := fakeTrainer(2)
	sink := monitor.NewMemory()
	start := Counters{Recorder: 4, Total: 9}

	_, c, err := tr.TrainEpoch(newSliceSource(), sink, start)
	assert.ErrorIs(t, err, ErrNoBatches)
	assert.Equal(t, start, c)
	assert.Empty(t, sink.Tags())
	assert.Zero(t, opt.steps)
}

func TestTrainEpoch_InvalidCadence(t *testing.T) {
	for _, k := range []int{0, -3} {
		tr, _ := fakeTrainer(k)
		_, _, err := tr.TrainEpoch(uniformSource(2, 1, 1), monitor.NewMemory(), Counters{})
		assert.ErrorIs(t, err, ErrLogEvery)
	}
}

func TestTrainEpoch_MissingCollaborators(t *testing.T) {
	tr, _ := fakeTrainer(1)
	tr.Optimizer = nil
	_, _, err := tr.TrainEpoch(uniformSource(1, 1, 1), monitor.NewMemory(), Counters{})
	assert.Error(t, err)

	tr, _ = fakeTrainer(1)
	tr.Metric.Name = ""
	_, _, err = tr.TrainEpoch(uniformSource(1, 1, 1), monitor.NewMemory(), Counters{})
	assert.Error(t, err)
}

func TestTrainEpoch_SourceErrorPropagates(t *testing.T) {
	tr, opt := fakeTrainer(1)
	src := uniformSource(5, 1, 1)
	src.failAt = 3

	_, c, err := tr.TrainEpoch(src, monitor.NewMemory(), Counters{})
	assert.ErrorIs(t, err, errCorrupt)
	assert.Equal(t, Counters{Recorder: 2, Total: 2}, c)
	assert.Equal(t, 2, opt.steps)
}

func TestTrainEpoch_SinkErrorPropagates(t *testing.T) {
	boom := errors.New("sink closed")

	tr, _ := fakeTrainer(2)
	_, c, err := tr.TrainEpoch(uniformSource(4, 1, 1), errWriter{tag: TagPLoss, err: boom}, Counters{})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, Counters{Recorder: 1, Total: 2}, c)

	tr, _ = fakeTrainer(2)
	_, _, err = tr.TrainEpoch(uniformSource(4, 1, 1), errWriter{tag: TagLR, err: boom}, Counters{})
	assert.ErrorIs(t, err, boom)
}

func TestTrainEpoch_UpdatesParameters(t *testing.T) {
	tr, m, loader := syntheticSetup(t, 12, 4, 1e-2)
	before := paramValues(m)
	sink := monitor.NewMemory()

	last, c, err := tr.TrainEpoch(loader, sink, Counters{})
	require.NoError(t, err)
	assert.Equal(t, Counters{Recorder: 1, Total: 3}, c)
	assert.False(t, math.IsNaN(last))
	assert.Greater(t, last, 0.0)

	after := paramValues(m)
	changed := false
	for i := range before {
		for j := range before[i] {
			if before[i][j] != after[i][j] {
				changed = true
			}
		}
	}
	assert.True(t, changed, "at least one parameter must move")
	assert.True(t, tr.Device.Recording())
}

func TestValidEpoch_SingleBatchIsExact(t *testing.T) {
	tr, _ := fakeTrainer(1)
	sink := monitor.NewMemory()

	got, err := tr.ValidEpoch(newSliceSource(fillBatch(8, 1)), sink, 3)
	require.NoError(t, err)
	assert.Equal(t, 0.25+0.75, got)
	assert.Equal(t, []float64{1}, sink.Values(TagLoss))
	assert.Equal(t, []float64{0.5}, sink.Values("rmse"))
	assert.Equal(t, []int{3}, sink.Steps(TagLoss))
	assert.Empty(t, sink.Values(TagPLoss))
	assert.Empty(t, sink.Values(TagLR))
}

func TestValidEpoch_SingleBatchRealModel(t *testing.T) {
	tr, m, loader := syntheticSetup(t, 6, 6, 1e-3)

	var batch dataset.Batch
	for b, err := range loader.Batches() {
		require.NoError(t, err)
		batch = b
	}
	x, err := tr.Device.Put(batch.X)
	require.NoError(t, err)
	p, err := tr.Device.Put(batch.P)
	require.NoError(t, err)
	xHat, z := m.ForwardLatent(x)
	want := device.Scalar(tr.PLoss(z, p).Add(tr.Loss(xHat, x, tr.Device)))

	got, err := tr.ValidEpoch(loader, monitor.NewMemory(), 0)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestValidEpoch_WeightsBySize(t *testing.T) {
	tr, _ := fakeTrainer(1)
	tr.PLoss = constLatent(0)
	tr.Loss = firstValueRecon
	tr.Metric = loss.Metric{Name: "first", Fn: func(_, x *device.Tensor) float64 { return float64(x.Data()[0]) }}
	sink := monitor.NewMemory()

	src := newSliceSource(fillBatch(4, 1), fillBatch(4, 2), fillBatch(2, 6))
	require.Equal(t, 10, src.DatasetLen())

	got, err := tr.ValidEpoch(src, sink, 1)
	require.NoError(t, err)
	// 0.4*1 + 0.4*2 + 0.2*6
	assert.InDelta(t, 2.4, got, 1e-12)
	assert.InDelta(t, 2.4, sink.Values("first")[0], 1e-12)
}

func TestValidEpoch_PercentagesSumToOne(t *testing.T) {
	tr, _ := fakeTrainer(1)
	tr.PLoss = constLatent(0)
	tr.Loss = constRecon(1)
	tr.Metric = constMetric(1)

	got, err := tr.ValidEpoch(newSliceSource(fillBatch(4, 0), fillBatch(4, 0), fillBatch(2, 0)), monitor.NewMemory(), 0)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, got, 1e-12)
}

func TestValidEpoch_DoesNotModifyParameters(t *testing.T) {
	tr, m, loader := syntheticSetup(t, 10, 4, 1e-1)
	before := paramValues(m)

	tr.Device.Train()
	_, err := tr.ValidEpoch(loader, monitor.NewMemory(), 0)
	require.NoError(t, err)

	assert.Equal(t, before, paramValues(m))
	assert.True(t, tr.Device.Recording(), "recording state is restored")
}

func TestValidEpoch_Empty(t *testing.T) {
	tr, _ := fakeTrainer(1)
	sink := monitor.NewMemory()

	got, err := tr.ValidEpoch(newSliceSource(), sink, 2)
	require.NoError(t, err)
	assert.Zero(t, got)
	assert.Equal(t, []float64{0}, sink.Values(TagLoss))
	assert.Equal(t, []float64{0}, sink.Values("rmse"))
}

func TestValidEpoch_Errors(t *testing.T) {
	tr, _ := fakeTrainer(1)

	src := newSliceSource(fillBatch(2, 1))
	src.datasetLen = 0
	_, err := tr.ValidEpoch(src, monitor.NewMemory(), 0)
	assert.Error(t, err)

	src = uniformSource(3, 1, 1)
	src.failAt = 2
	_, err = tr.ValidEpoch(src, monitor.NewMemory(), 0)
	assert.ErrorIs(t, err, errCorrupt)

	boom := errors.New("sink closed")
	_, err = tr.ValidEpoch(uniformSource(1, 1, 1), errWriter{tag: "rmse", err: boom}, 0)
	assert.ErrorIs(t, err, boom)
}
