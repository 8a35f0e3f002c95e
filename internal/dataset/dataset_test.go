package dataset

import (
	"errors"
	"math"
	"testing"

	"github.com/AmarSaini/surrogates4sims/internal/parallel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gtensor "gorgonia.org/tensor"
)

// ramp returns a dataset of n samples with X[i] = [i, i, i, i] as [1, 2, 2]
// and P[i] = [i].
func ramp(t *testing.T, n int) *InMemory {
	t.Helper()
	xs := make([]float32, n*4)
	ps := make([]float32, n)
	for i := 0; i < n; i++ {
		for j := 0; j < 4; j++ {
			xs[i*4+j] = float32(i)
		}
		ps[i] = float32(i)
	}
	ds, err := NewInMemory(
		gtensor.New(gtensor.Of(gtensor.Float32), gtensor.WithShape(n, 1, 2, 2), gtensor.WithBacking(xs)),
		gtensor.New(gtensor.Of(gtensor.Float32), gtensor.WithShape(n, 1), gtensor.WithBacking(ps)),
	)
	require.NoError(t, err)
	return ds
}

func TestInMemory_Get(t *testing.T) {
	ds := ramp(t, 5)
	assert.Equal(t, 5, ds.Len())
	assert.Equal(t, []int{1, 2, 2}, ds.SampleShape())
	assert.Equal(t, 1, ds.ParamDim())

	s, err := ds.Get(3)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 2}, []int(s.X.Shape()))
	assert.Equal(t, []float32{3, 3, 3, 3}, s.X.Float32s())
	assert.Equal(t, []float32{3}, s.P.Float32s())

	_, err = ds.Get(5)
	assert.Error(t, err)
	_, err = ds.Get(-1)
	assert.Error(t, err)
}

func TestNewInMemory_Validation(t *testing.T) {
	x := gtensor.New(gtensor.Of(gtensor.Float32), gtensor.WithShape(3, 2), gtensor.WithBacking(make([]float32, 6)))

	tests := []struct {
		name string
		p    *gtensor.Dense
	}{
		{"count mismatch", gtensor.New(gtensor.Of(gtensor.Float32), gtensor.WithShape(2, 1), gtensor.WithBacking(make([]float32, 2)))},
		{"rank", gtensor.New(gtensor.Of(gtensor.Float32), gtensor.WithShape(3), gtensor.WithBacking(make([]float32, 3)))},
		{"dtype", gtensor.New(gtensor.Of(gtensor.Float64), gtensor.WithShape(3, 1), gtensor.WithBacking(make([]float64, 3)))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewInMemory(x, tt.p)
			assert.Error(t, err)
		})
	}
}

func TestNewSynthetic(t *testing.T) {
	cfg := SyntheticConfig{Samples: 12, Height: 8, Width: 6, Seed: 7, Parallel: parallel.Sequential()}
	seq, err := NewSynthetic(cfg)
	require.NoError(t, err)
	assert.Equal(t, 12, seq.Len())
	assert.Equal(t, []int{PlumeChannels, 8, 6}, seq.SampleShape())
	assert.Equal(t, PlumeParams, seq.ParamDim())

	cfg.Parallel = parallel.Config{Enabled: true, NumWorkers: 4, MinChunkSize: 1}
	par, err := NewSynthetic(cfg)
	require.NoError(t, err)

	for i := 0; i < seq.Len(); i++ {
		a, err := seq.Get(i)
		require.NoError(t, err)
		b, err := par.Get(i)
		require.NoError(t, err)
		assert.Equal(t, a.X.Float32s(), b.X.Float32s(), "sample %d", i)
		assert.Equal(t, a.P.Float32s(), b.P.Float32s(), "sample %d", i)

		for _, v := range a.P.Float32s() {
			assert.GreaterOrEqual(t, v, float32(0))
			assert.Less(t, v, float32(1))
		}
		for _, v := range a.X.Float32s() {
			assert.False(t, math.IsNaN(float64(v)))
		}
	}
}

func TestNewSynthetic_VortexCentreIsStill(t *testing.T) {
	// With the source exactly on a grid node, both components vanish there.
	out := make([]float32, 5*5)
	renderVortex(out, 5, 5, 0, 0.5, 0.5, 1, 0.15)
	assert.Zero(t, out[2*5+2])
	renderVortex(out, 5, 5, 1, 0.5, 0.5, 1, 0.15)
	assert.Zero(t, out[2*5+2])
	// Rotation: v is positive to the right of the centre.
	assert.Greater(t, out[2*5+3], float32(0))
}

func TestNewSynthetic_Invalid(t *testing.T) {
	_, err := NewSynthetic(SyntheticConfig{Samples: 0, Height: 4, Width: 4})
	assert.True(t, errors.Is(err, ErrEmpty))

	_, err = NewSynthetic(SyntheticConfig{Samples: 1, Height: 1, Width: 4})
	assert.Error(t, err)
}

func TestSplit(t *testing.T) {
	ds := ramp(t, 10)

	train, valid, err := Split(ds, 0.3, 42)
	require.NoError(t, err)
	assert.Equal(t, 7, train.Len())
	assert.Equal(t, 3, valid.Len())

	seen := map[int]bool{}
	for _, i := range append(train.Indices(), valid.Indices()...) {
		assert.False(t, seen[i], "index %d appears twice", i)
		seen[i] = true
	}
	assert.Len(t, seen, 10)

	train2, valid2, err := Split(ds, 0.3, 42)
	require.NoError(t, err)
	assert.Equal(t, train.Indices(), train2.Indices())
	assert.Equal(t, valid.Indices(), valid2.Indices())

	s, err := valid.Get(0)
	require.NoError(t, err)
	assert.Equal(t, float32(valid.Indices()[0]), s.P.Float32s()[0])
}

func TestSplit_Edges(t *testing.T) {
	ds := ramp(t, 3)

	train, valid, err := Split(ds, 0.01, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, valid.Len())
	assert.Equal(t, 2, train.Len())

	train, valid, err = Split(ds, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, valid.Len())
	assert.Equal(t, 3, train.Len())

	_, _, err = Split(ds, 1, 1)
	assert.Error(t, err)

	_, _, err = Split(ramp(t, 1), 0.5, 1)
	assert.Error(t, err)
}
