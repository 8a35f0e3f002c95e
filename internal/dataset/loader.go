package dataset

import (
	"errors"
	"fmt"
	"iter"
	"math/rand/v2"
	"slices"

	gtensor "gorgonia.org/tensor"
)

// Batch is a stack of samples: X is [n, C, H, W] and P is [n, k].
type Batch struct {
	X *gtensor.Dense
	P *gtensor.Dense
}

// Len returns the number of samples in the batch.
func (b Batch) Len() int {
	return b.X.Shape()[0]
}

// Loader iterates a dataset in fixed-size batches. The last batch holds the
// remainder, so batch sizes always sum to the dataset size.
type Loader struct {
	ds        Dataset
	batchSize int
	rng       *rand.Rand // nil means sequential order
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithShuffle reshuffles the sample order on every pass, seeded for reproducibility.
func WithShuffle(seed uint64) LoaderOption {
	return func(l *Loader) {
		l.rng = rand.New(rand.NewPCG(seed, seed^0x2545f4914f6cdd1d))
	}
}

// NewLoader creates a loader over ds.
func NewLoader(ds Dataset, batchSize int, opts ...LoaderOption) (*Loader, error) {
	if ds == nil {
		return nil, errors.New("new loader: nil dataset")
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("new loader: batch size must be positive, got %d", batchSize)
	}
	l := &Loader{ds: ds, batchSize: batchSize}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// DatasetLen returns the number of samples in the underlying dataset.
func (l *Loader) DatasetLen() int {
	return l.ds.Len()
}

// BatchSize returns the configured batch size.
func (l *Loader) BatchSize() int {
	return l.batchSize
}

// NumBatches returns the number of batches in one pass.
func (l *Loader) NumBatches() int {
	return (l.ds.Len() + l.batchSize - 1) / l.batchSize
}

// Batches returns one pass over the dataset. Iteration stops after the first error.
func (l *Loader) Batches() iter.Seq2[Batch, error] {
	return func(yield func(Batch, error) bool) {
		order := make([]int, l.ds.Len())
		for i := range order {
			order[i] = i
		}
		if l.rng != nil {
			l.rng.Shuffle(len(order), func(i, j int) {
				order[i], order[j] = order[j], order[i]
			})
		}

		for start := 0; start < len(order); start += l.batchSize {
			end := min(start+l.batchSize, len(order))
			b, err := l.collate(order[start:end])
			if err != nil {
				yield(Batch{}, fmt.Errorf("batch at %d: %w", start, err))
				return
			}
			if !yield(b, nil) {
				return
			}
		}
	}
}

// collate stacks the samples at idx into one contiguous batch.
func (l *Loader) collate(idx []int) (Batch, error) {
	var (
		xData, pData   []float32
		xShape, pShape []int
	)
	for k, i := range idx {
		s, err := l.ds.Get(i)
		if err != nil {
			return Batch{}, err
		}
		if s.X.Dtype() != gtensor.Float32 || s.P.Dtype() != gtensor.Float32 {
			return Batch{}, fmt.Errorf("sample %d: expected float32 arrays", i)
		}
		xs, ps := []int(s.X.Shape()), []int(s.P.Shape())
		if k == 0 {
			xShape, pShape = slices.Clone(xs), slices.Clone(ps)
			xData = make([]float32, 0, len(idx)*s.X.Shape().TotalSize())
			pData = make([]float32, 0, len(idx)*s.P.Shape().TotalSize())
		} else if !slices.Equal(xs, xShape) || !slices.Equal(ps, pShape) {
			return Batch{}, fmt.Errorf("sample %d: shape %v/%v does not match %v/%v", i, xs, ps, xShape, pShape)
		}
		xData = append(xData, s.X.Float32s()...)
		pData = append(pData, s.P.Float32s()...)
	}

	n := len(idx)
	return Batch{
		X: gtensor.New(gtensor.Of(gtensor.Float32), gtensor.WithShape(append([]int{n}, xShape...)...), gtensor.WithBacking(xData)),
		P: gtensor.New(gtensor.Of(gtensor.Float32), gtensor.WithShape(append([]int{n}, pShape...)...), gtensor.WithBacking(pData)),
	}, nil
}
