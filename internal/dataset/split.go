package dataset

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// Subset is a view of a parent dataset restricted to a list of indices.
type Subset struct {
	parent  Dataset
	indices []int
}

// NewSubset returns the samples of parent at the given indices, in order.
func NewSubset(parent Dataset, indices []int) *Subset {
	return &Subset{parent: parent, indices: append([]int(nil), indices...)}
}

// Len returns the number of samples in the subset.
func (s *Subset) Len() int {
	return len(s.indices)
}

// Get returns the i-th sample of the subset.
func (s *Subset) Get(i int) (Sample, error) {
	if i < 0 || i >= len(s.indices) {
		return Sample{}, fmt.Errorf("get sample %d: index out of range [0, %d)", i, len(s.indices))
	}
	return s.parent.Get(s.indices[i])
}

// Indices returns the parent indices of the subset.
func (s *Subset) Indices() []int {
	return append([]int(nil), s.indices...)
}

// Split shuffles ds with the given seed and cuts it into a training and a
// validation subset. The validation subset holds round(validFraction*N)
// samples, at least one when validFraction > 0, and the training subset
// keeps at least one sample.
func Split(ds Dataset, validFraction float64, seed uint64) (train, valid *Subset, err error) {
	n := ds.Len()
	if n == 0 {
		return nil, nil, fmt.Errorf("split: %w", ErrEmpty)
	}
	if validFraction < 0 || validFraction >= 1 {
		return nil, nil, fmt.Errorf("split: valid fraction %v not in [0, 1)", validFraction)
	}

	nValid := int(math.Round(validFraction * float64(n)))
	if validFraction > 0 && nValid == 0 {
		nValid = 1
	}
	if nValid >= n {
		return nil, nil, fmt.Errorf("split: %d samples leave nothing to train on with valid fraction %v", n, validFraction)
	}

	perm := rand.New(rand.NewPCG(seed, seed^0xda3e39cb94b95bdb)).Perm(n)
	return NewSubset(ds, perm[nValid:]), NewSubset(ds, perm[:nValid]), nil
}
