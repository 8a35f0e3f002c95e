// Package parallel fans independent per-sample work out over goroutines.
package parallel

import (
	"runtime"
	"sync"
)

// Config controls parallel execution behavior.
type Config struct {
	Enabled      bool // Whether parallel execution is enabled.
	NumWorkers   int  // Number of worker goroutines to use.
	MinChunkSize int  // Minimum items per goroutine to avoid overhead.
}

// DefaultConfig returns defaults based on CPU count.
func DefaultConfig() Config {
	n := runtime.NumCPU()
	return Config{
		Enabled:      n > 1,
		NumWorkers:   n,
		MinChunkSize: 8, // Rendering one sample is already a full grid.
	}
}

// Sequential returns a config that runs everything on the calling goroutine.
func Sequential() Config {
	return Config{Enabled: false}
}

// For executes f(i) for i in [0, n) and returns the error of the lowest
// failing index, or nil. Every index runs even when an earlier one fails.
func For(n int, f func(i int) error, cfg Config) error {
	if n <= 0 {
		return nil
	}
	if !cfg.Enabled || cfg.NumWorkers < 2 || n < cfg.MinChunkSize {
		var first error
		for i := 0; i < n; i++ {
			if err := f(i); err != nil && first == nil {
				first = err
			}
		}
		return first
	}

	errs := make([]error, n)
	var wg sync.WaitGroup
	chunkSize := max((n+cfg.NumWorkers-1)/cfg.NumWorkers, cfg.MinChunkSize, 1)

	for start := 0; start < n; start += chunkSize {
		end := min(start+chunkSize, n)
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			for i := s; i < e; i++ {
				errs[i] = f(i)
			}
		}(start, end)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// ForGrid runs f over every (sample, channel) pair of a [samples, channels] grid.
func ForGrid(samples, channels int, f func(s, c int) error, cfg Config) error {
	if channels <= 0 {
		return nil
	}
	return For(samples*channels, func(k int) error {
		return f(k/channels, k%channels)
	}, cfg)
}
