package dataset

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/AmarSaini/surrogates4sims/internal/parallel"
	gtensor "gorgonia.org/tensor"
)

// Synthetic simulation layout.
const (
	PlumeChannels = 2 // u, v velocity components
	PlumeParams   = 3 // source x, source y, strength
)

// SyntheticConfig describes a set of synthetic plume simulations.
type SyntheticConfig struct {
	Samples   int
	Height    int
	Width     int
	Seed      uint64
	CoreWidth float64 // vortex core width on the unit square; 0 means 0.15

	Parallel parallel.Config
}

// NewSynthetic renders cfg.Samples velocity fields of a Gaussian vortex.
//
// Each sample draws p = (sx, sy, strength) uniformly from [0, 1]^3 and
// evaluates the vortex centred at (sx, sy) on an H x W grid over the unit
// square. The result is deterministic for a given seed regardless of how
// many workers render it.
func NewSynthetic(cfg SyntheticConfig) (*InMemory, error) {
	if cfg.Samples <= 0 {
		return nil, fmt.Errorf("new synthetic: %w", ErrEmpty)
	}
	if cfg.Height < 2 || cfg.Width < 2 {
		return nil, errors.New("new synthetic: grid must be at least 2x2")
	}
	sigma := cfg.CoreWidth
	if sigma <= 0 {
		sigma = 0.15
	}

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	params := make([]float32, cfg.Samples*PlumeParams)
	for i := range params {
		params[i] = rng.Float32()
	}

	plane := cfg.Height * cfg.Width
	fields := make([]float32, cfg.Samples*PlumeChannels*plane)

	err := parallel.ForGrid(cfg.Samples, PlumeChannels, func(s, c int) error {
		p := params[s*PlumeParams : (s+1)*PlumeParams]
		out := fields[(s*PlumeChannels+c)*plane : (s*PlumeChannels+c+1)*plane]
		renderVortex(out, cfg.Height, cfg.Width, c, float64(p[0]), float64(p[1]), float64(p[2]), sigma)
		return nil
	}, cfg.Parallel)
	if err != nil {
		return nil, fmt.Errorf("new synthetic: %w", err)
	}

	x := gtensor.New(
		gtensor.Of(gtensor.Float32),
		gtensor.WithShape(cfg.Samples, PlumeChannels, cfg.Height, cfg.Width),
		gtensor.WithBacking(fields),
	)
	p := gtensor.New(
		gtensor.Of(gtensor.Float32),
		gtensor.WithShape(cfg.Samples, PlumeParams),
		gtensor.WithBacking(params),
	)
	return NewInMemory(x, p)
}

// renderVortex writes one velocity component of a Gaussian vortex into out.
// Channel 0 is u = -dy*g/sigma, channel 1 is v = dx*g/sigma, where
// g = strength * exp(-r^2 / (2 sigma^2)).
func renderVortex(out []float32, h, w, channel int, sx, sy, strength, sigma float64) {
	for row := 0; row < h; row++ {
		y := float64(row) / float64(h-1)
		for col := 0; col < w; col++ {
			x := float64(col) / float64(w-1)
			dx, dy := x-sx, y-sy
			g := strength * math.Exp(-(dx*dx+dy*dy)/(2*sigma*sigma))
			var val float64
			if channel == 0 {
				val = -dy * g / sigma
			} else {
				val = dx * g / sigma
			}
			out[row*w+col] = float32(val)
		}
	}
}
