// Package schedule adjusts an optimizer's learning rate once per batch.
package schedule

import (
	"fmt"
	"math"
)

// Optimizer is the part of an optimizer a schedule drives.
// Born's Adam and SGD optimizers satisfy it.
type Optimizer interface {
	GetLR() float32
	SetLR(lr float32)
}

// Scheduler advances the learning rate by one batch.
type Scheduler interface {
	Step()
}

// Schedule kinds accepted by New.
const (
	KindOneCycle = "onecycle"
	KindStep     = "step"
	KindConstant = "constant"
)

// Config selects and parameterizes a schedule.
type Config struct {
	Kind string

	// one-cycle
	MaxLR          float64
	TotalSteps     int
	PctStart       float64
	DivFactor      float64
	FinalDivFactor float64

	// step decay
	StepSize int
	Gamma    float64
}

// New builds the schedule described by cfg around opt.
func New(cfg Config, opt Optimizer) (Scheduler, error) {
	switch cfg.Kind {
	case KindOneCycle:
		return NewOneCycle(opt, OneCycleConfig{
			MaxLR:          cfg.MaxLR,
			TotalSteps:     cfg.TotalSteps,
			PctStart:       cfg.PctStart,
			DivFactor:      cfg.DivFactor,
			FinalDivFactor: cfg.FinalDivFactor,
		})
	case KindStep:
		return NewStepDecay(opt, cfg.StepSize, cfg.Gamma)
	case KindConstant, "":
		return Constant{}, nil
	default:
		return nil, fmt.Errorf("unknown schedule %q", cfg.Kind)
	}
}

// OneCycleConfig parameterizes a one-cycle schedule. Zero values take the
// defaults PctStart=0.3, DivFactor=25 and FinalDivFactor=1e4.
type OneCycleConfig struct {
	MaxLR          float64
	TotalSteps     int
	PctStart       float64
	DivFactor      float64
	FinalDivFactor float64
}

// OneCycle warms the learning rate up from MaxLR/DivFactor to MaxLR over the
// first PctStart of TotalSteps and anneals it down to
// MaxLR/(DivFactor*FinalDivFactor) by the last step, both with cosine curves.
// Steps past TotalSteps hold the final rate.
type OneCycle struct {
	opt       Optimizer
	initialLR float64
	maxLR     float64
	minLR     float64
	warmEnd   float64
	lastStep  float64
	step      int
}

// NewOneCycle sets opt to the initial rate and returns the schedule.
func NewOneCycle(opt Optimizer, cfg OneCycleConfig) (*OneCycle, error) {
	if cfg.MaxLR <= 0 {
		return nil, fmt.Errorf("one-cycle: max lr must be positive, got %v", cfg.MaxLR)
	}
	if cfg.TotalSteps <= 0 {
		return nil, fmt.Errorf("one-cycle: total steps must be positive, got %d", cfg.TotalSteps)
	}
	if cfg.PctStart == 0 {
		cfg.PctStart = 0.3
	}
	if cfg.PctStart < 0 || cfg.PctStart > 1 {
		return nil, fmt.Errorf("one-cycle: pct start %v not in [0, 1]", cfg.PctStart)
	}
	if cfg.DivFactor == 0 {
		cfg.DivFactor = 25
	}
	if cfg.FinalDivFactor == 0 {
		cfg.FinalDivFactor = 1e4
	}

	initial := cfg.MaxLR / cfg.DivFactor
	s := &OneCycle{
		opt:       opt,
		initialLR: initial,
		maxLR:     cfg.MaxLR,
		minLR:     initial / cfg.FinalDivFactor,
		warmEnd:   cfg.PctStart*float64(cfg.TotalSteps) - 1,
		lastStep:  float64(cfg.TotalSteps - 1),
	}
	opt.SetLR(float32(initial))
	return s, nil
}

// Step advances one batch and updates the optimizer's learning rate.
func (s *OneCycle) Step() {
	s.step++
	s.opt.SetLR(float32(s.At(s.step)))
}

// At returns the learning rate after step batches.
func (s *OneCycle) At(step int) float64 {
	t := math.Min(float64(step), s.lastStep)
	if s.warmEnd > 0 && t <= s.warmEnd {
		return cosineAnneal(s.initialLR, s.maxLR, t/s.warmEnd)
	}
	span := s.lastStep - s.warmEnd
	if span <= 0 {
		return s.minLR
	}
	return cosineAnneal(s.maxLR, s.minLR, (t-s.warmEnd)/span)
}

func cosineAnneal(start, end, pct float64) float64 {
	return end + (start-end)/2*(math.Cos(math.Pi*pct)+1)
}

// StepDecay multiplies the learning rate by Gamma every StepSize batches.
type StepDecay struct {
	opt      Optimizer
	baseLR   float64
	stepSize int
	gamma    float64
	step     int
}

// NewStepDecay decays from the optimizer's current learning rate.
func NewStepDecay(opt Optimizer, stepSize int, gamma float64) (*StepDecay, error) {
	if stepSize <= 0 {
		return nil, fmt.Errorf("step decay: step size must be positive, got %d", stepSize)
	}
	if gamma <= 0 || gamma > 1 {
		return nil, fmt.Errorf("step decay: gamma %v not in (0, 1]", gamma)
	}
	return &StepDecay{opt: opt, baseLR: float64(opt.GetLR()), stepSize: stepSize, gamma: gamma}, nil
}

// Step advances one batch.
func (s *StepDecay) Step() {
	s.step++
	s.opt.SetLR(float32(s.baseLR * math.Pow(s.gamma, float64(s.step/s.stepSize))))
}

// Constant leaves the learning rate alone.
type Constant struct{}

// Step does nothing.
func (Constant) Step() {}
