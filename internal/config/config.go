// Package config loads the YAML description of a training run.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/AmarSaini/surrogates4sims/internal/dataset"
	"gopkg.in/yaml.v3"
)

// Config captures the runtime knobs for a training run.
type Config struct {
	Name      string    `yaml:"name"`
	Device    string    `yaml:"device"`
	Seed      uint64    `yaml:"seed"`
	Data      Data      `yaml:"data"`
	Model     Model     `yaml:"model"`
	Loss      Loss      `yaml:"loss"`
	Optimizer Optimizer `yaml:"optimizer"`
	Schedule  Schedule  `yaml:"schedule"`
	Training  Training  `yaml:"training"`
	Output    Output    `yaml:"output"`
}

// Data describes the synthetic simulations and how they are batched.
type Data struct {
	Samples        int     `yaml:"samples"`
	Height         int     `yaml:"height"`
	Width          int     `yaml:"width"`
	ValidFraction  float64 `yaml:"valid_fraction"`
	BatchSize      int     `yaml:"batch_size"`
	ValidBatchSize int     `yaml:"valid_batch_size"`
	Shuffle        bool    `yaml:"shuffle"`
	Workers        int     `yaml:"workers"`
}

// Model describes the autoencoder.
type Model struct {
	Hidden []int `yaml:"hidden"`
	Latent int   `yaml:"latent"`
}

// Loss selects the loss terms and the logged metric.
type Loss struct {
	GradWeight float64 `yaml:"grad_weight"`
	Metric     string  `yaml:"metric"`
}

// Optimizer selects the optimizer.
type Optimizer struct {
	Kind     string     `yaml:"kind"` // adam or sgd
	LR       float64    `yaml:"lr"`
	Momentum float64    `yaml:"momentum"`
	Betas    [2]float64 `yaml:"betas"`
}

// Schedule selects the per-batch learning-rate schedule.
type Schedule struct {
	Kind           string  `yaml:"kind"` // onecycle, step or constant
	MaxLR          float64 `yaml:"max_lr"`
	PctStart       float64 `yaml:"pct_start"`
	DivFactor      float64 `yaml:"div_factor"`
	FinalDivFactor float64 `yaml:"final_div_factor"`
	StepSize       int     `yaml:"step_size"`
	Gamma          float64 `yaml:"gamma"`
}

// Training controls the epoch loop.
type Training struct {
	Epochs   int `yaml:"epochs"`
	LogEvery int `yaml:"log_every"`
}

// Output names where results go.
type Output struct {
	Store      string `yaml:"store"`
	Checkpoint string `yaml:"checkpoint"`
}

// Overrides captures CLI supplied values.
type Overrides struct {
	Name       string
	Device     string
	Epochs     int
	BatchSize  int
	LogEvery   int
	LR         float64
	Store      string
	Checkpoint string
}

// Default returns a small runnable configuration.
func Default() *Config {
	return &Config{
		Name:   "plume-ae",
		Device: "cpu",
		Seed:   1,
		Data: Data{
			Samples:        256,
			Height:         16,
			Width:          16,
			ValidFraction:  0.2,
			BatchSize:      16,
			ValidBatchSize: 64,
			Shuffle:        true,
		},
		Model:     Model{Hidden: []int{128, 32}, Latent: 8},
		Loss:      Loss{GradWeight: 0.1, Metric: "rmse"},
		Optimizer: Optimizer{Kind: "adam", LR: 1e-3, Betas: [2]float64{0.9, 0.999}},
		Schedule:  Schedule{Kind: "onecycle", MaxLR: 1e-3, PctStart: 0.3, DivFactor: 25, FinalDivFactor: 1e4},
		Training:  Training{Epochs: 10, LogEvery: 5},
		Output:    Output{Store: "runs.db", Checkpoint: "best.ckpt"},
	}
}

// Load reads a YAML file on top of Default and validates the result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML on top of Default. Unknown keys are errors.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return cfg, nil
}

// Marshal renders cfg as YAML.
func (c *Config) Marshal() (string, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return "", err
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// ApplyOverrides updates c using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.Name != "" {
		c.Name = o.Name
	}
	if o.Device != "" {
		c.Device = o.Device
	}
	if o.Epochs > 0 {
		c.Training.Epochs = o.Epochs
	}
	if o.BatchSize > 0 {
		c.Data.BatchSize = o.BatchSize
	}
	if o.LogEvery > 0 {
		c.Training.LogEvery = o.LogEvery
	}
	if o.LR > 0 {
		c.Optimizer.LR = o.LR
		c.Schedule.MaxLR = o.LR
	}
	if o.Store != "" {
		c.Output.Store = o.Store
	}
	if o.Checkpoint != "" {
		c.Output.Checkpoint = o.Checkpoint
	}
}

// Validate verifies the config is runnable and fills derived defaults.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.Data.Samples <= 0 {
		return fmt.Errorf("data.samples must be > 0 (got %d)", c.Data.Samples)
	}
	if c.Data.Height < 2 || c.Data.Width < 2 {
		return fmt.Errorf("data grid must be at least 2x2 (got %dx%d)", c.Data.Height, c.Data.Width)
	}
	if c.Data.ValidFraction < 0 || c.Data.ValidFraction >= 1 {
		return fmt.Errorf("data.valid_fraction must be in [0, 1) (got %v)", c.Data.ValidFraction)
	}
	if c.Data.BatchSize <= 0 {
		return fmt.Errorf("data.batch_size must be > 0 (got %d)", c.Data.BatchSize)
	}
	if c.Data.ValidBatchSize <= 0 {
		c.Data.ValidBatchSize = c.Data.BatchSize
	}
	if c.Model.Latent < dataset.PlumeParams {
		return fmt.Errorf("model.latent must be >= %d (got %d)", dataset.PlumeParams, c.Model.Latent)
	}
	for i, h := range c.Model.Hidden {
		if h <= 0 {
			return fmt.Errorf("model.hidden[%d] must be > 0 (got %d)", i, h)
		}
	}
	if c.Loss.GradWeight < 0 {
		return fmt.Errorf("loss.grad_weight must be >= 0 (got %v)", c.Loss.GradWeight)
	}
	if c.Loss.Metric == "" {
		c.Loss.Metric = "rmse"
	}
	switch c.Optimizer.Kind {
	case "adam", "sgd":
	default:
		return fmt.Errorf("optimizer.kind must be adam or sgd (got %q)", c.Optimizer.Kind)
	}
	if c.Optimizer.LR <= 0 {
		return fmt.Errorf("optimizer.lr must be > 0 (got %v)", c.Optimizer.LR)
	}
	switch c.Schedule.Kind {
	case "onecycle":
		if c.Schedule.MaxLR <= 0 {
			c.Schedule.MaxLR = c.Optimizer.LR
		}
	case "step":
		if c.Schedule.StepSize <= 0 {
			return fmt.Errorf("schedule.step_size must be > 0 (got %d)", c.Schedule.StepSize)
		}
	case "constant", "":
		c.Schedule.Kind = "constant"
	default:
		return fmt.Errorf("schedule.kind must be onecycle, step or constant (got %q)", c.Schedule.Kind)
	}
	if c.Training.Epochs <= 0 {
		return fmt.Errorf("training.epochs must be > 0 (got %d)", c.Training.Epochs)
	}
	if c.Training.LogEvery <= 0 {
		c.Training.LogEvery = 50
	}
	if c.Output.Store == "" {
		return errors.New("output.store must be set")
	}
	return nil
}
