package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"

	"github.com/AmarSaini/surrogates4sims/internal/config"
	"github.com/AmarSaini/surrogates4sims/internal/dataset"
	"github.com/AmarSaini/surrogates4sims/internal/device"
	"github.com/AmarSaini/surrogates4sims/internal/model"
	"github.com/AmarSaini/surrogates4sims/internal/monitor"
)

// runEval scores a checkpoint on a fresh synthetic set using the validation loop.
func runEval(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("eval", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		configPath = fs.String("config", "", "YAML run configuration (defaults when empty)")
		checkpoint = fs.String("checkpoint", "", "checkpoint written by train")
		samples    = fs.Int("samples", 0, "number of fields to render (config value when 0)")
		seed       = fs.Uint64("seed", 0, "render seed (config seed + 1 when 0)")
		verbose    = fs.Bool("v", false, "debug logging")
	)
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	cfg, err := loadConfig(*configPath, config.Overrides{Checkpoint: *checkpoint})
	if err != nil {
		return err
	}
	if cfg.Output.Checkpoint == "" {
		return errors.New("eval: no checkpoint given")
	}
	if *samples > 0 {
		cfg.Data.Samples = *samples
	}
	cfg.Seed++
	if *seed > 0 {
		cfg.Seed = *seed
	}
	logger := newLogger(stderr, *verbose)

	dev, err := device.Open(cfg.Device)
	if err != nil {
		return err
	}

	m, meta, err := model.Open(cfg.Output.Checkpoint, dev.Backend())
	if err != nil {
		return fmt.Errorf("eval: %w", err)
	}
	logger.Info("checkpoint loaded",
		slog.String("path", cfg.Output.Checkpoint),
		slog.String("run", meta["run"]),
		slog.String("epoch", meta["epoch"]),
	)

	mc := m.Config()
	cfg.Data.Height, cfg.Data.Width = mc.Height, mc.Width
	ds, err := renderData(cfg)
	if err != nil {
		return err
	}
	loader, err := dataset.NewLoader(ds, cfg.Data.ValidBatchSize)
	if err != nil {
		return err
	}

	trainer, err := newTrainer(cfg, m, dev, logger)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	sink := monitor.NewMemory()
	lossValue, err := trainer.ValidEpoch(loader, monitor.Tee{monitor.NewConsole(logger, monitor.SplitValid), sink}, 0)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "loss %.6g, %s %.6g over %d samples\n",
		lossValue, trainer.Metric.Name, sink.Values(trainer.Metric.Name)[0], ds.Len())
	return nil
}
