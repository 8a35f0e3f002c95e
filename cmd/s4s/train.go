package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"

	"github.com/AmarSaini/surrogates4sims/internal/config"
	"github.com/AmarSaini/surrogates4sims/internal/dataset"
	"github.com/AmarSaini/surrogates4sims/internal/device"
	"github.com/AmarSaini/surrogates4sims/internal/loss"
	"github.com/AmarSaini/surrogates4sims/internal/model"
	"github.com/AmarSaini/surrogates4sims/internal/monitor"
	"github.com/AmarSaini/surrogates4sims/internal/parallel"
	"github.com/AmarSaini/surrogates4sims/internal/schedule"
	"github.com/AmarSaini/surrogates4sims/internal/train"
	"github.com/born-ml/born/optim"
)

func runTrain(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("train", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		configPath = fs.String("config", "", "YAML run configuration (defaults when empty)")
		verbose    = fs.Bool("v", false, "log per-batch learning rates")
	)
	var o config.Overrides
	fs.StringVar(&o.Name, "name", "", "run name")
	fs.StringVar(&o.Device, "device", "", "compute device")
	fs.IntVar(&o.Epochs, "epochs", 0, "number of epochs")
	fs.IntVar(&o.BatchSize, "batch-size", 0, "training batch size")
	fs.IntVar(&o.LogEvery, "log-every", 0, "log training scalars every N batches")
	fs.Float64Var(&o.LR, "lr", 0, "learning rate (peak rate for one-cycle)")
	fs.StringVar(&o.Store, "store", "", "SQLite run store")
	fs.StringVar(&o.Checkpoint, "checkpoint", "", "path of the best-model checkpoint")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	cfg, err := loadConfig(*configPath, o)
	if err != nil {
		return err
	}
	logger := newLogger(stderr, *verbose)

	dev, err := device.Open(cfg.Device)
	if err != nil {
		return err
	}
	logger.Info("device", slog.Any("info", dev.Info()))

	ds, err := renderData(cfg)
	if err != nil {
		return err
	}
	trainSet, validSet, err := dataset.Split(ds, cfg.Data.ValidFraction, cfg.Seed)
	if err != nil {
		return err
	}
	var loaderOpts []dataset.LoaderOption
	if cfg.Data.Shuffle {
		loaderOpts = append(loaderOpts, dataset.WithShuffle(cfg.Seed))
	}
	trainLoader, err := dataset.NewLoader(trainSet, cfg.Data.BatchSize, loaderOpts...)
	if err != nil {
		return err
	}
	var validSrc train.BatchSource
	if validSet.Len() > 0 {
		if validSrc, err = dataset.NewLoader(validSet, cfg.Data.ValidBatchSize); err != nil {
			return err
		}
	}

	m, err := model.New(modelConfig(cfg), dev.Backend())
	if err != nil {
		return err
	}
	opt := newOptimizer(cfg, m, dev)
	sched, err := schedule.New(schedule.Config{
		Kind:           cfg.Schedule.Kind,
		MaxLR:          cfg.Schedule.MaxLR,
		TotalSteps:     cfg.Training.Epochs * trainLoader.NumBatches(),
		PctStart:       cfg.Schedule.PctStart,
		DivFactor:      cfg.Schedule.DivFactor,
		FinalDivFactor: cfg.Schedule.FinalDivFactor,
		StepSize:       cfg.Schedule.StepSize,
		Gamma:          cfg.Schedule.Gamma,
	}, opt)
	if err != nil {
		return err
	}
	trainer, err := newTrainer(cfg, m, dev, logger)
	if err != nil {
		return err
	}
	trainer.Optimizer = opt
	trainer.Scheduler = sched

	store, err := monitor.OpenStore(cfg.Output.Store)
	if err != nil {
		return err
	}
	defer store.Close()

	rendered, err := cfg.Marshal()
	if err != nil {
		return err
	}
	runHandle, err := store.NewRun(ctx, cfg.Name, rendered)
	if err != nil {
		return err
	}
	logger.Info("run started",
		slog.String("run", runHandle.ID()),
		slog.String("name", cfg.Name),
		slog.Int("train_samples", trainSet.Len()),
		slog.Int("valid_samples", validSet.Len()),
		slog.Int("params", m.NumParams()),
	)

	var onImprove func(int, float64) error
	if cfg.Output.Checkpoint != "" {
		onImprove = func(epoch int, validLoss float64) error {
			err := m.Save(cfg.Output.Checkpoint, map[string]string{
				"run":        runHandle.ID(),
				"epoch":      fmt.Sprint(epoch),
				"valid_loss": fmt.Sprint(validLoss),
			})
			if err == nil {
				logger.Info("checkpoint saved", slog.String("path", cfg.Output.Checkpoint), slog.Int("epoch", epoch))
			}
			return err
		}
	}

	report, err := trainer.Fit(ctx, trainLoader, validSrc, train.FitOptions{
		Epochs:    cfg.Training.Epochs,
		TrainSink: monitor.Tee{monitor.NewConsole(logger, monitor.SplitTrain), runHandle.Writer(monitor.SplitTrain)},
		ValidSink: monitor.Tee{monitor.NewConsole(logger, monitor.SplitValid), runHandle.Writer(monitor.SplitValid)},
		OnImprove: onImprove,
	})
	if err != nil {
		return fmt.Errorf("run %s: %w", runHandle.ID(), err)
	}

	fmt.Fprintf(stdout, "run %s: %d epochs, %d batches", runHandle.ID(), len(report.Epochs), report.Counters.Total)
	if report.BestEpoch > 0 {
		fmt.Fprintf(stdout, ", best valid loss %.6g at epoch %d", report.BestValidLoss, report.BestEpoch)
	}
	fmt.Fprintln(stdout)
	return nil
}

// loadConfig reads path (or the defaults) and applies the CLI overrides.
func loadConfig(path string, o config.Overrides) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	cfg.ApplyOverrides(o)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func renderData(cfg *config.Config) (*dataset.InMemory, error) {
	par := parallel.DefaultConfig()
	if cfg.Data.Workers > 0 {
		par.NumWorkers = cfg.Data.Workers
		par.Enabled = cfg.Data.Workers > 1
	}
	return dataset.NewSynthetic(dataset.SyntheticConfig{
		Samples:  cfg.Data.Samples,
		Height:   cfg.Data.Height,
		Width:    cfg.Data.Width,
		Seed:     cfg.Seed,
		Parallel: par,
	})
}

func modelConfig(cfg *config.Config) model.Config {
	return model.Config{
		Channels: dataset.PlumeChannels,
		Height:   cfg.Data.Height,
		Width:    cfg.Data.Width,
		Hidden:   cfg.Model.Hidden,
		Latent:   cfg.Model.Latent,
	}
}

// optimizer is what both the epoch loop and the schedule need.
type optimizer interface {
	train.Optimizer
	schedule.Optimizer
}

func newOptimizer(cfg *config.Config, m *model.Autoencoder[*device.Backend], dev *device.Device) optimizer {
	lr := float32(cfg.Optimizer.LR)
	if cfg.Optimizer.Kind == "sgd" {
		return optim.NewSGD(m.Parameters(), optim.SGDConfig{
			LR:       lr,
			Momentum: float32(cfg.Optimizer.Momentum),
		}, dev.Backend())
	}
	return optim.NewAdam(m.Parameters(), optim.AdamConfig{
		LR:    lr,
		Betas: [2]float32{float32(cfg.Optimizer.Betas[0]), float32(cfg.Optimizer.Betas[1])},
	}, dev.Backend())
}

func newTrainer(cfg *config.Config, m train.Model, dev *device.Device, logger *slog.Logger) (*train.Trainer, error) {
	metric, err := loss.MetricByName(cfg.Loss.Metric)
	if err != nil {
		return nil, err
	}
	recon := loss.NewReconstruction(float32(cfg.Loss.GradWeight))
	return &train.Trainer{
		Model:    m,
		PLoss:    loss.LatentParams,
		Loss:     recon.Loss,
		Metric:   metric,
		Device:   dev,
		LogEvery: cfg.Training.LogEvery,
		Logger:   logger,
	}, nil
}
