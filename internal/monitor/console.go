package monitor

import (
	"context"
	"log/slog"
)

// Console writes scalars as structured log records. The per-batch "LR"
// stream is logged at debug level, everything else at info.
type Console struct {
	logger *slog.Logger
	split  string
}

// NewConsole returns a console sink for one split. A nil logger means slog.Default().
func NewConsole(logger *slog.Logger, split string) *Console {
	if logger == nil {
		logger = slog.Default()
	}
	return &Console{logger: logger, split: split}
}

// AddScalar logs one scalar.
func (c *Console) AddScalar(tag string, value float64, step int) error {
	level := slog.LevelInfo
	if tag == "LR" {
		level = slog.LevelDebug
	}
	c.logger.LogAttrs(context.Background(), level, "scalar",
		slog.String("split", c.split),
		slog.String("tag", tag),
		slog.Int("step", step),
		slog.Float64("value", value),
	)
	return nil
}
