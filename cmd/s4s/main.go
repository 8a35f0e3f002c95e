// Package main provides the s4s CLI for training surrogate autoencoders.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

const version = "v0.1.0-dev"

var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "s4s: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		usage(stderr)
		return errUsage
	}

	switch args[0] {
	case "version":
		fmt.Fprintf(stdout, "s4s %s\n", version)
		return nil
	case "train":
		return runTrain(ctx, args[1:], stdout, stderr)
	case "eval":
		return runEval(ctx, args[1:], stdout, stderr)
	case "runs":
		return runRuns(ctx, args[1:], stdout, stderr)
	case "plot":
		return runPlot(ctx, args[1:], stdout, stderr)
	case "help", "-h", "--help":
		usage(stdout)
		return nil
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n", args[0])
		usage(stderr)
		return errUsage
	}
}

func usage(w io.Writer) {
	fmt.Fprintf(w, "s4s %s - surrogate autoencoders for simulations\n\n", version)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  train    Train an autoencoder on synthetic plume fields")
	fmt.Fprintln(w, "  eval     Evaluate a checkpoint on freshly rendered fields")
	fmt.Fprintln(w, "  runs     List stored runs")
	fmt.Fprintln(w, "  plot     Plot the loss curves of a run")
	fmt.Fprintln(w, "  version  Show version")
}

// newLogger returns a text logger on w, at debug level when verbose.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
