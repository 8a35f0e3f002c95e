package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/AmarSaini/surrogates4sims/internal/monitor"
	"github.com/AmarSaini/surrogates4sims/internal/train"
)

func runRuns(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	fs.SetOutput(stderr)
	storePath := fs.String("store", "runs.db", "SQLite run store")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	store, err := monitor.OpenStore(*storePath)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.Runs(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCREATED\tVALID POINTS\tBEST VALID\tLAST VALID")
	for _, r := range runs {
		pts, err := store.Scalars(ctx, r.ID, monitor.SplitValid, train.TagLoss)
		if err != nil {
			return err
		}
		s := monitor.Summarize(pts)
		best, last := "-", "-"
		if s.Count > 0 {
			best = fmt.Sprintf("%.6g @%d", s.Min, s.MinStep)
			last = fmt.Sprintf("%.6g", s.Last)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			r.ID[:8], r.Name, r.CreatedAt.Local().Format(time.DateTime), s.Count, best, last)
	}
	return tw.Flush()
}

func runPlot(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("plot", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		storePath = fs.String("store", "runs.db", "SQLite run store")
		out       = fs.String("o", "loss.png", "output image (png, svg or pdf)")
		tag       = fs.String("tag", train.TagLoss, "scalar tag to plot")
		logY      = fs.Bool("log", true, "log-scale the y axis")
	)
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "usage: s4s plot [flags] RUN_ID_PREFIX")
		return errUsage
	}

	store, err := monitor.OpenStore(*storePath)
	if err != nil {
		return err
	}
	defer store.Close()

	info, err := store.FindRun(ctx, fs.Arg(0))
	if err != nil {
		return err
	}

	var series []monitor.Series
	for _, split := range []string{monitor.SplitTrain, monitor.SplitValid} {
		pts, err := store.Scalars(ctx, info.ID, split, *tag)
		if err != nil {
			return err
		}
		if len(pts) > 0 {
			series = append(series, monitor.Series{Name: split, Points: pts})
		}
	}
	if len(series) == 0 {
		return fmt.Errorf("run %s has no %q scalars", info.ID, *tag)
	}

	xLabel := "logging step"
	if *tag == train.TagLR {
		xLabel = "batch"
	}
	err = monitor.PlotCurves(*out, monitor.PlotOptions{
		Title:  fmt.Sprintf("%s (%s)", info.Name, info.ID[:8]),
		XLabel: xLabel,
		YLabel: *tag,
		LogY:   *logY,
	}, series...)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "wrote %s\n", *out)
	return nil
}
