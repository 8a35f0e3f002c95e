package monitor

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// Series is one named curve of a plot.
type Series struct {
	Name   string
	Points []Point
}

// PlotOptions controls PlotCurves.
type PlotOptions struct {
	Title  string
	XLabel string
	YLabel string
	LogY   bool // log-scale the y axis; non-positive values are dropped
}

// PlotCurves draws the series as lines and saves the image to path.
// The format follows the file extension (png, svg, pdf, ...).
func PlotCurves(path string, opts PlotOptions, series ...Series) error {
	p := plot.New()
	p.Title.Text = opts.Title
	p.X.Label.Text = opts.XLabel
	p.Y.Label.Text = opts.YLabel
	if opts.LogY {
		p.Y.Scale = plot.LogScale{}
		p.Y.Tick.Marker = plot.LogTicks{Prec: -1}
	}
	p.Add(plotter.NewGrid())

	drawn := 0
	for i, s := range series {
		xys := make(plotter.XYs, 0, len(s.Points))
		for _, pt := range s.Points {
			if math.IsNaN(pt.Value) || math.IsInf(pt.Value, 0) || (opts.LogY && pt.Value <= 0) {
				continue
			}
			xys = append(xys, plotter.XY{X: float64(pt.Step), Y: pt.Value})
		}
		if len(xys) == 0 {
			continue
		}

		line, err := plotter.NewLine(xys)
		if err != nil {
			return fmt.Errorf("plot %s: %w", s.Name, err)
		}
		line.Color = plotutil.Color(i)
		line.Width = vg.Points(1.2)
		p.Add(line)
		p.Legend.Add(s.Name, line)
		drawn++
	}
	if drawn == 0 {
		return errors.New("plot: no finite points to draw")
	}
	p.Legend.Top = true

	if err := p.Save(8*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("plot: save %s: %w", path, err)
	}
	return nil
}
