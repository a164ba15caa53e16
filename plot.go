package main

import (
	"fmt"
	"os"
	"sort"

	chart "github.com/wcharczuk/go-chart"
)

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// PNG rendering of sweep results: the F1-vs-layer curve, the one picture an
// edge-probing run exists to produce. Each results table becomes one line,
// so overlaying runs (different tasks, different models) is passing more
// curves. The hidden-state scatter for the PCA projection lives here too,
// sharing the same chart library and the same render path.
//
// ===========================================================================

// ResultsCurve is one results table rendered as one line.
type ResultsCurve struct {
	Label string
	Table ResultsTable

	// Layers restricts the curve to a subset of depths; nil plots every
	// layer in the table. Depths missing from the table are skipped.
	Layers []int
}

// points returns the curve's (layer, F1) pairs in ascending layer order.
func (c ResultsCurve) points() (xs, ys []float64) {
	layers := c.Layers
	if layers == nil {
		layers = c.Table.Layers()
	} else {
		layers = append([]int(nil), layers...)
		sort.Ints(layers)
	}

	for _, layer := range layers {
		res, ok := c.Table[layer]
		if !ok {
			continue
		}
		xs = append(xs, float64(layer))
		ys = append(ys, res.F1)
	}
	return xs, ys
}

// PlotResults renders F1-vs-layer curves to a PNG file, one series per
// curve with a legend. Curves that contribute no points (empty table, or a
// layer filter matching nothing) are dropped; if nothing remains that is an
// error, not an empty image.
func PlotResults(out string, curves []ResultsCurve) error {
	var series []chart.Series
	for i, curve := range curves {
		xs, ys := curve.points()
		if len(xs) == 0 {
			continue
		}
		series = append(series, chart.ContinuousSeries{
			Name:    curve.Label,
			XValues: xs,
			YValues: ys,
			Style: chart.Style{
				Show:        true,
				StrokeColor: chart.GetAlternateColor(i),
			},
		})
	}
	if len(series) == 0 {
		return fmt.Errorf("plot: no layer results to plot")
	}

	graph := chart.Chart{
		Title:      "Edge probing F1 by layer",
		TitleStyle: chart.StyleShow(),
		XAxis: chart.XAxis{
			Name:      "Layer",
			NameStyle: chart.StyleShow(),
			Style:     chart.StyleShow(),
		},
		YAxis: chart.YAxis{
			Name:      "Macro F1",
			NameStyle: chart.StyleShow(),
			Style:     chart.StyleShow(),
		},
		Series: series,
	}

	graph.Elements = []chart.Renderable{
		chart.Legend(&graph),
	}

	return renderPNG(out, &graph)
}

// PlotScatter renders a (n, 2) point tensor as a dot-only scatter PNG.
// Used for the 2D projection of token hidden states.
func PlotScatter(out, title string, points *Tensor) error {
	if len(points.shape) != 2 || points.shape[1] != 2 {
		panic(fmt.Sprintf("plot: scatter wants (n, 2) points, got %v", points.shape))
	}
	if points.shape[0] == 0 {
		return fmt.Errorf("plot: no points to plot")
	}

	xs := make([]float64, points.shape[0])
	ys := make([]float64, points.shape[0])
	for i := 0; i < points.shape[0]; i++ {
		row := points.Row(i)
		xs[i], ys[i] = row[0], row[1]
	}

	graph := chart.Chart{
		Title:      title,
		TitleStyle: chart.StyleShow(),
		XAxis: chart.XAxis{
			Name:      "PC 1",
			NameStyle: chart.StyleShow(),
			Style:     chart.StyleShow(),
		},
		YAxis: chart.YAxis{
			Name:      "PC 2",
			NameStyle: chart.StyleShow(),
			Style:     chart.StyleShow(),
		},
		Series: []chart.Series{
			chart.ContinuousSeries{
				Name:    "tokens",
				XValues: xs,
				YValues: ys,
				Style: chart.Style{
					Show:        true,
					StrokeWidth: chart.Disabled,
					DotWidth:    4,
					DotColor:    chart.ColorBlue,
				},
			},
		},
	}

	return renderPNG(out, &graph)
}

func renderPNG(out string, graph *chart.Chart) error {
	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("plot: %w", err)
	}
	if err := graph.Render(chart.PNG, f); err != nil {
		f.Close()
		return fmt.Errorf("plot: render %s: %w", out, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("plot: %w", err)
	}
	return nil
}
