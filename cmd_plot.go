package main

import (
	"flag"
	"fmt"
	"path/filepath"
	"strings"
)

// RunPlotCommand renders one PNG from any number of results files. The
// -results flag repeats, so overlaying runs is:
//
//	edge-probe plot -results=ner=ner/results.json -results=coref=coref/results.json
//
// Each value is label=path, or a bare path whose label is derived from it.
func RunPlotCommand(args []string) error {
	fs := flag.NewFlagSet("plot", flag.ExitOnError)

	var results repeatedFlag
	fs.Var(&results, "results", "results.json to plot, optionally label=path (repeatable)")
	out := fs.String("out", "probe_f1.png", "Output PNG path")
	layerList := fs.String("layers", "", "Comma-separated layer filter (default: all layers present)")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if len(results) == 0 {
		return fmt.Errorf("missing required flag -results")
	}

	var filter []int
	if *layerList != "" {
		var err error
		// The filter applies to every curve; depth 0 is never valid so the
		// second argument is unused here.
		filter, err = parseLayers(*layerList, 0)
		if err != nil {
			return err
		}
	}

	fmt.Println("Step 1: Loading results tables")
	curves := make([]ResultsCurve, 0, len(results))
	for _, entry := range results {
		label, path, ok := strings.Cut(entry, "=")
		if !ok {
			path = entry
			label = curveLabel(entry)
		}

		table, err := LoadResults(path)
		if err != nil {
			return err
		}
		fmt.Printf("  %s: %d layers from %s\n", label, len(table), path)
		curves = append(curves, ResultsCurve{Label: label, Table: table, Layers: filter})
	}
	fmt.Println()

	fmt.Printf("Step 2: Rendering %s\n", *out)
	if err := PlotResults(*out, curves); err != nil {
		return err
	}
	fmt.Printf("Saved %s\n", *out)
	return nil
}

// repeatedFlag collects every occurrence of a string flag.
type repeatedFlag []string

func (f *repeatedFlag) String() string {
	return strings.Join(*f, ", ")
}

func (f *repeatedFlag) Set(value string) error {
	*f = append(*f, value)
	return nil
}

// curveLabel derives a legend label from a results path: the containing
// directory when there is one (every sweep writes "results.json", so the
// directory is the distinguishing part), the trimmed filename otherwise.
func curveLabel(path string) string {
	if dir := filepath.Dir(path); dir != "." && dir != string(filepath.Separator) {
		return filepath.Base(dir)
	}
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}
