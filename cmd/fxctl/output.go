package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math"

	"github.com/nextconvert/fxengine/internal/modules/media"
	"github.com/spf13/cobra"
)

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// progressPrinter redraws one status line on w per whole-percent change
func progressPrinter(w io.Writer) media.ProgressFunc {
	lastStage, lastPercent := "", -1
	return func(stage string, fraction float64) {
		percent := int(math.Round(math.Min(math.Max(fraction, 0), 1) * 100))
		if stage == lastStage && percent == lastPercent {
			return
		}
		if stage != lastStage && lastStage != "" {
			fmt.Fprintln(w)
		}
		lastStage, lastPercent = stage, percent
		fmt.Fprintf(w, "\r%-10s %3d%%", stage, percent)
		if stage == "done" {
			fmt.Fprintln(w)
		}
	}
}
