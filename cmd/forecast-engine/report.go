package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/miradorstack/mirador-forecast/internal/models"
)

// writeReport stores the full report as indented JSON.
func writeReport(path string, report models.Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// writeSummary prints one line per entity: succeeded entities first with their
// row counts, then failures with stage and cause.
func writeSummary(w io.Writer, report models.Report) error {
	fmt.Fprintf(w, "run %s  seed=%d  horizon=%d  succeeded=%d  failed=%d\n\n",
		report.RunID, report.Seed, report.Horizon, len(report.Succeeded), len(report.Failures))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ENTITY\tSTATUS\tHISTORY\tFORECAST\tSTAGE\tCAUSE")
	for _, id := range report.Succeeded {
		var hist, fc int
		for _, row := range report.ForEntity(id) {
			if row.Provenance == models.ProvenanceForecast {
				fc++
			} else {
				hist++
			}
		}
		fmt.Fprintf(tw, "%s\tok\t%d\t%d\t-\t-\n", id, hist, fc)
	}
	for _, f := range report.Failures {
		fmt.Fprintf(tw, "%s\tfailed\t-\t-\t%s\t%s\n", f.EntityID, f.Stage, f.Cause)
	}
	return tw.Flush()
}
