package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/nextlevelbuilder/termagent/internal/config"
	"github.com/nextlevelbuilder/termagent/internal/stats"
)

// printStatsReport aggregates the usage log and prints it, honoring
// --json for machine-readable output.
func printStatsReport(w io.Writer, cfg *config.UsageStats, topN int) error {
	report, err := stats.BuildReport(cfg, topN)
	if err != nil {
		return reportError(err)
	}

	if opts.JSON {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(w, string(data))
		return nil
	}

	if report.Entries == 0 {
		fmt.Fprintln(w, "no usage recorded")
		return nil
	}

	fmt.Fprintf(w, "entries: %d  requests: %d  total tokens: %d\n",
		report.Entries, report.Requests, report.TotalTokens)
	if report.OldestEntryTS != "" {
		fmt.Fprintf(w, "window:  %s .. %s\n", report.OldestEntryTS, report.NewestEntryTS)
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PROVIDER\tMODEL\tREQUESTS\tINPUT\tOUTPUT\tTOTAL")
	for _, row := range report.ByModel {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\n",
			row.Provider, row.Model, row.Requests, row.InputTokens, row.OutputTokens, row.TotalTokens)
	}
	return tw.Flush()
}
