package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/vitae-app/vitae/internal/domain"
)

func printDocuments(w io.Writer, docs []domain.Document) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tUPDATED")
	for _, d := range docs {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", d.ID, d.Title, d.UpdatedAt)
	}
	return tw.Flush()
}

// formatDiagnostic renders a diagnostic like "line 12: error: Undefined control sequence."
func formatDiagnostic(d domain.Diagnostic) string {
	if d.Located() {
		return fmt.Sprintf("line %d: %s: %s", d.Line, d.Severity, d.Message)
	}
	return fmt.Sprintf("%s: %s", d.Severity, d.Message)
}

func printResult(w io.Writer, res *domain.CompilationResult) {
	for _, d := range res.Diagnostics {
		fmt.Fprintln(w, formatDiagnostic(d))
	}
	errs, warns := res.Counts()
	status := "ok"
	if !res.Success {
		status = "failed"
	}
	fmt.Fprintf(w, "%s: %d error(s), %d warning(s)\n", status, errs, warns)
	if res.HasArtifact() {
		fmt.Fprintf(w, "artifact: %s\n", res.ArtifactPath)
	}
}

func printHistory(w io.Writer, recs []domain.CompilationRecord) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tWHEN\tRESULT\tERRORS\tWARNINGS\tDURATION")
	for _, r := range recs {
		result := "ok"
		if !r.Success {
			result = "failed"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%dms\n", r.ID, r.CreatedAt, result, r.ErrorCount, r.WarningCount, r.DurationMS)
	}
	return tw.Flush()
}
