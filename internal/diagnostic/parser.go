// Package diagnostic turns raw pdflatex output into classified diagnostics.
package diagnostic

import (
	"path"
	"strconv"
	"strings"

	"github.com/vitae-app/vitae/internal/domain"
)

// matchResult is the outcome of one matcher applied to one line.
type matchResult int

const (
	noMatch matchResult = iota // try the next matcher
	matched                    // diag is set
	skipped                    // the line is recognised but is not a diagnostic
)

// matcher inspects a single output line.
type matcher func(line string) (domain.Diagnostic, matchResult)

// matchers are applied in priority order; the first non-noMatch result wins.
var matchers = []matcher{
	matchLocated,
	matchErrorMarker,
	matchLaTeXWarning,
}

// Parse extracts diagnostics from compiler output in the order they appear.
// Duplicates are kept. Parse has no side effects.
func Parse(output string) []domain.Diagnostic {
	var diags []domain.Diagnostic
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		if d, ok := parseLine(line); ok {
			diags = append(diags, d)
		}
	}
	return diags
}

func parseLine(line string) (domain.Diagnostic, bool) {
	for _, m := range matchers {
		d, res := m(line)
		switch res {
		case matched:
			return d, true
		case skipped:
			return domain.Diagnostic{}, false
		}
	}
	return domain.Diagnostic{}, false
}

// isDecimal reports whether tok is a non-empty run of ASCII digits.
func isDecimal(tok string) bool {
	if tok == "" {
		return false
	}
	for i := 0; i < len(tok); i++ {
		if tok[i] < '0' || tok[i] > '9' {
			return false
		}
	}
	return true
}

// matchLocated handles "file:line: message" lines as printed with -file-line-error.
func matchLocated(line string) (domain.Diagnostic, matchResult) {
	parts := strings.SplitN(line, ":", 3)
	if len(parts) != 3 {
		return domain.Diagnostic{}, noMatch
	}
	if !isDecimal(parts[1]) {
		return domain.Diagnostic{}, noMatch
	}
	n, err := strconv.Atoi(parts[1])
	if err != nil || n <= 0 {
		return domain.Diagnostic{}, noMatch
	}

	msg := strings.TrimSpace(parts[2])
	lower := strings.ToLower(msg)

	var sev domain.Severity
	switch {
	case strings.Contains(lower, "error") || strings.Contains(line, "!"):
		sev = domain.SeverityError
	case strings.Contains(lower, "warning"):
		sev = domain.SeverityWarning
	case isSourceFile(parts[0]):
		// pdflatex only prints file:line: prefixes for errors.
		sev = domain.SeverityError
	default:
		return domain.Diagnostic{}, skipped
	}
	return domain.Diagnostic{Line: n, Message: msg, Severity: sev}, matched
}

func matchErrorMarker(line string) (domain.Diagnostic, matchResult) {
	rest, ok := strings.CutPrefix(line, "! ")
	if !ok {
		return domain.Diagnostic{}, noMatch
	}
	return domain.Diagnostic{Message: strings.TrimSpace(rest), Severity: domain.SeverityError}, matched
}

func matchLaTeXWarning(line string) (domain.Diagnostic, matchResult) {
	if !strings.Contains(strings.ToLower(line), "latex warning") {
		return domain.Diagnostic{}, noMatch
	}
	return domain.Diagnostic{Message: strings.TrimSpace(line), Severity: domain.SeverityWarning}, matched
}

// isSourceFile reports whether tok looks like a path to an input file.
func isSourceFile(tok string) bool {
	tok = strings.TrimSpace(tok)
	if tok == "" || strings.ContainsAny(tok, " \t") {
		return false
	}
	ext := path.Ext(strings.ReplaceAll(tok, "\\", "/"))
	return len(ext) > 1
}

// HasErrors reports whether any diagnostic is an error.
func HasErrors(diags []domain.Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == domain.SeverityError {
			return true
		}
	}
	return false
}
