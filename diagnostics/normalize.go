package diagnostics

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/corymhall/proofsync/lsp"
)

// FromProtocol converts published diagnostics to markers. Unknown
// severities are treated as errors.
func FromProtocol(diags []lsp.Diagnostic) []Marker {
	markers := make([]Marker, 0, len(diags))
	for _, d := range diags {
		r := lsp.RangeToUI(d.Range)
		markers = append(markers, Marker{
			Severity:    severityFromProtocol(d.Severity),
			Message:     d.Message,
			StartLine:   r.StartLine,
			StartColumn: r.StartColumn,
			EndLine:     r.EndLine,
			EndColumn:   r.EndColumn,
		})
	}
	return markers
}

func severityFromProtocol(s lsp.DiagnosticSeverity) Severity {
	switch s {
	case lsp.SeverityWarning:
		return SeverityWarning
	case lsp.SeverityInformation:
		return SeverityInfo
	case lsp.SeverityHint:
		return SeverityHint
	default:
		return SeverityError
	}
}

// <file>:<line>:<col>: <severity>: <message>
var textDiagnostic = regexp.MustCompile(`(?i)^.*?:(\d+):(\d+):\s*(error|warning|info):\s*(.*)$`)

// FromText extracts markers from build output, one diagnostic per line.
// Lines that don't look like a diagnostic are skipped.
func FromText(output string) []Marker {
	var markers []Marker
	for _, line := range strings.Split(output, "\n") {
		m := textDiagnostic.FindStringSubmatch(strings.TrimRight(line, "\r"))
		if m == nil {
			continue
		}
		lineNo := clamp(m[1])
		col := clamp(m[2])
		markers = append(markers, Marker{
			Severity:    severityFromWord(m[3]),
			Message:     strings.TrimSpace(m[4]),
			StartLine:   lineNo,
			StartColumn: col,
			EndLine:     lineNo,
			EndColumn:   col + 1,
		})
	}
	return markers
}

func severityFromWord(word string) Severity {
	switch strings.ToLower(word) {
	case "warning":
		return SeverityWarning
	case "info":
		return SeverityInfo
	default:
		return SeverityError
	}
}

func clamp(digits string) int {
	n, err := strconv.Atoi(digits)
	if err != nil || n < 1 {
		return 1
	}
	return n
}
