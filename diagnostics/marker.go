// Package diagnostics turns analysis and build output into editor markers.
package diagnostics

import "github.com/corymhall/proofsync/lsp"

type Severity int

const (
	SeverityError Severity = iota + 1
	SeverityWarning
	SeverityInfo
	SeverityHint
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityInfo:
		return "info"
	case SeverityHint:
		return "hint"
	default:
		return "error"
	}
}

// Marker is a diagnostic in editor coordinates. All positions are 1-based
// and the end column is inclusive.
type Marker struct {
	Severity    Severity `json:"severity"`
	Message     string   `json:"message"`
	StartLine   int      `json:"startLine"`
	StartColumn int      `json:"startColumn"`
	EndLine     int      `json:"endLine"`
	EndColumn   int      `json:"endColumn"`
}

// Contains reports whether p falls on the marker's first line within its
// column span.
func (m Marker) Contains(p lsp.UIPosition) bool {
	return p.Line == m.StartLine && m.StartColumn <= p.Column && p.Column <= m.EndColumn
}
