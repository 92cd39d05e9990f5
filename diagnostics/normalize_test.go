package diagnostics

import (
	"testing"

	"github.com/hexops/autogold/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corymhall/proofsync/lsp"
)

func TestFromText(t *testing.T) {
	markers := FromText("Foo.lean:12:5: warning: unused variable")
	require.Len(t, markers, 1)
	assert.Equal(t, Marker{
		Severity:    SeverityWarning,
		Message:     "unused variable",
		StartLine:   12,
		StartColumn: 5,
		EndLine:     12,
		EndColumn:   6,
	}, markers[0])
}

func TestFromTextBuildOutput(t *testing.T) {
	output := "" +
		"Building Block_003\r\n" +
		"/tmp/proj/Block_003.lean:3:0: ERROR: unknown identifier 'foo'\n" +
		"/tmp/proj/Block_003.lean:7:14: Info: Try this: simp\n" +
		"something that is not a diagnostic\n" +
		"Block_003.lean:1:2: note: ignored severity\n"
	autogold.Expect([]Marker{
		{
			Severity:    SeverityError,
			Message:     "unknown identifier 'foo'",
			StartLine:   3,
			StartColumn: 1,
			EndLine:     3,
			EndColumn:   2,
		},
		{
			Severity:    SeverityInfo,
			Message:     "Try this: simp",
			StartLine:   7,
			StartColumn: 14,
			EndLine:     7,
			EndColumn:   15,
		},
	}).Equal(t, FromText(output))
}

func TestFromTextNoMatches(t *testing.T) {
	assert.Empty(t, FromText(""))
	assert.Empty(t, FromText("error: build failed\nuncaught exception"))
}

func TestFromProtocol(t *testing.T) {
	diags := []lsp.Diagnostic{
		{
			Severity: lsp.SeverityWarning,
			Message:  "unused variable `h`",
			Range: lsp.Range{
				Start: lsp.Position{Line: 11, Character: 4},
				End:   lsp.Position{Line: 11, Character: 5},
			},
		},
		{
			Severity: 9,
			Message:  "unsolved goals",
			Range: lsp.Range{
				Start: lsp.Position{Line: 0, Character: 0},
				End:   lsp.Position{Line: 2, Character: 10},
			},
		},
		{
			Severity: lsp.SeverityHint,
			Message:  "hint",
		},
	}
	autogold.Expect([]Marker{
		{
			Severity:    SeverityWarning,
			Message:     "unused variable `h`",
			StartLine:   12,
			StartColumn: 5,
			EndLine:     12,
			EndColumn:   6,
		},
		{
			Severity:    SeverityError,
			Message:     "unsolved goals",
			StartLine:   1,
			StartColumn: 1,
			EndLine:     3,
			EndColumn:   11,
		},
		{
			Severity:    SeverityHint,
			Message:     "hint",
			StartLine:   1,
			StartColumn: 1,
			EndLine:     1,
			EndColumn:   1,
		},
	}).Equal(t, FromProtocol(diags))
}

func TestSeverityString(t *testing.T) {
	assert.Equal(t, "error", SeverityError.String())
	assert.Equal(t, "warning", SeverityWarning.String())
	assert.Equal(t, "info", SeverityInfo.String())
	assert.Equal(t, "hint", SeverityHint.String())
}
