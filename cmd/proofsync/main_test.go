package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/hexops/autogold/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corymhall/proofsync/diagnostics"
	"github.com/corymhall/proofsync/lsp"
	"github.com/corymhall/proofsync/store"
)

func TestFormatMarkers(t *testing.T) {
	uri := lsp.URIFromPath("/proj/blocks/Block_001.lean")
	got := formatMarkers(uri, []diagnostics.Marker{
		{Severity: diagnostics.SeverityError, Message: "unknown identifier 'foo'", StartLine: 2, StartColumn: 5, EndLine: 2, EndColumn: 8},
		{Severity: diagnostics.SeverityWarning, Message: "unused variable", StartLine: 4, StartColumn: 1, EndLine: 4, EndColumn: 2},
	})
	autogold.Expect(`/proj/blocks/Block_001.lean:2:5: error: unknown identifier 'foo'
/proj/blocks/Block_001.lean:4:1: warning: unused variable
`).Equal(t, got)

	assert.Equal(t, "/proj/blocks/Block_001.lean: no problems\n", formatMarkers(uri, nil))
}

func TestConsoleSetMarkers(t *testing.T) {
	var out bytes.Buffer
	c := newConsole(context.Background())
	c.out = &out
	c.SetMarkers("untitled", nil)
	assert.Equal(t, "untitled: no problems\n", out.String())
}

func TestStatement(t *testing.T) {
	records := []json.RawMessage{
		json.RawMessage(`{"main theorem statement":"theorem a : True := trivial"}`),
		json.RawMessage(`{"main theorem statement":"theorem b : True := trivial"}`),
	}
	got, err := statement(records, 2)
	require.NoError(t, err)
	assert.Equal(t, "theorem b : True := trivial", got)

	_, err = statement(records, 3)
	assert.ErrorIs(t, err, store.ErrIndexOutOfRange)
	_, err = statement(records, 0)
	assert.ErrorIs(t, err, store.ErrIndexOutOfRange)
}
