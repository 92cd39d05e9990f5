package lsp

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"

	"github.com/pulumi/pulumi/sdk/v3/go/common/util/contract"
)

// Methods the sync core sends to, or receives from, the analysis service.
const (
	MethodInitialize         = "initialize"
	MethodInitialized        = "initialized"
	MethodDidOpen            = "textDocument/didOpen"
	MethodDidChange          = "textDocument/didChange"
	MethodHover              = "textDocument/hover"
	MethodDefinition         = "textDocument/definition"
	MethodPublishDiagnostics = "textDocument/publishDiagnostics"
	MethodPlainGoal          = "$/lean/plainGoal"
	MethodPlainTermGoal      = "$/lean/plainTermGoal"
	MethodFileProgress       = "$/lean/fileProgress"
	MethodLogMessage         = "window/logMessage"
	MethodShowMessage        = "window/showMessage"
	MethodCancelRequest      = "$/cancelRequest"
)

// LanguageLean4 is the language id registered for proof documents.
const LanguageLean4 LanguageKind = "lean4"

type DocumentURI string

type LanguageKind string

func (uri DocumentURI) Path() string {
	contract.Assertf(strings.HasPrefix(string(uri), "file://"), "URI must start with file://")
	return filepath.FromSlash(string(uri)[7:])
}

func URIFromPath(path string) DocumentURI {
	if path == "" {
		return ""
	}
	return DocumentURI("file://" + filepath.ToSlash(path))
}

// UnmarshalJSON unmarshals msg into the variable pointed to by
// params. In JSONRPC, optional messages may be
// "null", in which case it is a no-op.
func UnmarshalJSON(msg json.RawMessage, v any) error {
	if IsNull(msg) {
		return nil
	}
	return json.Unmarshal(msg, v)
}

// IsNull reports whether msg is absent or the JSON literal null.
func IsNull(msg json.RawMessage) bool {
	return len(bytes.TrimSpace(msg)) == 0 || bytes.Equal(bytes.TrimSpace(msg), []byte("null"))
}

// See https://microsoft.github.io/language-server-protocol/specifications/lsp/3.17/specification#cancelParams
type CancelParams struct {
	// The request id to cancel.
	ID any `json:"id"`
}
