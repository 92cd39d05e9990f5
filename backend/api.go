package backend

import "github.com/corymhall/proofsync/lsp"

// Bridge endpoints.
const (
	PathLeanEvents  = "/lean_events"
	PathLeanRPC     = "/lean_rpc"
	PathSync        = "/sync_lean"
	PathUpdate      = "/update"
	PathCompile     = "/compile"
	PathPrepareTemp = "/prepare_temp"
	PathTempEvents  = "/temp_events"
	PathTempRead    = "/temp_read"
	PathReadFile    = "/read_file"
	PathData        = "/data"
)

// CodeRequest is the body of every endpoint that takes a record's code.
// Index is 1-based.
type CodeRequest struct {
	Index int    `json:"index"`
	Code  string `json:"code"`
	// OpenEditor asks /prepare_temp to open the temp file in an external
	// editor.
	OpenEditor bool `json:"open_vscode,omitempty"`
}

type Ack struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type SyncResponse struct {
	OK      bool            `json:"ok"`
	Path    string          `json:"path,omitempty"`
	URI     lsp.DocumentURI `json:"uri,omitempty"`
	Version int32           `json:"version,omitempty"`
	Error   string          `json:"error,omitempty"`
}

type CompileResult struct {
	OK         bool   `json:"ok"`
	Success    bool   `json:"success"`
	ReturnCode int    `json:"returncode"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	Command    string `json:"command,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Output is the combined build output, stdout first.
func (r *CompileResult) Output() string {
	switch {
	case r.Stdout == "":
		return r.Stderr
	case r.Stderr == "":
		return r.Stdout
	default:
		return r.Stdout + "\n" + r.Stderr
	}
}

type PrepareResponse struct {
	OK    bool   `json:"ok"`
	Index int    `json:"index,omitempty"`
	Path  string `json:"path,omitempty"`
	Error string `json:"error,omitempty"`
}

// TempSnapshot is the state of the temp file shared with external editors.
type TempSnapshot struct {
	Exists bool    `json:"exists"`
	Index  *int    `json:"index"`
	Mtime  float64 `json:"mtime,omitempty"`
	Path   string  `json:"path,omitempty"`
	Code   string  `json:"code,omitempty"`
}

type ReadFileRequest struct {
	URI  lsp.DocumentURI `json:"uri,omitempty"`
	Path string          `json:"path,omitempty"`
}

type ReadFileResponse struct {
	OK    bool            `json:"ok"`
	URI   lsp.DocumentURI `json:"uri,omitempty"`
	Path  string          `json:"path,omitempty"`
	Code  string          `json:"code,omitempty"`
	Error string          `json:"error,omitempty"`
}
