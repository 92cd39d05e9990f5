package lsp

type InitializeRequestParams struct {
	ProcessID    *int               `json:"processId"`
	ClientInfo   *ClientInfo        `json:"clientInfo"`
	RootURI      DocumentURI        `json:"rootUri"`
	Capabilities ClientCapabilities `json:"capabilities"`
	Trace        string             `json:"trace,omitempty"`
}

type ClientCapabilities struct {
	TextDocument TextDocumentClientCapabilities `json:"textDocument"`
	Window       ClientWindowCapabilities       `json:"window"`
}

type TextDocumentClientCapabilities struct {
	Synchronization SynchronizationCapabilities `json:"synchronization"`
	Hover           HoverCapabilities           `json:"hover"`
	Definition      struct{}                    `json:"definition"`
}

type SynchronizationCapabilities struct {
	DidSave  bool `json:"didSave"`
	WillSave bool `json:"willSave"`
}

type HoverCapabilities struct {
	ContentFormat []MarkupKind `json:"contentFormat"`
}

type ClientWindowCapabilities struct {
	WorkDoneProgress bool `json:"workDoneProgress"`
}

type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type InitializedParams struct{}
