package lsp

// PlainGoal is the result of $/lean/plainGoal.
type PlainGoal struct {
	Rendered string   `json:"rendered"`
	Goals    []string `json:"goals"`
}

// PlainTermGoal is the result of $/lean/plainTermGoal.
type PlainTermGoal struct {
	Goal  string `json:"goal"`
	Range Range  `json:"range"`
}

type LeanFileProgressProcessingInfo struct {
	Range Range `json:"range"`
	Kind  int   `json:"kind,omitempty"`
}

// LeanFileProgressParams is pushed while the analysis service elaborates a
// document; an empty Processing list means it is done.
type LeanFileProgressParams struct {
	TextDocument VersionedTextDocumentIdentifier  `json:"textDocument"`
	Processing   []LeanFileProgressProcessingInfo `json:"processing"`
}
