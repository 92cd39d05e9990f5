package file

import (
	"fmt"
	"path/filepath"

	"github.com/corymhall/proofsync/lsp"
)

// Kind describes the kind of the file in question.
type Kind int

const (
	// UnknownKind is a file type we don't know about.
	UnknownKind = Kind(iota)

	// Lean is a Lean 4 source file.
	Lean
)

func (k Kind) String() string {
	switch k {
	case Lean:
		return "lean4"
	default:
		return fmt.Sprintf("internal error: unknown file kind %d", k)
	}
}

// LanguageID is the protocol language identifier of k.
func (k Kind) LanguageID() lsp.LanguageKind {
	if k == Lean {
		return lsp.LanguageLean4
	}
	return ""
}

// KindForPath guesses the kind from the file extension.
func KindForPath(path string) Kind {
	if filepath.Ext(path) == ".lean" {
		return Lean
	}
	return UnknownKind
}
