package session

import (
	"github.com/google/uuid"

	"github.com/corymhall/proofsync/lsp"
)

// Document identifies one activation of a record. Navigating to a record
// always creates a new Document, even for the same index, and responses are
// only applied while the Document they were issued for is still active.
// Documents are replaced, never mutated.
type Document struct {
	ID    uuid.UUID
	Index int
	// URI is empty until the analysis service has acknowledged the document.
	URI lsp.DocumentURI
	// LastSent is the content the analysis service last received.
	LastSent string
}

func newDocument(index int) *Document {
	return &Document{ID: uuid.New(), Index: index}
}

func (d *Document) synced(uri lsp.DocumentURI, content string) *Document {
	next := *d
	next.URI = uri
	next.LastSent = content
	return &next
}
