package file

import (
	"crypto/sha256"
	"sync"

	"github.com/corymhall/proofsync/lsp"
)

type Handle interface {
	URI() lsp.DocumentURI
	Version() int32
	Content() ([]byte, error)
}

type Hash [sha256.Size]byte

func HashOf(data []byte) Hash {
	return Hash(sha256.Sum256(data))
}

// Modification represents a modification to a document the analysis
// process has been told about.
type Modification struct {
	URI     lsp.DocumentURI
	Action  Action
	Version int32
	Text    []byte

	// LanguageID is only set on Open.
	LanguageID lsp.LanguageKind
}

// An Action is a type of file state change.
type Action int

const (
	UnknownAction = Action(iota)
	Open
	Change
)

func (a Action) String() string {
	switch a {
	case Open:
		return "Open"
	case Change:
		return "Change"
	default:
		return "Unknown"
	}
}

// Overlay tracks the documents open in the analysis process and their
// versions. It implements Handle lookups for them.
type Overlay struct {
	mu    sync.Mutex
	files map[lsp.DocumentURI]*overlayFile
}

type overlayFile struct {
	uri     lsp.DocumentURI
	version int32
	content []byte
	hash    Hash
}

func (o *overlayFile) URI() lsp.DocumentURI     { return o.uri }
func (o *overlayFile) Version() int32           { return o.version }
func (o *overlayFile) Content() ([]byte, error) { return o.content, nil }

func NewOverlay() *Overlay {
	return &Overlay{files: make(map[lsp.DocumentURI]*overlayFile)}
}

// Update records text as the new content of uri. The first update of a URI
// opens it at version 1; every later update is a change with the next
// version.
func (o *Overlay) Update(uri lsp.DocumentURI, text []byte) Modification {
	o.mu.Lock()
	defer o.mu.Unlock()

	f, ok := o.files[uri]
	if !ok {
		o.files[uri] = &overlayFile{uri: uri, version: 1, content: text, hash: HashOf(text)}
		return Modification{URI: uri, Action: Open, Version: 1, Text: text, LanguageID: KindForPath(uri.Path()).LanguageID()}
	}
	f.version++
	f.content = text
	f.hash = HashOf(text)
	return Modification{URI: uri, Action: Change, Version: f.version, Text: text}
}

// Get returns the open document at uri, if any.
func (o *Overlay) Get(uri lsp.DocumentURI) (Handle, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	f, ok := o.files[uri]
	if !ok {
		return nil, false
	}
	cp := *f
	return &cp, true
}

// Reset forgets every document, e.g. after the analysis process restarted.
func (o *Overlay) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	clear(o.files)
}
