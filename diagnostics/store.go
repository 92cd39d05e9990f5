package diagnostics

import (
	"slices"
	"sync"

	"github.com/corymhall/proofsync/lsp"
)

// Store keeps the current marker set for each document. Every update
// replaces the previous set wholesale.
type Store struct {
	mu      sync.RWMutex
	markers map[lsp.DocumentURI][]Marker
}

func NewStore() *Store {
	return &Store{markers: make(map[lsp.DocumentURI][]Marker)}
}

func (s *Store) Replace(uri lsp.DocumentURI, markers []Marker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markers[uri] = slices.Clone(markers)
}

func (s *Store) Markers(uri lsp.DocumentURI) []Marker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.markers[uri])
}

// At returns the markers of uri that contain p.
func (s *Store) At(uri lsp.DocumentURI, p lsp.UIPosition) []Marker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var hits []Marker
	for _, m := range s.markers[uri] {
		if m.Contains(p) {
			hits = append(hits, m)
		}
	}
	return hits
}

func (s *Store) Clear(uri lsp.DocumentURI) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.markers, uri)
}
