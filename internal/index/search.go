package index

import (
	"context"

	werrors "github.com/Aman-CERP/annworker/internal/errors"
)

// SearchResult holds neighbors and their cosine distances, nearest first.
type SearchResult struct {
	Neighbors []string  `json:"neighbors"`
	Distances []float32 `json:"distances"`
}

// Search returns up to limit nearest neighbors of query in the named
// context, or the active context when name is empty.
func (m *Manager) Search(_ context.Context, name string, query []float32, limit int) (SearchResult, error) {
	if err := m.requireEngine(); err != nil {
		return SearchResult{}, err
	}
	if name == "" {
		name = m.Active()
	}
	if !validContext(name) {
		return SearchResult{}, werrors.InvalidArgument("unknown index context %q", name)
	}

	ic := m.current(name)
	if ic == nil {
		return SearchResult{}, werrors.NotReady(name, string(StateUninitialized))
	}

	ic.mu.RLock()
	defer ic.mu.RUnlock()

	if ic.state != StateReadyPopulated {
		return SearchResult{}, werrors.NotReady(name, string(ic.state))
	}
	if len(query) != Dimension {
		return SearchResult{}, werrors.InvalidArgument("query has %d dimensions, expected %d", len(query), Dimension)
	}
	if !validVector(query) {
		return SearchResult{}, werrors.InvalidArgument("query vector must be finite and non-zero")
	}
	if limit <= 0 {
		return SearchResult{}, werrors.InvalidArgument("limit must be positive, got %d", limit)
	}

	k := min(limit, ic.graph.Capacity())
	neighbors, distances := ic.graph.search(query, k)
	return SearchResult{Neighbors: neighbors, Distances: distances}, nil
}
