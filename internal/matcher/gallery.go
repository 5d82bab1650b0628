package matcher

// Gallery is an immutable snapshot of enrolled identities, partitioned by the
// embedding backend that produced each vector. Vectors from different backends
// live in different spaces and are never compared.
type Gallery struct {
	byBackend map[string][]Entry
	size      int
}

// NewGallery groups entries by backend tag, preserving insertion order within a backend.
func NewGallery(entries map[string][]Entry) *Gallery {
	g := &Gallery{byBackend: make(map[string][]Entry, len(entries))}
	for backend, list := range entries {
		cp := make([]Entry, len(list))
		copy(cp, list)
		g.byBackend[backend] = cp
		g.size += len(cp)
	}
	return g
}

// For returns the entries produced by backend. The slice must not be modified.
func (g *Gallery) For(backend string) []Entry {
	if g == nil {
		return nil
	}
	return g.byBackend[backend]
}

// Len is the total number of entries across backends.
func (g *Gallery) Len() int {
	if g == nil {
		return 0
	}
	return g.size
}

// Match searches only the entries produced by backend.
func (g *Gallery) Match(query []float32, backend string, threshold float64) Result {
	return Match(query, g.For(backend), threshold)
}
