package sources

import "context"

// Record is one best-match result from an external knowledge source.
type Record struct {
	Title   string
	URL     string
	Extract string
}

// Backend looks up a single best match for a retrieval term. A Backend
// returns (nil, nil) when the source has no match; errors are reported so
// the caller can degrade to fewer sources.
type Backend interface {
	Name() string
	Lookup(ctx context.Context, term string) (*Record, error)
}

// ForNames builds the configured backends, skipping names it does not know.
func ForNames(names []string) []Backend {
	backends := make([]Backend, 0, len(names))
	for _, name := range names {
		switch name {
		case "wikipedia":
			backends = append(backends, NewWikipediaBackend())
		case "duckduckgo":
			backends = append(backends, NewDuckDuckGoBackend())
		}
	}
	return backends
}
