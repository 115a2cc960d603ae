package fetch

import (
	"context"
	"sort"

	"bizradar.kr/grantsync/internal/db"
)

// Fetcher pulls one upstream portal and converts its payload into canonical
// listings. The int return counts items that were fetched but could not be
// transformed; a non-nil error means the source as a whole was unreachable.
type Fetcher interface {
	Source() string
	FetchAndTransform(ctx context.Context) ([]db.Listing, int, error)
}

// Registry holds the configured fetchers keyed by source name.
type Registry struct {
	fetchers map[string]Fetcher
}

func NewRegistry(fetchers ...Fetcher) *Registry {
	r := &Registry{fetchers: make(map[string]Fetcher, len(fetchers))}
	for _, f := range fetchers {
		r.fetchers[f.Source()] = f
	}
	return r
}

func (r *Registry) Fetcher(source string) (Fetcher, bool) {
	f, ok := r.fetchers[source]
	return f, ok
}

// Sources lists the registered source names in stable order.
func (r *Registry) Sources() []string {
	names := make([]string, 0, len(r.fetchers))
	for name := range r.fetchers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
