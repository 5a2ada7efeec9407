// Package search is the entry point shared by the CLI and the HTTP API: it
// routes a query to one source or to the aggregator, and caches clean
// results.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lepinkainen/folio/internal/aggregate"
	"github.com/lepinkainen/folio/internal/book"
	"github.com/lepinkainen/folio/internal/cache"
	"github.com/lepinkainen/folio/internal/sources"
)

// ErrUnknownSource is returned for a source id that is not registered.
var ErrUnknownSource = errors.New("unknown source")

// Service answers search and source-listing requests.
type Service struct {
	registry   *sources.Registry
	aggregator *aggregate.Aggregator
	cache      *cache.CacheDB
	ttl        time.Duration
}

// Option is a functional option for configuring the Service.
type Option func(*Service)

// WithCache caches error-free results in c for ttl.
func WithCache(c *cache.CacheDB, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = c
		s.ttl = ttl
	}
}

// NewService creates a Service over registry.
func NewService(registry *sources.Registry, agg *aggregate.Aggregator, opts ...Option) *Service {
	s := &Service{registry: registry, aggregator: agg}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ValidateSource accepts "all", "" or any registered source id.
func (s *Service) ValidateSource(id string) error {
	if id == "" || id == book.SourceAll {
		return nil
	}
	if _, ok := s.registry.Get(id); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSource, id)
	}
	return nil
}

// Search runs q. The only error is ErrUnknownSource; source failures are
// reported inside the Result.
func (s *Service) Search(ctx context.Context, q book.Query) (book.Result, error) {
	q = q.Normalized()
	if err := s.ValidateSource(q.Source); err != nil {
		return book.Result{}, err
	}

	res, hit, err := cache.GetOrFetchWithPolicy(s.cache, cache.SearchTable, cacheKey(q), s.ttl,
		func() (book.Result, error) { return s.run(ctx, q), nil },
		cache.Policy[book.Result]{
			ShouldCache: func(r book.Result) bool { return r.Error == "" && !hasSourceErrors(r) },
		})
	if err != nil {
		return book.Result{}, err
	}
	if hit {
		slog.Debug("Serving cached search", "query", q.Terms(), "source", q.Source, "page", q.Page)
	}
	return res, nil
}

func (s *Service) run(ctx context.Context, q book.Query) book.Result {
	if q.IsAggregate() {
		return s.aggregator.Search(ctx, q)
	}
	adapter, _ := s.registry.Get(q.Source)
	return adapter.Search(ctx, q)
}

// Sources lists every registered source with direct-search URLs for query.
func (s *Service) Sources(query string) []book.SourceInfo {
	return s.registry.Infos(query)
}

// DirectLink returns the human-browsable search URL for query on source id.
func (s *Service) DirectLink(id, query string) (string, error) {
	adapter, ok := s.registry.Get(id)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownSource, id)
	}
	return adapter.DirectSearchURL(query), nil
}

// hasSourceErrors reports whether any aggregated source failed. Partial
// results are served but not cached, so a recovered source shows up on the
// next request.
func hasSourceErrors(r book.Result) bool {
	for _, o := range r.Sources {
		if o.Error != "" {
			return true
		}
	}
	return false
}

func cacheKey(q book.Query) string {
	data, err := json.Marshal(q)
	if err != nil {
		return fmt.Sprintf("%+v", q)
	}
	return string(data)
}
