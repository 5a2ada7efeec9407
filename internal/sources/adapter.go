// Package sources implements one search adapter per content provider:
// four structured JSON APIs and four HTML-scraped sites behind a shared
// mirror-fallback engine.
//
// An adapter never returns an error value. Every failure is folded into an
// empty book.Result carrying Error and the source's fallback link, so a
// broken provider can never destabilize its callers.
package sources

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lepinkainen/folio/internal/book"
	"github.com/lepinkainen/folio/internal/config"
	"github.com/lepinkainen/folio/internal/fetch"
	"github.com/lepinkainen/folio/internal/metrics"
	"github.com/lepinkainen/folio/internal/ratelimit"
)

// Adapter searches a single provider.
type Adapter interface {
	// Info describes the source without touching the network.
	Info() book.SourceInfo
	// Search runs q against the provider. It never fails: errors are
	// reported through Result.Error.
	Search(ctx context.Context, q book.Query) book.Result
	// DirectSearchURL is the human-browsable search page for query.
	DirectSearchURL(query string) string
}

// PageRenderer renders a page in a real browser and returns its HTML.
type PageRenderer interface {
	Render(ctx context.Context, url string) (string, error)
}

// Deps are the collaborators shared by every adapter.
type Deps struct {
	Fetcher *fetch.Fetcher
	// Renderer enables the headless last-resort mirror fetch. Nil disables it.
	Renderer PageRenderer
}

// Registry holds the adapters built from one configuration, in dispatch order.
type Registry struct {
	order    []string
	adapters map[string]Adapter
	kinds    map[string]string
	enabled  map[string]bool
}

// NewRegistry builds every configured source. Disabled sources are still
// registered so their direct-search links stay available, but they are not
// returned by Reliable or Scrapers.
func NewRegistry(cfg *config.Config, deps Deps) *Registry {
	if deps.Fetcher == nil {
		deps.Fetcher = fetch.New()
	}

	r := NewEmptyRegistry()
	breakers := newBreakerSet(cfg.Breaker)
	for _, id := range config.SourceOrder {
		sc, ok := cfg.Source(id)
		if !ok {
			continue
		}
		adapter := newAdapter(sc, cfg, deps)
		if adapter == nil {
			continue
		}
		r.Register(breakers.wrap(adapter))
	}
	return r
}

// NewEmptyRegistry returns a registry with no sources, for callers that
// register their own adapters.
func NewEmptyRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
		kinds:    make(map[string]string),
		enabled:  make(map[string]bool),
	}
}

func newAdapter(sc config.SourceConfig, cfg *config.Config, deps Deps) Adapter {
	switch sc.ID {
	case config.Gutenberg:
		return NewGutenberg(sc, deps.Fetcher)
	case config.OpenLibrary:
		return NewOpenLibrary(sc, deps.Fetcher)
	case config.InternetArchive:
		return NewArchive(sc, deps.Fetcher)
	case config.GoogleBooks:
		return NewGoogleBooks(sc, deps.Fetcher)
	}
	if s, ok := sites[sc.ID]; ok {
		return NewScraper(sc, cfg.Scrape, s, deps)
	}
	slog.Warn("No adapter for configured source", "source", sc.ID)
	return nil
}

// Register adds an adapter, classified by its Info kind and enabled flag.
// Re-registering an id replaces the adapter but keeps its dispatch position.
func (r *Registry) Register(a Adapter) {
	info := a.Info()
	if _, exists := r.adapters[info.ID]; !exists {
		r.order = append(r.order, info.ID)
	}
	r.adapters[info.ID] = a
	r.kinds[info.ID] = info.Kind
	r.enabled[info.ID] = info.Enabled
}

// Get returns the adapter for id.
func (r *Registry) Get(id string) (Adapter, bool) {
	a, ok := r.adapters[id]
	return a, ok
}

// IDs returns every registered source id in dispatch order.
func (r *Registry) IDs() []string {
	return append([]string(nil), r.order...)
}

// Reliable returns the enabled structured-API adapters in dispatch order.
func (r *Registry) Reliable() []Adapter {
	return r.byKind(book.KindAPI)
}

// Scrapers returns the enabled HTML-scraped adapters in dispatch order.
func (r *Registry) Scrapers() []Adapter {
	return r.byKind(book.KindScrape)
}

func (r *Registry) byKind(kind string) []Adapter {
	var out []Adapter
	for _, id := range r.order {
		if r.kinds[id] == kind && r.enabled[id] {
			out = append(out, r.adapters[id])
		}
	}
	return out
}

// Infos lists every registered source, with direct-search URLs built for query.
func (r *Registry) Infos(query string) []book.SourceInfo {
	infos := make([]book.SourceInfo, 0, len(r.order))
	for _, id := range r.order {
		a := r.adapters[id]
		info := a.Info()
		info.DirectSearchURL = a.DirectSearchURL(query)
		infos = append(infos, info)
	}
	return infos
}

// base carries what every adapter needs: its config, the shared fetcher and
// a per-source limiter.
type base struct {
	cfg     config.SourceConfig
	fetcher *fetch.Fetcher
	limiter *ratelimit.Limiter
}

func newBase(cfg config.SourceConfig, f *fetch.Fetcher) base {
	if f == nil {
		f = fetch.New()
	}
	return base{
		cfg:     cfg,
		fetcher: f,
		limiter: ratelimit.PerMinute(cfg.ID, cfg.RequestsPerMinute, cfg.Burst),
	}
}

func (b base) Info() book.SourceInfo {
	return book.SourceInfo{
		ID:              b.cfg.ID,
		Name:            b.cfg.Name,
		Description:     b.cfg.Description,
		Emoji:           b.cfg.Emoji,
		DirectSearchURL: DirectSearchURL(b.cfg.ID, ""),
		Kind:            b.cfg.Kind,
		Enabled:         b.cfg.Enabled,
	}
}

func (b base) DirectSearchURL(query string) string {
	return DirectSearchURL(b.cfg.ID, query)
}

func (b base) options(accept string) fetch.Options {
	return fetch.Options{
		Timeout:      b.cfg.Timeout,
		MaxRetries:   b.cfg.MaxRetries,
		RetryBlocked: b.cfg.RetryBlocked,
		Accept:       accept,
	}
}

func (b base) getJSON(ctx context.Context, url string, target any) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}
	slog.Debug("Querying source", "source", b.cfg.ID, "url", url)
	return b.fetcher.GetJSON(ctx, url, b.options(fetch.AcceptJSON), target)
}

func (b base) fallback(q book.Query) []book.FallbackLink {
	return []book.FallbackLink{b.Info().Link(b.DirectSearchURL(q.Terms()))}
}

// result wraps parsed books in a Result for q. Records with neither a
// download nor a preview link are dropped.
func (b base) result(q book.Query, books []book.Record, total int, hasNext bool) book.Result {
	kept := make([]book.Record, 0, len(books))
	for _, rec := range books {
		if !rec.Actionable() {
			slog.Debug("Dropping record without links", "source", b.cfg.ID, "id", rec.ID, "title", rec.Title)
			continue
		}
		rec.Normalize()
		kept = append(kept, rec)
	}
	return book.Result{
		Books:         kept,
		TotalCount:    total,
		HasNext:       hasNext,
		HasPrevious:   q.Page > 1,
		CurrentPage:   q.Page,
		FallbackLinks: b.fallback(q),
	}
}

// failed converts err into the empty degraded result.
func (b base) failed(q book.Query, err error) book.Result {
	return degraded(b.Info(), b.DirectSearchURL(q.Terms()), q, err)
}

// degraded is the result of a search that could not complete: no books, the
// error, and the source's direct-search link.
func degraded(info book.SourceInfo, fallbackURL string, q book.Query, err error) book.Result {
	slog.Warn("Source search failed", "source", info.ID, "error", err)
	return book.Result{
		Books:         []book.Record{},
		HasPrevious:   q.Page > 1,
		CurrentPage:   q.Page,
		FallbackLinks: []book.FallbackLink{info.Link(fallbackURL)},
		Error:         fmt.Sprintf("%s: %v", info.Name, err),
	}
}

// observe records duration and outcome metrics for one search.
func observe(id string, started time.Time, res book.Result) {
	metrics.ObserveSearch(id, len(res.Books), res.Error != "", time.Since(started).Seconds())
}
