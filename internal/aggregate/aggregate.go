// Package aggregate fans a query out to every enabled source, waits for all
// of them to settle, and merges their books into one deduplicated, ranked
// result with a fallback link for every source it asked.
package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/lepinkainen/folio/internal/book"
	"github.com/lepinkainen/folio/internal/config"
	"github.com/lepinkainen/folio/internal/sources"
)

// SourceSet supplies the adapters for each phase, in dispatch order.
type SourceSet interface {
	Reliable() []sources.Adapter
	Scrapers() []sources.Adapter
}

// Aggregator runs the two-phase federated search.
type Aggregator struct {
	sources SourceSet
	cfg     config.AggregatorConfig
}

// New creates an Aggregator over set.
func New(set SourceSet, cfg config.AggregatorConfig) *Aggregator {
	if cfg.DedupePrefix <= 0 {
		cfg.DedupePrefix = 25
	}
	return &Aggregator{sources: set, cfg: cfg}
}

// outcome is one settled adapter call.
type outcome struct {
	info     book.SourceInfo
	link     book.FallbackLink
	res      book.Result
	duration time.Duration
}

// Search queries the reliable sources, adds the scraped sources when a
// free-text query found too few books, and merges everything. It never
// fails: a total outage still yields one fallback link per source asked.
func (a *Aggregator) Search(ctx context.Context, q book.Query) book.Result {
	q = q.Normalized()
	started := time.Now()

	outcomes := settle(ctx, a.sources.Reliable(), q)
	books := Dedupe(collect(outcomes), a.cfg.DedupePrefix)

	if q.Query != "" && a.cfg.ScrapeEnabled && len(books) < a.cfg.TargetCount {
		if scrapers := a.sources.Scrapers(); len(scrapers) > 0 {
			slog.Debug("Too few results from reliable sources, adding scraped sources",
				"unique", len(books), "target", a.cfg.TargetCount, "scrapers", len(scrapers))
			outcomes = append(outcomes, settle(ctx, scrapers, q)...)
			books = Dedupe(collect(outcomes), a.cfg.DedupePrefix)
		}
	}
	Rank(books)

	res := book.Result{
		Books:         books,
		HasPrevious:   q.Page > 1,
		CurrentPage:   q.Page,
		FallbackLinks: make([]book.FallbackLink, 0, len(outcomes)),
		ExternalLinks: ExternalLinks(q.Terms()),
		Sources:       make([]book.SourceOutcome, 0, len(outcomes)),
	}
	failed := 0
	for _, o := range outcomes {
		res.TotalCount += o.res.TotalCount
		res.HasNext = res.HasNext || o.res.HasNext
		res.FallbackLinks = append(res.FallbackLinks, o.link)
		res.Sources = append(res.Sources, book.SourceOutcome{
			Source:     o.info.ID,
			Count:      len(o.res.Books),
			Error:      o.res.Error,
			DurationMs: o.duration.Milliseconds(),
		})
		if o.res.Error != "" {
			failed++
		}
	}
	if len(outcomes) > 0 && failed == len(outcomes) {
		res.Error = fmt.Sprintf("all %d sources failed", failed)
	}

	slog.Info("Aggregated search finished",
		"query", q.Terms(), "page", q.Page, "sources", len(outcomes), "failed", failed,
		"books", len(books), "duration", time.Since(started))
	return res
}

// settle runs every adapter concurrently and waits for all of them. A
// panicking adapter becomes a failed outcome; siblings are never cancelled.
// Outcomes keep the dispatch order of adapters.
func settle(ctx context.Context, adapters []sources.Adapter, q book.Query) []outcome {
	outcomes := make([]outcome, len(adapters))
	terms := q.Terms()

	var wg conc.WaitGroup
	for i, adapter := range adapters {
		info := adapter.Info()
		outcomes[i] = outcome{info: info, link: info.Link(adapter.DirectSearchURL(terms))}

		wg.Go(func() {
			started := time.Now()
			var catcher panics.Catcher
			catcher.Try(func() {
				outcomes[i].res = adapter.Search(ctx, q)
			})
			if r := catcher.Recovered(); r != nil {
				slog.Error("Source panicked during search", "source", info.ID, "panic", r.Value)
				outcomes[i].res = book.Result{
					Books:         []book.Record{},
					CurrentPage:   q.Page,
					FallbackLinks: []book.FallbackLink{outcomes[i].link},
					Error:         fmt.Sprintf("%s: internal error", info.Name),
				}
			}
			outcomes[i].duration = time.Since(started)
		})
	}
	wg.Wait()
	return outcomes
}

func collect(outcomes []outcome) []book.Record {
	var n int
	for _, o := range outcomes {
		n += len(o.res.Books)
	}
	all := make([]book.Record, 0, n)
	for _, o := range outcomes {
		all = append(all, o.res.Books...)
	}
	return all
}

// ExternalLinks builds the source-independent web-search fallbacks for
// terms. It returns nil for an empty query.
func ExternalLinks(terms string) []book.FallbackLink {
	if terms == "" {
		return nil
	}
	quoted := `"` + terms + `"`
	return []book.FallbackLink{
		{
			Source: "google-epub",
			Name:   "Google (EPUB)",
			Emoji:  "🌐",
			URL:    "https://www.google.com/search?q=" + url.QueryEscape(quoted+" filetype:epub"),
		},
		{
			Source: "google-pdf",
			Name:   "Google (PDF)",
			Emoji:  "🌐",
			URL:    "https://www.google.com/search?q=" + url.QueryEscape(quoted+" filetype:pdf"),
		},
		{
			Source: "duckduckgo",
			Name:   "DuckDuckGo",
			Emoji:  "🦆",
			URL:    "https://duckduckgo.com/?q=" + url.QueryEscape(quoted+" epub"),
		},
	}
}
