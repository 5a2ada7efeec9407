package sources

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/lepinkainen/folio/internal/book"
	"github.com/lepinkainen/folio/internal/config"
	ferrors "github.com/lepinkainen/folio/internal/errors"
	"github.com/lepinkainen/folio/internal/fetch"
	"github.com/lepinkainen/folio/internal/metrics"
)

// Site describes how to search and parse one scraped provider. Selectors
// are CSS selectors evaluated with goquery.
type Site struct {
	// SearchPath returns the path and query, relative to a mirror root, for
	// a search on the given 1-based page.
	SearchPath func(query string, page int) string

	// Item selects one result block.
	Item string
	// Title selects the title node inside an item.
	Title string
	// Link selects the detail-page anchor. Empty means the title's own anchor.
	Link string
	// Cover selects the cover image. Optional.
	Cover string
	// Author selects an explicit author node. Optional; without it the
	// author comes from a "Title by Author" title.
	Author string
}

// Scraper is an adapter over an HTML site reachable through ordered mirrors.
type Scraper struct {
	base
	site     Site
	scrape   config.ScrapeConfig
	renderer PageRenderer
}

// NewScraper creates a scraped-source adapter.
func NewScraper(cfg config.SourceConfig, scrape config.ScrapeConfig, site Site, deps Deps) *Scraper {
	s := &Scraper{
		base:   newBase(cfg, deps.Fetcher),
		site:   site,
		scrape: scrape,
	}
	if scrape.BrowserFallback {
		s.renderer = deps.Renderer
	}
	return s
}

// page is an accepted mirror response.
type page struct {
	url  string
	body []byte
}

// Search implements Adapter.
func (s *Scraper) Search(ctx context.Context, q book.Query) book.Result {
	started := time.Now()
	q = q.Normalized()
	terms := q.Terms()
	if terms == "" {
		return s.result(q, nil, 0, false)
	}

	pg, err := s.fetchMirrors(ctx, s.site.SearchPath(terms, q.Page))
	if err != nil {
		res := s.failed(q, err)
		observe(s.cfg.ID, started, res)
		return res
	}

	books, err := s.parse(pg)
	if err != nil {
		// Markup drift or a genuine empty page: zero results, not a failure.
		slog.Warn("Could not parse source page", "source", s.cfg.ID, "url", pg.url, "error", err)
		res := s.result(q, nil, 0, false)
		observe(s.cfg.ID, started, res)
		return res
	}

	offset := (q.Page - 1) * s.cfg.PageSize
	res := s.result(q, books, offset+len(books), len(books) >= s.cfg.PageSize)
	observe(s.cfg.ID, started, res)
	return res
}

// fetchMirrors tries each mirror strictly in order and returns the first
// acceptable page. When every mirror fails and a renderer is configured,
// the first mirror is rendered once in a headless browser.
func (s *Scraper) fetchMirrors(ctx context.Context, path string) (*page, error) {
	if len(s.cfg.Mirrors) == 0 {
		return nil, fmt.Errorf("source %s has no mirrors configured", s.cfg.ID)
	}

	failures := make([]string, 0, len(s.cfg.Mirrors)+1)
	for _, mirror := range s.cfg.Mirrors {
		target := mirror + path
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		resp, err := s.fetcher.Get(ctx, target, s.options(fetch.AcceptHTML))
		if err == nil {
			err = s.accept(target, resp.Body)
		}
		if err == nil {
			return &page{url: resp.URL, body: resp.Body}, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		slog.Warn("Mirror rejected", "source", s.cfg.ID, "mirror", mirror, "error", err)
		metrics.MirrorFailovers.WithLabelValues(s.cfg.ID).Inc()
		failures = append(failures, err.Error())
	}

	first := s.cfg.Mirrors[0] + path
	if s.renderer != nil {
		slog.Info("All mirrors failed, trying headless browser", "source", s.cfg.ID, "url", first)
		html, err := s.renderer.Render(ctx, first)
		if err == nil {
			err = s.accept(first, []byte(html))
		}
		if err == nil {
			return &page{url: first, body: []byte(html)}, nil
		}
		failures = append(failures, "headless browser: "+err.Error())
	}

	return nil, ferrors.NewMirrorsExhaustedError(first,
		fmt.Errorf("all %d mirror(s) failed: %s", len(s.cfg.Mirrors), strings.Join(failures, "; ")))
}

// accept rejects short bodies and known block/challenge pages.
func (s *Scraper) accept(target string, body []byte) error {
	if len(body) < s.scrape.MinBodyBytes {
		return fmt.Errorf("response from %s too short (%d bytes)", target, len(body))
	}
	if marker := BlockMarker(body, s.scrape.BlockMarkers); marker != "" {
		return ferrors.NewBlockPageError(target, marker)
	}
	return nil
}

// BlockMarker returns the first lowercase marker found in body, or "".
func BlockMarker(body []byte, markers []string) string {
	lower := bytes.ToLower(body)
	for _, m := range markers {
		if m != "" && bytes.Contains(lower, []byte(m)) {
			return m
		}
	}
	return ""
}

func (s *Scraper) parse(pg *page) ([]book.Record, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(pg.body))
	if err != nil {
		return nil, ferrors.NewParseFailureError(s.cfg.ID, "read html", err)
	}
	pageURL, err := url.Parse(pg.url)
	if err != nil {
		return nil, ferrors.NewParseFailureError(s.cfg.ID, "page url", err)
	}

	books := ParseItems(doc, pageURL, s.cfg.ID, s.site)
	if len(books) == 0 {
		return nil, ferrors.NewParseFailureError(s.cfg.ID, "no items matched "+s.site.Item, nil)
	}
	return books, nil
}

// ParseItems extracts records from doc using site's selectors. Items
// without a link or with a title shorter than two characters are skipped,
// as are repeated links.
func ParseItems(doc *goquery.Document, pageURL *url.URL, source string, site Site) []book.Record {
	var books []book.Record
	seen := make(map[string]bool)

	doc.Find(site.Item).Each(func(_ int, item *goquery.Selection) {
		titleSel := item.Find(site.Title).First()
		rawTitle := collapseSpace(titleSel.Text())
		if rawTitle == "" {
			rawTitle = collapseSpace(titleSel.AttrOr("title", ""))
		}

		// An explicit author node wins; only then is " by " kept as part of the title.
		author := ""
		if site.Author != "" {
			author = trimByPrefix(collapseSpace(item.Find(site.Author).First().Text()))
		}
		var title string
		if author != "" {
			title = StripTitleNoise(rawTitle)
		} else {
			title, author = CleanTitle(rawTitle)
		}

		href := absolute(pageURL, linkOf(item, titleSel, site.Link))
		if utf8.RuneCountInString(title) < 2 || href == "" || seen[href] {
			return
		}
		seen[href] = true

		rec := book.Record{
			ID:         book.NewID(source, localID(href)),
			Source:     source,
			Title:      title,
			PreviewURL: href,
		}
		if author != "" {
			rec.Authors = []string{author}
		}
		if site.Cover != "" {
			rec.Cover = absolute(pageURL, imageSrc(item.Find(site.Cover).First()))
		}
		books = append(books, rec)
	})
	return books
}

func linkOf(item, titleSel *goquery.Selection, linkSelector string) string {
	if linkSelector != "" {
		return item.Find(linkSelector).First().AttrOr("href", "")
	}
	if href, ok := titleSel.Attr("href"); ok {
		return href
	}
	if href, ok := titleSel.Closest("a").Attr("href"); ok {
		return href
	}
	if href, ok := titleSel.Find("a[href]").First().Attr("href"); ok {
		return href
	}
	return item.Find("a[href]").First().AttrOr("href", "")
}

func imageSrc(img *goquery.Selection) string {
	for _, attr := range []string{"src", "data-src", "data-lazy-src"} {
		if v := strings.TrimSpace(img.AttrOr(attr, "")); v != "" && !strings.HasPrefix(v, "data:") {
			return v
		}
	}
	return ""
}

func absolute(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "#") || strings.HasPrefix(strings.ToLower(ref), "javascript:") {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return base.ResolveReference(u).String()
}

// localID derives a stable per-source identifier from a detail URL path.
func localID(href string) string {
	u, err := url.Parse(href)
	if err != nil || strings.Trim(u.Path, "/") == "" {
		return href
	}
	return strings.ReplaceAll(strings.Trim(u.Path, "/"), "/", "-")
}

func trimByPrefix(author string) string {
	if len(author) > 3 && strings.EqualFold(author[:3], "by ") {
		return strings.TrimSpace(author[3:])
	}
	return author
}
