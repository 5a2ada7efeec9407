// Package resolve turns placeholder download links into concrete file URLs.
//
// Internet Archive search results only know an item identifier, so their
// download link points at the item's download directory. Resolving it means
// reading the item's metadata and picking an EPUB, or failing that a PDF.
package resolve

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/lepinkainen/folio/internal/cache"
	"github.com/lepinkainen/folio/internal/config"
	ferrors "github.com/lepinkainen/folio/internal/errors"
	"github.com/lepinkainen/folio/internal/fetch"
)

const archiveDownloadBase = "https://archive.org/download/"

// Resolver resolves placeholder links, caching answers when a cache is set.
type Resolver struct {
	cfg     config.ResolveConfig
	fetcher *fetch.Fetcher
	cache   *cache.CacheDB
	ttl     time.Duration
}

// Option is a functional option for configuring the Resolver.
type Option func(*Resolver)

// WithCache stores resolutions in c for ttl. "Not resolvable" answers are
// kept for cache.NegativeCacheTTL.
func WithCache(c *cache.CacheDB, ttl time.Duration) Option {
	return func(r *Resolver) {
		r.cache = c
		r.ttl = ttl
	}
}

// New creates a Resolver. A nil fetcher gets a default one.
func New(cfg config.ResolveConfig, f *fetch.Fetcher, opts ...Option) *Resolver {
	if f == nil {
		f = fetch.New()
	}
	if cfg.ArchiveBaseURL == "" {
		cfg.ArchiveBaseURL = "https://archive.org"
	}
	r := &Resolver{cfg: cfg, fetcher: f}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// IsPlaceholder reports whether rawURL is an archive.org item download
// directory (https://archive.org/download/{id}) rather than a file.
func IsPlaceholder(rawURL string) bool {
	_, ok := placeholderID(rawURL)
	return ok
}

func placeholderID(rawURL string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if host != "archive.org" {
		return "", false
	}
	rest, ok := strings.CutPrefix(u.Path, "/download/")
	if !ok {
		return "", false
	}
	rest = strings.TrimSuffix(rest, "/")
	if rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}

// resolution is the cached answer for one identifier.
type resolution struct {
	URL      string `json:"url,omitempty"`
	NotFound bool   `json:"not_found,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

type metadataResponse struct {
	Files []metadataFile `json:"files"`
}

type metadataFile struct {
	Name   string `json:"name"`
	Format string `json:"format"`
}

// Resolve returns rawURL unchanged unless it is a placeholder, in which case
// it returns the concrete EPUB or PDF link. An item with neither yields a
// NotResolvableError.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) (string, error) {
	id, ok := placeholderID(rawURL)
	if !ok {
		return rawURL, nil
	}

	res, hit, err := cache.GetOrFetchWithPolicy(r.cache, cache.ResolveTable, id, r.ttl,
		func() (resolution, error) { return r.lookup(ctx, id) },
		cache.Policy[resolution]{
			TTL: cache.SelectNegativeCacheTTL(r.ttl, func(res resolution) bool { return res.NotFound }),
		})
	if err != nil {
		return "", err
	}
	if res.NotFound {
		return "", ferrors.NewNotResolvableError(id, res.Reason)
	}

	slog.Debug("Resolved placeholder download", "identifier", id, "url", res.URL, "cached", hit)
	return res.URL, nil
}

func (r *Resolver) lookup(ctx context.Context, id string) (resolution, error) {
	var meta metadataResponse
	metaURL := fmt.Sprintf("%s/metadata/%s", r.cfg.ArchiveBaseURL, url.PathEscape(id))
	opts := fetch.Options{Timeout: r.cfg.Timeout, MaxRetries: r.cfg.MaxRetries}
	if err := r.fetcher.GetJSON(ctx, metaURL, opts, &meta); err != nil {
		return resolution{}, fmt.Errorf("failed to fetch metadata for %s: %w", id, err)
	}

	if len(meta.Files) == 0 {
		return resolution{NotFound: true, Reason: "item has no files"}, nil
	}
	file := pickFile(meta.Files)
	if file == "" {
		return resolution{NotFound: true, Reason: "no EPUB or PDF file listed"}, nil
	}
	return resolution{URL: archiveDownloadBase + url.PathEscape(id) + "/" + escapeFilePath(file)}, nil
}

// pickFile returns the first EPUB in files, else the first PDF, else "".
func pickFile(files []metadataFile) string {
	for _, f := range files {
		if strings.EqualFold(f.Format, "EPUB") || hasSuffixFold(f.Name, ".epub") {
			return f.Name
		}
	}
	for _, f := range files {
		if strings.Contains(strings.ToUpper(f.Format), "PDF") || hasSuffixFold(f.Name, ".pdf") {
			return f.Name
		}
	}
	return ""
}

func hasSuffixFold(s, suffix string) bool {
	return len(s) >= len(suffix) && strings.EqualFold(s[len(s)-len(suffix):], suffix)
}

// escapeFilePath escapes each segment; archive file names may contain
// subdirectories.
func escapeFilePath(name string) string {
	parts := strings.Split(name, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
