// Package book defines the unified cross-source records produced by every
// search source, and the query/result envelopes around them.
package book

import "strings"

// Source kinds.
const (
	KindAPI    = "api"
	KindScrape = "scrape"
)

// SourceAll routes a query to the aggregator instead of a single source.
const SourceAll = "all"

// Format is one downloadable representation of a book.
type Format struct {
	MimeType string `json:"mimeType" yaml:"mimeType"`
	URL      string `json:"url" yaml:"url"`
	Label    string `json:"label" yaml:"label"`
}

// Record is one discovered book. Pointer-free: empty strings and zero
// values mean "unknown".
type Record struct {
	// ID is globally unique: "{source}-{source_local_id}".
	ID     string `json:"id" yaml:"id"`
	Source string `json:"source" yaml:"source"`

	Title       string   `json:"title" yaml:"title"`
	Author      string   `json:"author" yaml:"author"`
	Authors     []string `json:"authors" yaml:"authors"`
	Cover       string   `json:"cover,omitempty" yaml:"cover,omitempty"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Subjects    []string `json:"subjects" yaml:"subjects"`
	Languages   []string `json:"languages" yaml:"languages"`

	// DownloadURL may be a placeholder that needs resolving before download.
	DownloadURL string   `json:"downloadUrl,omitempty" yaml:"downloadUrl,omitempty"`
	PreviewURL  string   `json:"previewUrl,omitempty" yaml:"previewUrl,omitempty"`
	Formats     []Format `json:"formats" yaml:"formats"`

	DownloadCount int `json:"downloadCount,omitempty" yaml:"downloadCount,omitempty"`
	PublishedYear int `json:"publishedYear,omitempty" yaml:"publishedYear,omitempty"`
}

// NewID builds a record ID from a source and its local identifier.
func NewID(source, localID string) string {
	return source + "-" + localID
}

// Actionable reports whether the record leads anywhere: a download or a preview page.
func (r Record) Actionable() bool {
	return r.DownloadURL != "" || r.PreviewURL != ""
}

// HasDirectDownload reports whether the record advertises a download link.
// Placeholder links count: they are resolved at download time.
func (r Record) HasDirectDownload() bool {
	return r.DownloadURL != ""
}

// HasCover reports whether a cover image URL is known.
func (r Record) HasCover() bool {
	return r.Cover != ""
}

// Normalize fills nil slices so JSON output always carries arrays, and
// derives Author from Authors when only the list is known.
func (r *Record) Normalize() {
	if r.Authors == nil {
		r.Authors = []string{}
	}
	if r.Subjects == nil {
		r.Subjects = []string{}
	}
	if r.Languages == nil {
		r.Languages = []string{}
	}
	if r.Formats == nil {
		r.Formats = []Format{}
	}
	if r.Author == "" && len(r.Authors) > 0 {
		r.Author = strings.Join(r.Authors, ", ")
	}
	if r.Author == "" {
		r.Author = "Unknown"
	}
}

// Query is a search request.
type Query struct {
	Query    string `json:"query,omitempty"`
	Topic    string `json:"topic,omitempty"`
	Author   string `json:"author,omitempty"`
	Language string `json:"language,omitempty"`
	Page     int    `json:"page"`
	Sort     string `json:"sort,omitempty"`
	Source   string `json:"source"`
}

// Normalized returns a copy with defaults applied: page >= 1, source "all",
// trimmed text fields.
func (q Query) Normalized() Query {
	q.Query = strings.TrimSpace(q.Query)
	q.Topic = strings.TrimSpace(q.Topic)
	q.Author = strings.TrimSpace(q.Author)
	q.Language = strings.ToLower(strings.TrimSpace(q.Language))
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Source == "" {
		q.Source = SourceAll
	}
	if q.Sort == "" {
		q.Sort = "popular"
	}
	return q
}

// Terms returns the free-text terms used for direct-search links: the
// query, falling back to author and topic.
func (q Query) Terms() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{q.Query, q.Author, q.Topic} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// IsAggregate reports whether the query targets every source.
func (q Query) IsAggregate() bool {
	return q.Source == "" || q.Source == SourceAll
}

// FallbackLink is a human-browsable search URL on one source.
type FallbackLink struct {
	Source string `json:"source" yaml:"source"`
	Name   string `json:"name" yaml:"name"`
	Emoji  string `json:"emoji" yaml:"emoji"`
	URL    string `json:"url" yaml:"url"`
}

// SourceOutcome summarizes one source's contribution to a search.
type SourceOutcome struct {
	Source     string `json:"source" yaml:"source"`
	Count      int    `json:"count" yaml:"count"`
	Error      string `json:"error,omitempty" yaml:"error,omitempty"`
	DurationMs int64  `json:"durationMs" yaml:"durationMs"`
}

// Result is the response to a search.
type Result struct {
	Books         []Record        `json:"books" yaml:"books"`
	TotalCount    int             `json:"totalCount" yaml:"totalCount"`
	HasNext       bool            `json:"hasNext" yaml:"hasNext"`
	HasPrevious   bool            `json:"hasPrevious" yaml:"hasPrevious"`
	CurrentPage   int             `json:"currentPage" yaml:"currentPage"`
	FallbackLinks []FallbackLink  `json:"fallbackLinks,omitempty" yaml:"fallbackLinks,omitempty"`
	ExternalLinks []FallbackLink  `json:"externalLinks,omitempty" yaml:"externalLinks,omitempty"`
	Error         string          `json:"error,omitempty" yaml:"error,omitempty"`
	Sources       []SourceOutcome `json:"sources,omitempty" yaml:"sources,omitempty"`
}

// Failed reports whether the result carries an error and no books.
func (r Result) Failed() bool {
	return r.Error != "" && len(r.Books) == 0
}

// SourceInfo describes a configured source without touching the network.
type SourceInfo struct {
	ID              string `json:"id" yaml:"id"`
	Name            string `json:"name" yaml:"name"`
	Description     string `json:"description" yaml:"description"`
	Emoji           string `json:"emoji" yaml:"emoji"`
	DirectSearchURL string `json:"directSearchUrl" yaml:"directSearchUrl"`
	Kind            string `json:"kind" yaml:"kind"`
	Enabled         bool   `json:"enabled" yaml:"enabled"`
}

// Link builds the fallback link for this source pointing at url.
func (s SourceInfo) Link(url string) FallbackLink {
	return FallbackLink{Source: s.ID, Name: s.Name, Emoji: s.Emoji, URL: url}
}
