package sources

import (
	"context"
	"fmt"
	"maps"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/lepinkainen/folio/internal/book"
	"github.com/lepinkainen/folio/internal/config"
	"github.com/lepinkainen/folio/internal/fetch"
)

const (
	mimeEPUB = "application/epub+zip"
	mimePDF  = "application/pdf"
	mimeMOBI = "application/x-mobipocket-ebook"
	mimeHTML = "text/html"
	mimeText = "text/plain"
	mimeJPEG = "image/jpeg"
)

// gutenbergFormats lists the formats surfaced to users, in display order.
var gutenbergFormats = []struct {
	mime  string
	label string
}{
	{mimeEPUB, "EPUB"},
	{mimeMOBI, "Kindle"},
	{mimePDF, "PDF"},
	{mimeHTML, "HTML"},
	{mimeText, "Plain text"},
}

// Gutenberg searches Project Gutenberg through the Gutendex API.
type Gutenberg struct {
	base
}

// NewGutenberg creates the Project Gutenberg adapter.
func NewGutenberg(cfg config.SourceConfig, f *fetch.Fetcher) *Gutenberg {
	return &Gutenberg{base: newBase(cfg, f)}
}

type gutendexResponse struct {
	Count    int            `json:"count"`
	Next     *string        `json:"next"`
	Previous *string        `json:"previous"`
	Results  []gutendexBook `json:"results"`
}

type gutendexBook struct {
	ID      int    `json:"id"`
	Title   string `json:"title"`
	Authors []struct {
		Name string `json:"name"`
	} `json:"authors"`
	Subjects      []string          `json:"subjects"`
	Summaries     []string          `json:"summaries"`
	Languages     []string          `json:"languages"`
	Formats       map[string]string `json:"formats"`
	DownloadCount int               `json:"download_count"`
}

// Search implements Adapter.
func (g *Gutenberg) Search(ctx context.Context, q book.Query) book.Result {
	started := time.Now()
	q = q.Normalized()

	var resp gutendexResponse
	if err := g.getJSON(ctx, g.searchURL(q), &resp); err != nil {
		res := g.failed(q, err)
		observe(g.cfg.ID, started, res)
		return res
	}

	books := make([]book.Record, 0, len(resp.Results))
	for _, item := range resp.Results {
		if rec, ok := g.toRecord(item); ok {
			books = append(books, rec)
		}
	}

	res := g.result(q, books, resp.Count, resp.Next != nil && *resp.Next != "")
	res.HasPrevious = resp.Previous != nil && *resp.Previous != ""
	observe(g.cfg.ID, started, res)
	return res
}

func (g *Gutenberg) searchURL(q book.Query) string {
	params := url.Values{}
	if terms := strings.TrimSpace(q.Query + " " + q.Author); terms != "" {
		params.Set("search", terms)
	}
	if q.Topic != "" {
		params.Set("topic", q.Topic)
	}
	if q.Language != "" {
		params.Set("languages", q.Language)
	}
	switch q.Sort {
	case "ascending", "descending":
		params.Set("sort", q.Sort)
	default:
		params.Set("sort", "popular")
	}
	if q.Page > 1 {
		params.Set("page", strconv.Itoa(q.Page))
	}
	return fmt.Sprintf("%s/books?%s", g.cfg.BaseURL, params.Encode())
}

func (g *Gutenberg) toRecord(item gutendexBook) (book.Record, bool) {
	title := collapseSpace(item.Title)
	if title == "" || item.ID == 0 {
		return book.Record{}, false
	}

	rec := book.Record{
		ID:            book.NewID(g.cfg.ID, strconv.Itoa(item.ID)),
		Source:        g.cfg.ID,
		Title:         title,
		Subjects:      item.Subjects,
		Languages:     item.Languages,
		DownloadCount: item.DownloadCount,
		PreviewURL:    fmt.Sprintf("https://www.gutenberg.org/ebooks/%d", item.ID),
	}
	for _, a := range item.Authors {
		if name := displayName(a.Name); name != "" {
			rec.Authors = append(rec.Authors, name)
		}
	}
	if len(item.Summaries) > 0 {
		rec.Description = strings.TrimSpace(item.Summaries[0])
	}

	byMime := make(map[string]string, len(item.Formats))
	for _, mime := range slices.Sorted(maps.Keys(item.Formats)) {
		link := item.Formats[mime]
		// Keys carry parameters, e.g. "text/plain; charset=us-ascii".
		bare := strings.TrimSpace(strings.SplitN(mime, ";", 2)[0])
		if prev, seen := byMime[bare]; !seen || strings.HasSuffix(prev, ".zip") {
			byMime[bare] = link
		}
	}
	if cover := byMime[mimeJPEG]; cover != "" {
		rec.Cover = cover
	}
	if epub := byMime[mimeEPUB]; epub != "" {
		byMime[mimeEPUB] = canonicalGutenbergEPUB(item.ID, epub)
		rec.DownloadURL = byMime[mimeEPUB]
	}
	for _, f := range gutenbergFormats {
		if link := byMime[f.mime]; link != "" {
			rec.Formats = append(rec.Formats, book.Format{MimeType: f.mime, URL: link, Label: f.label})
		}
	}
	return rec, true
}

// canonicalGutenbergEPUB maps Gutendex's extensionless EPUB links
// (".../ebooks/84.epub3.images") to the cache path that ends in ".epub".
func canonicalGutenbergEPUB(id int, link string) string {
	if strings.HasSuffix(strings.ToLower(link), ".epub") {
		return link
	}
	return fmt.Sprintf("https://www.gutenberg.org/cache/epub/%d/pg%d-images.epub", id, id)
}

// displayName turns catalog-style "Shelley, Mary Wollstonecraft" into
// "Mary Wollstonecraft Shelley".
func displayName(name string) string {
	name = collapseSpace(name)
	last, first, ok := strings.Cut(name, ", ")
	if !ok || strings.Contains(first, ",") {
		return name
	}
	return first + " " + last
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
