package sources

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lepinkainen/folio/internal/book"
	"github.com/lepinkainen/folio/internal/config"
	"github.com/lepinkainen/folio/internal/fetch"
)

// GoogleBooks searches free ebooks in the Google Books catalog.
type GoogleBooks struct {
	base
}

// NewGoogleBooks creates the Google Books adapter. The API key is optional.
func NewGoogleBooks(cfg config.SourceConfig, f *fetch.Fetcher) *GoogleBooks {
	return &GoogleBooks{base: newBase(cfg, f)}
}

type googleBooksResponse struct {
	TotalItems int               `json:"totalItems"`
	Items      []googleBooksItem `json:"items"`
}

type googleBooksItem struct {
	ID         string `json:"id"`
	VolumeInfo struct {
		Title         string   `json:"title"`
		Subtitle      string   `json:"subtitle"`
		Authors       []string `json:"authors"`
		Description   string   `json:"description"`
		Categories    []string `json:"categories"`
		Language      string   `json:"language"`
		PublishedDate string   `json:"publishedDate"`
		ImageLinks    struct {
			Thumbnail      string `json:"thumbnail"`
			SmallThumbnail string `json:"smallThumbnail"`
		} `json:"imageLinks"`
		PreviewLink string `json:"previewLink"`
		InfoLink    string `json:"infoLink"`
	} `json:"volumeInfo"`
	AccessInfo struct {
		EPUB          googleBooksAccess `json:"epub"`
		PDF           googleBooksAccess `json:"pdf"`
		WebReaderLink string            `json:"webReaderLink"`
	} `json:"accessInfo"`
}

type googleBooksAccess struct {
	IsAvailable  bool   `json:"isAvailable"`
	DownloadLink string `json:"downloadLink"`
}

// Search implements Adapter.
func (g *GoogleBooks) Search(ctx context.Context, q book.Query) book.Result {
	started := time.Now()
	q = q.Normalized()
	if q.Query == "" && q.Author == "" && q.Topic == "" {
		return g.result(q, nil, 0, false)
	}

	startIndex := (q.Page - 1) * g.cfg.PageSize
	var resp googleBooksResponse
	if err := g.getJSON(ctx, g.searchURL(q, startIndex), &resp); err != nil {
		res := g.failed(q, err)
		observe(g.cfg.ID, started, res)
		return res
	}

	books := make([]book.Record, 0, len(resp.Items))
	for _, item := range resp.Items {
		if rec, ok := g.toRecord(item); ok {
			books = append(books, rec)
		}
	}

	res := g.result(q, books, resp.TotalItems, startIndex+len(resp.Items) < resp.TotalItems)
	observe(g.cfg.ID, started, res)
	return res
}

func (g *GoogleBooks) searchURL(q book.Query, startIndex int) string {
	terms := []string{}
	if q.Query != "" {
		terms = append(terms, q.Query)
	}
	if q.Author != "" {
		terms = append(terms, "inauthor:"+q.Author)
	}
	if q.Topic != "" {
		terms = append(terms, "subject:"+q.Topic)
	}

	params := url.Values{}
	params.Set("q", strings.Join(terms, " "))
	params.Set("startIndex", strconv.Itoa(startIndex))
	params.Set("maxResults", strconv.Itoa(g.cfg.PageSize))
	params.Set("filter", "free-ebooks")
	params.Set("printType", "books")
	if q.Language != "" {
		params.Set("langRestrict", q.Language)
	}
	if g.cfg.APIKey != "" {
		params.Set("key", g.cfg.APIKey)
	}
	return fmt.Sprintf("%s/volumes?%s", g.cfg.BaseURL, params.Encode())
}

func (g *GoogleBooks) toRecord(item googleBooksItem) (book.Record, bool) {
	info := item.VolumeInfo
	title := collapseSpace(info.Title)
	if item.ID == "" || title == "" {
		return book.Record{}, false
	}
	if sub := collapseSpace(info.Subtitle); sub != "" {
		title += ": " + sub
	}

	rec := book.Record{
		ID:          book.NewID(g.cfg.ID, item.ID),
		Source:      g.cfg.ID,
		Title:       title,
		Authors:     info.Authors,
		Description: strings.TrimSpace(info.Description),
		Subjects:    info.Categories,
		PreviewURL:  firstNonEmpty(info.PreviewLink, item.AccessInfo.WebReaderLink, info.InfoLink),
		Cover:       secureCover(firstNonEmpty(info.ImageLinks.Thumbnail, info.ImageLinks.SmallThumbnail)),
	}
	if info.Language != "" {
		rec.Languages = []string{info.Language}
	}
	if len(info.PublishedDate) >= 4 {
		if year, err := strconv.Atoi(info.PublishedDate[:4]); err == nil {
			rec.PublishedYear = year
		}
	}
	if link := item.AccessInfo.EPUB.DownloadLink; link != "" {
		rec.Formats = append(rec.Formats, book.Format{MimeType: mimeEPUB, URL: link, Label: "EPUB"})
	}
	if link := item.AccessInfo.PDF.DownloadLink; link != "" {
		rec.Formats = append(rec.Formats, book.Format{MimeType: mimePDF, URL: link, Label: "PDF"})
	}
	if len(rec.Formats) > 0 {
		rec.DownloadURL = rec.Formats[0].URL
	}
	return rec, true
}

// secureCover upgrades thumbnail links to https and drops the page-curl effect.
func secureCover(link string) string {
	if link == "" {
		return ""
	}
	link = strings.Replace(link, "http://", "https://", 1)
	return strings.Replace(link, "&edge=curl", "", 1)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
