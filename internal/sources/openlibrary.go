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

const openLibraryFields = "key,title,author_name,cover_i,first_publish_year,ia,subject,language"

// OpenLibrary searches the Open Library catalog. Only works linked to an
// Internet Archive scan are returned: without an "ia" identifier there is
// no path to the content.
type OpenLibrary struct {
	base
}

// NewOpenLibrary creates the Open Library adapter.
func NewOpenLibrary(cfg config.SourceConfig, f *fetch.Fetcher) *OpenLibrary {
	return &OpenLibrary{base: newBase(cfg, f)}
}

type openLibrarySearchResponse struct {
	NumFound int              `json:"numFound"`
	Start    int              `json:"start"`
	Docs     []openLibraryDoc `json:"docs"`
}

type openLibraryDoc struct {
	Key              string   `json:"key"`
	Title            string   `json:"title"`
	AuthorName       []string `json:"author_name"`
	CoverI           int      `json:"cover_i"`
	FirstPublishYear int      `json:"first_publish_year"`
	IA               []string `json:"ia"`
	Subject          []string `json:"subject"`
	Language         []string `json:"language"`
}

// Search implements Adapter.
func (o *OpenLibrary) Search(ctx context.Context, q book.Query) book.Result {
	started := time.Now()
	q = q.Normalized()
	if q.Query == "" && q.Author == "" && q.Topic == "" {
		return o.result(q, nil, 0, false)
	}

	var resp openLibrarySearchResponse
	if err := o.getJSON(ctx, o.searchURL(q), &resp); err != nil {
		res := o.failed(q, err)
		observe(o.cfg.ID, started, res)
		return res
	}

	books := make([]book.Record, 0, len(resp.Docs))
	for _, doc := range resp.Docs {
		if rec, ok := o.toRecord(doc); ok {
			books = append(books, rec)
		}
	}

	hasNext := resp.Start+len(resp.Docs) < resp.NumFound
	res := o.result(q, books, resp.NumFound, hasNext)
	observe(o.cfg.ID, started, res)
	return res
}

func (o *OpenLibrary) searchURL(q book.Query) string {
	params := url.Values{}
	if q.Query != "" {
		params.Set("q", q.Query)
	}
	if q.Author != "" {
		params.Set("author", q.Author)
	}
	if q.Topic != "" {
		params.Set("subject", q.Topic)
	}
	if lang := openLibraryLanguage(q.Language); lang != "" {
		params.Set("language", lang)
	}
	params.Set("page", strconv.Itoa(q.Page))
	params.Set("limit", strconv.Itoa(o.cfg.PageSize))
	params.Set("fields", openLibraryFields)
	return fmt.Sprintf("%s/search.json?%s", o.cfg.BaseURL, params.Encode())
}

func (o *OpenLibrary) toRecord(doc openLibraryDoc) (book.Record, bool) {
	title := collapseSpace(doc.Title)
	if title == "" || len(doc.IA) == 0 || doc.IA[0] == "" {
		return book.Record{}, false
	}
	ia := doc.IA[0]
	workID := strings.TrimPrefix(doc.Key, "/works/")
	if workID == "" {
		workID = ia
	}

	download := fmt.Sprintf("https://archive.org/download/%s/%s.epub", ia, ia)
	rec := book.Record{
		ID:            book.NewID(o.cfg.ID, workID),
		Source:        o.cfg.ID,
		Title:         title,
		Authors:       doc.AuthorName,
		Subjects:      firstN(doc.Subject, 10),
		Languages:     doc.Language,
		DownloadURL:   download,
		PreviewURL:    fmt.Sprintf("https://openlibrary.org%s", doc.Key),
		PublishedYear: doc.FirstPublishYear,
		Formats: []book.Format{
			{MimeType: mimeEPUB, URL: download, Label: "EPUB"},
			{MimeType: mimePDF, URL: fmt.Sprintf("https://archive.org/download/%s/%s.pdf", ia, ia), Label: "PDF"},
		},
	}
	if doc.Key == "" {
		rec.PreviewURL = "https://archive.org/details/" + ia
	}
	if doc.CoverI > 0 {
		rec.Cover = fmt.Sprintf("https://covers.openlibrary.org/b/id/%d-M.jpg", doc.CoverI)
	}
	return rec, true
}

// openLibraryLanguage maps two-letter codes to the MARC codes Open Library indexes.
func openLibraryLanguage(lang string) string {
	switch lang {
	case "":
		return ""
	case "en":
		return "eng"
	case "fr":
		return "fre"
	case "de":
		return "ger"
	case "es":
		return "spa"
	case "it":
		return "ita"
	case "fi":
		return "fin"
	case "pt":
		return "por"
	case "nl":
		return "dut"
	}
	return lang
}

func firstN(s []string, n int) []string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
