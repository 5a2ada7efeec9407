package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lepinkainen/folio/internal/book"
	"github.com/lepinkainen/folio/internal/config"
	"github.com/lepinkainen/folio/internal/fetch"
)

// ArchiveHost is the canonical Internet Archive origin used in generated links.
const ArchiveHost = "https://archive.org"

var archiveFields = []string{"identifier", "title", "creator", "description", "downloads", "language", "subject", "year"}

// Archive searches Internet Archive texts. Its records carry a placeholder
// download URL ("https://archive.org/download/{id}") that is resolved to a
// concrete file only when a download is requested.
type Archive struct {
	base
}

// NewArchive creates the Internet Archive adapter.
func NewArchive(cfg config.SourceConfig, f *fetch.Fetcher) *Archive {
	return &Archive{base: newBase(cfg, f)}
}

type archiveSearchResponse struct {
	Response struct {
		NumFound int          `json:"numFound"`
		Start    int          `json:"start"`
		Docs     []archiveDoc `json:"docs"`
	} `json:"response"`
}

type archiveDoc struct {
	Identifier  string     `json:"identifier"`
	Title       stringList `json:"title"`
	Creator     stringList `json:"creator"`
	Description stringList `json:"description"`
	Downloads   flexInt    `json:"downloads"`
	Language    stringList `json:"language"`
	Subject     stringList `json:"subject"`
	Year        flexInt    `json:"year"`
}

// Search implements Adapter.
func (a *Archive) Search(ctx context.Context, q book.Query) book.Result {
	started := time.Now()
	q = q.Normalized()
	if q.Query == "" && q.Author == "" && q.Topic == "" {
		return a.result(q, nil, 0, false)
	}

	var resp archiveSearchResponse
	if err := a.getJSON(ctx, a.searchURL(q), &resp); err != nil {
		res := a.failed(q, err)
		observe(a.cfg.ID, started, res)
		return res
	}

	books := make([]book.Record, 0, len(resp.Response.Docs))
	for _, doc := range resp.Response.Docs {
		if rec, ok := a.toRecord(doc); ok {
			books = append(books, rec)
		}
	}

	r := resp.Response
	res := a.result(q, books, r.NumFound, r.Start+len(r.Docs) < r.NumFound)
	observe(a.cfg.ID, started, res)
	return res
}

func (a *Archive) searchURL(q book.Query) string {
	clauses := []string{}
	if q.Query != "" {
		clauses = append(clauses, "("+q.Query+")")
	}
	if q.Author != "" {
		clauses = append(clauses, "creator:("+q.Author+")")
	}
	if q.Topic != "" {
		clauses = append(clauses, "subject:("+q.Topic+")")
	}
	if lang := openLibraryLanguage(q.Language); lang != "" {
		clauses = append(clauses, "language:("+lang+")")
	}
	clauses = append(clauses, "mediatype:texts", "format:(epub OR pdf)")

	params := url.Values{}
	params.Set("q", strings.Join(clauses, " AND "))
	for _, f := range archiveFields {
		params.Add("fl[]", f)
	}
	params.Set("sort[]", "downloads desc")
	params.Set("rows", strconv.Itoa(a.cfg.PageSize))
	params.Set("page", strconv.Itoa(q.Page))
	params.Set("output", "json")
	return fmt.Sprintf("%s/advancedsearch.php?%s", a.cfg.BaseURL, params.Encode())
}

func (a *Archive) toRecord(doc archiveDoc) (book.Record, bool) {
	title := collapseSpace(doc.Title.First())
	if doc.Identifier == "" || title == "" {
		return book.Record{}, false
	}
	id := url.PathEscape(doc.Identifier)
	return book.Record{
		ID:            book.NewID(a.cfg.ID, doc.Identifier),
		Source:        a.cfg.ID,
		Title:         title,
		Authors:       doc.Creator,
		Description:   strings.TrimSpace(doc.Description.First()),
		Subjects:      firstN(doc.Subject, 10),
		Languages:     doc.Language,
		Cover:         ArchiveHost + "/services/img/" + id,
		DownloadURL:   ArchiveHost + "/download/" + id,
		PreviewURL:    ArchiveHost + "/details/" + id,
		DownloadCount: int(doc.Downloads),
		PublishedYear: int(doc.Year),
	}, true
}

// stringList decodes fields the Archive returns as either a string or an array.
type stringList []string

func (s *stringList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = nil
		return nil
	}
	if data[0] == '[' {
		var list []string
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*s = list
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}
	*s = stringList{single}
	return nil
}

// First returns the first element or "".
func (s stringList) First() string {
	if len(s) == 0 {
		return ""
	}
	return s[0]
}

// flexInt decodes numbers that may arrive quoted or as "1818-01-01".
type flexInt int

func (n *flexInt) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	if raw == "" || raw == "null" {
		*n = 0
		return nil
	}
	if v, err := strconv.ParseFloat(raw, 64); err == nil {
		*n = flexInt(v)
		return nil
	}
	if len(raw) >= 4 && isDigits(raw[:4]) {
		v, _ := strconv.Atoi(raw[:4])
		*n = flexInt(v)
		return nil
	}
	// Unparseable values are common; treat as unknown.
	*n = 0
	return nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
