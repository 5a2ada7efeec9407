package sources

import (
	"net/url"
	"strings"

	"github.com/lepinkainen/folio/internal/config"
)

// directSearch maps a source id to its public search page. The query is
// appended escaped; an empty query yields the bare search page.
var directSearch = map[string]struct {
	prefix string
	suffix string
	path   bool
}{
	config.Gutenberg:       {prefix: "https://www.gutenberg.org/ebooks/search/?query="},
	config.OpenLibrary:     {prefix: "https://openlibrary.org/search?q=", suffix: "&mode=everything&has_fulltext=true"},
	config.InternetArchive: {prefix: "https://archive.org/search?query=", suffix: "&and%5B%5D=mediatype%3A%22texts%22"},
	config.GoogleBooks:     {prefix: "https://www.google.com/search?tbm=bks&q="},
	config.StandardEbooks:  {prefix: "https://standardebooks.org/ebooks?query="},
	config.ManyBooks:       {prefix: "https://manybooks.net/search-book?search="},
	config.Feedbooks:       {prefix: "https://www.feedbooks.com/search?query="},
	config.FreeEbooks:      {prefix: "https://www.free-ebooks.net/search/", path: true},
}

// DirectSearchURL returns the human-browsable search URL for query on the
// given source, or "" for an unknown source. It performs no I/O.
func DirectSearchURL(sourceID, query string) string {
	d, ok := directSearch[sourceID]
	if !ok {
		return ""
	}
	query = strings.TrimSpace(query)
	escaped := url.QueryEscape(query)
	if d.path {
		escaped = url.PathEscape(query)
	}
	return d.prefix + escaped + d.suffix
}
