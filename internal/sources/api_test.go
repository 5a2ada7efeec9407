package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lepinkainen/folio/internal/book"
	"github.com/lepinkainen/folio/internal/config"
	"github.com/lepinkainen/folio/internal/fetch"
	"github.com/lepinkainen/folio/internal/testutil"
)

func noSleep(context.Context, time.Duration) error { return nil }

func newTestFetcher(server *httptest.Server) *fetch.Fetcher {
	return fetch.New(fetch.WithHTTPClient(server.Client()), fetch.WithSleep(noSleep))
}

// jsonServer serves body at path and counts requests.
func jsonServer(t *testing.T, path, body string, inspect func(*http.Request)) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	var calls atomic.Int32
	server := testutil.NewIPv4TestServer(t, testutil.RouteMux{
		path: func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			if inspect != nil {
				inspect(r)
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(body))
		},
	})
	return server, &calls
}

func sourceConfig(t *testing.T, id, baseURL string) config.SourceConfig {
	t.Helper()

	cfg := testutil.NewTestConfig(t)
	testutil.PointSourceAt(cfg, id, baseURL)
	sc, ok := cfg.Source(id)
	require.True(t, ok)
	return sc
}

const gutendexFixture = `{
  "count": 2,
  "next": "https://gutendex.com/books/?page=2&search=frankenstein",
  "previous": null,
  "results": [
    {
      "id": 84,
      "title": "Frankenstein; Or, The Modern Prometheus",
      "authors": [{"name": "Shelley, Mary Wollstonecraft", "birth_year": 1797, "death_year": 1851}],
      "subjects": ["Horror tales", "Science fiction"],
      "summaries": ["  A Gothic novel about a young scientist.  "],
      "languages": ["en"],
      "formats": {
        "application/epub+zip": "https://www.gutenberg.org/ebooks/84.epub3.images",
        "application/x-mobipocket-ebook": "https://www.gutenberg.org/ebooks/84.kf8.images",
        "text/html": "https://www.gutenberg.org/ebooks/84.html.images",
        "text/plain; charset=us-ascii": "https://www.gutenberg.org/ebooks/84.txt.utf-8",
        "image/jpeg": "https://www.gutenberg.org/cache/epub/84/pg84.cover.medium.jpg"
      },
      "download_count": 95000
    },
    {"id": 0, "title": "broken", "authors": [], "formats": {}}
  ]
}`

func TestGutenbergSearch(t *testing.T) {
	server, calls := jsonServer(t, "/books", gutendexFixture, func(r *http.Request) {
		assert.Equal(t, "frankenstein", r.URL.Query().Get("search"))
		assert.Equal(t, "popular", r.URL.Query().Get("sort"))
		assert.Equal(t, "en", r.URL.Query().Get("languages"))
		assert.Empty(t, r.URL.Query().Get("page"))
		assert.Equal(t, fetch.AcceptJSON, r.Header.Get("Accept"))
	})

	g := NewGutenberg(sourceConfig(t, config.Gutenberg, server.URL), newTestFetcher(server))
	res := g.Search(context.Background(), book.Query{Query: "frankenstein", Language: "EN"})

	require.Empty(t, res.Error)
	assert.Equal(t, int32(1), calls.Load())
	require.Len(t, res.Books, 1)

	rec := res.Books[0]
	assert.Equal(t, "gutenberg-84", rec.ID)
	assert.Equal(t, "gutenberg", rec.Source)
	assert.Equal(t, "Frankenstein; Or, The Modern Prometheus", rec.Title)
	assert.Equal(t, []string{"Mary Wollstonecraft Shelley"}, rec.Authors)
	assert.Equal(t, "Mary Wollstonecraft Shelley", rec.Author)
	assert.Equal(t, "A Gothic novel about a young scientist.", rec.Description)
	assert.Equal(t, "https://www.gutenberg.org/cache/epub/84/pg84-images.epub", rec.DownloadURL)
	assert.Equal(t, "https://www.gutenberg.org/ebooks/84", rec.PreviewURL)
	assert.Equal(t, "https://www.gutenberg.org/cache/epub/84/pg84.cover.medium.jpg", rec.Cover)
	assert.Equal(t, 95000, rec.DownloadCount)

	require.Len(t, rec.Formats, 4)
	assert.Equal(t, "EPUB", rec.Formats[0].Label)
	assert.Equal(t, rec.DownloadURL, rec.Formats[0].URL)
	assert.Equal(t, "Kindle", rec.Formats[1].Label)
	assert.Equal(t, "Plain text", rec.Formats[3].Label)

	assert.Equal(t, 2, res.TotalCount)
	assert.True(t, res.HasNext)
	assert.False(t, res.HasPrevious)
	assert.Equal(t, 1, res.CurrentPage)
	require.Len(t, res.FallbackLinks, 1)
	assert.Equal(t, DirectSearchURL(config.Gutenberg, "frankenstein"), res.FallbackLinks[0].URL)
}

func TestGutenbergSearch_Paging(t *testing.T) {
	server, _ := jsonServer(t, "/books", `{"count": 0, "next": null, "previous": "x", "results": []}`, func(r *http.Request) {
		assert.Equal(t, "3", r.URL.Query().Get("page"))
		assert.Equal(t, "descending", r.URL.Query().Get("sort"))
	})

	g := NewGutenberg(sourceConfig(t, config.Gutenberg, server.URL), newTestFetcher(server))
	res := g.Search(context.Background(), book.Query{Query: "x", Page: 3, Sort: "descending"})

	require.Empty(t, res.Error)
	assert.NotNil(t, res.Books)
	assert.Empty(t, res.Books)
	assert.True(t, res.HasPrevious)
	assert.False(t, res.HasNext)
	assert.Equal(t, 3, res.CurrentPage)
}

func TestGutenbergSearch_UpstreamFailure(t *testing.T) {
	server := testutil.NewIPv4TestServer(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	g := NewGutenberg(sourceConfig(t, config.Gutenberg, server.URL), newTestFetcher(server))
	res := g.Search(context.Background(), book.Query{Query: "dracula"})

	assert.Empty(t, res.Books)
	assert.NotNil(t, res.Books)
	assert.Contains(t, res.Error, "Project Gutenberg")
	assert.Contains(t, res.Error, "500")
	require.Len(t, res.FallbackLinks, 1)
	assert.Equal(t, "gutenberg", res.FallbackLinks[0].Source)
	assert.Contains(t, res.FallbackLinks[0].URL, "query=dracula")
}

func TestCanonicalGutenbergEPUB(t *testing.T) {
	assert.Equal(t, "https://www.gutenberg.org/cache/epub/1342/pg1342-images.epub",
		canonicalGutenbergEPUB(1342, "https://www.gutenberg.org/ebooks/1342.epub.noimages"))
	assert.Equal(t, "https://example.org/x.EPUB", canonicalGutenbergEPUB(1, "https://example.org/x.EPUB"))
}

func TestDisplayName(t *testing.T) {
	tests := map[string]string{
		"Shelley, Mary Wollstonecraft": "Mary Wollstonecraft Shelley",
		"Homer":                        "Homer",
		"Doe, John, Jr.":               "Doe, John, Jr.",
		"  Austen,  Jane ":             "Jane Austen",
	}
	for in, want := range tests {
		assert.Equal(t, want, displayName(in), in)
	}
}

const openLibraryFixture = `{
  "numFound": 45,
  "start": 0,
  "docs": [
    {
      "key": "/works/OL450063W",
      "title": "Frankenstein",
      "author_name": ["Mary Shelley"],
      "cover_i": 12356249,
      "first_publish_year": 1818,
      "ia": ["frankensteinorm00shel", "frankenstein00shel"],
      "subject": ["Fiction", "Monsters"],
      "language": ["eng"]
    },
    {
      "key": "/works/OL999W",
      "title": "Frankenstein Study Guide",
      "author_name": ["Someone"]
    }
  ]
}`

func TestOpenLibrarySearch(t *testing.T) {
	server, _ := jsonServer(t, "/search.json", openLibraryFixture, func(r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "frankenstein", q.Get("q"))
		assert.Equal(t, "eng", q.Get("language"))
		assert.Equal(t, "1", q.Get("page"))
		assert.Equal(t, openLibraryFields, q.Get("fields"))
	})

	o := NewOpenLibrary(sourceConfig(t, config.OpenLibrary, server.URL), newTestFetcher(server))
	res := o.Search(context.Background(), book.Query{Query: "frankenstein", Language: "en"})

	require.Empty(t, res.Error)
	require.Len(t, res.Books, 1, "docs without an archive scan are dropped")

	rec := res.Books[0]
	assert.Equal(t, "openlibrary-OL450063W", rec.ID)
	assert.Equal(t, "https://archive.org/download/frankensteinorm00shel/frankensteinorm00shel.epub", rec.DownloadURL)
	assert.Equal(t, "https://openlibrary.org/works/OL450063W", rec.PreviewURL)
	assert.Equal(t, "https://covers.openlibrary.org/b/id/12356249-M.jpg", rec.Cover)
	assert.Equal(t, 1818, rec.PublishedYear)
	assert.Equal(t, "Mary Shelley", rec.Author)
	require.Len(t, rec.Formats, 2)
	assert.Equal(t, "PDF", rec.Formats[1].Label)

	assert.Equal(t, 45, res.TotalCount)
	assert.True(t, res.HasNext)
}

func TestOpenLibrarySearch_EmptyQuerySkipsNetwork(t *testing.T) {
	server, calls := jsonServer(t, "/search.json", openLibraryFixture, nil)

	o := NewOpenLibrary(sourceConfig(t, config.OpenLibrary, server.URL), newTestFetcher(server))
	res := o.Search(context.Background(), book.Query{Query: "   "})

	assert.Empty(t, res.Error)
	assert.Empty(t, res.Books)
	assert.Zero(t, calls.Load())
	assert.Len(t, res.FallbackLinks, 1)
}

const archiveFixture = `{
  "responseHeader": {"status": 0},
  "response": {
    "numFound": 2,
    "start": 0,
    "docs": [
      {
        "identifier": "frankenstein1818",
        "title": ["Frankenstein, or the Modern Prometheus"],
        "creator": "Shelley, Mary",
        "description": ["First edition scan.", "Second line"],
        "downloads": "12345",
        "language": "English",
        "subject": ["Gothic fiction"],
        "year": "1818-01-01"
      },
      {
        "identifier": "frankenstein-play",
        "title": "Frankenstein: A Play",
        "downloads": 42,
        "year": 1927
      },
      {"title": "no identifier"}
    ]
  }
}`

func TestArchiveSearch(t *testing.T) {
	server, _ := jsonServer(t, "/advancedsearch.php", archiveFixture, func(r *http.Request) {
		q := r.URL.Query()
		assert.Contains(t, q.Get("q"), "(frankenstein)")
		assert.Contains(t, q.Get("q"), "creator:(Shelley)")
		assert.Contains(t, q.Get("q"), "mediatype:texts")
		assert.Equal(t, "json", q.Get("output"))
		assert.Contains(t, q["fl[]"], "identifier")
	})

	a := NewArchive(sourceConfig(t, config.InternetArchive, server.URL), newTestFetcher(server))
	res := a.Search(context.Background(), book.Query{Query: "frankenstein", Author: "Shelley"})

	require.Empty(t, res.Error)
	require.Len(t, res.Books, 2)

	first := res.Books[0]
	assert.Equal(t, "archive-frankenstein1818", first.ID)
	assert.Equal(t, "https://archive.org/download/frankenstein1818", first.DownloadURL)
	assert.Equal(t, "https://archive.org/services/img/frankenstein1818", first.Cover)
	assert.Equal(t, "https://archive.org/details/frankenstein1818", first.PreviewURL)
	assert.Equal(t, []string{"Shelley, Mary"}, first.Authors)
	assert.Equal(t, "First edition scan.", first.Description)
	assert.Equal(t, 12345, first.DownloadCount)
	assert.Equal(t, 1818, first.PublishedYear)

	second := res.Books[1]
	assert.Equal(t, "Frankenstein: A Play", second.Title)
	assert.Equal(t, 42, second.DownloadCount)
	assert.Equal(t, 1927, second.PublishedYear)
	assert.Equal(t, "Unknown", second.Author)

	assert.False(t, res.HasNext)
}

func TestFlexInt(t *testing.T) {
	tests := map[string]int{
		`123`:              123,
		`"456"`:            456,
		`"1818-01-01"`:     1818,
		`"circa 1900"`:     0,
		`null`:             0,
		`""`:               0,
		`1.5e3`:            1500,
		`"2001-uncertain"`: 2001,
	}
	for in, want := range tests {
		var n flexInt
		require.NoError(t, n.UnmarshalJSON([]byte(in)), in)
		assert.Equal(t, want, int(n), in)
	}
}

func TestStringList(t *testing.T) {
	var s stringList
	require.NoError(t, s.UnmarshalJSON([]byte(`"solo"`)))
	assert.Equal(t, "solo", s.First())

	require.NoError(t, s.UnmarshalJSON([]byte(`["a", "b"]`)))
	assert.Equal(t, stringList{"a", "b"}, s)

	require.NoError(t, s.UnmarshalJSON([]byte(`null`)))
	assert.Equal(t, "", s.First())

	assert.Error(t, s.UnmarshalJSON([]byte(`{}`)))
}

const googleBooksFixture = `{
  "totalItems": 30,
  "items": [
    {
      "id": "2ZpnAAAAcAAJ",
      "volumeInfo": {
        "title": "Frankenstein",
        "subtitle": "Or, The Modern Prometheus",
        "authors": ["Mary Wollstonecraft Shelley"],
        "categories": ["Fiction"],
        "language": "en",
        "publishedDate": "1831-05-01",
        "imageLinks": {"thumbnail": "http://books.google.com/books/content?id=2ZpnAAAAcAAJ&printsec=frontcover&img=1&zoom=1&edge=curl&source=gbs_api"},
        "previewLink": "http://books.google.com/books?id=2ZpnAAAAcAAJ&printsec=frontcover",
        "infoLink": "https://play.google.com/store/books/details?id=2ZpnAAAAcAAJ"
      },
      "accessInfo": {
        "epub": {"isAvailable": true, "downloadLink": "http://books.google.com/books/download/Frankenstein.epub?id=2ZpnAAAAcAAJ&output=epub"},
        "pdf": {"isAvailable": true, "downloadLink": "http://books.google.com/books/download/Frankenstein.pdf?id=2ZpnAAAAcAAJ&output=pdf"},
        "webReaderLink": "http://play.google.com/books/reader?id=2ZpnAAAAcAAJ"
      }
    },
    {"id": "noTitle", "volumeInfo": {}}
  ]
}`

func TestGoogleBooksSearch(t *testing.T) {
	server, _ := jsonServer(t, "/volumes", googleBooksFixture, func(r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "frankenstein inauthor:shelley", q.Get("q"))
		assert.Equal(t, "free-ebooks", q.Get("filter"))
		assert.Equal(t, "20", q.Get("startIndex"))
		assert.Equal(t, "secret", q.Get("key"))
	})

	sc := sourceConfig(t, config.GoogleBooks, server.URL)
	sc.APIKey = "secret"
	g := NewGoogleBooks(sc, newTestFetcher(server))
	res := g.Search(context.Background(), book.Query{Query: "frankenstein", Author: "shelley", Page: 2})

	require.Empty(t, res.Error)
	require.Len(t, res.Books, 1)

	rec := res.Books[0]
	assert.Equal(t, "googlebooks-2ZpnAAAAcAAJ", rec.ID)
	assert.Equal(t, "Frankenstein: Or, The Modern Prometheus", rec.Title)
	assert.Equal(t, "https://books.google.com/books/content?id=2ZpnAAAAcAAJ&printsec=frontcover&img=1&zoom=1&source=gbs_api", rec.Cover)
	assert.Equal(t, "http://books.google.com/books/download/Frankenstein.epub?id=2ZpnAAAAcAAJ&output=epub", rec.DownloadURL)
	assert.Equal(t, "http://books.google.com/books?id=2ZpnAAAAcAAJ&printsec=frontcover", rec.PreviewURL)
	assert.Equal(t, 1831, rec.PublishedYear)
	assert.Equal(t, []string{"en"}, rec.Languages)
	require.Len(t, rec.Formats, 2)

	assert.Equal(t, 30, res.TotalCount)
	assert.True(t, res.HasNext, "20 + 2 items < 30")
	assert.True(t, res.HasPrevious)
}

func TestGoogleBooksSearch_NoKeyOmitsParam(t *testing.T) {
	server, _ := jsonServer(t, "/volumes", `{"totalItems": 0}`, func(r *http.Request) {
		_, hasKey := r.URL.Query()["key"]
		assert.False(t, hasKey)
	})

	g := NewGoogleBooks(sourceConfig(t, config.GoogleBooks, server.URL), newTestFetcher(server))
	res := g.Search(context.Background(), book.Query{Topic: "poetry"})

	assert.Empty(t, res.Error)
	assert.Empty(t, res.Books)
	assert.Zero(t, res.TotalCount)
}

func TestGoogleBooksSearch_DropsRecordsWithoutLinks(t *testing.T) {
	payload := `{"totalItems": 2, "items": [
		{"id": "abc", "volumeInfo": {"title": "Orphan Record"}, "accessInfo": {}},
		{"id": "def", "volumeInfo": {"title": "Readable", "infoLink": "https://books.google.com/books?id=def"}, "accessInfo": {}}
	]}`
	server, _ := jsonServer(t, "/volumes", payload, nil)

	g := NewGoogleBooks(sourceConfig(t, config.GoogleBooks, server.URL), newTestFetcher(server))
	res := g.Search(context.Background(), book.Query{Query: "record"})

	require.Empty(t, res.Error)
	require.Len(t, res.Books, 1)
	assert.Equal(t, "googlebooks-def", res.Books[0].ID)
	assert.True(t, res.Books[0].Actionable())
}
