package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lepinkainen/folio/internal/config"
	ferrors "github.com/lepinkainen/folio/internal/errors"
	"github.com/lepinkainen/folio/internal/fetch"
	"github.com/lepinkainen/folio/internal/testutil"
)

// epubBytes fakes a zip-looking EPUB of n bytes.
func epubBytes(n int) []byte {
	b := bytes.Repeat([]byte{0x42}, n)
	copy(b, "PK\x03\x04mimetypeapplication/epub+zip")
	return b
}

type stubResolver struct {
	to  string
	err error
}

func (s stubResolver) Resolve(_ context.Context, rawURL string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	if s.to != "" {
		return s.to, nil
	}
	return rawURL, nil
}

func newTestProxy(t *testing.T, routes testutil.RouteMux, r Resolver) (*Proxy, string) {
	t.Helper()
	server := testutil.NewIPv4TestServer(t, routes)
	cfg := config.ProxyConfig{MinBytes: 1000, Timeout: 5 * time.Second}
	return New(cfg, fetch.New(fetch.WithHTTPClient(server.Client())), r), server.URL
}

func serveBytes(contentType string, body []byte, headers ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if contentType != "" {
			w.Header().Set("Content-Type", contentType)
		}
		for i := 0; i+1 < len(headers); i += 2 {
			w.Header().Set(headers[i], headers[i+1])
		}
		_, _ = w.Write(body)
	}
}

func TestOpen_StreamsValidFile(t *testing.T) {
	body := epubBytes(5000)
	p, base := newTestProxy(t, testutil.RouteMux{
		"/files/84.epub": serveBytes("application/epub+zip", body),
	}, nil)

	dl, err := p.Open(context.Background(), base+"/files/84.epub")
	require.NoError(t, err)
	defer dl.Body.Close()

	got, err := io.ReadAll(dl.Body)
	require.NoError(t, err)
	assert.Equal(t, body, got, "prefix must be replayed before the rest")
	assert.Equal(t, "application/epub+zip", dl.ContentType)
	assert.Equal(t, "84.epub", dl.Filename)
}

func TestOpen_IntegrityGate(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		reason  string
	}{
		{"tiny body with 200", serveBytes("application/epub+zip", epubBytes(999)), "shorter than 1000"},
		{"empty body", serveBytes("application/pdf", nil), "shorter than 1000"},
		{"html error page", serveBytes("text/html; charset=utf-8", []byte("<html>"+strings.Repeat("x", 2000)+"</html>")), "HTML page"},
		{"html without content type", serveBytes("", []byte("<!DOCTYPE html><html><body>"+strings.Repeat("oops ", 400))), "HTML page"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, base := newTestProxy(t, testutil.RouteMux{"/f": tt.handler}, nil)

			dl, err := p.Open(context.Background(), base+"/f")

			require.Error(t, err)
			assert.Nil(t, dl)
			assert.True(t, ferrors.IsInvalidPayload(err), "got %v", err)
			assert.Contains(t, err.Error(), tt.reason)
		})
	}
}

func TestOpen_ExactlyMinBytesAccepted(t *testing.T) {
	p, base := newTestProxy(t, testutil.RouteMux{
		"/f.pdf": serveBytes("application/pdf", append([]byte("%PDF-1.7\n"), bytes.Repeat([]byte("0"), 991)...)),
	}, nil)

	dl, err := p.Open(context.Background(), base+"/f.pdf")
	require.NoError(t, err)
	got, err := io.ReadAll(dl.Body)
	require.NoError(t, err)
	require.NoError(t, dl.Body.Close())
	assert.Len(t, got, 1000)
}

func TestOpen_ResolvesPlaceholderFirst(t *testing.T) {
	server := testutil.NewIPv4TestServer(t, testutil.RouteMux{
		"/real/book.epub": serveBytes("application/epub+zip", epubBytes(2000),
			"Content-Disposition", `attachment; filename="Frankenstein: 1818.epub"`),
	})
	p := New(config.ProxyConfig{Timeout: time.Second},
		fetch.New(fetch.WithHTTPClient(server.Client())),
		stubResolver{to: server.URL + "/real/book.epub"})

	dl, err := p.Open(context.Background(), "https://archive.org/download/frankenstein")
	require.NoError(t, err)
	defer dl.Body.Close()

	assert.Equal(t, server.URL+"/real/book.epub", dl.URL)
	assert.Equal(t, "Frankenstein - 1818.epub", dl.Filename)
}

func TestOpen_PropagatesErrors(t *testing.T) {
	notResolvable := ferrors.NewNotResolvableError("x", "no EPUB or PDF file listed")
	p, base := newTestProxy(t, testutil.RouteMux{}, stubResolver{err: notResolvable})
	_, err := p.Open(context.Background(), "https://archive.org/download/x")
	assert.True(t, ferrors.IsNotResolvable(err))

	p, base = newTestProxy(t, testutil.RouteMux{}, nil)
	_, err = p.Open(context.Background(), base+"/missing")
	assert.True(t, ferrors.IsStatusError(err), "got %v", err)

	p, base = newTestProxy(t, testutil.RouteMux{
		"/blocked": func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusForbidden) },
	}, nil)
	_, err = p.Open(context.Background(), base+"/blocked")
	assert.True(t, ferrors.IsBlocked(err), "got %v", err)
}

func TestOpen_InvalidURL(t *testing.T) {
	p := New(config.ProxyConfig{}, nil, nil)
	for _, raw := range []string{"", "not a url", "ftp://example.org/book.epub", "/relative/path.epub"} {
		_, err := p.Open(context.Background(), raw)
		assert.True(t, errors.Is(err, ErrInvalidURL), "%q: %v", raw, err)
	}
}

func TestIsHTML(t *testing.T) {
	assert.True(t, IsHTML("text/html", nil))
	assert.True(t, IsHTML("TEXT/HTML; charset=utf-8", nil))
	assert.True(t, IsHTML("application/octet-stream", []byte("<!doctype html><title>404</title>")))
	assert.False(t, IsHTML("application/epub+zip", epubBytes(100)))
	assert.False(t, IsHTML("application/pdf", []byte("%PDF-1.4")))
}

func TestFilename(t *testing.T) {
	assert.Equal(t, "book.epub", Filename(`attachment; filename="book.epub"`, "https://h/x.pdf"))
	assert.Equal(t, "evil.epub", Filename(`attachment; filename="../../evil.epub"`, "https://h/x"))
	assert.Equal(t, "pg84-images.epub", Filename("", "https://www.gutenberg.org/cache/epub/84/pg84-images.epub"))
	assert.Equal(t, "download", Filename("", "https://example.org/"))
}
