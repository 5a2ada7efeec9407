// Package proxy fetches book files server-side and re-streams them, so
// browsers can download from hosts that would block a cross-origin request.
//
// Every download passes an integrity gate before any byte reaches the
// caller: bodies shorter than the configured minimum, or that turn out to
// be HTML, are rejected as InvalidPayload. Hosts commonly answer 200 with a
// small error page instead of the file.
package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync/atomic"

	"github.com/lepinkainen/folio/internal/config"
	ferrors "github.com/lepinkainen/folio/internal/errors"
	"github.com/lepinkainen/folio/internal/fetch"
	"github.com/lepinkainen/folio/internal/fileutil"
	"github.com/lepinkainen/folio/internal/metrics"
)

// DefaultMinBytes is the smallest body accepted as a real book file.
const DefaultMinBytes = 1000

// ErrInvalidURL is returned for URLs that are not absolute http(s) links.
var ErrInvalidURL = errors.New("invalid download url")

// Resolver turns placeholder links into concrete file URLs.
type Resolver interface {
	Resolve(ctx context.Context, rawURL string) (string, error)
}

// Download is an open, validated download. The caller must close Body.
type Download struct {
	// URL is the resolved upstream URL.
	URL         string
	ContentType string
	// ContentLength is -1 when unknown.
	ContentLength int64
	Filename      string
	// Body replays the validated prefix followed by the rest of the stream.
	Body io.ReadCloser
}

// Proxy opens downloads through the shared fetcher.
type Proxy struct {
	cfg      config.ProxyConfig
	fetcher  *fetch.Fetcher
	resolver Resolver
}

// New creates a Proxy. A nil resolver passes URLs through unchanged.
func New(cfg config.ProxyConfig, f *fetch.Fetcher, r Resolver) *Proxy {
	if f == nil {
		f = fetch.New()
	}
	if cfg.MinBytes <= 0 {
		cfg.MinBytes = DefaultMinBytes
	}
	return &Proxy{cfg: cfg, fetcher: f, resolver: r}
}

// Open resolves rawURL if it is a placeholder, starts the upstream transfer
// and validates the first MinBytes. Errors are typed: NotResolvableError,
// InvalidPayloadError, or the fetch errors (BlockedError, StatusError,
// RetrievalTimeoutError).
func (p *Proxy) Open(ctx context.Context, rawURL string) (*Download, error) {
	if err := validateURL(rawURL); err != nil {
		return nil, err
	}

	target := rawURL
	if p.resolver != nil {
		resolved, err := p.resolver.Resolve(ctx, rawURL)
		if err != nil {
			metrics.Downloads.WithLabelValues(outcome(err)).Inc()
			return nil, err
		}
		target = resolved
	}

	dl, err := p.open(ctx, target)
	if err != nil {
		metrics.Downloads.WithLabelValues(outcome(err)).Inc()
		slog.Warn("Download rejected", "url", target, "error", err)
		return nil, err
	}
	metrics.Downloads.WithLabelValues("ok").Inc()
	slog.Info("Proxying download", "url", target, "content_type", dl.ContentType, "length", dl.ContentLength)
	return dl, nil
}

func (p *Proxy) open(ctx context.Context, target string) (*Download, error) {
	resp, err := p.fetcher.Stream(ctx, target, fetch.Options{
		Timeout:     p.cfg.Timeout,
		IdleTimeout: p.cfg.IdleTimeout,
		MaxRetries:  p.cfg.MaxRetries,
		Accept:      "*/*",
	})
	if err != nil {
		return nil, err
	}

	prefix := make([]byte, p.cfg.MinBytes)
	n, err := io.ReadFull(resp.Body, prefix)
	if err != nil {
		_ = resp.Body.Close()
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ferrors.NewInvalidPayloadError(target, n,
				fmt.Sprintf("body shorter than %d bytes", p.cfg.MinBytes))
		}
		return nil, fmt.Errorf("failed to read download from %s: %w", target, err)
	}

	contentType := resp.Header.Get("Content-Type")
	if IsHTML(contentType, prefix) {
		_ = resp.Body.Close()
		return nil, ferrors.NewInvalidPayloadError(target, n, "upstream returned an HTML page")
	}
	if contentType == "" {
		contentType = http.DetectContentType(prefix)
	}

	return &Download{
		URL:           target,
		ContentType:   contentType,
		ContentLength: resp.ContentLength,
		Filename:      Filename(resp.Header.Get("Content-Disposition"), target),
		Body: &countingBody{
			Reader: io.MultiReader(bytes.NewReader(prefix), resp.Body),
			closer: resp.Body,
		},
	}, nil
}

// IsHTML reports whether a response is an HTML page, by its declared
// content type or by sniffing the first bytes.
func IsHTML(contentType string, prefix []byte) bool {
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		if mediaType == "text/html" || mediaType == "application/xhtml+xml" {
			return true
		}
	}
	return strings.HasPrefix(http.DetectContentType(prefix), "text/html")
}

// Filename picks the download's file name from Content-Disposition, falling
// back to the last path segment of target.
func Filename(contentDisposition, target string) string {
	if _, params, err := mime.ParseMediaType(contentDisposition); err == nil {
		if name := path.Base(strings.ReplaceAll(params["filename"], "\\", "/")); name != "" && name != "." && name != "/" {
			return fileutil.SanitizeFilename(name)
		}
	}
	if u, err := url.Parse(target); err == nil {
		if name := path.Base(u.Path); name != "" && name != "." && name != "/" {
			return fileutil.SanitizeFilename(name)
		}
	}
	return "download"
}

func validateURL(rawURL string) error {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}
	return nil
}

func outcome(err error) string {
	switch {
	case ferrors.IsNotResolvable(err):
		return "not_resolvable"
	case ferrors.IsInvalidPayload(err):
		return "invalid_payload"
	case ferrors.IsBlocked(err):
		return "blocked"
	case ferrors.IsRetrievalTimeout(err):
		return "timeout"
	default:
		return "error"
	}
}

// countingBody feeds the byte counter as the caller reads.
type countingBody struct {
	io.Reader
	closer io.Closer
	n      atomic.Int64
}

func (c *countingBody) Read(p []byte) (int, error) {
	n, err := c.Reader.Read(p)
	c.n.Add(int64(n))
	return n, err
}

func (c *countingBody) Close() error {
	metrics.DownloadBytes.Add(float64(c.n.Swap(0)))
	return c.closer.Close()
}
