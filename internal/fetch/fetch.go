// Package fetch provides the single retrying, timeout-bounded HTTP GET used by
// every source adapter, the download resolver and the download proxy.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	ferrors "github.com/lepinkainen/folio/internal/errors"
	"github.com/lepinkainen/folio/internal/metrics"
)

const (
	defaultTimeout      = 15 * time.Second
	defaultMaxBodyBytes = 8 << 20
	maxBackoff          = 30 * time.Second

	// DefaultUserAgent mimics a current desktop browser. Best effort only.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

	// AcceptHTML is the Accept header sent for page fetches.
	AcceptHTML = "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8"
	// AcceptJSON is the Accept header sent for API fetches.
	AcceptJSON = "application/json,text/plain;q=0.9,*/*;q=0.8"
)

// HTTPDoer is an interface for making HTTP requests.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Options controls a single logical fetch.
type Options struct {
	// Timeout bounds every individual attempt. For Stream it bounds only the
	// wait for response headers.
	Timeout time.Duration
	// IdleTimeout aborts a streamed body after this long without read
	// progress. Zero leaves the body unbounded.
	IdleTimeout time.Duration
	// MaxRetries is the number of additional attempts after the first.
	MaxRetries int
	// RetryBlocked retries HTTP 403/503 responses. When false a block is terminal.
	RetryBlocked bool
	// Accept overrides the Accept header.
	Accept string
	// Header carries extra request headers.
	Header http.Header
	// MaxBodyBytes caps how much of the body Get reads.
	MaxBodyBytes int64
}

// Response is a fully read HTTP response.
type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Fetcher performs retrying GETs with browser-like headers.
type Fetcher struct {
	client    HTTPDoer
	sleep     SleepFunc
	userAgent string
}

// Option is a functional option for configuring the Fetcher.
type Option func(*Fetcher)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c HTTPDoer) Option {
	return func(f *Fetcher) {
		if c != nil {
			f.client = c
		}
	}
}

// WithSleep replaces the backoff sleep, mainly for tests.
func WithSleep(s SleepFunc) Option {
	return func(f *Fetcher) {
		if s != nil {
			f.sleep = s
		}
	}
}

// WithUserAgent overrides the default browser user agent.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) {
		if ua != "" {
			f.userAgent = ua
		}
	}
}

// New creates a Fetcher. The default HTTP client has no overall timeout;
// deadlines come from the per-attempt context.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:    &http.Client{},
		sleep:     contextSleep,
		userAgent: DefaultUserAgent,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Get fetches rawURL and reads the body, retrying timeouts, network errors,
// rate limits and (when opts.RetryBlocked) blocks with exponential backoff.
//
// Errors are typed: RetrievalTimeoutError, BlockedError, RateLimitError or
// StatusError from internal/errors; anything else is a wrapped network error.
func (f *Fetcher) Get(ctx context.Context, rawURL string, opts Options) (*Response, error) {
	opts = withDefaults(opts)

	var lastErr error
	attempts := opts.MaxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := retryDelay(attempt-1, lastErr)
			slog.Debug("Retrying fetch", "url", rawURL, "attempt", attempt+1, "delay", delay, "error", lastErr)
			metrics.FetchRetries.WithLabelValues(hostOf(rawURL), retryReason(lastErr)).Inc()
			if err := f.sleep(ctx, delay); err != nil {
				return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
			}
		}

		resp, err := f.once(ctx, rawURL, opts)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil || !isRetryable(err, opts) {
			break
		}
	}

	return nil, finalError(rawURL, opts, attempts, lastErr)
}

// GetJSON fetches rawURL and decodes the JSON body into target.
// A body that fails to decode yields a ParseFailureError.
func (f *Fetcher) GetJSON(ctx context.Context, rawURL string, opts Options, target any) error {
	if opts.Accept == "" {
		opts.Accept = AcceptJSON
	}
	resp, err := f.Get(ctx, rawURL, opts)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, target); err != nil {
		return ferrors.NewParseFailureError(hostOf(rawURL), "decode json", err)
	}
	return nil
}

// Stream opens rawURL for streaming. Retries apply only until response
// headers arrive, and opts.Timeout bounds each wait for them. After that the
// body is limited by opts.IdleTimeout alone, so a slow but steady transfer
// is never cut short. The caller must close the returned body.
func (f *Fetcher) Stream(ctx context.Context, rawURL string, opts Options) (*http.Response, error) {
	opts = withDefaults(opts)

	var lastErr error
	attempts := opts.MaxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			metrics.FetchRetries.WithLabelValues(hostOf(rawURL), retryReason(lastErr)).Inc()
			if err := f.sleep(ctx, retryDelay(attempt-1, lastErr)); err != nil {
				return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
			}
		}

		attemptCtx, cancel := context.WithCancel(ctx)
		headerTimer := time.AfterFunc(opts.Timeout, cancel)
		resp, err := f.do(attemptCtx, rawURL, opts)
		timedOut := !headerTimer.Stop()
		switch {
		case timedOut && ctx.Err() == nil:
			if err == nil {
				drainAndClose(resp.Body)
			}
			err = errAttemptTimeout
		case err == nil:
			err = classifyStatus(rawURL, resp)
			if err == nil {
				resp.Body = newIdleBody(resp.Body, opts.IdleTimeout, cancel)
				return resp, nil
			}
			drainAndClose(resp.Body)
		}
		cancel()

		lastErr = err
		if ctx.Err() != nil || !isRetryable(err, opts) {
			break
		}
	}

	return nil, finalError(rawURL, opts, attempts, lastErr)
}

func (f *Fetcher) once(ctx context.Context, rawURL string, opts Options) (*Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	resp, err := f.do(attemptCtx, rawURL, opts)
	if err != nil {
		if attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, errAttemptTimeout
		}
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if err := classifyStatus(rawURL, resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, opts.MaxBodyBytes))
	if err != nil {
		if attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, errAttemptTimeout
		}
		return nil, fmt.Errorf("read body from %s: %w", rawURL, err)
	}

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return &Response{
		URL:        finalURL,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

func (f *Fetcher) do(ctx context.Context, rawURL string, opts Options) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	f.applyHeaders(req, opts)
	return f.client.Do(req)
}

func (f *Fetcher) applyHeaders(req *http.Request, opts Options) {
	accept := opts.Accept
	if accept == "" {
		accept = AcceptHTML
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", accept)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
	for k, vals := range opts.Header {
		req.Header.Del(k)
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
}

// errAttemptTimeout marks a single attempt that hit its own deadline.
var errAttemptTimeout = errors.New("attempt timed out")

func classifyStatus(rawURL string, resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusServiceUnavailable:
		return ferrors.NewBlockedError(rawURL, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		return ferrors.NewRateLimitErrorWithRetry(
			fmt.Sprintf("rate limited by %s", hostOf(rawURL)),
			parseRetryAfter(resp.Header.Get("Retry-After")),
		)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return ferrors.NewStatusError(rawURL, resp.StatusCode)
	}
	return nil
}

func isRetryable(err error, opts Options) bool {
	switch {
	case errors.Is(err, errAttemptTimeout):
		return true
	case ferrors.IsBlocked(err):
		return opts.RetryBlocked
	case ferrors.IsRateLimitError(err):
		return true
	case ferrors.IsStatusError(err):
		return false
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return true
		}
		var netErr net.Error
		if errors.As(urlErr.Err, &netErr) {
			return true
		}
		// Network errors (connection resets etc.)
		if strings.Contains(urlErr.Error(), "connection") || strings.Contains(urlErr.Error(), "EOF") {
			return true
		}
	}
	return false
}

func finalError(rawURL string, opts Options, attempts int, err error) error {
	if errors.Is(err, errAttemptTimeout) {
		return ferrors.NewRetrievalTimeoutError(rawURL, opts.Timeout, attempts)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return ferrors.NewRetrievalTimeoutError(rawURL, opts.Timeout, attempts)
	}
	if ferrors.IsBlocked(err) || ferrors.IsRateLimitError(err) || ferrors.IsStatusError(err) {
		return err
	}
	return fmt.Errorf("fetch %s: %w", rawURL, err)
}

// BackoffDelay returns the wait before retry number n (0-based): 2^n seconds,
// capped at 30 seconds.
func BackoffDelay(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	if n > 5 {
		return maxBackoff
	}
	delay := time.Duration(1<<uint(n)) * time.Second
	if delay > maxBackoff {
		return maxBackoff
	}
	return delay
}

func retryDelay(n int, lastErr error) time.Duration {
	delay := BackoffDelay(n)
	var rlErr *ferrors.RateLimitError
	if errors.As(lastErr, &rlErr) && rlErr.RetryAfter > delay {
		delay = min(rlErr.RetryAfter, maxBackoff)
	}
	return delay
}

func retryReason(err error) string {
	switch {
	case errors.Is(err, errAttemptTimeout):
		return "timeout"
	case ferrors.IsBlocked(err):
		return "blocked"
	case ferrors.IsRateLimitError(err):
		return "rate_limited"
	default:
		return "network"
	}
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func withDefaults(opts Options) Options {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	return opts
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return u.Host
}

func contextSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 4096))
	_ = body.Close()
}

// idleBody cancels its request when no bytes arrive for idle, and always
// on Close.
type idleBody struct {
	io.ReadCloser
	idle   time.Duration
	timer  *time.Timer
	cancel context.CancelFunc
}

func newIdleBody(rc io.ReadCloser, idle time.Duration, cancel context.CancelFunc) *idleBody {
	b := &idleBody{ReadCloser: rc, idle: idle, cancel: cancel}
	if idle > 0 {
		b.timer = time.AfterFunc(idle, cancel)
	}
	return b
}

func (b *idleBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if n > 0 && b.timer != nil {
		b.timer.Reset(b.idle)
	}
	return n, err
}

func (b *idleBody) Close() error {
	if b.timer != nil {
		b.timer.Stop()
	}
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
