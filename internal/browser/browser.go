// Package browser renders pages in headless Chrome through chromedp. It is
// the last resort for scraped sources whose mirrors all answered with
// script-gated challenge pages.
package browser

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

const (
	defaultTimeout      = 45 * time.Second
	defaultPollInterval = 500 * time.Millisecond

	defaultAcceptLanguage = "en-US,en;q=0.9"
)

// CDPRunner is the subset of chromedp used by the renderer.
type CDPRunner interface {
	NewExecAllocator(ctx context.Context, opts ...chromedp.ExecAllocatorOption) (context.Context, context.CancelFunc)
	NewContext(parent context.Context, opts ...chromedp.ContextOption) (context.Context, context.CancelFunc)
	Run(ctx context.Context, actions ...chromedp.Action) error
}

type chromedpRunner struct{}

func (chromedpRunner) NewExecAllocator(ctx context.Context, opts ...chromedp.ExecAllocatorOption) (context.Context, context.CancelFunc) {
	return chromedp.NewExecAllocator(ctx, opts...)
}

func (chromedpRunner) NewContext(parent context.Context, opts ...chromedp.ContextOption) (context.Context, context.CancelFunc) {
	return chromedp.NewContext(parent, opts...)
}

func (chromedpRunner) Run(ctx context.Context, actions ...chromedp.Action) error {
	return chromedp.Run(ctx, actions...)
}

// Options configures the renderer.
type Options struct {
	Headless  bool
	Timeout   time.Duration
	UserAgent string
	// AcceptLanguage is sent with every request the page makes.
	AcceptLanguage string
	// BlockMarkers are lowercase substrings of challenge pages. Rendering
	// keeps polling the DOM while one is present, giving the challenge
	// script time to redirect.
	BlockMarkers []string
	PollInterval time.Duration
}

// Renderer loads a URL in a fresh browser and returns the rendered HTML.
type Renderer struct {
	opts     Options
	runner   CDPRunner
	snapshot func(ctx context.Context) (string, error)
}

// New creates a Renderer. A nil runner uses chromedp directly.
func New(opts Options, runner CDPRunner) *Renderer {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.AcceptLanguage == "" {
		opts.AcceptLanguage = defaultAcceptLanguage
	}
	if runner == nil {
		runner = chromedpRunner{}
	}
	r := &Renderer{opts: opts, runner: runner}
	r.snapshot = r.outerHTML
	return r
}

// Render navigates to url and returns the page HTML once it is free of
// challenge markers. If the markers never clear before the timeout, the
// last snapshot is returned and the caller decides what to make of it.
func (r *Renderer) Render(ctx context.Context, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	allocCtx, cancelAllocator := r.runner.NewExecAllocator(ctx, buildExecAllocatorOptions(r.opts)...)
	defer cancelAllocator()

	browserCtx, cancelBrowser := r.runner.NewContext(allocCtx)
	defer cancelBrowser()

	slog.Debug("Rendering page in headless browser", "url", url, "headless", r.opts.Headless)
	if err := r.runner.Run(browserCtx, r.navigateActions(url)...); err != nil {
		return "", fmt.Errorf("failed to load %s in browser: %w", url, err)
	}

	var last string
	html, err := PollWithTimeout(browserCtx, r.opts.PollInterval, r.opts.Timeout, "challenge page to clear", func() (string, bool, error) {
		html, err := r.snapshot(browserCtx)
		if err != nil {
			return "", false, fmt.Errorf("failed to read page html: %w", err)
		}
		last = html
		return html, !hasMarker(html, r.opts.BlockMarkers), nil
	})
	if err != nil {
		if last != "" {
			slog.Debug("Challenge did not clear, returning last snapshot", "url", url, "error", err)
			return last, nil
		}
		return "", err
	}
	return html, nil
}

func (r *Renderer) navigateActions(url string) []chromedp.Action {
	return []chromedp.Action{
		network.Enable(),
		network.SetExtraHTTPHeaders(network.Headers{"Accept-Language": r.opts.AcceptLanguage}),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
}

func (r *Renderer) outerHTML(ctx context.Context) (string, error) {
	var html string
	if err := r.runner.Run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

func buildExecAllocatorOptions(opts Options) []chromedp.ExecAllocatorOption {
	flags := []chromedp.ExecAllocatorOption{
		chromedp.NoDefaultBrowserCheck,
		chromedp.NoFirstRun,
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.Flag("no-default-browser-check", true),
	}
	if opts.UserAgent != "" {
		flags = append(flags, chromedp.UserAgent(opts.UserAgent))
	}
	return flags
}

func hasMarker(html string, markers []string) bool {
	lower := bytes.ToLower([]byte(html))
	for _, m := range markers {
		if m != "" && bytes.Contains(lower, []byte(m)) {
			return true
		}
	}
	return false
}

// PollWithTimeout polls checkFunc at regular intervals until it reports
// found, returns an error, times out, or ctx is canceled.
func PollWithTimeout[T any](ctx context.Context, interval, timeout time.Duration, description string, checkFunc func() (T, bool, error)) (T, error) {
	var zero T
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	tries := 0
	for {
		result, found, err := checkFunc()
		if err != nil {
			return zero, err
		}
		if found {
			return result, nil
		}

		tries++
		if tries%5 == 0 {
			slog.Debug("Polling", "description", description, "tries", tries, "elapsed", time.Since(deadline.Add(-timeout)))
		}

		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("polling canceled for %s: %w", description, ctx.Err())
		case <-ticker.C:
			if time.Now().After(deadline) {
				return zero, fmt.Errorf("timeout waiting for %s", description)
			}
		}
	}
}
