package cmd

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/viper"

	"github.com/lepinkainen/folio/internal/aggregate"
	"github.com/lepinkainen/folio/internal/browser"
	"github.com/lepinkainen/folio/internal/cache"
	"github.com/lepinkainen/folio/internal/config"
	"github.com/lepinkainen/folio/internal/fetch"
	"github.com/lepinkainen/folio/internal/proxy"
	"github.com/lepinkainen/folio/internal/resolve"
	"github.com/lepinkainen/folio/internal/search"
	"github.com/lepinkainen/folio/internal/server"
	"github.com/lepinkainen/folio/internal/sources"
)

// app is every component a command may need, built from one Config.
type app struct {
	cfg      *config.Config
	cache    *cache.CacheDB
	registry *sources.Registry
	search   *search.Service
	resolver *resolve.Resolver
	proxy    *proxy.Proxy
}

// loadApp is replaced in tests.
var loadApp = func() (*app, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return buildApp(cfg, fetch.New())
}

func buildApp(cfg *config.Config, f *fetch.Fetcher) (*app, error) {
	a := &app{cfg: cfg}

	if cfg.Cache.Enabled {
		db, err := cache.Open(cfg.Cache.DBFile)
		if err != nil {
			return nil, err
		}
		a.cache = db
	}

	deps := sources.Deps{Fetcher: f}
	if cfg.Scrape.BrowserFallback {
		deps.Renderer = browser.New(browser.Options{
			Headless:     cfg.Scrape.Headless,
			Timeout:      cfg.Scrape.BrowserTimeout,
			BlockMarkers: cfg.Scrape.BlockMarkers,
		}, nil)
	}

	a.registry = sources.NewRegistry(cfg, deps)
	agg := aggregate.New(a.registry, cfg.Aggregator)

	var searchOpts []search.Option
	var resolveOpts []resolve.Option
	if a.cache != nil {
		searchOpts = append(searchOpts, search.WithCache(a.cache, cfg.Cache.TTL))
		resolveOpts = append(resolveOpts, resolve.WithCache(a.cache, cfg.Cache.TTL))
	}
	a.search = search.NewService(a.registry, agg, searchOpts...)
	a.resolver = resolve.New(cfg.Resolve, f, resolveOpts...)
	a.proxy = proxy.New(cfg.Proxy, f, a.resolver)

	slog.Debug("Components ready",
		"sources", a.registry.IDs(),
		"cache", a.cache != nil,
		"browser_fallback", cfg.Scrape.BrowserFallback)
	return a, nil
}

// server builds the HTTP API. A non-empty addr overrides the configured one.
func (a *app) server(addr string) *server.Server {
	cfg := a.cfg.Server
	if addr != "" {
		cfg.Addr = addr
	}
	return server.New(cfg, a.search, a.resolver, a.proxy)
}

func (a *app) Close() error {
	if a.cache == nil {
		return nil
	}
	if err := a.cache.Close(); err != nil {
		return errors.Join(errors.New("failed to close cache database"), err)
	}
	return nil
}

// withApp builds the app, runs fn and closes the app.
func withApp(fn func(a *app) error) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Warn("Cleanup failed", "error", err)
		}
	}()
	return fn(a)
}
