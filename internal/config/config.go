// Package config builds the immutable runtime configuration from viper.
//
// The Config is constructed once at startup and passed by pointer into every
// component. Nothing mutates it after Load returns.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/lepinkainen/folio/internal/book"
)

// Source IDs, in dispatch order.
const (
	Gutenberg       = "gutenberg"
	OpenLibrary     = "openlibrary"
	InternetArchive = "archive"
	GoogleBooks     = "googlebooks"
	StandardEbooks  = "standardebooks"
	ManyBooks       = "manybooks"
	Feedbooks       = "feedbooks"
	FreeEbooks      = "freeebooks"
)

// SourceOrder is the fixed dispatch order. Deduplication is first-seen-wins
// in this order.
var SourceOrder = []string{
	Gutenberg, OpenLibrary, InternetArchive, GoogleBooks,
	StandardEbooks, ManyBooks, Feedbooks, FreeEbooks,
}

// SourceConfig holds the per-source settings.
type SourceConfig struct {
	ID          string
	Name        string
	Description string
	Emoji       string
	Kind        string
	Enabled     bool

	// BaseURL is the API root for structured sources.
	BaseURL string
	// Mirrors is the ordered list of base domains for scraped sources.
	Mirrors []string

	Timeout           time.Duration
	MaxRetries        int
	RetryBlocked      bool
	RequestsPerMinute int
	Burst             int
	PageSize          int
	APIKey            string
}

// AggregatorConfig controls the fan-out search.
type AggregatorConfig struct {
	// TargetCount is the unique-book count below which scraped sources are added.
	TargetCount int
	// DedupePrefix is the normalized-title prefix length used as dedup key.
	DedupePrefix int
	// ScrapeEnabled allows the opportunistic scrape phase at all.
	ScrapeEnabled bool
}

// ScrapeConfig holds settings shared by all scraped sources.
type ScrapeConfig struct {
	MinBodyBytes    int
	BlockMarkers    []string
	BrowserFallback bool
	BrowserTimeout  time.Duration
	Headless        bool
}

// BreakerConfig configures the per-source circuit breaker.
type BreakerConfig struct {
	Enabled             bool
	ConsecutiveFailures int
	OpenTimeout         time.Duration
}

// ResolveConfig configures placeholder download resolution.
type ResolveConfig struct {
	ArchiveBaseURL string
	Timeout        time.Duration
	MaxRetries     int
}

// ProxyConfig configures the download proxy.
type ProxyConfig struct {
	MinBytes int
	// Timeout bounds the wait for upstream response headers.
	Timeout time.Duration
	// IdleTimeout aborts a transfer that stalls for this long.
	IdleTimeout time.Duration
	MaxRetries  int
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr              string
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// CacheConfig configures the SQLite result cache.
type CacheConfig struct {
	Enabled bool
	DBFile  string
	TTL     time.Duration
}

// Config is the complete, read-only runtime configuration.
type Config struct {
	Sources    map[string]SourceConfig
	Aggregator AggregatorConfig
	Scrape     ScrapeConfig
	Breaker    BreakerConfig
	Resolve    ResolveConfig
	Proxy      ProxyConfig
	Server     ServerConfig
	Cache      CacheConfig
	LogLevel   string
}

type sourceDefaults struct {
	name, description, emoji, kind string
	baseURL                        string
	mirrors                        []string
	timeout                        time.Duration
	retries                        int
	retryBlocked                   bool
	rpm, burst, pageSize           int
}

var defaultSources = map[string]sourceDefaults{
	Gutenberg: {
		name: "Project Gutenberg", emoji: "📚", kind: book.KindAPI,
		description: "70,000+ free public domain ebooks",
		baseURL:     "https://gutendex.com",
		timeout:     15 * time.Second, retries: 2, rpm: 60, burst: 5, pageSize: 32,
	},
	OpenLibrary: {
		name: "Open Library", emoji: "🏛️", kind: book.KindAPI,
		description: "Internet Archive's open catalog with borrowable scans",
		baseURL:     "https://openlibrary.org",
		timeout:     12 * time.Second, retries: 2, rpm: 60, burst: 2, pageSize: 20,
	},
	InternetArchive: {
		name: "Internet Archive", emoji: "🗄️", kind: book.KindAPI,
		description: "Millions of digitized texts in EPUB and PDF",
		baseURL:     "https://archive.org",
		timeout:     15 * time.Second, retries: 2, rpm: 30, burst: 2, pageSize: 20,
	},
	GoogleBooks: {
		name: "Google Books", emoji: "🔎", kind: book.KindAPI,
		description: "Free ebooks from the Google Books catalog",
		baseURL:     "https://www.googleapis.com/books/v1",
		timeout:     12 * time.Second, retries: 2, rpm: 60, burst: 2, pageSize: 20,
	},
	StandardEbooks: {
		name: "Standard Ebooks", emoji: "✨", kind: book.KindScrape,
		description: "Carefully produced public domain ebooks",
		mirrors:     []string{"https://standardebooks.org", "https://www.standardebooks.org"},
		timeout:     20 * time.Second, retries: 1, retryBlocked: true, rpm: 12, burst: 2, pageSize: 12,
	},
	ManyBooks: {
		name: "ManyBooks", emoji: "📖", kind: book.KindScrape,
		description: "Free ebooks for every reader",
		mirrors:     []string{"https://manybooks.net", "https://www.manybooks.net"},
		timeout:     20 * time.Second, retries: 1, retryBlocked: true, rpm: 12, burst: 2, pageSize: 20,
	},
	Feedbooks: {
		name: "Feedbooks", emoji: "📰", kind: book.KindScrape,
		description: "Public domain section of Feedbooks",
		mirrors:     []string{"https://www.feedbooks.com", "https://feedbooks.com"},
		timeout:     20 * time.Second, retries: 1, retryBlocked: true, rpm: 12, burst: 2, pageSize: 20,
	},
	FreeEbooks: {
		name: "Free-eBooks.net", emoji: "🆓", kind: book.KindScrape,
		description: "Community-published free ebooks",
		mirrors:     []string{"https://www.free-ebooks.net", "https://free-ebooks.net"},
		timeout:     20 * time.Second, retries: 1, retryBlocked: true, rpm: 12, burst: 2, pageSize: 20,
	},
}

// DefaultBlockMarkers are lowercase substrings that identify block/challenge pages.
var DefaultBlockMarkers = []string{
	"access denied",
	"cf-browser-verification",
	"just a moment...",
	"attention required",
	"captcha",
	"403 forbidden",
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")

	for id, d := range defaultSources {
		prefix := "sources." + id + "."
		v.SetDefault(prefix+"enabled", true)
		v.SetDefault(prefix+"name", d.name)
		v.SetDefault(prefix+"description", d.description)
		v.SetDefault(prefix+"emoji", d.emoji)
		if d.baseURL != "" {
			v.SetDefault(prefix+"base_url", d.baseURL)
		}
		if len(d.mirrors) > 0 {
			v.SetDefault(prefix+"mirrors", d.mirrors)
		}
		v.SetDefault(prefix+"timeout", d.timeout.String())
		v.SetDefault(prefix+"max_retries", d.retries)
		v.SetDefault(prefix+"retry_blocked", d.retryBlocked)
		v.SetDefault(prefix+"requests_per_minute", d.rpm)
		v.SetDefault(prefix+"burst", d.burst)
		v.SetDefault(prefix+"page_size", d.pageSize)
	}
	v.SetDefault("sources.googlebooks.api_key", "")

	v.SetDefault("aggregator.target_count", 20)
	v.SetDefault("aggregator.dedupe_prefix", 25)
	v.SetDefault("aggregator.scrape_enabled", true)

	v.SetDefault("scrape.min_body_bytes", 1000)
	v.SetDefault("scrape.block_markers", DefaultBlockMarkers)
	v.SetDefault("scrape.browser_fallback", false)
	v.SetDefault("scrape.browser_timeout", "45s")
	v.SetDefault("scrape.headless", true)

	v.SetDefault("breaker.enabled", true)
	v.SetDefault("breaker.consecutive_failures", 5)
	v.SetDefault("breaker.open_timeout", "2m")

	v.SetDefault("resolve.archive_base_url", "https://archive.org")
	v.SetDefault("resolve.timeout", "15s")
	v.SetDefault("resolve.max_retries", 1)

	v.SetDefault("proxy.min_bytes", 1000)
	v.SetDefault("proxy.timeout", "60s")
	v.SetDefault("proxy.idle_timeout", "30s")
	v.SetDefault("proxy.max_retries", 1)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.rate_limit_requests", 60)
	v.SetDefault("server.rate_limit_window", "1m")

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.dbfile", "./cache.db")
	v.SetDefault("cache.ttl", "1h")
}

// Load builds a Config from v. Defaults must already be registered with SetDefaults.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Sources:  make(map[string]SourceConfig, len(SourceOrder)),
		LogLevel: v.GetString("log.level"),
	}

	for _, id := range SourceOrder {
		sc, err := loadSource(v, id)
		if err != nil {
			return nil, err
		}
		cfg.Sources[id] = sc
	}

	cfg.Aggregator = AggregatorConfig{
		TargetCount:   v.GetInt("aggregator.target_count"),
		DedupePrefix:  v.GetInt("aggregator.dedupe_prefix"),
		ScrapeEnabled: v.GetBool("aggregator.scrape_enabled"),
	}
	if cfg.Aggregator.DedupePrefix <= 0 {
		return nil, fmt.Errorf("aggregator.dedupe_prefix must be positive, got %d", cfg.Aggregator.DedupePrefix)
	}

	raw := v.GetStringSlice("scrape.block_markers")
	markers := make([]string, 0, len(raw))
	for _, m := range raw {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			markers = append(markers, m)
		}
	}
	var err error
	cfg.Scrape = ScrapeConfig{
		MinBodyBytes:    v.GetInt("scrape.min_body_bytes"),
		BlockMarkers:    markers,
		BrowserFallback: v.GetBool("scrape.browser_fallback"),
		Headless:        v.GetBool("scrape.headless"),
	}
	if cfg.Scrape.BrowserTimeout, err = duration(v, "scrape.browser_timeout"); err != nil {
		return nil, err
	}

	cfg.Breaker = BreakerConfig{
		Enabled:             v.GetBool("breaker.enabled"),
		ConsecutiveFailures: v.GetInt("breaker.consecutive_failures"),
	}
	if cfg.Breaker.OpenTimeout, err = duration(v, "breaker.open_timeout"); err != nil {
		return nil, err
	}

	cfg.Resolve = ResolveConfig{
		ArchiveBaseURL: strings.TrimSuffix(v.GetString("resolve.archive_base_url"), "/"),
		MaxRetries:     v.GetInt("resolve.max_retries"),
	}
	if cfg.Resolve.Timeout, err = duration(v, "resolve.timeout"); err != nil {
		return nil, err
	}

	cfg.Proxy = ProxyConfig{
		MinBytes:   v.GetInt("proxy.min_bytes"),
		MaxRetries: v.GetInt("proxy.max_retries"),
	}
	if cfg.Proxy.Timeout, err = duration(v, "proxy.timeout"); err != nil {
		return nil, err
	}
	if cfg.Proxy.IdleTimeout, err = duration(v, "proxy.idle_timeout"); err != nil {
		return nil, err
	}

	cfg.Server = ServerConfig{
		Addr:              v.GetString("server.addr"),
		RateLimitRequests: v.GetInt("server.rate_limit_requests"),
	}
	if cfg.Server.RateLimitWindow, err = duration(v, "server.rate_limit_window"); err != nil {
		return nil, err
	}

	cfg.Cache = CacheConfig{
		Enabled: v.GetBool("cache.enabled"),
		DBFile:  v.GetString("cache.dbfile"),
	}
	if cfg.Cache.TTL, err = duration(v, "cache.ttl"); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns the configuration with only built-in defaults applied.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := Load(v)
	if err != nil {
		// Built-in defaults are static; failing here is a programming error.
		panic(fmt.Sprintf("invalid built-in config defaults: %v", err))
	}
	return cfg
}

func loadSource(v *viper.Viper, id string) (SourceConfig, error) {
	d := defaultSources[id]
	prefix := "sources." + id + "."

	timeout, err := duration(v, prefix+"timeout")
	if err != nil {
		return SourceConfig{}, err
	}

	sc := SourceConfig{
		ID:                id,
		Name:              v.GetString(prefix + "name"),
		Description:       v.GetString(prefix + "description"),
		Emoji:             v.GetString(prefix + "emoji"),
		Kind:              d.kind,
		Enabled:           v.GetBool(prefix + "enabled"),
		BaseURL:           strings.TrimSuffix(v.GetString(prefix+"base_url"), "/"),
		Timeout:           timeout,
		MaxRetries:        v.GetInt(prefix + "max_retries"),
		RetryBlocked:      v.GetBool(prefix + "retry_blocked"),
		RequestsPerMinute: v.GetInt(prefix + "requests_per_minute"),
		Burst:             v.GetInt(prefix + "burst"),
		PageSize:          v.GetInt(prefix + "page_size"),
		APIKey:            v.GetString(prefix + "api_key"),
	}
	for _, m := range v.GetStringSlice(prefix + "mirrors") {
		if m = strings.TrimSuffix(strings.TrimSpace(m), "/"); m != "" {
			sc.Mirrors = append(sc.Mirrors, m)
		}
	}

	if sc.Kind == book.KindScrape && len(sc.Mirrors) == 0 {
		return SourceConfig{}, fmt.Errorf("source %s: at least one mirror is required", id)
	}
	if sc.MaxRetries < 0 {
		return SourceConfig{}, fmt.Errorf("source %s: max_retries must not be negative", id)
	}
	if sc.PageSize <= 0 {
		sc.PageSize = d.pageSize
	}
	return sc, nil
}

func duration(v *viper.Viper, key string) (time.Duration, error) {
	raw := v.GetString(key)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s (%q): %w", key, raw, err)
	}
	return d, nil
}

// Source returns the config for id and whether it exists.
func (c *Config) Source(id string) (SourceConfig, bool) {
	sc, ok := c.Sources[id]
	return sc, ok
}

// EnabledSources returns enabled source configs of the given kind in dispatch order.
// An empty kind matches every source.
func (c *Config) EnabledSources(kind string) []SourceConfig {
	out := make([]SourceConfig, 0, len(SourceOrder))
	for _, id := range SourceOrder {
		sc, ok := c.Sources[id]
		if !ok || !sc.Enabled {
			continue
		}
		if kind != "" && sc.Kind != kind {
			continue
		}
		out = append(out, sc)
	}
	return out
}
