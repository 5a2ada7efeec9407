package testutil

import (
	"testing"

	"github.com/spf13/viper"

	"github.com/lepinkainen/folio/internal/config"
)

// NewTestConfig returns the built-in configuration tuned for tests: no
// pacing, no retries and no circuit breakers, so every request hits the
// test server exactly once. Mutators run last.
func NewTestConfig(t *testing.T, mutate ...func(*config.Config)) *config.Config {
	t.Helper()

	cfg := config.Default()
	for id, sc := range cfg.Sources {
		sc.RequestsPerMinute = 0
		sc.MaxRetries = 0
		sc.APIKey = ""
		cfg.Sources[id] = sc
	}
	cfg.Breaker.Enabled = false
	cfg.Scrape.BrowserFallback = false
	cfg.Cache.Enabled = false
	cfg.Resolve.MaxRetries = 0
	cfg.Proxy.MaxRetries = 0

	for _, m := range mutate {
		m(cfg)
	}
	return cfg
}

// PointSourceAt redirects source id to baseURL: the API root for
// structured sources, or a single mirror for scraped ones.
func PointSourceAt(cfg *config.Config, id, baseURL string) {
	sc := cfg.Sources[id]
	sc.BaseURL = baseURL
	if len(sc.Mirrors) > 0 {
		sc.Mirrors = []string{baseURL}
	}
	cfg.Sources[id] = sc
}

// OnlySources disables every source not listed.
func OnlySources(cfg *config.Config, ids ...string) {
	keep := make(map[string]bool, len(ids))
	for _, id := range ids {
		keep[id] = true
	}
	for id, sc := range cfg.Sources {
		sc.Enabled = keep[id]
		cfg.Sources[id] = sc
	}
}

// ResetViper resets the global viper instance now and when the test completes.
func ResetViper(t *testing.T) {
	t.Helper()

	viper.Reset()
	t.Cleanup(viper.Reset)
}

// SetViperValue sets a viper configuration value and schedules cleanup.
func SetViperValue(t *testing.T, key string, value any) {
	t.Helper()

	// Get the old value (if any)
	oldValue := viper.Get(key)
	hadValue := viper.IsSet(key)

	// Set the new value
	viper.Set(key, value)

	// Schedule cleanup
	t.Cleanup(func() {
		if hadValue {
			viper.Set(key, oldValue)
		}
		// Note: viper doesn't have an Unset function, so we can't
		// restore the "unset" state. This is a known limitation.
	})
}

// SetupTestCache points viper's cache.dbfile into the sandbox and returns
// the database path.
func SetupTestCache(t *testing.T, env *TestEnv) string {
	t.Helper()

	env.MkdirAll("cache")
	dbPath := env.Path("cache", "test-cache.db")

	SetViperValue(t, "cache.dbfile", dbPath)
	SetViperValue(t, "cache.ttl", "24h")

	return dbPath
}
