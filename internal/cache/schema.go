package cache

// SQL schemas for cache tables.
// All cache tables share the cache_key/data/cached_at/expires_at layout.

// Cache table names.
const (
	SearchTable  = "search_cache"
	ResolveTable = "resolve_cache"
)

// SearchCacheSchema stores search results keyed by source and query.
const SearchCacheSchema = `
CREATE TABLE IF NOT EXISTS search_cache (
	cache_key TEXT PRIMARY KEY NOT NULL,
	data TEXT NOT NULL,
	cached_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	expires_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_search_expires_at ON search_cache(expires_at);
`

// ResolveCacheSchema stores placeholder download resolutions, including
// negative answers.
const ResolveCacheSchema = `
CREATE TABLE IF NOT EXISTS resolve_cache (
	cache_key TEXT PRIMARY KEY NOT NULL,
	data TEXT NOT NULL,
	cached_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	expires_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_resolve_expires_at ON resolve_cache(expires_at);
`

// AllCacheSchemas contains all cache table schemas for easy initialization
var AllCacheSchemas = []string{
	SearchCacheSchema,
	ResolveCacheSchema,
}

// ValidCacheTableNames is the whitelist of allowed cache table names
// Used to prevent SQL injection when interpolating table names
var ValidCacheTableNames = map[string]bool{
	SearchTable:  true,
	ResolveTable: true,
}

// TableNames returns the cache tables in a stable order.
func TableNames() []string {
	return []string{SearchTable, ResolveTable}
}
