// Package cache is a small SQLite-backed key/value cache for search results
// and download resolutions. Values are stored as JSON with a per-entry expiry.
package cache

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lepinkainen/folio/internal/metrics"
)

const (
	// DefaultCacheTTL is the default time-to-live for cached entries.
	DefaultCacheTTL = time.Hour
	// NegativeCacheTTL is the TTL for "not found" answers (7 days).
	NegativeCacheTTL = 168 * time.Hour
)

// FetchFunc represents a function that fetches data from an external source
type FetchFunc[T any] func() (T, error)

// Policy controls what GetOrFetchWithPolicy stores and for how long.
type Policy[T any] struct {
	// ShouldCache decides whether a fetched value is stored. Nil stores everything.
	ShouldCache func(T) bool
	// TTL picks the lifetime of a value. Nil uses the ttl passed to the call.
	TTL func(T) time.Duration
}

// CacheDB manages the SQLite database connection for caching
type CacheDB struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open opens (creating if needed) the cache database at dbPath and ensures
// every cache table exists.
func Open(dbPath string) (*CacheDB, error) {
	c, err := NewCacheDB(dbPath)
	if err != nil {
		return nil, err
	}
	for _, schema := range AllCacheSchemas {
		if err := c.CreateTable(schema); err != nil {
			return nil, errors.Join(fmt.Errorf("failed to create cache table: %w", err), c.Close())
		}
	}
	return c, nil
}

// NewCacheDB creates a new CacheDB instance and opens the database connection
func NewCacheDB(dbPath string) (*CacheDB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	// SQLite serializes writers anyway; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		closeErr := db.Close()
		return nil, errors.Join(fmt.Errorf("failed to connect to cache database: %w", err), closeErr)
	}

	return &CacheDB{
		db: db,
	}, nil
}

// CreateTable creates a table using the provided schema
func (c *CacheDB) CreateTable(schema string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	return nil
}

// Close closes the database connection
func (c *CacheDB) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// GetOrFetch returns the cached value for key in tableName, or calls fetchFunc
// and stores its result for ttl. The bool reports a cache hit.
//
// A nil *CacheDB disables caching: fetchFunc is always called. Cache failures
// are logged and never fail the call.
func GetOrFetch[T any](c *CacheDB, tableName, cacheKey string, ttl time.Duration, fetchFunc FetchFunc[T]) (T, bool, error) {
	return GetOrFetchWithPolicy(c, tableName, cacheKey, ttl, fetchFunc, Policy[T]{})
}

// GetOrFetchWithPolicy is GetOrFetch with control over which values are
// stored and for how long.
func GetOrFetchWithPolicy[T any](c *CacheDB, tableName, cacheKey string, ttl time.Duration, fetchFunc FetchFunc[T], policy Policy[T]) (T, bool, error) {
	var zero T

	if c == nil {
		data, err := fetchFunc()
		return data, false, err
	}

	cached, fromCache, err := c.Get(tableName, cacheKey)
	if err != nil {
		slog.Warn("Cache lookup failed, fetching directly", "table", tableName, "error", err)
	}
	if err == nil && fromCache {
		var result T
		if err := json.Unmarshal([]byte(cached), &result); err == nil {
			slog.Debug("Cache hit", "table", tableName, "key", cacheKey)
			metrics.CacheLookups.WithLabelValues(tableName, "hit").Inc()
			return result, true, nil
		}
		slog.Warn("Failed to unmarshal cached data, will refetch", "table", tableName, "key", cacheKey, "error", err)
	}
	metrics.CacheLookups.WithLabelValues(tableName, "miss").Inc()

	slog.Debug("Cache miss, fetching data", "table", tableName, "key", cacheKey)
	data, err := fetchFunc()
	if err != nil {
		return zero, false, err
	}

	if policy.ShouldCache != nil && !policy.ShouldCache(data) {
		slog.Debug("Skipping cache store per policy", "table", tableName, "key", cacheKey)
		return data, false, nil
	}
	if policy.TTL != nil {
		ttl = policy.TTL(data)
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		slog.Warn("Failed to marshal data for caching", "table", tableName, "key", cacheKey, "error", err)
		return data, false, nil
	}
	if err := c.Set(tableName, cacheKey, string(jsonData), ttl); err != nil {
		// Caching failure shouldn't stop the caller.
		slog.Warn("Failed to cache data", "table", tableName, "key", cacheKey, "error", err)
	} else {
		slog.Debug("Data cached", "table", tableName, "key", cacheKey, "ttl", ttl)
	}

	return data, false, nil
}

// SelectNegativeCacheTTL returns a TTL selector that keeps "not found"
// answers for NegativeCacheTTL and everything else for ttl.
func SelectNegativeCacheTTL[T any](ttl time.Duration, isNotFound func(T) bool) func(T) time.Duration {
	return func(result T) time.Duration {
		if isNotFound(result) {
			return NegativeCacheTTL
		}
		return ttl
	}
}

// Get retrieves an unexpired cached value from the specified table.
// Returns the cached data, whether it was found, and any error.
func (c *CacheDB) Get(tableName, key string) (string, bool, error) {
	if err := validateTableName(tableName); err != nil {
		return "", false, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	query := fmt.Sprintf(`
		SELECT data, expires_at
		FROM %s
		WHERE cache_key = ?
	`, tableName)

	var data string
	var expiresAt time.Time
	err := c.db.QueryRow(query, key).Scan(&data, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to query cache: %w", err)
	}

	if time.Now().UTC().After(expiresAt) {
		slog.Debug("Cache expired", "table", tableName, "key", key, "expired_at", expiresAt)
		return "", false, nil
	}

	return data, true, nil
}

// Set stores a value in the cache for ttl.
func (c *CacheDB) Set(tableName, key, data string, ttl time.Duration) error {
	if err := validateTableName(tableName); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UTC()
	query := fmt.Sprintf(`
		INSERT OR REPLACE INTO %s (cache_key, data, cached_at, expires_at)
		VALUES (?, ?, ?, ?)
	`, tableName)

	if _, err := c.db.Exec(query, key, data, now, now.Add(ttl)); err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
	}
	return nil
}

// ClearExpired removes expired entries from the specified table and returns
// how many were removed.
func (c *CacheDB) ClearExpired(tableName string) (int64, error) {
	if err := validateTableName(tableName); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	query := fmt.Sprintf(`DELETE FROM %s WHERE expires_at < ?`, tableName)
	result, err := c.db.Exec(query, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to clear expired cache: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows > 0 {
		slog.Info("Cleared expired cache entries", "table", tableName, "count", rows)
	}
	return rows, nil
}

// ClearAll deletes all entries from the specified table and returns the
// number of rows deleted.
func (c *CacheDB) ClearAll(tableName string) (int64, error) {
	if err := validateTableName(tableName); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	result, err := c.db.Exec(fmt.Sprintf("DELETE FROM %s", tableName))
	if err != nil {
		return 0, fmt.Errorf("failed to clear cache: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	slog.Debug("Cache table cleared", "table", tableName, "rows_deleted", rows)
	return rows, nil
}

// CacheExists checks if an unexpired cache entry exists for the given key
func (c *CacheDB) CacheExists(tableName, key string) bool {
	_, found, err := c.Get(tableName, key)
	return err == nil && found
}

// validateTableName checks if the table name is in the whitelist
// to prevent SQL injection attacks
func validateTableName(tableName string) error {
	if !ValidCacheTableNames[tableName] {
		return fmt.Errorf("invalid cache table name: %s", tableName)
	}
	return nil
}
