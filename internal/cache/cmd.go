package cache

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/viper"
)

// ClearCacheCmd empties one or every cache table.
type ClearCacheCmd struct {
	Table       string `help:"Cache table to clear: search_cache, resolve_cache (default: all)" default:""`
	ExpiredOnly bool   `help:"Only remove expired entries" name:"expired-only"`
}

func (c *ClearCacheCmd) Run() error {
	dbPath := viper.GetString("cache.dbfile")

	tables := TableNames()
	if c.Table != "" {
		if !ValidCacheTableNames[c.Table] {
			return fmt.Errorf("invalid cache table '%s'; valid tables are: %s", c.Table, strings.Join(TableNames(), ", "))
		}
		tables = []string{c.Table}
	}

	slog.Info("Clearing cache", "tables", tables, "database", dbPath, "expired_only", c.ExpiredOnly)

	db, err := Open(dbPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			slog.Warn("Failed to close cache database", "error", err)
		}
	}()

	for _, table := range tables {
		var rows int64
		if c.ExpiredOnly {
			rows, err = db.ClearExpired(table)
		} else {
			rows, err = db.ClearAll(table)
		}
		if err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
		slog.Info("Cache cleared", "table", table, "rows_deleted", rows)
	}
	return nil
}
