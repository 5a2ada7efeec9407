package cmd

import (
	"log/slog"
	"os"
	"testing"

	"github.com/alecthomas/kong"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lepinkainen/folio/internal/config"
)

func resetCmdState(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Reset()
}

func parseCLI(t *testing.T, args ...string) (*CLI, *kong.Context) {
	t.Helper()

	originalArgs := os.Args
	os.Args = append([]string{"folio"}, args...)
	t.Cleanup(func() { os.Args = originalArgs })

	cli := &CLI{}
	ctx := kong.Parse(cli, append(kongOptions(),
		kong.Exit(func(code int) {
			t.Fatalf("unexpected Kong exit %d", code)
		}),
	)...)

	return cli, ctx
}

func TestUpdateGlobalConfig(t *testing.T) {
	resetCmdState(t)
	viper.Set("cache.enabled", true)

	updateGlobalConfig(&CLI{
		LogLevel:    "debug",
		CacheDBFile: "/tmp/folio-cache.db",
		CacheTTL:    "12h",
		NoCache:     true,
	})

	assert.Equal(t, "debug", viper.GetString("log.level"))
	assert.Equal(t, "/tmp/folio-cache.db", viper.GetString("cache.dbfile"))
	assert.Equal(t, "12h", viper.GetString("cache.ttl"))
	assert.False(t, viper.GetBool("cache.enabled"))
}

func TestUpdateGlobalConfig_EmptyFlagsKeepConfig(t *testing.T) {
	resetCmdState(t)
	viper.Set("cache.dbfile", "from-config.db")
	viper.Set("cache.enabled", true)

	updateGlobalConfig(&CLI{})

	assert.Equal(t, "from-config.db", viper.GetString("cache.dbfile"))
	assert.True(t, viper.GetBool("cache.enabled"))
}

func TestInitConfig_WritesDefaultsAndReadsEnv(t *testing.T) {
	resetCmdState(t)
	t.Chdir(t.TempDir())
	t.Setenv("FOLIO_AGGREGATOR_TARGET_COUNT", "7")
	t.Setenv("GOOGLE_BOOKS_API_KEY", "secret-key")

	require.NoError(t, initConfig())

	_, err := os.Stat("config.yaml")
	require.NoError(t, err, "a default config file is written on first run")

	cfg, err := config.Load(viper.GetViper())
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Aggregator.TargetCount)
	assert.Equal(t, "secret-key", cfg.Sources[config.GoogleBooks].APIKey)
	assert.Equal(t, 25, cfg.Aggregator.DedupePrefix)
}

func TestInitConfig_ReadsExistingFile(t *testing.T) {
	resetCmdState(t)
	t.Chdir(t.TempDir())
	require.NoError(t, os.WriteFile("config.yaml", []byte("server:\n  addr: \":9999\"\nproxy:\n  min_bytes: 2048\n"), 0o644))

	require.NoError(t, initConfig())

	cfg, err := config.Load(viper.GetViper())
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, 2048, cfg.Proxy.MinBytes)
}

func TestSearchCommandParsing(t *testing.T) {
	resetCmdState(t)

	cli, ctx := parseCLI(t, "search", "-q", "Dracula", "--source", "gutenberg", "--page", "2", "--json")

	assert.Equal(t, "search", ctx.Command())
	assert.Equal(t, "Dracula", cli.Search.Query)
	assert.Equal(t, "gutenberg", cli.Search.Source)
	assert.Equal(t, 2, cli.Search.Page)
	assert.True(t, cli.Search.JSON)
	assert.Equal(t, "popular", cli.Search.Sort)
	assert.Equal(t, ".", cli.Search.Output)
}

func TestSearchCommandDefaults(t *testing.T) {
	resetCmdState(t)

	cli, _ := parseCLI(t, "search", "--author", "Bram Stoker")

	assert.Equal(t, "all", cli.Search.Source)
	assert.Equal(t, 1, cli.Search.Page)
	assert.False(t, cli.Search.Interactive)
}

func TestGlobalFlagsParsing(t *testing.T) {
	resetCmdState(t)

	cli, ctx := parseCLI(t, "--log-level", "debug", "--no-cache", "--cache-ttl", "5m", "sources", "-q", "dune", "--yaml")

	assert.Equal(t, "sources", ctx.Command())
	assert.Equal(t, "debug", cli.LogLevel)
	assert.True(t, cli.NoCache)
	assert.Equal(t, "5m", cli.CacheTTL)
	assert.Equal(t, "dune", cli.Sources.Query)
	assert.True(t, cli.Sources.YAML)
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"chatty":  slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), in)
	}
}

func TestInitLogging(t *testing.T) {
	orig := slog.Default()
	t.Cleanup(func() { slog.SetDefault(orig) })

	initLogging(slog.LevelWarn)

	assert.NotSame(t, orig, slog.Default())
	assert.False(t, slog.Default().Enabled(t.Context(), slog.LevelInfo))
	assert.True(t, slog.Default().Enabled(t.Context(), slog.LevelWarn))
}
