package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/lepinkainen/humanlog"
	"github.com/spf13/viper"

	"github.com/lepinkainen/folio/internal/cache"
	"github.com/lepinkainen/folio/internal/config"
	ferrors "github.com/lepinkainen/folio/internal/errors"
)

// CLI represents the complete command structure for the folio application
type CLI struct {
	// Global flags
	LogLevel string `help:"Log level: debug, info, warn, error (default from config)"`

	// Cache flags
	CacheDBFile string `help:"Path to cache SQLite database file (default from config)"`
	CacheTTL    string `help:"Cache time-to-live duration, e.g. 1h (default from config)"`
	NoCache     bool   `help:"Disable the search and resolve cache"`

	Search   SearchCmd   `cmd:"" help:"Search every source, or one, for books"`
	Sources  SourcesCmd  `cmd:"" help:"List configured sources and their direct search links"`
	Resolve  ResolveCmd  `cmd:"" help:"Resolve an Internet Archive placeholder link to a real file"`
	Download DownloadCmd `cmd:"" help:"Download a book file through the integrity-checking proxy"`
	Serve    ServeCmd    `cmd:"" help:"Run the HTTP API"`
	Cache    CacheCmd    `cmd:"" help:"Manage the result cache"`
}

// CacheCmd groups cache maintenance commands.
type CacheCmd struct {
	Clear cache.ClearCacheCmd `cmd:"" help:"Clear cached search results and resolutions"`
}

func kongOptions() []kong.Option {
	return []kong.Option{
		kong.Name("folio"),
		kong.Description("Search free ebook catalogs and download validated book files."),
		kong.UsageOnError(),
	}
}

// Execute runs the Kong-based CLI
func Execute() {
	initLogging(slog.LevelInfo)
	if err := initConfig(); err != nil {
		slog.Error("Fatal error config file", "error", err)
		os.Exit(1)
	}

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cli CLI
	ctx := kong.Parse(&cli, append(kongOptions(), kong.BindTo(runCtx, (*context.Context)(nil)))...)

	updateGlobalConfig(&cli)
	initLogging(parseLevel(viper.GetString("log.level")))

	err := ctx.Run()
	if err != nil && !ferrors.IsStopProcessingError(err) {
		slog.Error("Command failed", "error", err)
		stop()
		os.Exit(1)
	}
}

// initConfig layers defaults, config.yaml and FOLIO_* environment variables
// on the global viper instance. A missing config file is written out with
// the defaults.
func initConfig() error {
	config.SetDefaults(viper.GetViper())

	viper.SetEnvPrefix("FOLIO")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	if err := viper.BindEnv("sources.googlebooks.api_key", "GOOGLE_BOOKS_API_KEY", "FOLIO_SOURCES_GOOGLEBOOKS_API_KEY"); err != nil {
		slog.Error("Failed to bind environment variable", "error", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return err
		}
		slog.Info("Config file not found, writing default config file")
		if err := viper.SafeWriteConfig(); err != nil {
			slog.Warn("Error writing config file", "error", err)
		}
	}
	return nil
}

// updateGlobalConfig lets explicit flags override the file and environment.
func updateGlobalConfig(cli *CLI) {
	if cli.LogLevel != "" {
		viper.Set("log.level", cli.LogLevel)
	}
	if cli.CacheDBFile != "" {
		viper.Set("cache.dbfile", cli.CacheDBFile)
	}
	if cli.CacheTTL != "" {
		viper.Set("cache.ttl", cli.CacheTTL)
	}
	if cli.NoCache {
		viper.Set("cache.enabled", false)
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// initLogging installs the human-readable handler. Logs go to stderr so
// --json and --yaml output on stdout stays machine-readable.
func initLogging(level slog.Level) {
	handler := humanlog.NewHandler(os.Stderr, &humanlog.Options{
		Level: level,
	})

	slog.SetDefault(slog.New(handler))
}
