package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/lepinkainen/folio/internal/fileutil"
)

// SourcesCmd lists the configured sources.
type SourcesCmd struct {
	Query string `short:"q" help:"Build each source's direct search link for this query"`
	JSON  bool   `help:"Print as JSON"`
	YAML  bool   `help:"Print as YAML"`
}

func (s *SourcesCmd) Run() error {
	format, err := pickFormat(s.JSON, s.YAML)
	if err != nil {
		return err
	}
	return withApp(func(a *app) error {
		infos := a.search.Sources(s.Query)
		structured, err := writeStructured(out, format, infos)
		if structured || err != nil {
			return err
		}
		printSources(out, infos)
		return nil
	})
}

// ResolveCmd resolves a placeholder download link.
type ResolveCmd struct {
	URL string `arg:"" help:"Download link, e.g. https://archive.org/download/<identifier>"`
}

func (r *ResolveCmd) Run(ctx context.Context) error {
	return withApp(func(a *app) error {
		resolved, err := a.resolver.Resolve(ctx, r.URL)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, resolved)
		return nil
	})
}

// DownloadCmd fetches a book file through the proxy and saves it.
type DownloadCmd struct {
	URL       string `arg:"" help:"Download link; placeholder links are resolved first"`
	Output    string `short:"o" help:"Directory to save the file in" default:"."`
	Overwrite bool   `help:"Replace an existing file with the same name"`
}

func (d *DownloadCmd) Run(ctx context.Context) error {
	return withApp(func(a *app) error {
		return downloadTo(ctx, a, d.URL, d.Output, d.Overwrite)
	})
}

func downloadTo(ctx context.Context, a *app, rawURL, dir string, overwrite bool) error {
	dl, err := a.proxy.Open(ctx, strings.TrimSpace(rawURL))
	if err != nil {
		return err
	}
	defer func() {
		if err := dl.Body.Close(); err != nil {
			slog.Debug("Closing download body failed", "error", err)
		}
	}()

	target := filepath.Join(dir, dl.Filename)
	n, err := fileutil.WriteStream(target, dl.Body, overwrite)
	if err != nil {
		return err
	}
	if n < 0 {
		fmt.Fprintf(out, "Skipped %s: file exists (use --overwrite)\n", target)
		return nil
	}
	slog.Info("Downloaded", "file", target, "bytes", n, "content_type", dl.ContentType)
	fmt.Fprintln(out, target)
	return nil
}

// ServeCmd runs the HTTP API until interrupted.
type ServeCmd struct {
	Addr string `help:"Listen address (default from config)"`
}

func (s *ServeCmd) Run(ctx context.Context) error {
	return withApp(func(a *app) error {
		return a.server(s.Addr).ListenAndServe(ctx)
	})
}
