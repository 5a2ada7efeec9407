package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lepinkainen/folio/internal/book"
	ferrors "github.com/lepinkainen/folio/internal/errors"
	"github.com/lepinkainen/folio/internal/fileutil"
	"github.com/lepinkainen/folio/internal/tui"
)

// selectBook is replaced in tests.
var selectBook = tui.Select

// SearchCmd runs a search against every source or a single one.
type SearchCmd struct {
	Query       string `short:"q" help:"Free-text query (title, author, keywords)"`
	Topic       string `help:"Subject or topic filter"`
	Author      string `help:"Author filter"`
	Language    string `help:"Two-letter language code, e.g. en"`
	Page        int    `help:"Result page, starting at 1" default:"1"`
	Sort        string `help:"Sort order for sources that support it" default:"popular" enum:"popular,ascending,descending"`
	Source      string `help:"Source id, or 'all' for every source" default:"all"`
	JSON        bool   `help:"Print the result as JSON"`
	YAML        bool   `help:"Print the result as YAML"`
	Save        string `help:"Also write the result as JSON to this file"`
	Interactive bool   `short:"i" help:"Pick a result in a terminal UI and download or open it"`
	Output      string `short:"o" help:"Directory for files downloaded from the picker" default:"."`
}

func (s *SearchCmd) query() book.Query {
	return book.Query{
		Query:    s.Query,
		Topic:    s.Topic,
		Author:   s.Author,
		Language: s.Language,
		Page:     s.Page,
		Sort:     s.Sort,
		Source:   s.Source,
	}
}

func (s *SearchCmd) Run(ctx context.Context) error {
	format, err := pickFormat(s.JSON, s.YAML)
	if err != nil {
		return err
	}
	q := s.query().Normalized()
	if q.Terms() == "" {
		return fmt.Errorf("nothing to search for: provide --query, --author or --topic")
	}

	return withApp(func(a *app) error {
		res, err := a.search.Search(ctx, q)
		if err != nil {
			return err
		}
		slog.Debug("Search finished", "books", len(res.Books), "page", res.CurrentPage, "error", res.Error)

		if s.Save != "" {
			if _, err := fileutil.WriteJSONFile(res, s.Save, true); err != nil {
				return err
			}
		}

		if s.Interactive {
			return s.pick(ctx, a, q, res)
		}

		structured, err := writeStructured(out, format, res)
		if structured || err != nil {
			return err
		}
		printResult(out, q, res)
		return nil
	})
}

// pick shows the picker and acts on the choice: direct downloads go
// through the proxy, anything else prints its preview link.
func (s *SearchCmd) pick(ctx context.Context, a *app, q book.Query, res book.Result) error {
	choice, err := selectBook(q.Terms(), res.Books)
	if err != nil {
		return fmt.Errorf("picker failed: %w", err)
	}

	switch choice.Action {
	case tui.ActionStopped:
		return ferrors.NewStopProcessingError("user quit the picker")
	case tui.ActionSelected:
	default:
		if len(res.Books) == 0 {
			printResult(out, q, res)
		}
		return nil
	}

	rec := choice.Selection
	if !rec.HasDirectDownload() {
		fmt.Fprintf(out, "%s has no direct download. Open: %s\n", rec.Title, rec.PreviewURL)
		return nil
	}
	return downloadTo(ctx, a, rec.DownloadURL, s.Output, false)
}
