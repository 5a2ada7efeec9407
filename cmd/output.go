package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lepinkainen/folio/internal/book"
)

// out receives command output. Logs go to stderr.
var out io.Writer = os.Stdout

type outputFormat int

const (
	formatText outputFormat = iota
	formatJSON
	formatYAML
)

func pickFormat(asJSON, asYAML bool) (outputFormat, error) {
	switch {
	case asJSON && asYAML:
		return formatText, fmt.Errorf("--json and --yaml are mutually exclusive")
	case asJSON:
		return formatJSON, nil
	case asYAML:
		return formatYAML, nil
	default:
		return formatText, nil
	}
}

// writeStructured writes v as JSON or YAML. It reports false for text output.
func writeStructured(w io.Writer, format outputFormat, v any) (bool, error) {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return true, err
		}
		return true, enc.Close()
	default:
		return false, nil
	}
}

func printResult(w io.Writer, q book.Query, res book.Result) {
	if len(res.Books) == 0 {
		fmt.Fprintf(w, "No books found for %q.\n", q.Terms())
	}
	for i, rec := range res.Books {
		fmt.Fprintf(w, "%2d. [%s] %s\n", i+1, rec.Source, rec.Title)
		meta := []string{rec.Author}
		if rec.PublishedYear > 0 {
			meta = append(meta, fmt.Sprint(rec.PublishedYear))
		}
		if len(rec.Languages) > 0 {
			meta = append(meta, strings.Join(rec.Languages, ","))
		}
		if rec.DownloadCount > 0 {
			meta = append(meta, fmt.Sprintf("%d downloads", rec.DownloadCount))
		}
		fmt.Fprintf(w, "    %s\n", strings.Join(meta, " | "))
		switch {
		case rec.DownloadURL != "":
			fmt.Fprintf(w, "    download: %s\n", rec.DownloadURL)
		case rec.PreviewURL != "":
			fmt.Fprintf(w, "    preview:  %s\n", rec.PreviewURL)
		}
	}

	fmt.Fprintf(w, "\nPage %d", res.CurrentPage)
	if res.TotalCount > 0 {
		fmt.Fprintf(w, " of about %d results", res.TotalCount)
	}
	if res.HasNext {
		fmt.Fprintf(w, ", next: --page %d", res.CurrentPage+1)
	}
	fmt.Fprintln(w)

	var failed []string
	for _, o := range res.Sources {
		if o.Error != "" {
			failed = append(failed, o.Error)
		}
	}
	if res.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", res.Error)
	}
	if len(failed) > 0 && res.Error == "" {
		fmt.Fprintf(w, "Unavailable: %s\n", strings.Join(failed, "; "))
	}

	if len(res.FallbackLinks) > 0 {
		fmt.Fprintln(w, "\nSearch directly:")
		for _, l := range res.FallbackLinks {
			fmt.Fprintf(w, "  %s %-22s %s\n", l.Emoji, l.Name, l.URL)
		}
	}
	if len(res.ExternalLinks) > 0 {
		fmt.Fprintln(w, "\nElsewhere:")
		for _, l := range res.ExternalLinks {
			fmt.Fprintf(w, "  %s %-22s %s\n", l.Emoji, l.Name, l.URL)
		}
	}
}

func printSources(w io.Writer, infos []book.SourceInfo) {
	for _, info := range infos {
		state := ""
		if !info.Enabled {
			state = " (disabled)"
		}
		fmt.Fprintf(w, "%s %-16s %-6s %s%s\n", info.Emoji, info.ID, info.Kind, info.Name, state)
		if info.Description != "" {
			fmt.Fprintf(w, "    %s\n", info.Description)
		}
		if info.DirectSearchURL != "" {
			fmt.Fprintf(w, "    %s\n", info.DirectSearchURL)
		}
	}
}
