package aggregate

import (
	"slices"
	"strings"

	"github.com/lepinkainen/folio/internal/book"
)

// DedupeKey normalizes a title for duplicate detection: lowercased, reduced
// to ASCII letters and digits, truncated to prefix characters.
func DedupeKey(title string, prefix int) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(title) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
			if sb.Len() == prefix {
				break
			}
		}
	}
	return sb.String()
}

// Dedupe keeps the first record per DedupeKey, in input order. Records whose
// key is empty (titles with no ASCII letters or digits) are always kept.
func Dedupe(records []book.Record, prefix int) []book.Record {
	seen := make(map[string]bool, len(records))
	out := make([]book.Record, 0, len(records))
	for _, rec := range records {
		key := DedupeKey(rec.Title, prefix)
		if key != "" {
			if seen[key] {
				continue
			}
			seen[key] = true
		}
		out = append(out, rec)
	}
	return out
}

// Score ranks immediately actionable, popular books first.
func Score(rec book.Record) float64 {
	var score float64
	if rec.HasCover() {
		score += 2
	}
	if rec.HasDirectDownload() {
		score += 3
	}
	return score + float64(rec.DownloadCount)/10000
}

// Rank sorts records by Score, highest first. Equal scores keep input order.
func Rank(records []book.Record) {
	slices.SortStableFunc(records, func(a, b book.Record) int {
		sa, sb := Score(a), Score(b)
		switch {
		case sa > sb:
			return -1
		case sa < sb:
			return 1
		}
		return 0
	})
}
