package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lepinkainen/folio/internal/book"
)

func TestDedupeKey(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"Frankenstein", "frankenstein"},
		{"Frankenstein; Or, The Modern Prometheus", "frankensteinorthemodernpr"},
		{"  PRIDE & Prejudice!! ", "prideprejudice"},
		{"1984", "1984"},
		{"Война и мир", ""},
		{"", ""},
	}
	for _, tt := range tests {
		got := DedupeKey(tt.title, 25)
		assert.Equal(t, tt.want, got, tt.title)
		assert.Equal(t, got, DedupeKey(tt.title, 25), "key must be stable")
		assert.LessOrEqual(t, len(got), 25)
	}

	assert.Equal(t, "frank", DedupeKey("Frankenstein", 5))
}

func TestDedupe(t *testing.T) {
	records := []book.Record{
		{ID: "gutenberg-84", Title: "Frankenstein"},
		{ID: "openlibrary-1", Title: "frankenstein."},
		{ID: "x-1", Title: "Война и мир"},
		{ID: "x-2", Title: "Война и мир"},
		{ID: "archive-1", Title: "Dracula"},
	}

	out := Dedupe(records, 25)

	require.Len(t, out, 4)
	assert.Equal(t, "gutenberg-84", out[0].ID)
	assert.Equal(t, "x-1", out[1].ID)
	assert.Equal(t, "x-2", out[2].ID, "empty keys are never merged")
	assert.Equal(t, "archive-1", out[3].ID)

	keys := map[string]bool{}
	for _, r := range out {
		k := DedupeKey(r.Title, 25)
		if k == "" {
			continue
		}
		assert.False(t, keys[k], "duplicate key survived: %s", k)
		keys[k] = true
	}
}

func TestScore(t *testing.T) {
	assert.InDelta(t, 0.0, Score(book.Record{}), 1e-9)
	assert.InDelta(t, 2.0, Score(book.Record{Cover: "c"}), 1e-9)
	assert.InDelta(t, 3.0, Score(book.Record{DownloadURL: "d"}), 1e-9)
	assert.InDelta(t, 5.5, Score(book.Record{Cover: "c", DownloadURL: "d", DownloadCount: 5000}), 1e-9)
}

func TestRank_DeterministicAndStable(t *testing.T) {
	build := func() []book.Record {
		return []book.Record{
			{ID: "meta-only"},
			{ID: "cover", Cover: "c"},
			{ID: "download", DownloadURL: "d"},
			{ID: "popular", DownloadURL: "d", DownloadCount: 30000},
			{ID: "tie-a", Cover: "c"},
			{ID: "both", Cover: "c", DownloadURL: "d"},
		}
	}
	want := []string{"popular", "both", "download", "cover", "tie-a", "meta-only"}

	for range 5 {
		records := build()
		Rank(records)
		got := make([]string, len(records))
		for i, r := range records {
			got[i] = r.ID
		}
		assert.Equal(t, want, got)
	}
}
