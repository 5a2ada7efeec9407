package search

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lepinkainen/folio/internal/aggregate"
	"github.com/lepinkainen/folio/internal/book"
	"github.com/lepinkainen/folio/internal/cache"
	"github.com/lepinkainen/folio/internal/config"
	"github.com/lepinkainen/folio/internal/sources"
	"github.com/lepinkainen/folio/internal/testutil"
)

type countingAdapter struct {
	id    string
	kind  string
	err   string
	calls atomic.Int32
}

func (c *countingAdapter) Info() book.SourceInfo {
	return book.SourceInfo{ID: c.id, Name: c.id, Kind: c.kind, Enabled: true}
}

func (c *countingAdapter) DirectSearchURL(query string) string {
	return "https://" + c.id + ".test/?q=" + query
}

func (c *countingAdapter) Search(_ context.Context, q book.Query) book.Result {
	c.calls.Add(1)
	res := book.Result{Books: []book.Record{}, CurrentPage: q.Page, Error: c.err}
	if c.err == "" {
		res.Books = append(res.Books, book.Record{ID: c.id + "-1", Source: c.id, Title: "A Book From " + c.id})
		res.TotalCount = 1
	}
	return res
}

func newTestService(t *testing.T, withCache bool, adapters ...sources.Adapter) *Service {
	t.Helper()

	reg := sources.NewEmptyRegistry()
	for _, a := range adapters {
		reg.Register(a)
	}
	agg := aggregate.New(reg, config.AggregatorConfig{TargetCount: 20, DedupePrefix: 25})

	var opts []Option
	if withCache {
		db, err := cache.Open(testutil.NewTestEnv(t).Path("cache.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })
		opts = append(opts, WithCache(db, time.Hour))
	}
	return NewService(reg, agg, opts...)
}

func TestSearch_RoutesSingleSource(t *testing.T) {
	a := &countingAdapter{id: "a", kind: book.KindAPI}
	b := &countingAdapter{id: "b", kind: book.KindAPI}
	svc := newTestService(t, false, a, b)

	res, err := svc.Search(context.Background(), book.Query{Query: "x", Source: "b"})

	require.NoError(t, err)
	require.Len(t, res.Books, 1)
	assert.Equal(t, "b", res.Books[0].Source)
	assert.Zero(t, a.calls.Load())
}

func TestSearch_AllUsesAggregator(t *testing.T) {
	a := &countingAdapter{id: "a", kind: book.KindAPI}
	b := &countingAdapter{id: "b", kind: book.KindAPI}
	svc := newTestService(t, false, a, b)

	res, err := svc.Search(context.Background(), book.Query{Query: "x"})

	require.NoError(t, err)
	assert.Len(t, res.Books, 2)
	assert.Len(t, res.FallbackLinks, 2)
}

func TestSearch_UnknownSource(t *testing.T) {
	svc := newTestService(t, false, &countingAdapter{id: "a", kind: book.KindAPI})

	_, err := svc.Search(context.Background(), book.Query{Query: "x", Source: "nope"})

	assert.True(t, errors.Is(err, ErrUnknownSource))
	assert.NoError(t, svc.ValidateSource(book.SourceAll))
	assert.NoError(t, svc.ValidateSource(""))
}

func TestSearch_CachesCleanResultsOnly(t *testing.T) {
	good := &countingAdapter{id: "good", kind: book.KindAPI}
	bad := &countingAdapter{id: "bad", kind: book.KindAPI, err: "bad: blocked"}
	svc := newTestService(t, true, good, bad)

	for range 3 {
		_, err := svc.Search(context.Background(), book.Query{Query: "x", Source: "good"})
		require.NoError(t, err)
		_, err = svc.Search(context.Background(), book.Query{Query: "x", Source: "bad"})
		require.NoError(t, err)
		_, err = svc.Search(context.Background(), book.Query{Query: "x"})
		require.NoError(t, err)
	}

	assert.Equal(t, int32(1+3), good.calls.Load(), "single-source result cached; partial aggregate is not")
	assert.Equal(t, int32(3+3), bad.calls.Load())
}

func TestSearch_CacheKeyUsesNormalizedQuery(t *testing.T) {
	a := &countingAdapter{id: "a", kind: book.KindAPI}
	svc := newTestService(t, true, a)

	_, err := svc.Search(context.Background(), book.Query{Query: "  Dracula ", Source: "a", Page: 0})
	require.NoError(t, err)
	_, err = svc.Search(context.Background(), book.Query{Query: "Dracula", Source: "a", Page: 1})
	require.NoError(t, err)

	assert.Equal(t, int32(1), a.calls.Load())
}

func TestSourcesAndDirectLink(t *testing.T) {
	svc := newTestService(t, false, &countingAdapter{id: "a", kind: book.KindAPI})

	infos := svc.Sources("moby")
	require.Len(t, infos, 1)
	assert.Equal(t, "https://a.test/?q=moby", infos[0].DirectSearchURL)

	link, err := svc.DirectLink("a", "dick")
	require.NoError(t, err)
	assert.Equal(t, "https://a.test/?q=dick", link)

	_, err = svc.DirectLink("zzz", "dick")
	assert.ErrorIs(t, err, ErrUnknownSource)
}
