package indexer_test

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snapetech/stalkerportal/internal/auth"
	"github.com/snapetech/stalkerportal/internal/catalog"
	"github.com/snapetech/stalkerportal/internal/httpclient"
	"github.com/snapetech/stalkerportal/internal/identity"
	"github.com/snapetech/stalkerportal/internal/indexer"
	"github.com/snapetech/stalkerportal/internal/portal"
	"github.com/snapetech/stalkerportal/internal/portal/portaltest"
)

func newFetcher(t *testing.T, srv *portaltest.Server, d portal.Dialect) *indexer.Fetcher {
	t.Helper()
	srv.StandardAuth("T")
	conn, err := portal.NewConn(portal.Config{
		BaseURL: srv.URL,
		Dialect: d,
		MAC:     "00:1A:79:00:00:02",
		Client:  srv.Client(),
		Retry:   &httpclient.NoRetry,
	})
	require.NoError(t, err)
	id, err := identity.Derive(conn.MAC())
	require.NoError(t, err)
	s, err := auth.New(auth.Config{Conn: conn, Identity: id})
	require.NoError(t, err)
	f, err := indexer.New(indexer.Config{Session: s, Dialect: d, Workers: 3})
	require.NoError(t, err)
	return f
}

// pager serves total items perPage at a time; ids run 1..total and names
// are zero-padded so name order matches id order.
func pager(total, perPage, firstPage int, rowFn func(id int) map[string]any) portaltest.Handler {
	return func(r portaltest.Request) (int, any) {
		p, _ := strconv.Atoi(r.Query.Get("p"))
		idx := p - firstPage
		var rows []any
		for id := idx*perPage + 1; id <= total && id <= (idx+1)*perPage; id++ {
			row := map[string]any{"id": strconv.Itoa(id), "name": fmt.Sprintf("Item %03d", id), "cmd": fmt.Sprintf("ffmpeg http://s/%d", id)}
			if rowFn != nil {
				for k, v := range rowFn(id) {
					row[k] = v
				}
			}
			rows = append(rows, row)
		}
		return 0, map[string]any{"total_items": strconv.Itoa(total), "max_page_items": perPage, "data": rows}
	}
}

func TestFetchAllPaginatesConcurrently(t *testing.T) {
	srv := portaltest.New(t)
	srv.Handle("itv", "get_ordered_list", pager(47, 14, 1, nil))
	f := newFetcher(t, srv, portal.DialectExtended)

	res, err := f.FetchAll(context.Background(), indexer.Query{Kind: catalog.KindLive, CategoryID: "5"})
	require.NoError(t, err)
	assert.Equal(t, 47, res.TotalItems)
	assert.Equal(t, 4, res.Pages)
	assert.Empty(t, res.FailedPages)
	require.Len(t, res.Items, 47)
	assert.Equal(t, 4, srv.Calls("itv", "get_ordered_list"))

	seen := map[string]bool{}
	for i, it := range res.Items {
		assert.False(t, seen[it.Key()], "duplicate %s", it.Key())
		seen[it.Key()] = true
		assert.Equal(t, catalog.ItemChannel, it.Type)
		assert.Equal(t, fmt.Sprintf("Item %03d", i+1), it.Name)
	}
	r, _ := srv.Last("itv", "get_ordered_list")
	assert.Equal(t, "5", r.Query.Get("genre"))
}

func TestFetchAllHonoursMaxPages(t *testing.T) {
	for _, tc := range []struct {
		maxPages  int
		wantCalls int
		wantMax   int
	}{
		{maxPages: 1, wantCalls: 1, wantMax: 14},
		{maxPages: 2, wantCalls: 2, wantMax: 28},
		{maxPages: 9, wantCalls: 4, wantMax: 47},
	} {
		t.Run(strconv.Itoa(tc.maxPages), func(t *testing.T) {
			srv := portaltest.New(t)
			srv.Handle("itv", "get_ordered_list", pager(47, 14, 1, nil))
			f := newFetcher(t, srv, portal.DialectExtended)
			res, err := f.FetchAll(context.Background(), indexer.Query{Kind: catalog.KindLive, CategoryID: "1", MaxPages: tc.maxPages})
			require.NoError(t, err)
			assert.Equal(t, tc.wantCalls, srv.Calls("itv", "get_ordered_list"))
			assert.LessOrEqual(t, len(res.Items), tc.wantMax)
		})
	}
}

func TestFetchAllSkipsFailedPage(t *testing.T) {
	srv := portaltest.New(t)
	ok := pager(47, 14, 1, nil)
	srv.Handle("itv", "get_ordered_list", func(r portaltest.Request) (int, any) {
		if r.Query.Get("p") == "3" {
			return http.StatusBadRequest, nil
		}
		return ok(r)
	})
	f := newFetcher(t, srv, portal.DialectExtended)

	res, err := f.FetchAll(context.Background(), indexer.Query{Kind: catalog.KindLive, CategoryID: "1"})
	require.NoError(t, err)
	assert.Equal(t, []int{3}, res.FailedPages)
	assert.Len(t, res.Items, 47-14)
	assert.LessOrEqual(t, len(res.Items), res.TotalItems)
}

func TestFetchAllFirstPageFailure(t *testing.T) {
	srv := portaltest.New(t)
	srv.Handle("itv", "get_ordered_list", func(portaltest.Request) (int, any) { return http.StatusBadRequest, nil })
	f := newFetcher(t, srv, portal.DialectExtended)

	progress := make(chan indexer.Progress, 8)
	res, err := f.FetchAll(context.Background(), indexer.Query{Kind: catalog.KindLive, CategoryID: "1", Progress: progress})
	require.ErrorIs(t, err, portal.ErrCatalogFetch)
	require.NotNil(t, res)
	assert.Empty(t, res.Items)
	assert.Equal(t, 1, srv.Calls("itv", "get_ordered_list"))

	var last indexer.Progress
	for len(progress) > 0 {
		last = <-progress
	}
	assert.Equal(t, 100, last.Percent)
}

func TestFetchAllEmptyFirstPage(t *testing.T) {
	srv := portaltest.New(t)
	srv.JSON("itv", "get_ordered_list", map[string]any{"total_items": 30, "data": []any{}})
	f := newFetcher(t, srv, portal.DialectExtended)

	res, err := f.FetchAll(context.Background(), indexer.Query{Kind: catalog.KindLive, CategoryID: "1"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pages)
	assert.Empty(t, res.Items)
	assert.Equal(t, 1, srv.Calls("itv", "get_ordered_list"))
}

func TestFetchAllDedupesAcrossPages(t *testing.T) {
	srv := portaltest.New(t)
	srv.Handle("itv", "get_ordered_list", func(r portaltest.Request) (int, any) {
		rows := []any{map[string]any{"id": "1", "name": "A"}, map[string]any{"id": "2", "name": "B"}}
		if r.Query.Get("p") == "2" {
			rows = []any{map[string]any{"id": "2", "name": "B again"}, map[string]any{"id": "3", "name": "C"}}
		}
		return 0, map[string]any{"total_items": 4, "data": rows}
	})
	f := newFetcher(t, srv, portal.DialectExtended)

	res, err := f.FetchAll(context.Background(), indexer.Query{Kind: catalog.KindLive, CategoryID: "1"})
	require.NoError(t, err)
	require.Len(t, res.Items, 3)
	assert.Equal(t, "B", res.Items[1].Name, "first occurrence wins")
}

func TestFetchAllFilters(t *testing.T) {
	mixed := func(id int) map[string]any {
		if id%2 == 0 {
			return map[string]any{"is_series": "1"}
		}
		return map[string]any{"is_series": 0}
	}
	cases := []struct {
		name   string
		kind   catalog.Kind
		filter catalog.Filter
		want   int
		typ    catalog.ItemType
	}{
		{"movies default", catalog.KindMovies, catalog.FilterAuto, 5, catalog.ItemVod},
		{"series default", catalog.KindSeries, catalog.FilterAuto, 5, catalog.ItemSeries},
		{"movies all", catalog.KindMovies, catalog.FilterAll, 10, catalog.ItemVod},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := portaltest.New(t)
			srv.Handle("vod", "get_ordered_list", pager(10, 10, 1, mixed))
			f := newFetcher(t, srv, portal.DialectExtended)
			res, err := f.FetchAll(context.Background(), indexer.Query{Kind: tc.kind, CategoryID: "7", Filter: tc.filter})
			require.NoError(t, err)
			assert.Len(t, res.Items, tc.want)
			assert.Equal(t, tc.typ, res.Items[0].Type)
			r, _ := srv.Last("vod", "get_ordered_list")
			assert.Equal(t, "7", r.Query.Get("category"))
		})
	}
}

func TestFetchAllSimpleDialectSeries(t *testing.T) {
	srv := portaltest.New(t)
	srv.Handle("series", "get_ordered_list", pager(20, 10, 0, nil))
	f := newFetcher(t, srv, portal.DialectSimple)

	res, err := f.FetchAll(context.Background(), indexer.Query{Kind: catalog.KindSeries, CategoryID: "3"})
	require.NoError(t, err)
	require.Len(t, res.Items, 20)
	assert.True(t, res.Items[0].IsSeries)
	assert.Equal(t, "1", res.Items[0].SeriesID)

	var pages []string
	for _, r := range srv.Requests() {
		if r.Query.Get("action") == "get_ordered_list" {
			pages = append(pages, r.Query.Get("p"))
		}
	}
	assert.ElementsMatch(t, []string{"0", "1"}, pages)
}

func TestFetchAllProgress(t *testing.T) {
	srv := portaltest.New(t)
	srv.Handle("itv", "get_ordered_list", pager(47, 14, 1, nil))
	f := newFetcher(t, srv, portal.DialectExtended)

	progress := make(chan indexer.Progress, 16)
	res, err := f.FetchAll(context.Background(), indexer.Query{Kind: catalog.KindLive, CategoryID: "1", Progress: progress})
	require.NoError(t, err)
	close(progress)

	var got []indexer.Progress
	for p := range progress {
		got = append(got, p)
	}
	require.NotEmpty(t, got)
	last := got[len(got)-1]
	assert.Equal(t, 100, last.Percent)
	assert.Equal(t, 4, last.Total)
	for _, p := range got {
		assert.Equal(t, res.Generation, p.Generation)
		assert.LessOrEqual(t, p.Percent, 100)
	}
}

func TestGenerationSupersedes(t *testing.T) {
	srv := portaltest.New(t)
	srv.Handle("itv", "get_ordered_list", pager(3, 3, 1, nil))
	f := newFetcher(t, srv, portal.DialectExtended)

	first, err := f.FetchAll(context.Background(), indexer.Query{Kind: catalog.KindLive, CategoryID: "1"})
	require.NoError(t, err)
	assert.False(t, f.Superseded(first.Generation))

	second, err := f.FetchAll(context.Background(), indexer.Query{Kind: catalog.KindLive, CategoryID: "2"})
	require.NoError(t, err)
	assert.True(t, f.Superseded(first.Generation))
	assert.False(t, f.Superseded(second.Generation))
	assert.Equal(t, second.Generation, f.Generation())
}

func TestNewRequiresSession(t *testing.T) {
	_, err := indexer.New(indexer.Config{})
	assert.Error(t, err)
}
