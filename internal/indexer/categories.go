package indexer

import (
	"context"
	"net/url"

	"github.com/snapetech/stalkerportal/internal/catalog"
	"github.com/snapetech/stalkerportal/internal/log"
	"github.com/snapetech/stalkerportal/internal/portal"
)

// FetchCategories lists the categories of one catalog section, sorted by
// name. On the extended dialect movies and series share vod/get_categories
// and are told apart with catalog.IsSeriesCategory.
func (f *Fetcher) FetchCategories(ctx context.Context, k catalog.Kind) ([]catalog.Category, error) {
	typ, action := "itv", "get_genres"
	switch {
	case k == catalog.KindSeries && f.dialect == portal.DialectSimple:
		typ, action = "series", "get_categories"
	case k != catalog.KindLive:
		typ, action = "vod", "get_categories"
	}
	op := typ + "/" + action

	if err := f.req.EnsureToken(ctx); err != nil {
		return nil, portal.NewError(portal.ErrCatalogFetch, op, err)
	}
	env, err := f.req.Get(ctx, url.Values{"type": {typ}, "action": {action}})
	if err != nil {
		return nil, portal.NewError(portal.ErrCatalogFetch, op, err)
	}

	split := k != catalog.KindLive && f.dialect == portal.DialectExtended
	var cats []catalog.Category
	for _, row := range env.Items() {
		name := row.Str("title", "name", "category_name")
		id := row.Str("id", "category_id")
		if name == "" || id == "" {
			continue
		}
		if split && catalog.IsSeriesCategory(name) != (k == catalog.KindSeries) {
			continue
		}
		cats = append(cats, catalog.Category{Name: name, ID: id, Kind: k})
	}
	catalog.SortCategories(cats)
	f.log.Debug().Str(log.FieldKind, k.String()).Int("categories", len(cats)).Msg("categories fetched")
	return cats, nil
}
