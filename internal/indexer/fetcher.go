// Package indexer fetches portal catalogs: categories, paginated item
// listings, seasons and episodes.
package indexer

import (
	"context"
	"errors"
	"net/url"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/snapetech/stalkerportal/internal/catalog"
	"github.com/snapetech/stalkerportal/internal/log"
	"github.com/snapetech/stalkerportal/internal/metrics"
	"github.com/snapetech/stalkerportal/internal/portal"
)

// DefaultWorkers is the page-fetch pool width.
const DefaultWorkers = 5

// Requester runs authenticated portal actions. *auth.Session satisfies it.
type Requester interface {
	EnsureToken(ctx context.Context) error
	Get(ctx context.Context, params url.Values) (*portal.Envelope, error)
}

// Config drives a Fetcher.
type Config struct {
	Session Requester
	Dialect portal.Dialect
	// Workers bounds concurrent page requests. Default DefaultWorkers.
	Workers int
	Logger  *zerolog.Logger
}

// Fetcher lists catalog content. It is safe for concurrent use.
type Fetcher struct {
	req     Requester
	dialect portal.Dialect
	workers int
	log     zerolog.Logger
	gen     atomic.Uint64
}

// New returns a Fetcher for cfg.
func New(cfg Config) (*Fetcher, error) {
	if cfg.Session == nil {
		return nil, errors.New("indexer: Config.Session is required")
	}
	f := &Fetcher{req: cfg.Session, dialect: cfg.Dialect, workers: cfg.Workers}
	if f.workers <= 0 {
		f.workers = DefaultWorkers
	}
	if cfg.Logger != nil {
		f.log = *cfg.Logger
	} else {
		f.log = log.WithComponent("indexer")
	}
	return f, nil
}

// Generation is the number of FetchAll calls started so far.
func (f *Fetcher) Generation() uint64 { return f.gen.Load() }

// Superseded reports whether a newer FetchAll started after gen. Callers
// use it to drop results that arrive after the user moved on.
func (f *Fetcher) Superseded(gen uint64) bool { return gen != f.gen.Load() }

// Query selects one category listing.
type Query struct {
	Kind       catalog.Kind
	CategoryID string
	Filter     catalog.Filter
	// MaxPages caps the pages fetched; zero means all.
	MaxPages int
	// Progress, when set, receives per-page progress. Intermediate updates
	// are dropped if the receiver is not ready; the final 100% is always sent.
	Progress chan<- Progress
}

// Progress reports a listing fetch in flight.
type Progress struct {
	Generation uint64
	Done       int
	Total      int
	Percent    int
}

// Result is one category listing.
type Result struct {
	Items       []catalog.MediaItem
	TotalItems  int
	Pages       int
	FailedPages []int
	Generation  uint64
}

// FetchAll lists every page of a category. Page 1 decides the page count;
// later pages are fetched concurrently and a failed page is skipped. A
// page 1 failure fails the call with portal.ErrCatalogFetch.
func (f *Fetcher) FetchAll(ctx context.Context, q Query) (*Result, error) {
	gen := f.gen.Add(1)
	res := &Result{Generation: gen}
	op := f.listType(q.Kind) + "/get_ordered_list"
	lg := f.log.With().
		Str(log.FieldKind, q.Kind.String()).
		Str(log.FieldCategoryID, q.CategoryID).
		Uint64(log.FieldGeneration, gen).
		Str(log.FieldFetchID, uuid.NewString()).
		Logger()

	params := url.Values{
		"type":   {f.listType(q.Kind)},
		"action": {"get_ordered_list"},
	}
	if q.Kind == catalog.KindLive {
		params.Set("genre", q.CategoryID)
	} else {
		params.Set("category", q.CategoryID)
	}

	rep := newReporter(q.Progress, gen)
	defer rep.finish(ctx)

	pg, err := f.paginate(ctx, lg, params, q.Kind.String(), q.MaxPages, rep)
	if err != nil {
		return res, portal.NewError(portal.ErrCatalogFetch, op, err)
	}
	res.TotalItems, res.Pages, res.FailedPages = pg.total, pg.pages, pg.failed

	filter := f.effectiveFilter(q.Kind, q.Filter)
	items := make([]catalog.MediaItem, 0, len(pg.rows))
	for _, row := range pg.rows {
		it, ok := f.listItem(q.Kind, row)
		if !ok || !filter.Keep(it) {
			continue
		}
		items = append(items, it)
	}
	items = catalog.Dedupe(items)
	catalog.Sort(items)
	res.Items = items
	metrics.AddCatalogItems(q.Kind.String(), len(items))

	ev := lg.Info()
	if len(res.FailedPages) > 0 {
		ev = lg.Warn().Ints("failed_pages", res.FailedPages)
	}
	ev.Int(log.FieldPages, res.Pages).
		Int("total_items", res.TotalItems).
		Int("items", len(items)).
		Msg("category listing fetched")
	return res, nil
}

// listType is the "type" parameter for a kind's listings.
func (f *Fetcher) listType(k catalog.Kind) string {
	switch k {
	case catalog.KindLive:
		return "itv"
	case catalog.KindSeries:
		return f.dialect.SeriesType()
	default:
		return "vod"
	}
}

// effectiveFilter resolves FilterAuto. The extended dialect lists movies and
// shows under the same vod categories, so the kind decides; the simple
// dialect has a separate series listing.
func (f *Fetcher) effectiveFilter(k catalog.Kind, flt catalog.Filter) catalog.Filter {
	if flt != catalog.FilterAuto {
		return flt
	}
	if f.dialect == portal.DialectExtended {
		switch k {
		case catalog.KindMovies:
			return catalog.FilterMoviesOnly
		case catalog.KindSeries:
			return catalog.FilterSeriesOnly
		}
	}
	return catalog.FilterAll
}
