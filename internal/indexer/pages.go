package indexer

import (
	"context"
	"net/url"
	"sort"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/snapetech/stalkerportal/internal/log"
	"github.com/snapetech/stalkerportal/internal/metrics"
	"github.com/snapetech/stalkerportal/internal/portal"
)

type paged struct {
	rows   []portal.Object
	total  int
	pages  int
	failed []int
}

// paginate fetches the first page, sizes the listing from it, then fans the
// remaining pages out over the worker pool. Rows keep page order.
func (f *Fetcher) paginate(ctx context.Context, lg zerolog.Logger, base url.Values, kind string, maxPages int, rep *reporter) (*paged, error) {
	if err := f.req.EnsureToken(ctx); err != nil {
		return nil, err
	}
	first := f.dialect.FirstPage()

	env, err := f.page(ctx, base, first)
	if err != nil {
		metrics.IncCatalogPage(kind, "error")
		lg.Error().Err(err).Int(log.FieldPage, first).Msg("first page failed")
		return nil, err
	}
	metrics.IncCatalogPage(kind, "ok")
	rows := env.Items()

	perPage := len(rows)
	total, ok := env.TotalItems()
	if !ok {
		total = perPage
	}
	pages := 1
	if perPage > 0 && total > perPage {
		pages = (total + perPage - 1) / perPage
	}
	if maxPages > 0 && pages > maxPages {
		pages = maxPages
	}
	lg.Debug().Int("total_items", total).Int("per_page", perPage).Int(log.FieldPages, pages).Msg("listing sized")

	out := &paged{total: total, pages: pages}
	rep.setTotal(pages)
	rep.pageDone()
	if pages == 1 {
		out.rows = rows
		return out, nil
	}

	byPage := make([][]portal.Object, pages)
	byPage[0] = rows
	var (
		mu     sync.Mutex
		failed []int
	)
	var g errgroup.Group
	g.SetLimit(f.workers)
	for i := 1; i < pages; i++ {
		p := first + i
		g.Go(func() error {
			defer rep.pageDone()
			env, err := f.page(ctx, base, p)
			if err != nil {
				metrics.IncCatalogPage(kind, "error")
				lg.Warn().Err(err).Int(log.FieldPage, p).Msg("page failed; skipping")
				mu.Lock()
				failed = append(failed, p)
				mu.Unlock()
				return nil
			}
			metrics.IncCatalogPage(kind, "ok")
			byPage[i] = env.Items()
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range byPage {
		out.rows = append(out.rows, r...)
	}
	sort.Ints(failed)
	out.failed = failed
	return out, nil
}

func (f *Fetcher) page(ctx context.Context, base url.Values, p int) (*portal.Envelope, error) {
	params := make(url.Values, len(base)+1)
	for k, v := range base {
		params[k] = v
	}
	params.Set("p", strconv.Itoa(p))
	return f.req.Get(ctx, params)
}

// reporter turns page completions into Progress messages.
type reporter struct {
	ch  chan<- Progress
	gen uint64

	mu    sync.Mutex
	done  int
	total int
}

func newReporter(ch chan<- Progress, gen uint64) *reporter {
	return &reporter{ch: ch, gen: gen, total: 1}
}

func (r *reporter) setTotal(n int) {
	r.mu.Lock()
	r.total = n
	r.mu.Unlock()
}

func (r *reporter) pageDone() {
	if r.ch == nil {
		return
	}
	r.mu.Lock()
	r.done++
	p := Progress{Generation: r.gen, Done: r.done, Total: r.total, Percent: r.done * 100 / r.total}
	r.mu.Unlock()
	if p.Percent >= 100 {
		return // finish sends the terminal update
	}
	select {
	case r.ch <- p:
	default:
	}
}

// finish delivers the terminal 100% update, blocking until it is received
// or ctx is done.
func (r *reporter) finish(ctx context.Context) {
	if r.ch == nil {
		return
	}
	r.mu.Lock()
	p := Progress{Generation: r.gen, Done: r.total, Total: r.total, Percent: 100}
	r.mu.Unlock()
	select {
	case r.ch <- p:
	case <-ctx.Done():
	}
}
