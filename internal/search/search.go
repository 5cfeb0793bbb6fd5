// Package search queries the configured sources, ranks the merged results and pages through them.
package search

import (
	"context"
	"math"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/you/tg-mediadl/internal/extract"
	"github.com/you/tg-mediadl/internal/logx"
	"github.com/you/tg-mediadl/internal/types"
)

const (
	DefaultLimit   = 25
	DefaultPerPage = 5
	MaxResults     = 50
)

type Source interface {
	Name() types.Source
	Search(ctx context.Context, query string, limit int) ([]types.SearchResult, error)
}

type Provider struct {
	sources []Source
	limit   int
}

func NewProvider(limit int, sources ...Source) *Provider {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxResults {
		limit = MaxResults
	}
	return &Provider{sources: sources, limit: limit}
}

// Search fans out to all sources. A failing source is logged and skipped, so the
// result is empty only when nothing was found anywhere.
func (p *Provider) Search(ctx context.Context, query string) []types.SearchResult {
	logger := logx.FromCtx(ctx)
	var mu sync.Mutex
	bySrc := make([][]types.SearchResult, len(p.sources))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range p.sources {
		g.Go(func() error {
			res, err := src.Search(gctx, query, p.limit)
			if err != nil {
				logger.Warn().Err(err).Str("source", string(src.Name())).Msg("search source failed")
				return nil
			}
			mu.Lock()
			bySrc[i] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	merged := make([]types.SearchResult, 0)
	for _, res := range bySrc {
		merged = append(merged, res...)
	}
	Rank(query, merged)
	if len(merged) > p.limit {
		merged = merged[:p.limit]
	}
	return merged
}

// Rank puts downloadable results ahead of stub links, then orders by title
// match, known duration and duration descending. The sort is stable so ties
// keep discovery order.
func Rank(query string, results []types.SearchResult) {
	q := strings.ToLower(strings.TrimSpace(query))
	key := func(r types.SearchResult) (bool, bool, int) {
		match := q != "" && strings.Contains(strings.ToLower(r.Title), q)
		return match, r.DurationSeconds > 0, r.DurationSeconds
	}
	slices.SortStableFunc(results, func(a, b types.SearchResult) int {
		if a.Stub != b.Stub {
			if b.Stub {
				return -1
			}
			return 1
		}
		am, ad, adur := key(a)
		bm, bd, bdur := key(b)
		if am != bm {
			if am {
				return -1
			}
			return 1
		}
		if ad != bd {
			if ad {
				return -1
			}
			return 1
		}
		return bdur - adur
	})
}

type Pagination struct {
	CurrentPage int
	TotalPages  int
	HasPrev     bool
	HasNext     bool
}

// Paginate slices one page out of results. Pages are 1-based and out-of-range
// requests are clamped to the nearest valid page.
func Paginate(results []types.SearchResult, page, perPage int) ([]types.SearchResult, Pagination) {
	if len(results) == 0 {
		return []types.SearchResult{}, Pagination{}
	}
	start, end, p := Bounds(len(results), page, perPage)
	return results[start:end], p
}

// Bounds computes the clamped [start, end) window of page over n items.
func Bounds(n, page, perPage int) (int, int, Pagination) {
	if n <= 0 {
		return 0, 0, Pagination{}
	}
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	total := int(math.Ceil(float64(n) / float64(perPage)))
	page = ClampPage(page, total)
	start := (page - 1) * perPage
	return start, min(start+perPage, n), Pagination{
		CurrentPage: page,
		TotalPages:  total,
		HasPrev:     page > 1,
		HasNext:     page < total,
	}
}

func ClampPage(page, total int) int {
	if page > total {
		page = total
	}
	if page < 1 {
		page = 1
	}
	return page
}

// YouTube is the real source backed by the extraction tool's search mode.
type YouTube struct {
	ext extract.Extractor
}

func NewYouTube(ext extract.Extractor) *YouTube { return &YouTube{ext: ext} }

func (y *YouTube) Name() types.Source { return types.SourceYouTube }

func (y *YouTube) Search(ctx context.Context, query string, limit int) ([]types.SearchResult, error) {
	entries, err := y.ext.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	results := make([]types.SearchResult, 0, len(entries))
	for _, e := range entries {
		link := e.Link()
		if link == "" && e.ID != "" {
			link = "https://youtu.be/" + e.ID
		}
		if link == "" {
			continue
		}
		title := e.Title
		if title == "" {
			title = "Untitled"
		}
		results = append(results, types.SearchResult{
			ID:              e.ID,
			Title:           title,
			Uploader:        e.Author(),
			URL:             link,
			Source:          types.SourceYouTube,
			DurationSeconds: int(max(e.Duration, 0)),
		})
	}
	return results, nil
}
