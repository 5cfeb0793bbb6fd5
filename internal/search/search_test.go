package search

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/you/tg-mediadl/internal/extract"
	"github.com/you/tg-mediadl/internal/types"
)

type fakeExtractor struct {
	entries []extract.Entry
	err     error
	query   string
	limit   int
}

func (f *fakeExtractor) Probe(context.Context, string) (*extract.Info, error) {
	return nil, errors.New("not used")
}
func (f *fakeExtractor) Search(_ context.Context, q string, limit int) ([]extract.Entry, error) {
	f.query, f.limit = q, limit
	return f.entries, f.err
}
func (f *fakeExtractor) Download(context.Context, extract.DownloadRequest) error {
	return errors.New("not used")
}

type failingSource struct{}

func (failingSource) Name() types.Source { return "broken" }
func (failingSource) Search(context.Context, string, int) ([]types.SearchResult, error) {
	return nil, errors.New("boom")
}

func results(n int) []types.SearchResult {
	out := make([]types.SearchResult, n)
	for i := range out {
		out[i] = types.SearchResult{ID: fmt.Sprint(i), Title: fmt.Sprint("t", i)}
	}
	return out
}

func TestRank(t *testing.T) {
	r := require.New(t)

	res := []types.SearchResult{
		{ID: "a", Title: "Other song", DurationSeconds: 500},
		{ID: "b", Title: "Believer (live)", DurationSeconds: 0},
		{ID: "c", Title: "Unknown", DurationSeconds: 0},
		{ID: "d", Title: "BELIEVER", DurationSeconds: 200},
		{ID: "e", Title: "Believer remix", DurationSeconds: 200},
		{ID: "f", Title: "Something", DurationSeconds: 100},
	}
	Rank("believer", res)
	ids := make([]string, 0, len(res))
	for _, x := range res {
		ids = append(ids, x.ID)
	}
	r.Equal([]string{"d", "e", "b", "a", "f", "c"}, ids)
}

func TestPaginateClamps(t *testing.T) {
	r := require.New(t)
	all := results(12)

	page, p := Paginate(all, 1, 5)
	r.Len(page, 5)
	r.Equal(Pagination{CurrentPage: 1, TotalPages: 3, HasPrev: false, HasNext: true}, p)

	page, p = Paginate(all, 3, 5)
	r.Len(page, 2)
	r.Equal("10", page[0].ID)
	r.Equal(Pagination{CurrentPage: 3, TotalPages: 3, HasPrev: true, HasNext: false}, p)

	for _, bad := range []int{0, -7} {
		page, p = Paginate(all, bad, 5)
		r.Equal(1, p.CurrentPage)
		r.Equal("0", page[0].ID)
	}
	for _, bad := range []int{4, 100} {
		page, p = Paginate(all, bad, 5)
		r.Equal(3, p.CurrentPage)
		r.Len(page, 2)
	}
}

func TestPaginateEmpty(t *testing.T) {
	r := require.New(t)

	page, p := Paginate(nil, 3, 5)
	r.Empty(page)
	r.NotNil(page)
	r.Equal(Pagination{}, p)
}

func TestProviderSearch(t *testing.T) {
	r := require.New(t)

	ext := &fakeExtractor{entries: []extract.Entry{
		{ID: "1", Title: "Intro", URL: "https://www.youtube.com/watch?v=1", Duration: 60},
		{ID: "2", Title: "Imagine Dragons - Believer", URL: "https://www.youtube.com/watch?v=2", Duration: 204},
		{ID: "3", Title: "", Duration: -1},
	}}
	p := NewProvider(10, NewYouTube(ext), failingSource{})
	res := p.Search(context.Background(), "believer")
	r.Equal("believer", ext.query)
	r.Equal(10, ext.limit)
	r.Len(res, 3)
	r.Equal("2", res[0].ID)
	r.Equal("https://youtu.be/3", res[2].URL)
	r.Equal("Untitled", res[2].Title)
	r.Equal(0, res[2].DurationSeconds)
	for _, x := range res {
		r.Equal(types.SourceYouTube, x.Source)
		r.False(x.Stub)
	}
}

func TestProviderSearchFailureIsEmpty(t *testing.T) {
	p := NewProvider(0, NewYouTube(&fakeExtractor{err: errors.New("tool crashed")}))
	require.Empty(t, p.Search(context.Background(), "anything"))
}

func TestProviderCapsResults(t *testing.T) {
	entries := make([]extract.Entry, 30)
	for i := range entries {
		entries[i] = extract.Entry{ID: fmt.Sprint(i), Title: "x", URL: fmt.Sprint("https://youtu.be/", i)}
	}
	p := NewProvider(5, NewYouTube(&fakeExtractor{entries: entries}))
	require.Len(t, p.Search(context.Background(), "x"), 5)
}

func TestStubsAreFlagged(t *testing.T) {
	r := require.New(t)

	p := NewProvider(10, Stubs()...)
	res := p.Search(context.Background(), "daft punk")
	r.Len(res, 4)
	for _, x := range res {
		r.True(x.Stub)
		r.Contains(x.URL, "daft")
		r.Equal(0, x.DurationSeconds)
	}
}

func TestBounds(t *testing.T) {
	r := require.New(t)

	start, end, p := Bounds(7, 2, 3)
	r.Equal(3, start)
	r.Equal(6, end)
	r.Equal(Pagination{CurrentPage: 2, TotalPages: 3, HasPrev: true, HasNext: true}, p)

	start, end, p = Bounds(7, 9, 0)
	r.Equal(5, start)
	r.Equal(7, end)
	r.Equal(2, p.CurrentPage)

	start, end, p = Bounds(0, 1, 5)
	r.Zero(start + end)
	r.Equal(Pagination{}, p)
}

func TestStubsRankAfterRealResults(t *testing.T) {
	r := require.New(t)

	ext := &fakeExtractor{entries: []extract.Entry{
		{ID: "1", Title: "Around the World (Official Video)", URL: "https://youtu.be/1", Duration: 240},
		{ID: "2", Title: "Harder Better Faster", URL: "https://youtu.be/2"},
	}}
	p := NewProvider(10, append(Stubs(), NewYouTube(ext))...)
	res := p.Search(context.Background(), "daft punk")
	r.Len(res, 6)
	r.Equal("1", res[0].ID)
	r.Equal("2", res[1].ID)
	for _, x := range res[2:] {
		r.True(x.Stub)
	}
}
