package search

import (
	"context"
	"net/url"

	"github.com/you/tg-mediadl/internal/types"
)

// Stub is a source without a real integration. It never invents tracks: it
// returns a single flagged result pointing at the platform's own search page.
type Stub struct {
	source    types.Source
	label     string
	searchURL string
}

func (s *Stub) Name() types.Source { return s.source }

func (s *Stub) Search(_ context.Context, query string, _ int) ([]types.SearchResult, error) {
	return []types.SearchResult{{
		ID:       string(s.source),
		Title:    query + " — search on " + s.label,
		Uploader: s.label,
		URL:      s.searchURL + url.QueryEscape(query),
		Source:   s.source,
		Stub:     true,
	}}, nil
}

// Stubs returns placeholder sources for platforms the bot cannot search itself.
func Stubs() []Source {
	return []Source{
		&Stub{source: types.SourceVK, label: "VK", searchURL: "https://vk.com/audio?q="},
		&Stub{source: types.SourceSpotify, label: "Spotify", searchURL: "https://open.spotify.com/search/"},
		&Stub{source: types.SourceDeezer, label: "Deezer", searchURL: "https://www.deezer.com/search/"},
		&Stub{source: types.SourceYandex, label: "Yandex Music", searchURL: "https://music.yandex.ru/search?text="},
	}
}
