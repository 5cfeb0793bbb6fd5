// Package session keeps the per-chat interaction state between messages.
package session

import (
	"context"
	"time"

	"github.com/you/tg-mediadl/internal/types"
)

const DefaultTTL = 24 * time.Hour

//nolint:govet // keep field order readable
type State struct {
	PendingURL      string              `json:"pending_url,omitempty"`
	PendingPlaylist *types.PlaylistMeta `json:"pending_playlist,omitempty"`
	AlbumPage       int                 `json:"album_page,omitempty"`

	SearchQuery   string               `json:"search_query,omitempty"`
	SearchResults []types.SearchResult `json:"search_results,omitempty"`
	SearchPage    int                  `json:"search_page,omitempty"`

	// FilePath references a retained result by id; the worker owns the actual file.
	FilePath       string          `json:"file_path,omitempty"`
	MediaType      types.MediaType `json:"media_type,omitempty"`
	WaitingForTrim bool            `json:"waiting_for_trim,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// ResetPending drops everything tied to a previous URL or search.
func (s *State) ResetPending() {
	s.PendingURL = ""
	s.PendingPlaylist = nil
	s.AlbumPage = 0
	s.SearchQuery = ""
	s.SearchResults = nil
	s.SearchPage = 0
	s.WaitingForTrim = false
}

// Store is safe for concurrent use. Update runs fn under a per-session lock so
// read-modify-write sequences from the same chat never lose updates.
type Store interface {
	Get(ctx context.Context, id int64) (State, error)
	Update(ctx context.Context, id int64, fn func(*State)) (State, error)
	Clear(ctx context.Context, id int64) error
}
