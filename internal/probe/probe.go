// Package probe turns the extraction tool's format list into a short set of user choices.
package probe

import (
	"context"
	"fmt"
	"strings"

	"github.com/you/tg-mediadl/internal/extract"
	"github.com/you/tg-mediadl/internal/logx"
	"github.com/you/tg-mediadl/internal/types"
)

const (
	DefaultMaxOptions = 6
	MaxLabelLen       = 45
	// Longer ids cannot be carried by a callback token.
	MaxFormatIDLen = 32
	MaxTracks      = 50
)

// Result holds either format options for one media item or a playlist description.
type Result struct {
	Options  []types.MediaOption
	Playlist *types.PlaylistMeta
}

func (r Result) Empty() bool { return len(r.Options) == 0 && r.Playlist == nil }

type Prober struct {
	ext        extract.Extractor
	maxOptions int
}

func New(ext extract.Extractor, maxOptions int) *Prober {
	if maxOptions <= 0 {
		maxOptions = DefaultMaxOptions
	}
	return &Prober{ext: ext, maxOptions: maxOptions}
}

// Probe never fails: tool errors are logged and produce an empty Result.
func (p *Prober) Probe(ctx context.Context, url string) Result {
	logger := logx.FromCtx(ctx).With().Str("url", url).Logger()
	info, err := p.ext.Probe(ctx, url)
	if err != nil {
		logger.Warn().Err(err).Msg("probe failed")
		return Result{}
	}
	if info.IsPlaylist() {
		meta := BuildPlaylist(url, info)
		if len(meta.Tracks) == 0 {
			logger.Warn().Msg("playlist has no tracks")
			return Result{}
		}
		return Result{Playlist: meta}
	}
	return Result{Options: BuildOptions(url, info.Formats, p.maxOptions)}
}

// BuildOptions dedups formats by id, caps them at max and prepends the two synthetic choices.
func BuildOptions(url string, formats []extract.Format, max int) []types.MediaOption {
	options := []types.MediaOption{
		{ID: types.FormatBestVideo, Label: "🎬 Best video", SourceURL: url},
		{ID: types.FormatBestAudio, Label: "🎧 Best audio", SourceURL: url},
	}
	seen := make(map[string]struct{}, len(formats))
	tail := 0
	for _, f := range formats {
		if tail >= max {
			break
		}
		if f.ID == "" || len(f.ID) > MaxFormatIDLen || strings.Contains(f.ID, "|") {
			continue
		}
		if _, ok := seen[f.ID]; ok {
			continue
		}
		seen[f.ID] = struct{}{}
		options = append(options, types.MediaOption{ID: f.ID, Label: Label(f), SourceURL: url})
		tail++
	}
	return options
}

// Label renders a short description of f, truncated to MaxLabelLen runes.
func Label(f extract.Format) string {
	quality := ""
	switch {
	case f.Height > 0:
		quality = fmt.Sprintf("%dp", f.Height)
	case f.ABR > 0:
		quality = fmt.Sprintf("%.0fk", f.ABR)
	}
	note := f.Note
	if note == "" {
		note = f.Ext
	}
	label := strings.Join(strings.Fields(fmt.Sprintf("%s — %s %s", f.Ext, quality, note)), " ")
	return truncate(label, MaxLabelLen)
}

func BuildPlaylist(url string, info *extract.Info) *types.PlaylistMeta {
	title := info.Title
	if title == "" {
		title = "Album"
	}
	meta := &types.PlaylistMeta{ID: url, Title: title, Tracks: make([]types.Track, 0, len(info.Entries))}
	for _, e := range info.Entries {
		link := e.Link()
		if link == "" {
			continue
		}
		meta.Tracks = append(meta.Tracks, types.Track{Title: e.Title, URL: link})
		if len(meta.Tracks) >= MaxTracks {
			break
		}
	}
	return meta
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
