// Package keyboard renders inline keyboards for the bot's messages.
package keyboard

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/you/tg-mediadl/internal/callback"
	"github.com/you/tg-mediadl/internal/search"
	"github.com/you/tg-mediadl/internal/types"
)

const (
	maxButtonText       = 60
	DefaultAlbumPerPage = 8
)

func button(text string, tok callback.Token) tgbotapi.InlineKeyboardButton {
	return tgbotapi.NewInlineKeyboardButtonData(truncate(text, maxButtonText), callback.MustEncode(tok))
}

func cancelRow() []tgbotapi.InlineKeyboardButton {
	return tgbotapi.NewInlineKeyboardRow(button("✖️ Cancel", callback.Cancel{}))
}

// Formats lists the probed options for url, one per row.
func Formats(url string, options []types.MediaOption) tgbotapi.InlineKeyboardMarkup {
	digest := callback.Digest(url)
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(options)+1)
	for _, o := range options {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			button(o.Label, callback.Format{Digest: digest, FormatID: o.ID}),
		))
	}
	rows = append(rows, cancelRow())
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// SearchResults renders one page of results. Stub results become plain link
// buttons since they cannot be downloaded.
func SearchResults(results []types.SearchResult, page, perPage int) (tgbotapi.InlineKeyboardMarkup, search.Pagination) {
	start, end, p := search.Bounds(len(results), page, perPage)
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, end-start+2)
	for i := start; i < end; i++ {
		res := results[i]
		if res.Stub {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonURL(truncate("🔗 "+res.Title, maxButtonText), res.URL),
			))
			continue
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			button(resultLabel(res), callback.Track{Kind: callback.TrackSearch, Index: i}),
		))
	}
	if nav := navRow(p, func(n int) callback.Token { return callback.SearchPage{Page: n} }); nav != nil {
		rows = append(rows, nav)
	}
	rows = append(rows, cancelRow())
	return tgbotapi.NewInlineKeyboardMarkup(rows...), p
}

// Album renders one page of a playlist's tracks plus the download-all button.
func Album(meta *types.PlaylistMeta, url string, page, perPage int) (tgbotapi.InlineKeyboardMarkup, search.Pagination) {
	if perPage <= 0 {
		perPage = DefaultAlbumPerPage
	}
	start, end, p := search.Bounds(len(meta.Tracks), page, perPage)
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, end-start+3)
	for i := start; i < end; i++ {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			button(fmt.Sprintf("%d. %s", i+1, meta.Tracks[i].Title), callback.Track{Kind: callback.TrackPlaylist, Index: i}),
		))
	}
	if nav := navRow(p, func(n int) callback.Token { return callback.Album{Page: n} }); nav != nil {
		rows = append(rows, nav)
	}
	rows = append(rows,
		tgbotapi.NewInlineKeyboardRow(button("📦 Download all (mp3, zip)", callback.AlbumDownload{Digest: callback.Digest(url)})),
		cancelRow(),
	)
	return tgbotapi.NewInlineKeyboardMarkup(rows...), p
}

// Delivered is attached to a sent result that can still be trimmed.
func Delivered(retainID string, media types.MediaType) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		button("✂️ Trim", callback.Trim{RetainID: retainID, Media: media}),
		button("✅ Done", callback.Done{}),
	))
}

func navRow(p search.Pagination, to func(int) callback.Token) []tgbotapi.InlineKeyboardButton {
	if p.TotalPages <= 1 {
		return nil
	}
	var row []tgbotapi.InlineKeyboardButton
	if p.HasPrev {
		row = append(row, button("◀️", to(p.CurrentPage-1)))
	}
	row = append(row, button(fmt.Sprintf("%d/%d", p.CurrentPage, p.TotalPages), callback.Page{}))
	if p.HasNext {
		row = append(row, button("▶️", to(p.CurrentPage+1)))
	}
	return row
}

func resultLabel(r types.SearchResult) string {
	if r.DurationSeconds <= 0 {
		return r.Title
	}
	return fmt.Sprintf("%s (%s)", truncate(r.Title, maxButtonText-10), Duration(r.DurationSeconds))
}

// Duration formats seconds as m:ss or h:mm:ss.
func Duration(sec int) string {
	h, m, s := sec/3600, sec%3600/60, sec%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
