package bot

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/you/tg-mediadl/internal/callback"
	"github.com/you/tg-mediadl/internal/jobs"
	"github.com/you/tg-mediadl/internal/keyboard"
	"github.com/you/tg-mediadl/internal/logx"
	"github.com/you/tg-mediadl/internal/session"
	"github.com/you/tg-mediadl/internal/types"
)

const staleMenu = "This menu is outdated. Send the link again."

type press struct {
	cq     *tgbotapi.CallbackQuery
	chatID int64
	msgID  int
	userID int64
}

func (b *Bot) onCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	if cq.Message == nil || cq.Message.Chat == nil || cq.From == nil {
		b.answer(ctx, cq, "")
		return
	}
	p := press{cq: cq, chatID: cq.Message.Chat.ID, msgID: cq.Message.MessageID, userID: cq.From.ID}
	ctx = logx.WithChat(ctx, p.chatID)
	logger := logx.FromCtx(ctx)

	tok, err := callback.Decode(cq.Data)
	if err != nil {
		logger.Warn().Err(err).Str("data", cq.Data).Msg("rejected callback")
		b.answer(ctx, cq, "Unknown action.")
		return
	}
	logger.Debug().Str("action", string(tok.Action())).Msg("callback received")

	st, err := b.sessions.Get(ctx, p.chatID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load session")
		b.answer(ctx, cq, "Internal error. Try again.")
		return
	}

	switch t := tok.(type) {
	case callback.Format:
		b.onFormat(ctx, p, st, t)
	case callback.SearchPage:
		b.onSearchPage(ctx, p, st, t.Page)
	case callback.Album:
		b.onAlbumPage(ctx, p, st, t.Page)
	case callback.AlbumDownload:
		b.onAlbumDownload(ctx, p, st, t)
	case callback.Track:
		b.onTrack(ctx, p, st, t)
	case callback.Page:
		b.answer(ctx, cq, "")
	case callback.Trim:
		b.onTrim(ctx, p, t)
	case callback.Cancel:
		if err := b.sessions.Clear(ctx, p.chatID); err != nil {
			logger.Error().Err(err).Msg("failed to clear session")
		}
		b.answer(ctx, cq, "Cancelled")
		b.edit(ctx, tgbotapi.NewEditMessageText(p.chatID, p.msgID, "Cancelled."))
	case callback.Done:
		b.resetTrim(ctx, p.chatID)
		b.answer(ctx, cq, "👍")
		b.removeMarkup(ctx, p)
	}
}

func (b *Bot) onFormat(ctx context.Context, p press, st session.State, t callback.Format) {
	if st.PendingURL == "" || callback.Digest(st.PendingURL) != t.Digest {
		b.answer(ctx, p.cq, staleMenu)
		return
	}
	b.enqueue(ctx, p, jobs.DownloadPayload{Target: st.PendingURL, FormatOrMode: t.FormatID}, "Download")
}

func (b *Bot) onAlbumDownload(ctx context.Context, p press, st session.State, t callback.AlbumDownload) {
	meta := st.PendingPlaylist
	if meta == nil || callback.Digest(meta.ID) != t.Digest {
		b.answer(ctx, p.cq, staleMenu)
		return
	}
	b.enqueue(ctx, p, jobs.DownloadPayload{Target: meta.ID, FormatOrMode: types.ModeAlbum, Title: meta.Title}, "Album download")
}

func (b *Bot) enqueue(ctx context.Context, p press, payload jobs.DownloadPayload, what string) {
	payload.UserID = p.userID
	payload.ChatID = p.chatID
	id, err := b.dispatch.Enqueue(ctx, payload, b.opts.DownloadTimeout)
	if err != nil {
		logx.FromCtx(ctx).Error().Err(err).Msg("failed to enqueue download")
		b.answer(ctx, p.cq, "Could not queue the job. Try again later.")
		return
	}
	b.answer(ctx, p.cq, "Queued ✅")
	b.reply(ctx, p.chatID, queuedText(what, id))
}

func (b *Bot) onSearchPage(ctx context.Context, p press, st session.State, page int) {
	if len(st.SearchResults) == 0 {
		b.answer(ctx, p.cq, "These results expired. Send the query again.")
		return
	}
	markup, pg := keyboard.SearchResults(st.SearchResults, page, b.opts.SearchPerPage)
	if _, err := b.sessions.Update(ctx, p.chatID, func(s *session.State) { s.SearchPage = pg.CurrentPage }); err != nil {
		logx.FromCtx(ctx).Warn().Err(err).Msg("failed to store search page")
	}
	b.answer(ctx, p.cq, "")
	b.edit(ctx, tgbotapi.NewEditMessageTextAndMarkup(p.chatID, p.msgID, searchText(st.SearchQuery, pg), markup))
}

func (b *Bot) onAlbumPage(ctx context.Context, p press, st session.State, page int) {
	meta := st.PendingPlaylist
	if meta == nil {
		b.answer(ctx, p.cq, staleMenu)
		return
	}
	markup, pg := keyboard.Album(meta, meta.ID, page, b.opts.AlbumPerPage)
	if _, err := b.sessions.Update(ctx, p.chatID, func(s *session.State) { s.AlbumPage = pg.CurrentPage }); err != nil {
		logx.FromCtx(ctx).Warn().Err(err).Msg("failed to store album page")
	}
	b.answer(ctx, p.cq, "")
	b.edit(ctx, tgbotapi.NewEditMessageTextAndMarkup(p.chatID, p.msgID, albumText(meta, pg), markup))
}

// onTrack probes one search result or playlist entry. The list it came from
// stays in the session so the user can go back and pick another.
func (b *Bot) onTrack(ctx context.Context, p press, st session.State, t callback.Track) {
	var url string
	switch t.Kind {
	case callback.TrackSearch:
		if t.Index >= len(st.SearchResults) {
			b.answer(ctx, p.cq, "These results expired. Send the query again.")
			return
		}
		res := st.SearchResults[t.Index]
		if res.Stub {
			b.answer(ctx, p.cq, "This source cannot be downloaded.")
			return
		}
		url = res.URL
	case callback.TrackPlaylist:
		if st.PendingPlaylist == nil || t.Index >= len(st.PendingPlaylist.Tracks) {
			b.answer(ctx, p.cq, staleMenu)
			return
		}
		url = st.PendingPlaylist.Tracks[t.Index].URL
	}
	b.answer(ctx, p.cq, "Looking up formats…")
	b.offerURL(ctx, p.chatID, url, func(*session.State) {})
}

func (b *Bot) onTrim(ctx context.Context, p press, t callback.Trim) {
	_, err := b.sessions.Update(ctx, p.chatID, func(s *session.State) {
		s.WaitingForTrim = true
		s.FilePath = t.RetainID
		s.MediaType = t.Media
	})
	if err != nil {
		logx.FromCtx(ctx).Error().Err(err).Msg("failed to start trim")
		b.answer(ctx, p.cq, "Internal error. Try again.")
		return
	}
	b.answer(ctx, p.cq, "")
	b.reply(ctx, p.chatID, "Send the part to keep, e.g. 0:30-1:15, or 45 to keep everything after 45 s.")
}

func (b *Bot) answer(ctx context.Context, cq *tgbotapi.CallbackQuery, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(cq.ID, text)); err != nil {
		logx.FromCtx(ctx).Warn().Err(err).Msg("failed to answer callback")
	}
}

func (b *Bot) edit(ctx context.Context, c tgbotapi.Chattable) {
	if _, err := b.api.Request(c); err != nil {
		logx.FromCtx(ctx).Warn().Err(err).Msg("failed to edit message")
	}
}

func (b *Bot) removeMarkup(ctx context.Context, p press) {
	empty := tgbotapi.InlineKeyboardMarkup{InlineKeyboard: make([][]tgbotapi.InlineKeyboardButton, 0)}
	b.edit(ctx, tgbotapi.NewEditMessageReplyMarkup(p.chatID, p.msgID, empty))
}
