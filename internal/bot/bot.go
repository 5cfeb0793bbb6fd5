// Package bot handles Telegram updates: it classifies input, offers formats or
// search results, and hands selected downloads to the job queue.
package bot

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/sync/semaphore"

	"github.com/you/tg-mediadl/internal/jobs"
	"github.com/you/tg-mediadl/internal/keyboard"
	"github.com/you/tg-mediadl/internal/logx"
	"github.com/you/tg-mediadl/internal/probe"
	"github.com/you/tg-mediadl/internal/search"
	"github.com/you/tg-mediadl/internal/session"
	"github.com/you/tg-mediadl/internal/trim"
	"github.com/you/tg-mediadl/internal/types"
	"github.com/you/tg-mediadl/internal/validate"
)

const helpText = "Send me a link to a video, track or playlist and pick a format.\n" +
	"Or just type what you are looking for and I will search for it.\n\n" +
	"After a file arrives you can ✂️ trim it.\n" +
	"/cancel drops the current selection.\n" +
	"/ping checks that the bot is alive."

var errBusy = errors.New("too many lookups in progress")

// trimRangeRe tells a reply to the trim prompt apart from a new query.
var trimRangeRe = regexp.MustCompile(`^\s*[\d:.]+\s*(-\s*[\d:.]*)?\s*$`)

// Sender is satisfied by *tgbotapi.BotAPI.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

type Dispatcher interface {
	Enqueue(ctx context.Context, p jobs.DownloadPayload, timeout time.Duration) (string, error)
	EnqueueTrim(ctx context.Context, p jobs.TrimPayload, timeout time.Duration) (string, error)
}

type Prober interface {
	Probe(ctx context.Context, url string) probe.Result
}

type Searcher interface {
	Search(ctx context.Context, query string) []types.SearchResult
}

type Options struct {
	SearchPerPage   int
	AlbumPerPage    int
	DownloadTimeout time.Duration
	// LookupConcurrency bounds concurrent probe and search tool runs.
	LookupConcurrency int
	// LookupWait is how long a lookup waits for a free slot before giving up.
	LookupWait time.Duration
}

type Bot struct {
	api      Sender
	sessions session.Store
	dispatch Dispatcher
	prober   Prober
	searcher Searcher
	opts     Options
	lookups  *semaphore.Weighted
}

func New(api Sender, sessions session.Store, dispatch Dispatcher, prober Prober, searcher Searcher, opts Options) *Bot {
	if opts.SearchPerPage <= 0 {
		opts.SearchPerPage = search.DefaultPerPage
	}
	if opts.AlbumPerPage <= 0 {
		opts.AlbumPerPage = keyboard.DefaultAlbumPerPage
	}
	if opts.DownloadTimeout <= 0 {
		opts.DownloadTimeout = jobs.DefaultTimeout
	}
	if opts.LookupConcurrency <= 0 {
		opts.LookupConcurrency = 4
	}
	if opts.LookupWait <= 0 {
		opts.LookupWait = time.Minute
	}
	return &Bot{
		api:      api,
		sessions: sessions,
		dispatch: dispatch,
		prober:   prober,
		searcher: searcher,
		opts:     opts,
		lookups:  semaphore.NewWeighted(int64(opts.LookupConcurrency)),
	}
}

// HandleUpdate processes one update to completion. Safe to call from many goroutines.
func (b *Bot) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			logx.FromCtx(ctx).Error().Interface("panic", r).Int("update_id", upd.UpdateID).Msg("handler panicked")
		}
	}()
	switch {
	case upd.Message != nil:
		b.onMessage(ctx, upd.Message)
	case upd.CallbackQuery != nil:
		b.onCallback(ctx, upd.CallbackQuery)
	}
}

func (b *Bot) onMessage(ctx context.Context, m *tgbotapi.Message) {
	if m.Chat == nil || m.From == nil {
		return
	}
	chatID := m.Chat.ID
	ctx = logx.WithChat(ctx, chatID)
	logger := logx.FromCtx(ctx)
	logger.Info().Int64("user_id", m.From.ID).Msg("message received")

	if m.IsCommand() {
		b.onCommand(ctx, m)
		return
	}
	text := strings.TrimSpace(m.Text)
	if text == "" {
		return
	}

	st, err := b.sessions.Get(ctx, chatID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load session")
		b.reply(ctx, chatID, "Internal error. Try again.")
		return
	}
	url, isURL := validate.ExtractURL(text)
	if st.WaitingForTrim {
		if !isURL && trimRangeRe.MatchString(text) {
			b.onTrimRange(ctx, m, st)
			return
		}
		// A new link or query abandons the pending trim.
		b.resetTrim(ctx, chatID)
	}
	if isURL {
		b.offerURL(ctx, chatID, url, func(s *session.State) { s.ResetPending() })
		return
	}
	b.onSearch(ctx, chatID, text)
}

func (b *Bot) onCommand(ctx context.Context, m *tgbotapi.Message) {
	chatID := m.Chat.ID
	switch m.Command() {
	case "start", "help":
		b.reply(ctx, chatID, helpText)
	case "ping":
		b.reply(ctx, chatID, "pong")
	case "cancel":
		if err := b.sessions.Clear(ctx, chatID); err != nil {
			logx.FromCtx(ctx).Error().Err(err).Msg("failed to clear session")
		}
		b.reply(ctx, chatID, "Cancelled. Send a link or a search query to start again.")
	default:
		b.reply(ctx, chatID, "Unknown command. Try /help.")
	}
}

// offerURL probes url and shows either a format or a track list keyboard.
// prepare adjusts the session before the url becomes pending.
func (b *Bot) offerURL(ctx context.Context, chatID int64, url string, prepare func(*session.State)) {
	logger := logx.FromCtx(ctx).With().Str("url", url).Logger()

	var res probe.Result
	err := b.lookup(ctx, func(ctx context.Context) { res = b.prober.Probe(ctx, url) })
	if err != nil {
		logger.Warn().Err(err).Msg("probe not started")
		b.reply(ctx, chatID, "The bot is busy right now. Try again in a minute.")
		return
	}
	if res.Empty() {
		b.reply(ctx, chatID, "Could not find downloadable media at this link.")
		return
	}

	_, err = b.sessions.Update(ctx, chatID, func(s *session.State) {
		prepare(s)
		s.PendingURL = url
		s.WaitingForTrim = false
		if res.Playlist != nil {
			s.PendingPlaylist = res.Playlist
			s.AlbumPage = 1
		}
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to store pending url")
		b.reply(ctx, chatID, "Internal error. Try again.")
		return
	}

	if res.Playlist != nil {
		markup, p := keyboard.Album(res.Playlist, url, 1, b.opts.AlbumPerPage)
		b.replyMarkup(ctx, chatID, albumText(res.Playlist, p), markup)
		logger.Info().Int("tracks", len(res.Playlist.Tracks)).Msg("playlist offered")
		return
	}
	b.replyMarkup(ctx, chatID, "Choose a format:", keyboard.Formats(url, res.Options))
	logger.Info().Int("options", len(res.Options)).Msg("formats offered")
}

func (b *Bot) onSearch(ctx context.Context, chatID int64, query string) {
	logger := logx.FromCtx(ctx)

	var results []types.SearchResult
	if err := b.lookup(ctx, func(ctx context.Context) { results = b.searcher.Search(ctx, query) }); err != nil {
		logger.Warn().Err(err).Msg("search not started")
		b.reply(ctx, chatID, "The bot is busy right now. Try again in a minute.")
		return
	}
	if len(results) == 0 {
		b.reply(ctx, chatID, "No results. Try another query or send a link.")
		return
	}

	_, err := b.sessions.Update(ctx, chatID, func(s *session.State) {
		s.ResetPending()
		s.SearchQuery = query
		s.SearchResults = results
		s.SearchPage = 1
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to store search results")
		b.reply(ctx, chatID, "Internal error. Try again.")
		return
	}
	markup, p := keyboard.SearchResults(results, 1, b.opts.SearchPerPage)
	b.replyMarkup(ctx, chatID, searchText(query, p), markup)
	logger.Info().Int("results", len(results)).Msg("search results offered")
}

func (b *Bot) onTrimRange(ctx context.Context, m *tgbotapi.Message, st session.State) {
	chatID := m.Chat.ID
	start, end, err := trim.ParseRange(m.Text)
	if err == nil {
		start, err = trim.ValidateRange(start, end)
	}
	if err != nil {
		b.reply(ctx, chatID, "❌ "+types.UserMessage(err)+"\nSend the range again or /cancel.")
		return
	}

	id, err := b.dispatch.EnqueueTrim(ctx, jobs.TrimPayload{
		RetainID: st.FilePath,
		Media:    st.MediaType,
		UserID:   m.From.ID,
		ChatID:   chatID,
		Start:    start,
		End:      end,
	}, b.opts.DownloadTimeout)
	if err != nil {
		logx.FromCtx(ctx).Error().Err(err).Msg("failed to enqueue trim")
		b.reply(ctx, chatID, "Could not queue the job. Try again later.")
		return
	}
	b.resetTrim(ctx, chatID)
	b.reply(ctx, chatID, queuedText("Trimming", id))
}

func (b *Bot) resetTrim(ctx context.Context, chatID int64) {
	if _, err := b.sessions.Update(ctx, chatID, func(s *session.State) {
		s.WaitingForTrim = false
		s.FilePath = ""
		s.MediaType = ""
	}); err != nil {
		logx.FromCtx(ctx).Warn().Err(err).Msg("failed to reset trim state")
	}
}

// lookup runs fn while holding a slot of the bounded lookup pool so slow tool
// runs cannot pile up without limit.
func (b *Bot) lookup(ctx context.Context, fn func(context.Context)) error {
	wctx, cancel := context.WithTimeout(ctx, b.opts.LookupWait)
	defer cancel()
	if err := b.lookups.Acquire(wctx, 1); err != nil {
		return fmt.Errorf("%w: %w", errBusy, err)
	}
	defer b.lookups.Release(1)
	fn(ctx)
	return nil
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	b.send(ctx, tgbotapi.NewMessage(chatID, text))
}

func (b *Bot) replyMarkup(ctx context.Context, chatID int64, text string, markup tgbotapi.InlineKeyboardMarkup) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = markup
	b.send(ctx, msg)
}

func (b *Bot) send(ctx context.Context, c tgbotapi.Chattable) {
	if _, err := b.api.Send(c); err != nil {
		logx.FromCtx(ctx).Error().Err(err).Msg("failed to send message")
	}
}

func queuedText(what, id string) string {
	return fmt.Sprintf("Queued ✅ %s will start shortly.\nJob ID: %s", what, id)
}

func searchText(query string, p search.Pagination) string {
	return fmt.Sprintf("🔎 Results for %q (page %d/%d):", query, p.CurrentPage, p.TotalPages)
}

func albumText(meta *types.PlaylistMeta, p search.Pagination) string {
	return fmt.Sprintf("📀 %s\n%d tracks (page %d/%d). Pick a track or download everything.",
		meta.Title, len(meta.Tracks), p.CurrentPage, p.TotalPages)
}
