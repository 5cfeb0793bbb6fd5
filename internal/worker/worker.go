// Package worker runs download and trim jobs outside the interactive bot.
package worker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/you/tg-mediadl/internal/delivery"
	"github.com/you/tg-mediadl/internal/extract"
	"github.com/you/tg-mediadl/internal/history"
	"github.com/you/tg-mediadl/internal/jobs"
	"github.com/you/tg-mediadl/internal/keyboard"
	"github.com/you/tg-mediadl/internal/logx"
	"github.com/you/tg-mediadl/internal/tags"
	"github.com/you/tg-mediadl/internal/types"
	"github.com/you/tg-mediadl/internal/validate"
)

type Config struct {
	TempDir    string
	RetainDir  string
	RetainTTL  time.Duration
	MaxRetries int
	RetryDelay time.Duration
	Signature  string
}

type deliverer interface {
	Deliver(ctx context.Context, d delivery.Delivery) (delivery.Result, error)
}

type trimmer interface {
	Trim(ctx context.Context, path, outDir string, start float64, end *float64) (string, error)
}

type historyRepo interface {
	Begin(ctx context.Context, j history.Job) (*history.Job, error)
	SetTitle(ctx context.Context, id, title string) error
	Finish(ctx context.Context, id string, state history.State, jobErr error) error
	RecordRetained(ctx context.Context, ret history.Retained) error
	GetRetained(ctx context.Context, id string) (*history.Retained, error)
}

type Worker struct {
	cfg     Config
	ext     extract.Extractor
	router  deliverer
	sender  delivery.Sender
	history historyRepo
	trimmer trimmer
	now     func() time.Time
}

func New(cfg Config, ext extract.Extractor, router deliverer, sender delivery.Sender, h historyRepo, tr trimmer) *Worker {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	return &Worker{cfg: cfg, ext: ext, router: router, sender: sender, history: h, trimmer: tr, now: time.Now}
}

// Download runs one download job. Every failure is reported to the user exactly
// once and returned as *types.WorkerFatalError.
func (w *Worker) Download(ctx context.Context, p jobs.DownloadPayload) (err error) {
	ctx = logx.WithJob(logx.WithChat(ctx, p.ChatID), p.JobID)
	logger := logx.FromCtx(ctx)
	defer w.recoverJob(ctx, p.JobID, p.ChatID, &err)

	if w.alreadyDone(ctx, history.Job{
		ID: p.JobID, Kind: history.KindDownload, ChatID: p.ChatID, UserID: p.UserID,
		Target: p.Target, Format: p.FormatOrMode, Title: p.Title,
	}) {
		logger.Info().Msg("job already delivered, skipping redelivery")
		return nil
	}

	if err := w.download(ctx, logger, p); err != nil {
		return w.fail(ctx, p.JobID, p.ChatID, err)
	}
	w.finish(ctx, p.JobID, history.StateDone, nil)
	return nil
}

func (w *Worker) download(ctx context.Context, logger *zerolog.Logger, p jobs.DownloadPayload) error {
	dir, err := os.MkdirTemp(w.cfg.TempDir, "job-*")
	if err != nil {
		return fmt.Errorf("failed to create job dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			logger.Error().Err(err).Str("dir", dir).Msg("failed to remove job dir")
		}
	}()

	album := p.FormatOrMode == types.ModeAlbum
	media := types.MediaTypeOf(p.FormatOrMode)
	req := extract.DownloadRequest{
		Target:    p.Target,
		Format:    p.FormatOrMode,
		Dir:       dir,
		Playlist:  album,
		AudioOnly: media == types.AudioMediaType,
	}
	if album {
		req.Format = types.FormatBestAudio
	}
	if err := w.extractWithRetry(ctx, logger, req); err != nil {
		return err
	}

	if album {
		return w.deliverAlbum(ctx, dir, p)
	}
	return w.deliverSingle(ctx, logger, dir, media, p)
}

func (w *Worker) extractWithRetry(ctx context.Context, logger *zerolog.Logger, req extract.DownloadRequest) error {
	var err error
	for attempt := 1; attempt <= w.cfg.MaxRetries; attempt++ {
		if attempt > 1 {
			if cerr := emptyDir(req.Dir); cerr != nil {
				return fmt.Errorf("failed to reset job dir: %w", cerr)
			}
		}
		if err = w.ext.Download(ctx, req); err == nil {
			return nil
		}
		// Playlist entries fail on their own; what did arrive is still an album.
		if req.Playlist {
			if files, ferr := mediaFiles(req.Dir); ferr == nil && len(files) > 0 {
				logger.Warn().Err(err).Int("tracks", len(files)).Msg("playlist downloaded partially")
				return nil
			}
		}
		logger.Warn().Err(err).Int("attempt", attempt).Msg("download attempt failed")
		if attempt == w.cfg.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.cfg.RetryDelay):
		}
	}
	return err
}

func (w *Worker) deliverAlbum(ctx context.Context, dir string, p jobs.DownloadPayload) error {
	files, err := mediaFiles(dir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return &types.ExternalToolError{Tool: "yt-dlp", Err: types.ErrNoFiles}
	}
	for _, f := range files {
		if err := tags.Write(f, tags.Meta{Title: titleFromName(f), Album: p.Title}); err != nil {
			logx.FromCtx(ctx).Warn().Err(err).Str("file", filepath.Base(f)).Msg("failed to tag track")
		}
	}

	title := firstNonEmpty(p.Title, "Album")
	name := validate.SanitizeFilename(title)
	zipPath := filepath.Join(dir, name+".zip")
	if err := makeZip(zipPath, files); err != nil {
		return fmt.Errorf("failed to archive album: %w", err)
	}
	st, err := os.Stat(zipPath)
	if err != nil {
		return err
	}
	w.setTitle(ctx, p.JobID, title)
	_, err = w.router.Deliver(ctx, delivery.Delivery{
		ChatID:    p.ChatID,
		Path:      zipPath,
		Title:     fmt.Sprintf("📦 %s (%d tracks)", title, len(files)),
		Signature: w.cfg.Signature,
		Size:      st.Size(),
	})
	return err
}

func (w *Worker) deliverSingle(ctx context.Context, logger *zerolog.Logger, dir string, media types.MediaType, p jobs.DownloadPayload) error {
	path, size, err := pickLargest(dir)
	if err != nil {
		return &types.ExternalToolError{Tool: "yt-dlp", Err: err}
	}
	if mt, ok := types.MediaTypeOfExt(strings.ToLower(filepath.Ext(path))); ok {
		media = mt
	}

	title := p.Title
	meta := tags.Meta{Title: titleFromName(path)}
	if info := readInfo(path); info != nil {
		meta.Title = firstNonEmpty(info.Title, meta.Title)
		meta.Artist = firstNonEmpty(info.Artist, info.Uploader)
		meta.Album = info.Album
	}
	if title == "" {
		title = meta.Title
	}
	if filepath.Ext(path) == ".mp3" {
		meta.Cover = sidecar(path, ".jpg")
		if err := tags.Write(path, meta); err != nil {
			logger.Warn().Err(err).Msg("failed to write id3 tags")
		} else if st, err := os.Stat(path); err == nil {
			size = st.Size()
		}
	}
	w.setTitle(ctx, p.JobID, title)

	d := delivery.Delivery{ChatID: p.ChatID, Path: path, Title: title, Signature: w.cfg.Signature, Size: size}
	if ret, err := w.retain(ctx, p.JobID, p.ChatID, path, media); err != nil {
		logger.Warn().Err(err).Msg("failed to retain result, trim disabled")
	} else {
		markup := keyboard.Delivered(ret.ID, media)
		d.Path, d.Size, d.Markup = ret.Path, ret.Size, &markup
	}
	_, err = w.router.Deliver(ctx, d)
	return err
}

// retain moves the result out of the job dir so it can be trimmed later, and
// records its size and mtime to detect a replaced or stale file.
func (w *Worker) retain(ctx context.Context, jobID string, chatID int64, path string, media types.MediaType) (*history.Retained, error) {
	if w.cfg.RetainDir == "" || w.history == nil {
		return nil, errors.New("retention disabled")
	}
	id := ulid.Make().String()
	dir := filepath.Join(w.cfg.RetainDir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	name := validate.SanitizeFilename(titleFromName(path))
	if name == "" {
		name = "result"
	}
	dst := filepath.Join(dir, name+strings.ToLower(filepath.Ext(path)))
	if err := moveFile(path, dst); err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}
	st, err := os.Stat(dst)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}
	ret := history.Retained{
		ID: id, JobID: jobID, ChatID: chatID, Path: dst, MediaType: media,
		Size: st.Size(), ModTimeNs: st.ModTime().UnixNano(),
		ExpiresUnix: w.now().Add(w.cfg.RetainTTL).Unix(),
	}
	if err := w.history.RecordRetained(ctx, ret); err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}
	return &ret, nil
}

// Trim cuts a retained result after checking it is still the file that was delivered.
func (w *Worker) Trim(ctx context.Context, p jobs.TrimPayload) (err error) {
	ctx = logx.WithJob(logx.WithChat(ctx, p.ChatID), p.JobID)
	logger := logx.FromCtx(ctx)
	defer w.recoverJob(ctx, p.JobID, p.ChatID, &err)

	if w.alreadyDone(ctx, history.Job{
		ID: p.JobID, Kind: history.KindTrim, ChatID: p.ChatID, UserID: p.UserID,
		Target: p.RetainID, Format: string(p.Media),
	}) {
		logger.Info().Msg("job already delivered, skipping redelivery")
		return nil
	}
	if err := w.trim(ctx, logger, p); err != nil {
		return w.fail(ctx, p.JobID, p.ChatID, err)
	}
	w.finish(ctx, p.JobID, history.StateDone, nil)
	return nil
}

func (w *Worker) trim(ctx context.Context, logger *zerolog.Logger, p jobs.TrimPayload) error {
	src, err := w.verifyRetained(ctx, p.RetainID, p.ChatID)
	if err != nil {
		return err
	}
	dir, err := os.MkdirTemp(w.cfg.TempDir, "trim-*")
	if err != nil {
		return fmt.Errorf("failed to create job dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			logger.Error().Err(err).Str("dir", dir).Msg("failed to remove job dir")
		}
	}()

	out, err := w.trimmer.Trim(ctx, src.Path, dir, p.Start, p.End)
	if err != nil {
		return err
	}
	st, err := os.Stat(out)
	if err != nil {
		return err
	}
	_, err = w.router.Deliver(ctx, delivery.Delivery{
		ChatID:    p.ChatID,
		Path:      out,
		Title:     "✂️ " + titleFromName(src.Path),
		Signature: w.cfg.Signature,
		Size:      st.Size(),
	})
	return err
}

func (w *Worker) verifyRetained(ctx context.Context, id string, chatID int64) (*history.Retained, error) {
	if w.history == nil {
		return nil, types.ErrFileExpired
	}
	ret, err := w.history.GetRetained(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("retained %s: %w", id, types.ErrFileExpired)
	}
	if err != nil {
		return nil, err
	}
	if ret.ChatID != chatID || ret.Expired(w.now()) {
		return nil, fmt.Errorf("retained %s: %w", id, types.ErrFileExpired)
	}
	st, err := os.Stat(ret.Path)
	if err != nil || st.Size() != ret.Size || st.ModTime().UnixNano() != ret.ModTimeNs {
		return nil, fmt.Errorf("retained %s changed on disk: %w", id, types.ErrFileExpired)
	}
	return ret, nil
}

// alreadyDone records the attempt and reports whether an earlier delivery of
// the same job finished. History being unavailable never blocks a job.
func (w *Worker) alreadyDone(ctx context.Context, j history.Job) bool {
	if w.history == nil {
		return false
	}
	job, err := w.history.Begin(ctx, j)
	if err != nil {
		logx.FromCtx(ctx).Warn().Err(err).Msg("failed to record job start")
		return false
	}
	return job.State == history.StateDone
}

func (w *Worker) setTitle(ctx context.Context, id, title string) {
	if w.history == nil || title == "" {
		return
	}
	if err := w.history.SetTitle(ctx, id, title); err != nil {
		logx.FromCtx(ctx).Warn().Err(err).Msg("failed to store title")
	}
}

func (w *Worker) finish(ctx context.Context, id string, state history.State, jobErr error) {
	if w.history == nil {
		return
	}
	// The job context may already be cancelled by the queue timeout.
	if err := w.history.Finish(context.WithoutCancel(ctx), id, state, jobErr); err != nil {
		logx.FromCtx(ctx).Warn().Err(err).Msg("failed to record job result")
	}
}

// fail is the single failure exit of a job: log, notify once, record.
func (w *Worker) fail(ctx context.Context, jobID string, chatID int64, err error) error {
	logger := logx.FromCtx(ctx)
	var tErr *types.ExternalToolError
	if errors.As(err, &tErr) {
		logger.Error().Err(tErr.Err).Str("tool", tErr.Tool).Str("output", tErr.Output).Msg("external tool failed")
	} else {
		logger.Error().Err(err).Msg("job failed")
	}
	w.notify(ctx, chatID, types.UserMessage(err))
	w.finish(ctx, jobID, history.StateError, err)
	return &types.WorkerFatalError{JobID: jobID, Err: err}
}

// recoverJob turns a panic inside a job into a regular failure so the user is
// still notified and the queue does not retry silently.
func (w *Worker) recoverJob(ctx context.Context, jobID string, chatID int64, errp *error) {
	r := recover()
	if r == nil {
		return
	}
	logx.FromCtx(ctx).Error().Interface("panic", r).Str("stack", string(debug.Stack())).Msg("job panicked")
	*errp = w.fail(ctx, jobID, chatID, fmt.Errorf("panic: %v: %w", r, types.ErrInternal))
}

func (w *Worker) notify(ctx context.Context, chatID int64, text string) {
	if _, err := w.sender.Send(tgbotapi.NewMessage(chatID, "❌ "+text)); err != nil {
		logx.FromCtx(ctx).Error().Err(err).Msg("failed to notify user")
	}
}

func readInfo(media string) *extract.Info {
	p := sidecar(media, ".info.json")
	if p == "" {
		return nil
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return nil
	}
	info, err := extract.ParseInfo(string(b))
	if err != nil {
		return nil
	}
	return info
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
